package commands

import (
	"context"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/cli/health"
	"github.com/RPX2001/ecowatt-edge-gateway/internal/cli/output"
	"github.com/RPX2001/ecowatt-edge-gateway/internal/cli/timeutil"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
)

var (
	statusOutput  string
	statusPidFile string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway process and cloud-reachability status",
	Long: `Report whether the gateway process appears to be running (via its
PID file) and whether the cloud collector answers GET /health.

Examples:
  ecowatt-gw status
  ecowatt-gw status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "path to PID file")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format (table|json|yaml)")
}

// statusReport is the status command's report shape, built on the
// shared health.Response type the rest of the CLI scaffolding uses so
// a future local health endpoint could return exactly this.
type statusReport struct {
	health.Response
	PID          int  `json:"pid,omitempty" yaml:"pid,omitempty"`
	CloudHealthy bool `json:"cloud_healthy" yaml:"cloud_healthy"`
}

func (s statusReport) Headers() []string { return []string{"Field", "Value"} }
func (s statusReport) Rows() [][]string {
	rows := [][]string{
		{"Status", s.Response.Status},
		{"PID", strconv.Itoa(s.PID)},
		{"Cloud healthy", strconv.FormatBool(s.CloudHealthy)},
	}
	if s.Response.Data.StartedAt != "" {
		rows = append(rows,
			[]string{"Started at", timeutil.FormatTime(s.Response.Data.StartedAt)},
			[]string{"Uptime", timeutil.FormatUptime(s.Response.Data.Uptime)},
		)
	}
	if s.Response.Error != "" {
		rows = append(rows, []string{"Error", s.Response.Error})
	}
	return rows
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	report := statusReport{Response: health.Response{Status: "stopped"}}
	report.Response.Data.Service = "ecowatt-gw"
	report.Response.Timestamp = time.Now().UTC().Format(time.RFC3339)

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}
	if pidData, err := os.ReadFile(pidPath); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(pidData))); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if process.Signal(syscall.Signal(0)) == nil {
					report.Response.Status = "running"
					report.PID = pid
				}
			}
		}
	}

	// openGateway acquires the badger store's exclusive lock, so this only
	// succeeds when no other ecowatt-gw process (in particular, the daemon
	// whose liveness this command is checking) currently holds it.
	if gw, err := openGateway(GetConfigFile()); err == nil {
		defer gw.Close()

		if startedMs, ok, err := store.Get[int64](gw.st, store.Namespace, store.KeyStartedAtMs); err == nil && ok {
			started := time.UnixMilli(startedMs).UTC()
			uptime := time.Since(started)
			report.Response.Data.StartedAt = started.Format(time.RFC3339)
			report.Response.Data.Uptime = uptime.String()
			report.Response.Data.UptimeSec = int64(uptime.Seconds())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if healthErr := gw.cloud.Health(ctx); healthErr == nil {
			report.CloudHealthy = true
		} else {
			report.Response.Error = healthErr.Error()
		}
	}

	return output.NewPrinter(cmd.OutOrStdout(), format, false).Print(report)
}
