package commands

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/cli/output"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/fault"
)

var (
	faultsOutput string
	faultsLimit  int
)

var faultsCmd = &cobra.Command{
	Use:   "faults",
	Short: "Show the persisted fault log and its counters",
	Long: `Display the bounded fault log (capacity 50) and the lifetime
per-kind counters, most recent event first.

Examples:
  ecowatt-gw faults
  ecowatt-gw faults -n 10 --output json`,
	RunE: runFaults,
}

func init() {
	faultsCmd.Flags().IntVarP(&faultsLimit, "limit", "n", 20, "maximum number of recent events to show")
	faultsCmd.Flags().StringVarP(&faultsOutput, "output", "o", "table", "output format (table|json|yaml)")
}

type faultsReport struct {
	Counters fault.Counters `json:"counters" yaml:"counters"`
	Events   []fault.Event  `json:"events" yaml:"events"`
}

func (r faultsReport) Headers() []string {
	return []string{"Timestamp", "Kind", "Origin", "Recovered", "Description"}
}

func (r faultsReport) Rows() [][]string {
	rows := make([][]string, 0, len(r.Events))
	for _, e := range r.Events {
		ts := time.UnixMilli(e.TimestampMs).UTC().Format(time.RFC3339)
		rows = append(rows, []string{ts, string(e.Kind), e.OriginComponent, strconv.FormatBool(e.Recovered), e.Description})
	}
	return rows
}

func runFaults(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(faultsOutput)
	if err != nil {
		return err
	}

	gw, err := openGateway(GetConfigFile())
	if err != nil {
		return err
	}
	defer gw.Close()

	events := gw.faultLog.Events()
	if len(events) > faultsLimit {
		events = events[len(events)-faultsLimit:]
	}
	// Events() returns oldest-first; show most recent first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	report := faultsReport{Counters: gw.faultLog.Counters(), Events: events}

	if format == output.FormatTable {
		cmd.Printf("Total: %d  Recovered: %d\n\n", report.Counters.Total, report.Counters.Recovered)
	}
	return output.NewPrinter(cmd.OutOrStdout(), format, false).Print(report)
}
