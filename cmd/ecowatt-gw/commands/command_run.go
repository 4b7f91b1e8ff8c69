package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/gwerrors"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/command"
)

var commandParams []string

var commandCmd = &cobra.Command{
	Use:   "command <action>",
	Short: "Execute a single command against the inverter, synchronously",
	Long: `Execute one of the recognized command actions directly against the
local peripheral, the same code path the coordinator's commandHandler
uses for a cloud-issued command, without going through the cloud queue.

Recognized actions: set_power_percentage, set_power, write_register,
read_fault_log, reset_fault_stats, get_peripheral_stats, reboot.

Examples:
  ecowatt-gw command set_power_percentage --param percentage=80
  ecowatt-gw command write_register --param name=export_power_percentage --param value=50
  ecowatt-gw command get_peripheral_stats`,
	Args: cobra.ExactArgs(1),
	RunE: runCommand,
}

func init() {
	commandCmd.Flags().StringArrayVar(&commandParams, "param", nil, "command parameter as key=value (repeatable)")
}

func runCommand(cmd *cobra.Command, args []string) error {
	params, err := parseParams(commandParams)
	if err != nil {
		return err
	}

	gw, err := openGateway(GetConfigFile())
	if err != nil {
		return err
	}
	defer gw.Close()

	record := command.Command{
		ID:          uuid.NewString(),
		Action:      args[0],
		Parameters:  params,
		Status:      command.Pending,
		SubmittedMs: time.Now().UnixMilli(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := command.Execute(ctx, record, gw.commandDeps, time.Now().UnixMilli())

	cmd.Printf("status:  %s\n", result.Command.Status)
	if result.Command.Result != "" {
		cmd.Printf("result:  %s\n", result.Command.Result)
	}
	if result.RebootRequested {
		cmd.Println("reboot requested")
	}
	if result.Command.Status == command.Failed {
		return gwerrors.New(gwerrors.PermanentConfig, "cli", "command", result.Command.Result)
	}
	return nil
}

// parseParams turns repeated --param key=value flags into the
// map[string]any command.Command.Parameters expects, coercing anything
// that parses as a float64 (the shape every parameter reader in
// pkg/command expects numeric values in).
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", p)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			params[k] = f
			continue
		}
		params[k] = v
	}
	return params, nil
}
