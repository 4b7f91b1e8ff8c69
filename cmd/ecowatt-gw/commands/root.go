// Package commands implements the ecowatt-gw CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/RPX2001/ecowatt-edge-gateway/cmd/ecowatt-gw/commands/config"
	"github.com/RPX2001/ecowatt-edge-gateway/internal/gwerrors"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "ecowatt-gw",
	Short: "EcoWatt inverter edge gateway",
	Long: `ecowatt-gw polls a solar inverter over Modbus RTU, batches and
uploads its telemetry, applies remote commands and configuration, and
manages OTA firmware updates. It runs as a single long-lived process
on the device; this binary is both the daemon and its own CLI.

Use "ecowatt-gw [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/ecowatt-gw/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(faultsCmd)
	rootCmd.AddCommand(commandCmd)
	rootCmd.AddCommand(config.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Execute runs the root command. Its return value's exit code follows
// §6.4: 0 on success, otherwise 1/2/3/4 as classified by
// gwerrors.ExitCode, which maps an error that carries no classification
// to 4.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	rootCmd.PrintErrln("Error:", err)
	if code := gwerrors.ExitCode(err); code != 0 {
		return code
	}
	return 1
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("ecowatt-gw %s (commit: %s, built: %s)\n", Version, Commit, Date)
		return nil
	},
}
