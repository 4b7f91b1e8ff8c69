// Package config implements the ecowatt-gw "config" subcommand group.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect bootstrap configuration",
	Long: `Inspect the gateway's static bootstrap configuration (serial,
cloud, security/OTA key paths, logging, metrics). This is the
launch-time tier only; the runtime-mutable register selection and
period settings live in the persistent store and are not shown by
this command.

Subcommands:
  show      Display the resolved configuration`,
}

func init() {
	Cmd.AddCommand(showCmd)
}
