package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample ecowatt-gw configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/ecowatt-gw/config.yaml. Use --config to specify a
custom path. Security and OTA key file paths are filled in with their
conventional locations but the key material itself must still be
provisioned separately; ecowatt-gw never generates key material.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("initialize config: %w", err)
	}

	cmd.Printf("Configuration file created at: %s\n", path)
	cmd.Println("\nNext steps:")
	cmd.Println("  1. Edit the configuration file: set cloud.base_url, cloud.device_id,")
	cmd.Println("     and provision the security/OTA key files it references.")
	cmd.Printf("  2. Start the gateway with: ecowatt-gw start --config %s\n", path)
	return nil
}
