package config

import (
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/cli/output"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/config"
)

var (
	showOutput string
	showWatch  bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the resolved bootstrap configuration",
	Long: `Display the gateway's resolved bootstrap configuration: the
config file merged with environment overrides and defaults.

Examples:
  ecowatt-gw config show
  ecowatt-gw config show --output json
  ecowatt-gw config show --watch`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "output format (yaml|json)")
	showCmd.Flags().BoolVarP(&showWatch, "watch", "w", false, "re-print whenever the config file changes on disk")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		format = output.FormatYAML
	}

	if err := printConfig(cmd, configPath, format); err != nil {
		return err
	}
	if !showWatch {
		return nil
	}
	return watchConfig(cmd, configPath, format)
}

func printConfig(cmd *cobra.Command, configPath string, format output.Format) error {
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
}

// watchConfig re-prints the configuration every time the resolved config
// file changes, until the process is interrupted. Resolving to a default
// path that doesn't exist yet has nothing to watch.
func watchConfig(cmd *cobra.Command, configPath string, format output.Format) error {
	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cmd.Println("---")
			if err := printConfig(cmd, configPath, format); err != nil {
				cmd.PrintErrln("error:", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cmd.PrintErrln("watch error:", err)
		}
	}
}
