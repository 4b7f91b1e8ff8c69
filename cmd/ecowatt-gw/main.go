package main

import (
	"os"

	"github.com/RPX2001/ecowatt-edge-gateway/cmd/ecowatt-gw/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date
	os.Exit(commands.Execute())
}
