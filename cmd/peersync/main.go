// Command peersync publishes, patches and inspects peer-synced resources.
package main

import (
	"os"

	"github.com/roach88/peersync/internal/cli"
)

// Commands report their own errors; only the exit code is left to set.
func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
