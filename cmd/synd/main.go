// Command synd is the synchronization daemon: it loads a config, opens
// storage, constructs the libp2p transport and the sync core, and runs
// until signaled.
package main

import (
	"os"

	"syncore/internal/interface/cli"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date, builtBy)
	os.Exit(cli.Execute())
}
