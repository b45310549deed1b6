package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var versionShort bool

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&versionShort, "short", "s", false, "print only the version string")
}

// SetVersionInfo sets the build-time version metadata, called from main
// before Execute.
func SetVersionInfo(v, c, d, b string) {
	version = v
	commit = c
	date = d
	builtBy = b
}

func runVersion(cmd *cobra.Command, args []string) {
	if versionShort {
		fmt.Println(version)
		return
	}

	fmt.Printf("synd %s\n", version)
	fmt.Printf("  Commit:    %s\n", commit)
	fmt.Printf("  Built:     %s\n", date)
	fmt.Printf("  Built by:  %s\n", builtBy)
	fmt.Printf("  Go:        %s\n", runtime.Version())
	fmt.Printf("  OS/Arch:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
