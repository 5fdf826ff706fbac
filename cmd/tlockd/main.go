// Command tlockd runs time-locked sealed-bid auctions.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"TlockAuction/internal/auction"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:           "tlockd",
		Short:         "Time-locked sealed-bid auction node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("tlockd %s\n", auction.Version)
			fmt.Printf("Go Version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
)

func main() {
	initCommands()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func initCommands() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		versionCmd,
		newNodeCmd(),
		newBeaconCmd(),
		newSealCmd(),
		newKeygenCmd(),
		newExportCmd(),
		newImportCmd(),
	)
}
