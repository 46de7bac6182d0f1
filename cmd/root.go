package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wireline-io/wireline/cmd/client"
	"github.com/wireline-io/wireline/cmd/serve"
	"github.com/wireline-io/wireline/cmd/util"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "wireline",
		Short: "resilient framed-message transport",
		Long: fmt.Sprintf(`wireline (v%s)

A resilient transport layer for length-prefixed, checksummed binary
messaging, with connection pooling, automatic reconnection, heartbeat
liveness detection and circuit breaking.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of wireline",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wireline v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(client.ClientCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
