// Command nodebus is the node runtime's CLI entrypoint: `serve` boots a
// node with the NATS-backed RemoteTransport and the HTTP admin surface,
// `console` opens an interactive REPL against a running node for ad hoc
// request/publish/subscribe calls. Grounded on the teacher's cmd/root.go
// (subcommand-per-concern cobra tree) and cmd/cmd_runn's start/list style.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nodebus",
	Short: "Local service bus node runtime",
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consoleCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
