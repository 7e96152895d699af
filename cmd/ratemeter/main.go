package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "v0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ratemeter",
		Short: "GCRA rate limiting gateway",
		Long: `ratemeter admits or rejects requests with the Generic Cell Rate Algorithm.

Commands:
  serve      Run the rate limiting reverse proxy
  simulate   Replay a request pattern against a policy and print each decision
  version    Print version information`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newSimulateCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ratemeter", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
