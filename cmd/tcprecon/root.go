package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for tcprecon.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tcprecon",
		Short: "Concurrent TCP port scanner with service identification",
		Long: `tcprecon scans TCP ports with full connects, records the banner sent by
open ports and runs HTTP, DNS and TLS probes against open ports that stay
silent.

The number of connections in flight is bounded by a shared admission
limiter (--concurrency), and every connect, read and probe is bounded by a
timeout.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging and progress output")

	cmd.AddCommand(NewScanCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
