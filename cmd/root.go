// Package cmd implements Penny's command-line interface (§6): serve, check,
// and the systemd unit-management subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per §6: 0 success, 1 config/runtime error, 2 usage error.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitUsage   = 2
)

var rootCmd = &cobra.Command{
	Use:           "penny",
	Short:         "Virtual-host routing reverse proxy with on-demand app lifecycle",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, checkCmd, systemdCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitOK
	}
	if _, ok := err.(usageError); ok {
		fmt.Fprintln(os.Stderr, err)
		return ExitUsage
	}
	fmt.Fprintln(os.Stderr, "penny:", err)
	return ExitError
}

// usageError marks an error as a CLI usage mistake (exit code 2) rather than
// a config or runtime failure (exit code 1).
type usageError struct{ error }

func usage(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}
