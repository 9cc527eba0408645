package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// systemd unit generation and process supervision are explicitly out of
// scope: these subcommands exist to fill out the CLI's shape but delegate no
// real unit-file templating or service-manager control.
var systemdCmd = &cobra.Command{
	Use:   "systemd",
	Short: "Manage the penny systemd unit",
}

func init() {
	systemdCmd.AddCommand(
		systemdSubcommand("install", "Install the penny systemd unit"),
		systemdSubcommand("uninstall", "Remove the penny systemd unit"),
		systemdSubcommand("status", "Show the penny systemd unit status"),
		systemdSubcommand("restart", "Restart the penny systemd service"),
		systemdLogsCmd(),
	)
}

func systemdSubcommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("systemd %s: not supported on this platform build", use)
		},
	}
}

func systemdLogsCmd() *cobra.Command {
	var follow bool
	c := &cobra.Command{
		Use:   "logs",
		Short: "Show penny systemd service logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("systemd logs: not supported on this platform build")
		},
	}
	c.Flags().BoolVar(&follow, "follow", false, "follow log output")
	return c
}
