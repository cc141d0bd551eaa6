package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	JSON bool
}

// NewFlags holds flags for the new command.
type NewFlags struct {
	Format string
	Dir    string
}

// ShipLogsFlags holds flags for the hidden ship-logs command.
type ShipLogsFlags struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}
	shipFlags := &ShipLogsFlags{}
	newFlags := &NewFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createStatusCommand(globalFlags, statusFlags),
		createValidateCommand(),
		createNewCommand(newFlags),
		createShipLogsCommand(shipFlags),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "dirvisor",
		Short: "Directory driven local process supervisor",
		Long: `Dirvisor keeps the services described in a config directory running.
Drop a descriptor file into the directory to start a service, edit it to
restart the service, delete it to stop the service.

Examples:
  dirvisor run --config=/etc/dirvisor/dirvisor.yaml
  dirvisor status --config=/etc/dirvisor/dirvisor.yaml
  dirvisor validate /etc/dirvisor/services/*.yaml`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "/etc/dirvisor/dirvisor.yaml", "path to the daemon config file")
	return root
}

func createRunCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor in the foreground",
		Long: `Run the supervisor until SIGINT or SIGTERM. Stopping the supervisor
leaves every managed service running; a new instance picks them up again.

Examples:
  dirvisor run --config=./dirvisor.yaml
  DIRVISOR_LOG_LEVEL=debug dirvisor run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), flags.ConfigPath)
		},
	}
}

func createStatusCommand(globalFlags *GlobalFlags, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded services and whether they are alive",
		Long: `Read every process record in the state directory and check the
process table. Nothing is started or stopped.

Examples:
  dirvisor status
  dirvisor status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout(), globalFlags.ConfigPath, flags.JSON)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON instead of a table")
	return cmd
}

func createValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check service descriptor files",
		Long: `Parse each descriptor and report errors, including duplicate service
names across the given files.

Examples:
  dirvisor validate web.yaml worker.toml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), args)
		},
	}
}

func createNewCommand(flags *NewFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new TYPE NAME",
		Short: "Generate a starter service descriptor",
		Long: `Print a starter descriptor for NAME, or write it into --dir as
NAME.<format>. Existing files are never overwritten.

Types: api, database, simple, web, worker

Examples:
  dirvisor new web frontend
  dirvisor new worker mailer --format toml --dir /etc/dirvisor/services`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(cmd.OutOrStdout(), args[0], args[1], *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Format, "format", "yaml", "descriptor format: yaml, json or toml")
	cmd.Flags().StringVar(&flags.Dir, "dir", "", "write the descriptor into this directory")
	return cmd
}

func createShipLogsCommand(flags *ShipLogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "ship-logs",
		Short:  "Copy stdin into a rotating log file",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShipLogs(cmd.InOrStdin(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.File, "file", "", "log file path (required)")
	cmd.Flags().IntVar(&flags.MaxSizeMB, "max-size-mb", 0, "megabytes before rotation")
	cmd.Flags().IntVar(&flags.MaxBackups, "max-backups", 0, "rotated files to keep")
	cmd.Flags().IntVar(&flags.MaxAgeDays, "max-age-days", 0, "days to keep rotated files")
	cmd.Flags().BoolVar(&flags.Compress, "compress", false, "gzip rotated files")
	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(err)
	}
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dirvisor %s\n", Version)
		},
	}
}
