package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jinjinsansan/mentenansu-sub000/internal/config"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	defaultCfg, _ := config.DefaultPath()

	cmd := &cobra.Command{
		Use:           "diarysync",
		Short:         "Reconcile the local diary with the remote store of record",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", defaultCfg, "path to config.yaml")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newSetupCommand(opts),
		newDaemonCommand(opts),
		newSyncOnceCommand(opts),
		newMigrateCommand(opts),
		newPullCommand(opts),
		newRestoreCommand(opts),
		newAddCommand(opts),
		newConsentCommand(opts),
		newAutoSyncCommand(opts),
		newStatusCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "diarysync", version)
		},
	}
}
