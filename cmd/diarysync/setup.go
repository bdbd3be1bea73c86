package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jinjinsansan/mentenansu-sub000/internal/remote"
	"github.com/jinjinsansan/mentenansu-sub000/internal/setup"
)

func newSetupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run wizard that writes the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			wiz := setup.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout(), pingRemote(logger), logger)
			_, err := wiz.Run(cmd.Context(), opts.ConfigPath)
			return err
		},
	}
}

// pingRemote opens a throwaway connection. A successful ping also applies
// the remote schema migrations.
func pingRemote(logger *slog.Logger) setup.PingFunc {
	return func(ctx context.Context, dsn string) error {
		rs, err := remote.Open(dsn, logger)
		if err != nil {
			return err
		}
		defer rs.Close()
		return rs.Ping(ctx)
	}
}
