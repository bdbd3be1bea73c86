package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	dsync "github.com/jinjinsansan/mentenansu-sub000/internal/sync"
)

func newSyncOnceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-once",
		Short: "Run a single reconciliation pass then exit",
		Long: `Run one full pass: diary entries (bulk when the local collection is
large) followed by consent records. Nothing already present remotely is
written again, so the command is safe to repeat.

When status_addr is set and a daemon answers there, the daemon runs the pass
so it never overlaps one of its own.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr := a.cfg.StatusAddr; addr != "" {
				st, err := daemonSync(ctx, addr, a.cfg.PassTimeout)
				var de *daemonError
				switch {
				case err == nil:
					fmt.Fprintf(cmd.OutOrStdout(), "Sync completed by the daemon at %s (last sync %s).\n",
						addr, formatTime(st.LastSyncTime))
					return nil
				case errors.As(err, &de):
					return fmt.Errorf("sync via daemon at %s: %w", addr, err)
				}
				a.log.Debug("daemon not reachable, syncing in-process", "addr", addr, "error", err)
			}

			userID, err := a.connect(ctx)
			if err != nil {
				return err
			}

			a.log.Info("running single sync pass")
			stats, err := a.reconciler().Pass(ctx, userID)
			a.log.Info("sync complete",
				"bulk", stats.Bulk,
				"entries_created", stats.Entries.Created,
				"entries_existing", stats.Entries.Existing,
				"entries_failed", stats.Entries.Failed,
				"consents_created", stats.Consents.Created,
				"consents_failed", stats.Consents.Failed,
			)
			if err != nil {
				return err
			}
			if err := a.local.SetLastSyncTime(ctx, time.Now().UTC()); err != nil {
				a.log.Warn("recording last sync time", "error", err)
			}
			return nil
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var bulk bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy local diary entries to the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.daemonIdle(ctx); err != nil {
				return err
			}
			userID, err := a.connect(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rec := a.reconciler()
			var stats dsync.Stats
			if bulk {
				stats, err = rec.BulkMigrateLocalToRemote(ctx, userID, func(p int) {
					fmt.Fprintf(out, "\rMigrating… %3d%%", p)
				})
				fmt.Fprintln(out)
			} else {
				stats, err = rec.MigrateLocalToRemote(ctx, userID)
			}
			printStats(out, "diary entries", stats)
			return err
		},
	}
	cmd.Flags().BoolVar(&bulk, "bulk", false, "upload in batches and print progress")
	return cmd
}

func newPullCommand(opts *rootOptions) *cobra.Command {
	var consents, yes bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Replace local diary entries with the remote collection",
		Long: `Replace the local diary entry collection with the remote one, newest
first. Local entries that were never migrated are lost; run "migrate" first
if in doubt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if !yes && !confirm(cmd.InOrStdin(), out, "Overwrite local entries with the remote collection? [y/N] ") {
				fmt.Fprintln(out, "Pull cancelled.")
				return nil
			}

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.daemonIdle(ctx); err != nil {
				return err
			}
			userID, err := a.connect(ctx)
			if err != nil {
				return err
			}

			rec := a.reconciler()
			n, err := rec.PullRemoteToLocal(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Pulled %d diary entries.\n", n)

			if consents {
				n, err := rec.PullConsentsToLocal(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pulled %d consent records.\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&consents, "consents", false, "also pull consent records (local-only records are kept)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newRestoreCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore an empty device from the remote store",
		Long: `Restore diary entries and consent records from the remote store. Does
nothing when local entries already exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.daemonIdle(ctx); err != nil {
				return err
			}
			userID, err := a.connect(ctx)
			if err != nil {
				return err
			}

			b := a.bootstrap(cmd.InOrStdin(), cmd.OutOrStdout())
			b.AssumeYes = yes
			ran, err := b.Run(ctx, userID)
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			if !ran {
				fmt.Fprintln(cmd.OutOrStdout(), "No restore performed.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (a *app) bootstrap(in io.Reader, out io.Writer) *dsync.Bootstrap {
	return dsync.NewBootstrap(a.reconciler(), a.local, a.remote, a.log, in, out)
}

func printStats(w io.Writer, what string, s dsync.Stats) {
	fmt.Fprintf(w, "Examined %d %s: %d created, %d already present, %d failed.\n",
		s.Examined, what, s.Created, s.Existing, s.Failed)
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
