package sync

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Bootstrap restores a device whose local diary is empty from the remote
// store. It prints what would be restored and, with user confirmation (or
// when AssumeYes is set), migrates any local consent records first and then
// pulls the remote collections down.
type Bootstrap struct {
	rec    *Reconciler
	local  LocalStore
	remote RemoteStore
	log    *slog.Logger
	reader io.Reader // for confirmation prompt (os.Stdin in production)
	writer io.Writer // for summary output (os.Stdout in production)

	// AssumeYes skips the confirmation prompt.
	AssumeYes bool
}

// NewBootstrap creates a Bootstrap. reader and writer control the
// confirmation prompt I/O.
func NewBootstrap(rec *Reconciler, local LocalStore, remote RemoteStore, logger *slog.Logger, reader io.Reader, writer io.Writer) *Bootstrap {
	return &Bootstrap{
		rec:    rec,
		local:  local,
		remote: remote,
		log:    logger,
		reader: reader,
		writer: writer,
	}
}

// restorePlan is what a restore would bring down.
type restorePlan struct {
	userID        string
	localConsents int
	entries       int
	consents      int
}

// Run restores the device if the local diary is empty and the remote store
// holds data for userID. It returns true if the restore was executed and
// false if it was skipped or declined.
func (b *Bootstrap) Run(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, &PassError{Op: "restore", Err: ErrNoUserIdentity}
	}

	local, err := b.local.Entries(ctx)
	if err != nil {
		return false, fmt.Errorf("reading local entries: %w", err)
	}
	if len(local) > 0 {
		b.log.Debug("local diary is not empty, skipping restore", "entries", len(local))
		return false, nil
	}

	plan := restorePlan{userID: userID}
	if plan.entries, err = b.remote.CountEntries(ctx, userID); err != nil {
		return false, fmt.Errorf("counting remote entries: %w", err)
	}
	if plan.consents, err = b.remote.CountConsents(ctx); err != nil {
		return false, fmt.Errorf("counting remote consents: %w", err)
	}
	if plan.entries == 0 && plan.consents == 0 {
		b.log.Debug("remote store is empty, nothing to restore")
		return false, nil
	}
	localConsents, err := b.local.Consents(ctx)
	if err != nil {
		return false, fmt.Errorf("reading local consents: %w", err)
	}
	plan.localConsents = len(localConsents)

	b.log.Info("empty local diary detected, offering restore",
		"remote_entries", plan.entries,
		"remote_consents", plan.consents,
	)

	b.printSummary(plan)
	if !b.AssumeYes && !b.confirm() {
		b.log.Info("restore cancelled by user")
		return false, nil
	}

	if err := b.execute(ctx, plan); err != nil {
		return false, fmt.Errorf("executing restore: %w", err)
	}

	b.log.Info("restore complete")
	return true, nil
}

// printSummary writes a human-readable summary of the restore plan.
func (b *Bootstrap) printSummary(p restorePlan) {
	_, _ = fmt.Fprintf(b.writer, "\n--- Restore Summary ---\n\n")
	_, _ = fmt.Fprintf(b.writer, "User %s:\n", p.userID)
	_, _ = fmt.Fprintf(b.writer, "  Diary entries to restore: %d\n", p.entries)
	_, _ = fmt.Fprintf(b.writer, "  Consent records to restore: %d\n", p.consents)
	if p.localConsents > 0 {
		_, _ = fmt.Fprintf(b.writer, "  Local consent records uploaded first: %d\n", p.localConsents)
	}
	_, _ = fmt.Fprintln(b.writer)
}

// confirm reads a y/n response from the reader.
func (b *Bootstrap) confirm() bool {
	_, _ = fmt.Fprintf(b.writer, "Restore from remote? [y/N] ")
	scanner := bufio.NewScanner(b.reader)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes"
	}
	return false
}

// execute uploads local consents so the pull cannot drop them, then replaces
// both local collections with the remote ones.
func (b *Bootstrap) execute(ctx context.Context, p restorePlan) error {
	if p.localConsents > 0 {
		if _, err := b.rec.MigrateConsentsToRemote(ctx); err != nil {
			return err
		}
	}

	entries, err := b.rec.PullRemoteToLocal(ctx, p.userID)
	if err != nil {
		return err
	}
	consents, err := b.rec.PullConsentsToLocal(ctx)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(b.writer, "Restored %d diary entries and %d consent records.\n", entries, consents)
	return nil
}
