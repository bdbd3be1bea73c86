package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jinjinsansan/mentenansu-sub000/internal/statusapi"
	dsync "github.com/jinjinsansan/mentenansu-sub000/internal/sync"
)

const daemonTimeout = 3 * time.Second

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local diary and daemon state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.printStatus(ctx, cmd.OutOrStdout(), opts.ConfigPath)
		},
	}
}

func (a *app) printStatus(ctx context.Context, w io.Writer, cfgPath string) error {
	entries, err := a.local.Entries(ctx)
	if err != nil {
		return err
	}
	consents, err := a.local.Consents(ctx)
	if err != nil {
		return err
	}
	enabled, err := a.local.AutoSyncEnabled(ctx)
	if err != nil {
		return err
	}
	last, err := a.local.LastSyncTime(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Diarysync Status")
	fmt.Fprintln(w, "────────────────")
	fmt.Fprintf(w, "  Config:     %s\n", cfgPath)
	fmt.Fprintf(w, "  User:       %s\n", a.cfg.DisplayName)
	if info, err := os.Stat(a.localPath); err == nil {
		fmt.Fprintf(w, "  Local DB:   %s (%s)\n", a.localPath, humanSize(info.Size()))
	} else {
		fmt.Fprintf(w, "  Local DB:   %s\n", a.localPath)
	}
	fmt.Fprintf(w, "  Entries:    %d\n", len(entries))
	fmt.Fprintf(w, "  Consents:   %d\n", len(consents))
	fmt.Fprintf(w, "  Auto-sync:  %s\n", onOff(enabled))
	fmt.Fprintf(w, "  Last sync:  %s\n", formatTime(last))

	if a.cfg.StatusAddr == "" {
		return nil
	}
	st, err := daemonStatus(ctx, a.cfg.StatusAddr)
	if err != nil {
		fmt.Fprintf(w, "  Daemon:     not reachable at %s\n", a.cfg.StatusAddr)
		a.log.Debug("daemon status", "error", err)
		return nil
	}
	fmt.Fprintf(w, "  Daemon:     running at %s\n", a.cfg.StatusAddr)
	fmt.Fprintf(w, "    Connected:   %t\n", st.Connected)
	fmt.Fprintf(w, "    In progress: %t\n", st.InProgress)
	if st.LastError != "" {
		fmt.Fprintf(w, "    Last error:  %s\n", st.LastError)
	}
	return nil
}

func newAutoSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "auto-sync on|off",
		Short:     "Enable or disable timer-driven syncing",
		Long:      "Toggle auto-sync. A running daemon is updated through its status API when status_addr is set; otherwise the setting is stored locally and read at the next daemon start.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled := args[0] == "on"
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if addr := a.cfg.StatusAddr; addr != "" {
				err := daemonToggle(ctx, addr, enabled)
				if err == nil {
					fmt.Fprintf(out, "Auto-sync %s (daemon updated).\n", onOff(enabled))
					return nil
				}
				a.log.Debug("daemon toggle failed, storing locally", "error", err)
			}
			if err := a.local.SetAutoSyncEnabled(ctx, enabled); err != nil {
				return err
			}
			fmt.Fprintf(out, "Auto-sync %s.\n", onOff(enabled))
			return nil
		},
	}
}

// --- Daemon client -----------------------------------------------------------

// daemonError is a non-2xx answer from a running daemon. Transport failures
// are returned unwrapped, so errors.As distinguishes "daemon said no" from
// "no daemon".
type daemonError struct {
	Status int
	Detail string
}

func (e *daemonError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("daemon answered %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("daemon answered %d: %s", e.Status, e.Detail)
}

func daemonStatus(ctx context.Context, addr string) (dsync.SyncStatus, error) {
	var st dsync.SyncStatus
	err := callDaemon(ctx, daemonTimeout, http.MethodGet, addr, "/api/v1/status", nil, &st)
	return st, err
}

func daemonToggle(ctx context.Context, addr string, enabled bool) error {
	body, err := json.Marshal(map[string]bool{"enabled": enabled})
	if err != nil {
		return err
	}
	return callDaemon(ctx, daemonTimeout, http.MethodPut, addr, "/api/v1/auto-sync", body, nil)
}

// daemonSync asks the daemon to run a pass and waits for it. passTimeout is
// the daemon's own bound on the pass.
func daemonSync(ctx context.Context, addr string, passTimeout time.Duration) (dsync.SyncStatus, error) {
	var st dsync.SyncStatus
	err := callDaemon(ctx, passTimeout+daemonTimeout, http.MethodPost, addr, "/api/v1/sync", nil, &st)
	return st, err
}

func callDaemon(ctx context.Context, timeout time.Duration, method, addr, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, "http://"+addr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var p statusapi.Problem
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&p)
		return &daemonError{Status: resp.StatusCode, Detail: p.Detail}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// daemonIdle fails when a daemon answering at status_addr is in the middle of
// a pass. A daemon that does not answer counts as idle.
func (a *app) daemonIdle(ctx context.Context) error {
	addr := a.cfg.StatusAddr
	if addr == "" {
		return nil
	}
	st, err := daemonStatus(ctx, addr)
	if err != nil {
		a.log.Debug("daemon status", "error", err)
		return nil
	}
	if st.InProgress {
		return fmt.Errorf("the daemon at %s is running a sync pass; try again when it finishes", addr)
	}
	return nil
}

// --- Formatting --------------------------------------------------------------

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

// humanSize returns a human-readable file size string.
func humanSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
