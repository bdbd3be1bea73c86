package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jinjinsansan/mentenansu-sub000/internal/config"
)

// PingFunc checks that dsn points at a reachable PostgreSQL server.
type PingFunc func(ctx context.Context, dsn string) error

// syncIntervals are offered as presets; the first is the default.
var syncIntervals = []time.Duration{
	config.DefaultSyncInterval,
	15 * time.Minute,
	time.Hour,
	6 * time.Hour,
}

// Wizard guides the user through first-run configuration.
type Wizard struct {
	prompt *Prompter
	ping   PingFunc
	logger *slog.Logger
	w      io.Writer
}

// NewWizard creates a Wizard wired to the given I/O and logger. ping is used
// to verify the connection before anything is written.
func NewWizard(r io.Reader, w io.Writer, ping PingFunc, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		ping:   ping,
		logger: logger,
		w:      w,
	}
}

// Run walks the user through the remote connection, diarist identity and
// sync settings, then writes the config to cfgPath. It returns false if the
// user kept an existing file.
func (wiz *Wizard) Run(ctx context.Context, cfgPath string) (bool, error) {
	fmt.Fprintf(wiz.w, "\nWelcome to diarysync setup!\n")
	fmt.Fprintf(wiz.w, "This wizard writes %s.\n\n", cfgPath)

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return false, nil
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: remote store.
	fmt.Fprintf(wiz.w, "Step 1/4 — Remote Store (PostgreSQL)\n")

	dsn := wiz.askDSN()
	fmt.Fprintf(wiz.w, "  Connecting to the remote store...")
	if err := wiz.ping(ctx, dsn); err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return false, fmt.Errorf("cannot reach the remote store: %w\n\n  Check host, credentials and database, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n\n")

	// Step 2: identity.
	fmt.Fprintf(wiz.w, "Step 2/4 — Diarist\n")
	displayName := wiz.prompt.String("Display name", "")
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: sync interval.
	fmt.Fprintf(wiz.w, "Step 3/4 — Auto-sync Interval\n")
	options := make([]string, len(syncIntervals))
	for i, d := range syncIntervals {
		options[i] = d.String()
	}
	options[0] += " (default)"
	idx, err := wiz.prompt.Select("How often should auto-sync run", options)
	if err != nil {
		return false, fmt.Errorf("selecting sync interval: %w", err)
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 4: status API and save.
	fmt.Fprintf(wiz.w, "Step 4/4 — Save Configuration\n")

	var statusAddr string
	if wiz.prompt.Confirm("Expose a local status API for the daemon?", false) {
		port := wiz.prompt.Int("Port", 8765, 1024, 65535)
		statusAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	}

	cfg := &config.Config{
		RemoteDSN:    dsn,
		DisplayName:  displayName,
		SyncInterval: syncIntervals[idx],
		StatusAddr:   statusAddr,
	}
	if err := cfg.Write(cfgPath); err != nil {
		return false, fmt.Errorf("writing config: %w", err)
	}
	wiz.logger.Debug("config written", "path", cfgPath)
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", cfgPath)

	fmt.Fprintf(wiz.w, "Next steps:\n")
	fmt.Fprintf(wiz.w, "  Restore a device:  diarysync restore\n")
	fmt.Fprintf(wiz.w, "  Enable auto-sync:  diarysync auto-sync on\n")
	fmt.Fprintf(wiz.w, "  Run the daemon:    diarysync daemon\n\n")
	return true, nil
}

// askDSN collects connection details and assembles a postgres:// URL.
func (wiz *Wizard) askDSN() string {
	host := wiz.prompt.String("Host", "localhost")
	port := wiz.prompt.Int("Port", 5432, 1, 65535)
	database := wiz.prompt.String("Database", "diary")
	user := wiz.prompt.String("User", "diary")
	password := wiz.prompt.Secret("Password")
	sslmode := "require"
	if !wiz.prompt.Confirm("Require TLS?", host != "localhost" && host != "127.0.0.1") {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + database,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}
