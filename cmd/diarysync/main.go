// Diarysync keeps an on-device diary in step with a PostgreSQL store of
// record. Entries are written locally first and copied to the remote
// whenever it is reachable; a fresh device can be restored from the remote.
//
// Usage:
//
//	diarysync setup                     # interactive first-run wizard
//	diarysync daemon [--yes]            # watch connectivity, auto-sync on a timer
//	diarysync sync-once                 # one full pass then exit
//	diarysync migrate [--bulk]          # copy local entries to the remote
//	diarysync pull [--consents] [--yes] # overwrite local entries from the remote
//	diarysync restore [--yes]           # first-run restore of an empty device
//	diarysync add --emotion 恐怖 ...     # write an entry locally
//	diarysync consent [--decline]       # record a consent decision locally
//	diarysync auto-sync on|off          # toggle the auto-sync flag
//	diarysync status                    # local and daemon state
//	diarysync version
//
// Every command accepts --config <path> and --verbose.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}
