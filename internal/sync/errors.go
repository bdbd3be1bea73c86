package sync

import (
	"errors"
	"fmt"

	"github.com/jinjinsansan/mentenansu-sub000/internal/model"
)

// Sentinel errors for programmatic handling.
var (
	// ErrUnreachable aborts a whole pass. Local data is left untouched.
	ErrUnreachable = model.ErrUnreachable

	// ErrEntryWriteFailed marks a single record (or batch) that could not be
	// checked or written. It is logged and skipped, never returned from a pass.
	ErrEntryWriteFailed = errors.New("entry write failed")

	// ErrNotConnected is returned by a manual trigger when there is no
	// reachable remote store or no resolved user.
	ErrNotConnected = errors.New("not connected")

	// ErrNoUserIdentity is joined with ErrNotConnected when the user has not
	// been resolved yet.
	ErrNoUserIdentity = errors.New("no user identity")

	// ErrPassInProgress is returned when a trigger was dropped because another
	// pass holds the guard. Nothing was done.
	ErrPassInProgress = errors.New("sync pass already in progress")
)

// PassError wraps a top-level failure with the operation that failed.
type PassError struct {
	Op  string // "migrate", "bulk-migrate", "pull", "migrate-consents", "pull-consents"
	Err error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PassError) Unwrap() error {
	return e.Err
}

// isUnreachable reports whether err means the whole remote store is gone.
func isUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
