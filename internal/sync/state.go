package sync

import "time"

// SyncState is the scheduler's record of synchronisation. AutoSyncEnabled and
// LastSyncTime are persisted through a [SettingsStore]; SyncInProgress and
// SyncError live in memory only, so a crash mid-pass can never leave the
// guard stuck.
//
// SyncState is not safe for concurrent use; the [Scheduler] serialises access.
type SyncState struct {
	AutoSyncEnabled bool
	LastSyncTime    time.Time
	SyncInProgress  bool
	SyncError       string
}

// Begin takes the in-progress guard and clears the previous error. It
// returns false, changing nothing, if a pass already holds the guard.
func (st *SyncState) Begin() bool {
	if st.SyncInProgress {
		return false
	}
	st.SyncInProgress = true
	st.SyncError = ""
	return true
}

// Finish releases the guard. On success the pass time is recorded, on
// failure the error message is kept for the read model.
func (st *SyncState) Finish(err error, at time.Time) {
	st.SyncInProgress = false
	if err != nil {
		st.SyncError = err.Error()
		return
	}
	st.LastSyncTime = at
}

// SyncStatus is the read model exposed to the UI layer.
type SyncStatus struct {
	Enabled      bool      `json:"enabled"`
	LastSyncTime time.Time `json:"lastSyncTime,omitzero"`
	InProgress   bool      `json:"inProgress"`
	LastError    string    `json:"lastError,omitempty"`
	Connected    bool      `json:"connected"`
	UserID       string    `json:"userId,omitempty"`
}
