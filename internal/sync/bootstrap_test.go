package sync

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jinjinsansan/mentenansu-sub000/internal/model"
)

func seededRemote(t *testing.T) *mockRemote {
	t.Helper()
	remote := newMockRemote()
	if _, err := remote.UpsertEntries(context.Background(), forRemote(manyEntries(3))); err != nil {
		t.Fatal(err)
	}
	remote.consents = []model.ConsentRecord{consent("r1", "alice", true)}
	return remote
}

func newTestBootstrap(local *mockLocal, remote *mockRemote, input string, out *bytes.Buffer) *Bootstrap {
	r := newTestReconciler(local, remote)
	return NewBootstrap(r, local, remote, testLogger, strings.NewReader(input), out)
}

func TestBootstrap_SkipsNonEmptyLocal(t *testing.T) {
	local := newMockLocal(newEntry("a", "2024-01-01", model.EmotionJoy))
	remote := seededRemote(t)

	var buf bytes.Buffer
	ran, err := newTestBootstrap(local, remote, "y\n", &buf).Run(context.Background(), testUser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Error("restore should not run when local diary is non-empty")
	}
	if local.entryCount() != 1 {
		t.Errorf("local entries = %d, want 1", local.entryCount())
	}
}

func TestBootstrap_SkipsEmptyRemote(t *testing.T) {
	var buf bytes.Buffer
	ran, err := newTestBootstrap(newMockLocal(), newMockRemote(), "y\n", &buf).Run(context.Background(), testUser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Error("restore should not run against an empty remote")
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestBootstrap_RestoresAfterConfirmation(t *testing.T) {
	local := newMockLocal()
	local.consents = []model.ConsentRecord{consent("l1", "bob", true)}
	remote := seededRemote(t)

	var out bytes.Buffer
	ran, err := newTestBootstrap(local, remote, "yes\n", &out).Run(context.Background(), testUser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("restore should have executed")
	}

	if local.entryCount() != 3 {
		t.Errorf("local entries = %d, want 3", local.entryCount())
	}
	// The local-only consent was uploaded before the pull, so it survives.
	got, _ := local.Consents(context.Background())
	if len(got) != 2 {
		t.Errorf("local consents = %d, want 2", len(got))
	}

	summary := out.String()
	for _, want := range []string{"Diary entries to restore: 3", "Consent records to restore: 1", "Local consent records uploaded first: 1"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestBootstrap_KeepsLocalConsentForKnownUsername(t *testing.T) {
	local := newMockLocal()
	local.consents = []model.ConsentRecord{consent("l-decline", "alice", false)}
	remote := seededRemote(t) // holds r1 for alice

	var out bytes.Buffer
	ran, err := newTestBootstrap(local, remote, "y\n", &out).Run(context.Background(), testUser)
	if err != nil || !ran {
		t.Fatalf("ran = %v, err = %v", ran, err)
	}

	got, _ := local.Consents(context.Background())
	ids := make(map[string]bool, len(got))
	for _, rec := range got {
		ids[rec.ID] = true
	}
	if !ids["r1"] || !ids["l-decline"] || len(got) != 2 {
		t.Errorf("local consents = %+v, want r1 and l-decline", got)
	}
}

func TestBootstrap_CancelledByUser(t *testing.T) {
	local := newMockLocal()
	remote := seededRemote(t)

	var out bytes.Buffer
	ran, err := newTestBootstrap(local, remote, "n\n", &out).Run(context.Background(), testUser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Error("restore should not run when declined")
	}
	if local.entryCount() != 0 {
		t.Errorf("local entries = %d, want 0", local.entryCount())
	}
}

func TestBootstrap_AssumeYes(t *testing.T) {
	local := newMockLocal()
	remote := seededRemote(t)

	var out bytes.Buffer
	b := newTestBootstrap(local, remote, "", &out)
	b.AssumeYes = true
	ran, err := b.Run(context.Background(), testUser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran || local.entryCount() != 3 {
		t.Errorf("ran = %v, local entries = %d", ran, local.entryCount())
	}
	if strings.Contains(out.String(), "[y/N]") {
		t.Error("prompt shown despite AssumeYes")
	}
}

func TestBootstrap_Unreachable(t *testing.T) {
	remote := seededRemote(t)
	remote.setUnreachable(true)

	var out bytes.Buffer
	_, err := newTestBootstrap(newMockLocal(), remote, "y\n", &out).Run(context.Background(), testUser)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
}

func TestBootstrap_RequiresUser(t *testing.T) {
	var out bytes.Buffer
	_, err := newTestBootstrap(newMockLocal(), seededRemote(t), "y\n", &out).Run(context.Background(), "")
	if !errors.Is(err, ErrNoUserIdentity) {
		t.Errorf("err = %v, want ErrNoUserIdentity", err)
	}
}
