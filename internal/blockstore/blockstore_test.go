package blockstore_test

import (
	"path/filepath"
	"testing"

	"github.com/skywalker-88/authguard/internal/blockstore"
)

func openTemp(t *testing.T) *blockstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blocks.json")
	s, err := blockstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUpsertAutoCreatesActiveRecord(t *testing.T) {
	s := openTemp(t)
	r, err := s.UpsertAuto("10.0.0.1", 60, 1_700_000_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if r.ID != "auto::10.0.0.1" || !r.Active || r.Source != blockstore.SourceAuto {
		t.Fatalf("unexpected record: %+v", r)
	}
	if !s.IsActive("10.0.0.1") {
		t.Fatal("expected active")
	}
}

func TestUpsertDoesNotDuplicate(t *testing.T) {
	s := openTemp(t)
	first, _ := s.UpsertAuto("10.0.0.1", 60, 1)
	second, _ := s.UpsertAuto("10.0.0.1", 90, 2)
	if first.ID != second.ID {
		t.Fatal("expected same record returned for already-active entity")
	}
	if len(s.All()) != 1 {
		t.Fatalf("expected single record, got %d", len(s.All()))
	}
}

// P10: idempotent unblock.
func TestUnblockIdempotent(t *testing.T) {
	s := openTemp(t)
	s.UpsertAuto("10.0.0.1", 60, 1)

	if err := s.Unblock("10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if s.IsActive("10.0.0.1") {
		t.Fatal("expected inactive after unblock")
	}

	// second unblock: no-op, no error.
	if err := s.Unblock("10.0.0.1"); err != nil {
		t.Fatal(err)
	}

	// unblocking a never-blocked entity: also a no-op.
	if err := s.Unblock("never-blocked"); err != nil {
		t.Fatal(err)
	}
}

func TestReblockAfterUnblockCreatesNewRecord(t *testing.T) {
	s := openTemp(t)
	first, _ := s.UpsertAuto("10.0.0.1", 60, 1)
	s.Unblock("10.0.0.1")
	second, _ := s.UpsertAuto("10.0.0.1", 90, 2)

	if first == second {
		t.Fatal("expected a fresh record after reblock")
	}
	if len(s.All()) != 2 {
		t.Fatalf("expected history of 2 records, got %d", len(s.All()))
	}
}

func TestManualBlockUsesManualID(t *testing.T) {
	s := openTemp(t)
	r, _ := s.UpsertManual("10.0.0.1", 0, 1)
	if r.ID != "manual::10.0.0.1" || r.Source != blockstore.SourceManual {
		t.Fatalf("unexpected manual record: %+v", r)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.json")
	s1, err := blockstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s1.UpsertAuto("10.0.0.1", 60, 1)

	s2, err := blockstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if !s2.IsActive("10.0.0.1") {
		t.Fatal("expected active block to survive reopen")
	}
}
