package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/skywalker-88/authguard/internal/enforce"
	"github.com/skywalker-88/authguard/internal/settings"
)

func TestOpenSeedsDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := settings.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	got := s.Get()
	if got.Mode != enforce.FailOpen || got.EnforcementTimeoutSeconds != 1 || got.BlockTTLSeconds != 300 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("expected defaults to be persisted on first open")
	}
}

func TestSetModeValidatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, _ := settings.Open(path)

	if err := s.SetMode(enforce.FailClosed); err != nil {
		t.Fatal(err)
	}
	if s.Get().Mode != enforce.FailClosed {
		t.Fatal("expected mode updated")
	}

	if err := s.SetMode("bogus"); err == nil {
		t.Fatal("expected error for invalid mode")
	}

	reopened, err := settings.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Get().Mode != enforce.FailClosed {
		t.Fatal("expected mode to survive reopen")
	}
}

func TestCorruptFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := settings.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Get().Mode != enforce.FailOpen {
		t.Fatal("expected fallback to defaults on corrupt file")
	}
}
