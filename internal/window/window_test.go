package window_test

import (
	"testing"
	"time"

	"github.com/skywalker-88/authguard/internal/window"
)

func TestAddAndCount(t *testing.T) {
	w := window.New(60 * time.Second)
	base := int64(1_700_000_000_000)

	for i := 0; i < 5; i++ {
		w.Add("10.0.0.1", base+int64(i)*1000)
	}
	if got := w.Count("10.0.0.1", base+4000); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
}

func TestEvictionOnTouch(t *testing.T) {
	// P4: window.count(k, t) = |{entries with ts >= t - window_size_ms}|.
	w := window.New(10 * time.Second)
	base := int64(1_700_000_000_000)

	w.Add("k", base)
	w.Add("k", base+5000)
	w.Add("k", base+20000) // this Add evicts the first two (older than 10s cutoff)

	if got := w.Count("k", base+20000); got != 1 {
		t.Fatalf("count after eviction = %d, want 1", got)
	}
}

func TestCountEvictsWithoutAdd(t *testing.T) {
	w := window.New(10 * time.Second)
	base := int64(1_700_000_000_000)

	w.Add("k", base)
	if got := w.Count("k", base+11000); got != 0 {
		t.Fatalf("count = %d, want 0 after window expiry", got)
	}
}

func TestColdKeyReadsZero(t *testing.T) {
	w := window.New(60 * time.Second)
	if got := w.Count("never-touched", 1_700_000_000_000); got != 0 {
		t.Fatalf("count = %d, want 0 for untouched key", got)
	}
}

func TestKeysWithPrefix(t *testing.T) {
	w := window.New(60 * time.Second)
	base := int64(1_700_000_000_000)

	w.Add("ip:alice", base)
	w.Add("ip:bob", base+100)
	w.Add("ip:alice", base+200) // duplicate suffix, should not double count
	w.Add("other:carol", base)

	got := w.KeysWithPrefix("ip:", base+200)
	if len(got) != 2 {
		t.Fatalf("distinct suffixes = %v, want 2 entries", got)
	}
}

func TestEmptyKeysAfterExpiry(t *testing.T) {
	w := window.New(5 * time.Second)
	base := int64(1_700_000_000_000)

	w.Add("k", base)
	empty := w.EmptyKeys(base + 6000)
	if len(empty) != 1 || empty[0] != "k" {
		t.Fatalf("empty keys = %v, want [k]", empty)
	}
}
