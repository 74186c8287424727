package enforce_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skywalker-88/authguard/internal/decision"
	"github.com/skywalker-88/authguard/internal/enforce"
)

func TestEnforce_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req enforce.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TTLSeconds != 300 {
			t.Errorf("ttl = %d, want 300 for BLOCK", req.TTLSeconds)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(enforce.Response{Allowed: false, Reason: "blocked"})
	}))
	defer srv.Close()

	b := enforce.NewBridge(srv.URL)
	resp := b.Enforce(context.Background(), "10.0.0.1", decision.Block)
	if !resp.Available {
		t.Fatal("expected available response")
	}
	if resp.Allowed {
		t.Fatal("expected allowed=false from enforcer")
	}
}

func TestEnforce_TTLZeroForNonBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req enforce.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TTLSeconds != 0 {
			t.Errorf("ttl = %d, want 0 for CHALLENGE", req.TTLSeconds)
		}
		json.NewEncoder(w).Encode(enforce.Response{Allowed: true})
	}))
	defer srv.Close()

	b := enforce.NewBridge(srv.URL)
	b.Enforce(context.Background(), "10.0.0.1", decision.Challenge)
}

// P9: fail-open downgrade on enforcer timeout.
func TestEnforce_TimeoutYieldsSyntheticFailOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	b := enforce.NewBridge(srv.URL)
	start := time.Now()
	resp := b.Enforce(context.Background(), "10.0.0.1", decision.Block)
	elapsed := time.Since(start)

	if resp.Available {
		t.Fatal("expected unavailable synthetic response on timeout")
	}
	if !resp.Allowed {
		t.Fatal("expected fail-open synthetic allowed=true")
	}
	if elapsed > 1500*time.Millisecond {
		t.Fatalf("enforce call took too long: %v (bridge must not retry)", elapsed)
	}
}

func TestDowngrade_FailOpenBlockBecomesChallenge(t *testing.T) {
	got := enforce.Downgrade(decision.Block, false, enforce.FailOpen)
	if got != decision.Challenge {
		t.Fatalf("got %s, want CHALLENGE", got)
	}
}

func TestDowngrade_FailClosedStaysBlock(t *testing.T) {
	got := enforce.Downgrade(decision.Block, false, enforce.FailClosed)
	if got != decision.Block {
		t.Fatalf("got %s, want BLOCK", got)
	}
}

func TestDowngrade_AvailableNeverDowngrades(t *testing.T) {
	got := enforce.Downgrade(decision.Block, true, enforce.FailOpen)
	if got != decision.Block {
		t.Fatalf("got %s, want BLOCK (enforcer was available)", got)
	}
}

func TestDowngrade_NeverAppliesToChallenge(t *testing.T) {
	got := enforce.Downgrade(decision.Challenge, false, enforce.FailOpen)
	if got != decision.Challenge {
		t.Fatalf("got %s, want CHALLENGE unchanged", got)
	}
}
