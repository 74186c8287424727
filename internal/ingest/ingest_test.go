package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/skywalker-88/authguard/internal/event"
	"github.com/skywalker-88/authguard/internal/ingest"
)

func validRaw() ingest.RawEvent {
	return ingest.RawEvent{
		TimestampMS:   1_700_000_000_000,
		Username:      "admin",
		IPAddress:     "10.0.0.201",
		UserAgent:     "curl/8.0",
		Endpoint:      "LOGIN",
		Method:        "POST",
		Outcome:       "FAILURE",
		FailureReason: "INVALID_PASSWORD",
		LatencyMS:     12,
		IngestSource:  "gateway",
	}
}

func TestIngest_ValidEvent(t *testing.T) {
	e, err := ingest.Ingest(validRaw())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.EventID == "" {
		t.Fatal("expected generated event_id")
	}
	if e.IPAddress != "10.0.0.201" {
		t.Fatalf("ip mismatch: %s", e.IPAddress)
	}
}

func TestIngest_GeneratesEventIDWhenAbsent(t *testing.T) {
	raw := validRaw()
	raw.EventID = ""
	e1, err := ingest.Ingest(raw)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := ingest.Ingest(raw)
	if err != nil {
		t.Fatal(err)
	}
	if e1.EventID == e2.EventID {
		t.Fatal("expected distinct generated event ids")
	}
}

func TestIngest_FailureReasonConsistency(t *testing.T) {
	// P7: outcome=FAILURE <=> failure_reason present.
	raw := validRaw()
	raw.FailureReason = ""
	if _, err := ingest.Ingest(raw); err == nil {
		t.Fatal("expected validation error: FAILURE without failure_reason")
	}

	raw = validRaw()
	raw.Outcome = "SUCCESS"
	if _, err := ingest.Ingest(raw); err == nil {
		t.Fatal("expected validation error: SUCCESS with failure_reason present")
	}

	raw = validRaw()
	raw.Outcome = "SUCCESS"
	raw.FailureReason = ""
	if _, err := ingest.Ingest(raw); err != nil {
		t.Fatalf("unexpected error for valid SUCCESS event: %v", err)
	}
}

func TestIngest_TimestampMustBePositive(t *testing.T) {
	for _, ts := range []int64{0, -1} {
		raw := validRaw()
		raw.TimestampMS = ts
		if _, err := ingest.Ingest(raw); err == nil {
			t.Fatalf("expected validation error for ts=%d", ts)
		}
	}
}

func TestIngest_RequiresEntityIdentifier(t *testing.T) {
	raw := validRaw()
	raw.IPAddress = ""
	if _, err := ingest.Ingest(raw); err == nil {
		t.Fatal("expected validation error: missing ip_address entirely")
	}
}

func TestIngest_LatencyRange(t *testing.T) {
	raw := validRaw()
	raw.LatencyMS = 120_001
	if _, err := ingest.Ingest(raw); err == nil {
		t.Fatal("expected validation error for latency > 120000")
	}
	raw.LatencyMS = -1
	if _, err := ingest.Ingest(raw); err == nil {
		t.Fatal("expected validation error for negative latency")
	}
}

func TestIngest_TrimsWhitespace(t *testing.T) {
	raw := validRaw()
	raw.IPAddress = "  10.0.0.201  "
	raw.Username = "  admin  "
	e, err := ingest.Ingest(raw)
	if err != nil {
		t.Fatal(err)
	}
	if e.IPAddress != "10.0.0.201" || e.Username != "admin" {
		t.Fatalf("expected trimmed fields, got ip=%q username=%q", e.IPAddress, e.Username)
	}
}

func TestIngest_InvalidEnumFields(t *testing.T) {
	cases := []func(*ingest.RawEvent){
		func(r *ingest.RawEvent) { r.Endpoint = "BOGUS" },
		func(r *ingest.RawEvent) { r.Method = "PUT" },
		func(r *ingest.RawEvent) { r.Outcome = "MAYBE" },
	}
	for _, mutate := range cases {
		raw := validRaw()
		mutate(&raw)
		if _, err := ingest.Ingest(raw); err == nil {
			t.Fatalf("expected validation error for mutated raw: %+v", raw)
		}
	}
}

func TestReplayGuard_DedupWithinTTL(t *testing.T) {
	g := ingest.NewReplayGuard(100*time.Millisecond, nil)
	ctx := context.Background()

	if g.SeenBefore(ctx, "rep-1") {
		t.Fatal("first sighting should not be flagged as seen")
	}
	if !g.SeenBefore(ctx, "rep-1") {
		t.Fatal("second sighting within TTL should be flagged as seen")
	}

	time.Sleep(150 * time.Millisecond)
	if g.SeenBefore(ctx, "rep-1") {
		t.Fatal("sighting after TTL expiry should not be flagged as seen")
	}
}

func TestReplayGuard_EmptyFingerprintNeverDedups(t *testing.T) {
	g := ingest.NewReplayGuard(time.Minute, nil)
	ctx := context.Background()
	if g.SeenBefore(ctx, "") {
		t.Fatal("empty fingerprint must never be treated as a replay")
	}
	if g.SeenBefore(ctx, "") {
		t.Fatal("empty fingerprint must never be treated as a replay")
	}
}

var _ = event.AuthEvent{}
