// Package enforce implements the synchronous bridge to the external
// enforcer process (spec.md §4.8). The bridge never retries: the latency
// budget for the auth hot path forbids it.
package enforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/skywalker-88/authguard/internal/decision"
)

const defaultTimeout = 1 * time.Second

// Request is the body sent to POST {ENFORCER_URL}/enforce.
type Request struct {
	Entity     string            `json:"entity"`
	Decision   decision.Decision `json:"decision"`
	TTLSeconds int               `json:"ttl_seconds"`
}

// Response is the enforcer's reply, or a synthetic fail-open stand-in when
// the enforcer could not be reached.
type Response struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Available bool   `json:"-"` // false when this is a synthetic timeout/error response
}

// Mode is the enforcement downgrade policy applied by the processor when the
// enforcer is unavailable (spec.md §4.8).
type Mode string

const (
	FailOpen   Mode = "fail-open"
	FailClosed Mode = "fail-closed"
)

// Bridge calls the external enforcer over HTTP with a hard timeout and no
// retry.
type Bridge struct {
	BaseURL string
	Client  *http.Client
}

// NewBridge builds a bridge against baseURL (e.g. http://ratelimiter:8081),
// using a client whose per-call timeout is applied via context rather than
// http.Client.Timeout, so callers can still observe ctx cancellation.
func NewBridge(baseURL string) *Bridge {
	return &Bridge{
		BaseURL: baseURL,
		Client:  &http.Client{},
	}
}

// Enforce calls POST {BaseURL}/enforce with a 1s timeout. On timeout or
// connection failure it returns a synthetic fail-open response with
// Available=false rather than an error — the caller never sees a bridge
// error for this path, since the hot path must never fail on enforcer
// trouble.
func (b *Bridge) Enforce(ctx context.Context, entity string, d decision.Decision) Response {
	ttl := 0
	if d == decision.Block {
		ttl = 300
	}

	body, _ := json.Marshal(Request{Entity: entity, Decision: d, TTLSeconds: ttl})

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/enforce", bytes.NewReader(body))
	if err != nil {
		return Response{Allowed: true, Reason: "enforcement unavailable: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return Response{Allowed: true, Reason: "enforcement unavailable: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Response{Allowed: true, Reason: fmt.Sprintf("enforcement unavailable: status %d", resp.StatusCode)}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{Allowed: true, Reason: "enforcement unavailable: malformed response"}
	}
	out.Available = true
	return out
}

// SetMode calls POST {BaseURL}/mode. Failures are returned to the caller
// (the admin API), not swallowed: unlike the hot path, changing mode is an
// explicit operator action.
func (b *Bridge) SetMode(ctx context.Context, mode Mode) error {
	body, _ := json.Marshal(map[string]string{"mode": string(mode)})

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/mode", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("enforce: /mode returned status %d", resp.StatusCode)
	}
	return nil
}

// Health calls GET {BaseURL}/health and reports whether the enforcer
// answered successfully.
func (b *Bridge) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := b.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

// Downgrade applies the mode-aware rule from spec.md §4.8: if base=BLOCK and
// the enforcer was unavailable, final becomes CHALLENGE under fail-open,
// else stays BLOCK under fail-closed. Any other base decision passes through
// unchanged — the downgrade never applies to CHALLENGE (spec.md §4.8, §9
// Open Question resolved: BLOCK only).
func Downgrade(base decision.Decision, enforcementAvailable bool, mode Mode) decision.Decision {
	if base != decision.Block || enforcementAvailable {
		return base
	}
	if mode == FailOpen {
		return decision.Challenge
	}
	return decision.Block
}
