// Package alert implements severity mapping, campaign-keyed suppression, and
// best-effort webhook dispatch (spec.md §4.11). Emission never raises to the
// caller: all errors are swallowed so alerting can never affect the auth
// path.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/authguard/internal/decision"
	"github.com/skywalker-88/authguard/pkg/metrics"
)

// Severity is the alert urgency label.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

const defaultSuppressionWindow = 300 * time.Second

// Campaign groups an alert for suppression purposes (spec.md §3
// CampaignId), derived as USER::<username> if username present else
// IP::<ip>. There is no per-signal derivation (spec.md §9 open question,
// resolved); the processor's campaign-store key (processor.campaignKey)
// follows the same rule.
type Campaign struct {
	ID   string
	Type string // "IP" or "USER"
}

func deriveCampaign(username, ip string) Campaign {
	if username != "" {
		return Campaign{ID: "USER::" + username, Type: "USER"}
	}
	return Campaign{ID: "IP::" + ip, Type: "IP"}
}

// Payload is the JSON body dispatched to the alert webhook.
type Payload struct {
	Decision   decision.Decision `json:"decision"`
	Severity   Severity          `json:"severity"`
	Entity     string            `json:"entity"`
	Endpoint   string            `json:"endpoint"`
	Risk       float64           `json:"risk"`
	Signals    []string          `json:"signals"`
	TimestampZ string            `json:"timestamp"`
	Campaign   *Campaign         `json:"campaign,omitempty"`
}

func severity(d decision.Decision, risk float64) Severity {
	switch d {
	case decision.Block:
		if risk >= 75 {
			return SeverityCritical
		}
		return SeverityHigh
	case decision.Challenge:
		if risk >= 40 {
			return SeverityMedium
		}
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Manager dispatches alerts with campaign-keyed suppression.
type Manager struct {
	WebhookURL        string
	SuppressionWindow time.Duration
	Client            *http.Client

	mu          sync.Mutex
	lastEmitted map[string]time.Time // campaign id -> last emit time
}

// NewManager builds a manager; suppressionWindow <= 0 falls back to the
// spec default of 300s.
func NewManager(webhookURL string, suppressionWindow time.Duration) *Manager {
	if suppressionWindow <= 0 {
		suppressionWindow = defaultSuppressionWindow
	}
	return &Manager{
		WebhookURL:        webhookURL,
		SuppressionWindow: suppressionWindow,
		Client:            &http.Client{Timeout: 2 * time.Second},
		lastEmitted:       make(map[string]time.Time),
	}
}

// Gate reports whether final/risk qualifies for alert emission at all
// (spec.md §4.12 step 9): always on BLOCK, and on CHALLENGE when
// effective_risk >= 50. This gate is distinct from, and intentionally
// numerically different from, the severity mapping's own MEDIUM/LOW
// threshold of 40 (spec.md §9 open question, resolved explicitly: both
// numbers stand as written, serving different purposes).
func Gate(final decision.Decision, effectiveRisk float64) bool {
	switch final {
	case decision.Block:
		return true
	case decision.Challenge:
		return effectiveRisk >= 50
	default:
		return false
	}
}

// Emit builds and dispatches an alert, honoring the suppression window.
// Never returns an error to the caller: every failure is logged and
// swallowed, per spec.md §4.11 and §7.
func (m *Manager) Emit(ctx context.Context, d decision.Decision, entity, endpoint, username, ip string, risk float64, signals []string, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("alert emit panicked; swallowed")
		}
	}()

	campaign := deriveCampaign(username, ip)

	if m.suppressed(campaign.ID, now) {
		return
	}

	payload := Payload{
		Decision:   d,
		Severity:   severity(d, risk),
		Entity:     entity,
		Endpoint:   endpoint,
		Risk:       risk,
		Signals:    signals,
		TimestampZ: now.UTC().Format("2006-01-02T15:04:05Z"),
		Campaign:   &campaign,
	}

	if err := m.dispatch(ctx, payload); err != nil {
		log.Warn().Err(err).Str("campaign", campaign.ID).Msg("alert dispatch failed; swallowed")
		return
	}

	metrics.AlertsEmittedTotal.WithLabelValues(string(payload.Severity)).Inc()
	m.markEmitted(campaign.ID, now)
}

func (m *Manager) suppressed(campaignID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastEmitted[campaignID]
	if !ok {
		return false
	}
	return now.Sub(last) < m.SuppressionWindow
}

func (m *Manager) markEmitted(campaignID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastEmitted[campaignID] = now
}

func (m *Manager) dispatch(ctx context.Context, payload Payload) error {
	if m.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alert: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
