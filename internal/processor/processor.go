// Package processor implements the Event Processor orchestrator (spec.md
// §4.12): the sole mutator of the State Store, driving ingest, detectors,
// risk scoring, decision, enforcement, and the durable side effects for one
// incoming raw event.
package processor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/authguard/internal/alert"
	"github.com/skywalker-88/authguard/internal/blockstore"
	"github.com/skywalker-88/authguard/internal/campaign"
	"github.com/skywalker-88/authguard/internal/decision"
	"github.com/skywalker-88/authguard/internal/enforce"
	"github.com/skywalker-88/authguard/internal/event"
	"github.com/skywalker-88/authguard/internal/eventlog"
	"github.com/skywalker-88/authguard/internal/ingest"
	"github.com/skywalker-88/authguard/internal/rules"
	"github.com/skywalker-88/authguard/internal/settings"
	"github.com/skywalker-88/authguard/internal/signals"
	"github.com/skywalker-88/authguard/internal/state"
	"github.com/skywalker-88/authguard/pkg/metrics"
)

// Deps wires every collaborator the processor needs. Rules, State, Decision
// and Enforcer are required. EventLog, Blocks, Alerts, Campaigns, Settings
// and ReplayGuard may be nil to run a detection-only processor (e.g. in
// tests); a nil Settings means fail-open mode, and a nil Now means time.Now.
type Deps struct {
	Rules       *rules.Manager
	State       *state.Store
	Decision    *decision.Engine
	Enforcer    *enforce.Bridge
	EventLog    *eventlog.Log
	Blocks      *blockstore.Store
	Alerts      *alert.Manager
	Campaigns   *campaign.Store
	Settings    *settings.Store
	ReplayGuard *ingest.ReplayGuard
	Now         func() time.Time
}

// Telemetry captures per-stage latency for the response (spec.md §6).
type Telemetry struct {
	DecisionMS    float64
	EnforcementMS float64
	TotalMS       float64
}

// EnforcementResult mirrors the response shape's enforcement sub-object.
type EnforcementResult struct {
	Allowed   bool
	Reason    string
	Available bool
	Telemetry Telemetry
}

// Result is the full per-request outcome (spec.md §6 ingest response).
type Result struct {
	Decision         decision.Decision
	RiskScore        float64
	SignalsTriggered []signals.Trigger
	DecisionReason   string
	Mode             enforce.Mode
	Enforcement      EnforcementResult
	Deduped          bool // true when the event was skipped as a replay (supplemented feature, §12)
}

// Processor orchestrates the full pipeline for one raw event at a time,
// serializing per-entity via the State Store's striped locks.
type Processor struct {
	deps Deps
}

// New builds a Processor. deps.Now defaults to time.Now.
func New(deps Deps) *Processor {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Processor{deps: deps}
}

// Process runs the full spec.md §4.12 pipeline for one raw event.
func (p *Processor) Process(ctx context.Context, raw ingest.RawEvent) (*Result, error) {
	start := p.deps.Now()

	// Step 1: ingest + validate.
	e, err := ingest.Ingest(raw)
	if err != nil {
		return nil, err
	}

	// Replay guard: a duplicate replay_id within the TTL window never
	// re-triggers detectors or risk scoring (supplemented feature, §12).
	if p.deps.ReplayGuard != nil && e.ReplayID != "" {
		fingerprint := e.IngestSource + ":" + e.ReplayID
		if p.deps.ReplayGuard.SeenBefore(ctx, fingerprint) {
			return &Result{Decision: decision.Allow, DecisionReason: "duplicate replay_id; skipped", Deduped: true}, nil
		}
	}

	// spec.md §4.12 step 5 defines entity as ip ?? username; ip_address is
	// always required (spec.md §3), so entity is always the IP.
	entity := e.IPAddress

	// user_fan_in scores against the username, not the IP (signals.go), so a
	// request that carries both must hold both entities' locks across
	// detector evaluation, risk mutation, and decision — otherwise two
	// concurrent requests for the same username but different IPs can both
	// observe the dedup gate as clear and double-score the same activation.
	// LockEntities orders acquisition so this can never deadlock against a
	// concurrent request locking the same pair in the other order.
	lockEntities := []string{entity}
	if e.HasUsername() {
		lockEntities = append(lockEntities, e.Username)
	}
	unlock := p.deps.State.LockEntities(lockEntities...)
	defer unlock()

	// Step 2: evaluate detectors in fixed order, dedup-gated scoring.
	triggers := p.evaluateDetectors(e)

	// Step 3: effective risk = max(ip_risk, user_risk).
	ipRisk := p.deps.State.Risk.GetRisk(e.IPAddress, e.TimestampMS)
	userRisk := 0.0
	if e.HasUsername() {
		userRisk = p.deps.State.Risk.GetRisk(e.Username, e.TimestampMS)
	}
	effectiveRisk := ipRisk
	if userRisk > effectiveRisk {
		effectiveRisk = userRisk
	}

	// Step 4: base decision.
	decisionStart := p.deps.Now()
	base := p.deps.Decision.Decide(effectiveRisk)
	decisionMS := float64(p.deps.Now().Sub(decisionStart).Microseconds()) / 1000.0

	// Step 5: enforcement bridge call.
	enforcementStart := p.deps.Now()
	resp := p.deps.Enforcer.Enforce(ctx, entity, base.Decision)
	enforcementMS := float64(p.deps.Now().Sub(enforcementStart).Microseconds()) / 1000.0
	if !resp.Available {
		log.Warn().Str("entity", entity).Str("reason", resp.Reason).Msg("enforcement unavailable")
	}

	// Step 6: mode-aware downgrade.
	mode := enforce.FailOpen
	if p.deps.Settings != nil {
		mode = p.deps.Settings.Get().Mode
	}
	final := enforce.Downgrade(base.Decision, resp.Available, mode)

	// Step 7: Block Store upsert on final BLOCK.
	if final == decision.Block && p.deps.Blocks != nil {
		if _, err := p.deps.Blocks.UpsertAuto(entity, effectiveRisk, e.TimestampMS); err != nil {
			log.Warn().Err(err).Str("entity", entity).Msg("block store upsert failed; continuing")
		}
	}

	totalMS := float64(p.deps.Now().Sub(start).Microseconds()) / 1000.0

	// Step 8: durable event log append.
	if p.deps.EventLog != nil {
		rec := eventlog.Record{
			EventID:            e.EventID,
			TSMillis:           e.TimestampMS,
			Entity:             entity,
			Endpoint:           string(e.Endpoint),
			Outcome:            string(e.Outcome),
			Decision:           final,
			Risk:               effectiveRisk,
			EnforcementAllowed: resp.Allowed,
			EnforcementReason:  resp.Reason,
			RawEvent:           e.Raw,
		}
		if err := p.deps.EventLog.Append(ctx, rec, p.deps.Now()); err != nil {
			log.Error().Err(err).Str("event_id", e.EventID).Msg("event log append failed")
		}
	}

	signalIDs := triggeredSignalIDs(triggers)

	// Step 9: alert gate + emit, best-effort.
	if p.deps.Alerts != nil && alert.Gate(final, effectiveRisk) {
		p.deps.Alerts.Emit(ctx, final, entity, string(e.Endpoint), e.Username, e.IPAddress, effectiveRisk, signalIDs, p.deps.Now())
	}

	if p.deps.Campaigns != nil {
		campaignID, campaignType := campaignKey(e.Username, e.IPAddress)
		if err := p.deps.Campaigns.Upsert(campaignID, campaignType, entity, signalIDs, effectiveRisk, final, e.TimestampMS/1000); err != nil {
			log.Warn().Err(err).Str("campaign", campaignID).Msg("campaign upsert failed; continuing")
		}
	}

	recordMetrics(triggers, final, resp.Available)

	// Step 10: response.
	return &Result{
		Decision:         final,
		RiskScore:        effectiveRisk,
		SignalsTriggered: triggers,
		DecisionReason:   base.Reason,
		Mode:             mode,
		Enforcement: EnforcementResult{
			Allowed:   resp.Allowed,
			Reason:    resp.Reason,
			Available: resp.Available,
			Telemetry: Telemetry{
				DecisionMS:    decisionMS,
				EnforcementMS: enforcementMS,
				TotalMS:       totalMS,
			},
		},
	}, nil
}

func campaignKey(username, ip string) (string, string) {
	if username != "" {
		return "USER::" + username, "USER"
	}
	return "IP::" + ip, "IP"
}

func triggeredSignalIDs(triggers []signals.Trigger) []string {
	var out []string
	for _, t := range triggers {
		if t.Triggered {
			out = append(out, string(t.SignalID))
		}
	}
	return out
}

// evaluateDetectors runs the three detectors in fixed order, scoring only
// the first trigger per (signal, entity) activation (P5 dedup); all
// triggers are returned regardless of dedup gating, per spec.md §4.12 step 2.
func (p *Processor) evaluateDetectors(e *event.AuthEvent) []signals.Trigger {
	s := p.deps.State
	r := p.deps.Rules

	out := make([]signals.Trigger, 0, 3)

	if r.IsEnabled(rules.FailedLoginVelocity) {
		tr := signals.FailedLoginVelocity(e, s.IPFailureWindow, int(r.GetThreshold(rules.FailedLoginVelocity)))
		out = append(out, tr)
		p.scoreIfNewActivation(tr, e.TimestampMS)
	}

	if r.IsEnabled(rules.IPFanOut) {
		tr := signals.IPFanOut(e, s.IPUserWindow, int(r.GetThreshold(rules.IPFanOut)))
		out = append(out, tr)
		p.scoreIfNewActivation(tr, e.TimestampMS)
	}

	if r.IsEnabled(rules.UserFanIn) {
		tr := signals.UserFanIn(e, s.UserIPWindow, int(r.GetThreshold(rules.UserFanIn)))
		out = append(out, tr)
		p.scoreIfNewActivation(tr, e.TimestampMS)
	}

	return out
}

// scoreIfNewActivation adds a signal's score to the risk engine only the
// first time (signal_id, entity) triggers since its last clear (P5 dedup).
// tsMS is the originating event's own timestamp, not the wall clock: risk
// decay must follow event time so replayed/backfilled event streams decay
// consistently regardless of when they are actually processed.
func (p *Processor) scoreIfNewActivation(tr signals.Trigger, tsMS int64) {
	if !tr.Triggered {
		return
	}
	s := p.deps.State
	sid := string(tr.SignalID)
	if s.IsSignalActive(sid, tr.Entity) {
		return // dedup: already active, no additional score (P5)
	}
	s.MarkSignalActive(sid, tr.Entity)
	s.Risk.AddSignal(tr.Entity, float64(tr.Score), tsMS)
}

func recordMetrics(triggers []signals.Trigger, final decision.Decision, enforcementAvailable bool) {
	for _, t := range triggers {
		if t.Triggered {
			metrics.SignalsTriggered.WithLabelValues(string(t.SignalID)).Inc()
		}
	}
	metrics.DecisionsTotal.WithLabelValues(string(final)).Inc()
	if !enforcementAvailable {
		metrics.EnforcementUnavailableTotal.Inc()
	}
}
