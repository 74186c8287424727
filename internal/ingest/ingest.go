// Package ingest validates and normalizes raw authentication events into
// frozen event.AuthEvent records (spec.md §4.1).
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skywalker-88/authguard/internal/event"
)

// ValidationError is returned for any I1/I2/field-presence violation. The
// caller (httpserver) surfaces it as a 400-equivalent response.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func fieldErr(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

// RawEvent is the loosely-typed shape ingest accepts, mirroring the JSON body
// of POST /events/auth. Fields are plain values: an optional string field
// that is empty (after trimming) is treated as absent.
type RawEvent struct {
	EventID           string `json:"event_id"`
	TimestampMS       int64  `json:"timestamp_ms"`
	UserID            string `json:"user_id"`
	Username          string `json:"username"`
	IPAddress         string `json:"ip_address"`
	ASN               string `json:"asn"`
	Country           string `json:"country"`
	UserAgent         string `json:"user_agent"`
	DeviceFingerprint string `json:"device_fingerprint"`
	Endpoint          string `json:"endpoint"`
	Method            string `json:"method"`
	Outcome           string `json:"outcome"`
	FailureReason     string `json:"failure_reason"`
	LatencyMS         int64  `json:"latency_ms"`
	IngestSource      string `json:"ingest_source"`
	ReplayID          string `json:"replay_id"`

	// Raw is the original decoded JSON body, carried through untouched for
	// durable event log persistence (spec.md §4.9 "raw_event_json"). The
	// HTTP layer populates it; callers that construct a RawEvent directly
	// (tests, internal replays) may leave it nil.
	Raw map[string]any `json:"-"`
}

// Ingest validates raw and returns a frozen AuthEvent, or a *ValidationError.
// Ingest has no side effects beyond generating a random UUID for a missing
// event_id.
func Ingest(raw RawEvent) (*event.AuthEvent, error) {
	ipAddress := strings.TrimSpace(raw.IPAddress)
	if ipAddress == "" {
		return nil, fieldErr("ip_address", "required and non-empty")
	}

	username := strings.TrimSpace(raw.Username)
	userID := strings.TrimSpace(raw.UserID)
	if username == "" && ipAddress == "" {
		return nil, fieldErr("username/ip_address", "at least one must identify the entity")
	}

	userAgent := strings.TrimSpace(raw.UserAgent)
	if userAgent == "" {
		return nil, fieldErr("user_agent", "required")
	}

	endpoint := event.Endpoint(strings.TrimSpace(raw.Endpoint))
	if !endpoint.Valid() {
		return nil, fieldErr("endpoint", "must be one of LOGIN, OTP, PASSWORD_RESET, TOKEN_REFRESH")
	}

	method := event.Method(strings.TrimSpace(raw.Method))
	if !method.Valid() {
		return nil, fieldErr("method", "must be POST or GET")
	}

	outcome := event.Outcome(strings.TrimSpace(raw.Outcome))
	if !outcome.Valid() {
		return nil, fieldErr("outcome", "must be SUCCESS or FAILURE")
	}

	failureReason := event.FailureReason(strings.TrimSpace(raw.FailureReason))
	switch outcome {
	case event.OutcomeFailure:
		if failureReason == "" || !failureReason.Valid() {
			return nil, fieldErr("failure_reason", "required and valid when outcome=FAILURE")
		}
	case event.OutcomeSuccess:
		if failureReason != "" {
			return nil, fieldErr("failure_reason", "must be absent when outcome=SUCCESS")
		}
	}

	if raw.TimestampMS <= 0 {
		return nil, fieldErr("timestamp_ms", "must be strictly positive")
	}

	if raw.LatencyMS < 0 || raw.LatencyMS > 120_000 {
		return nil, fieldErr("latency_ms", "must be within [0, 120000]")
	}

	eventID := strings.TrimSpace(raw.EventID)
	if eventID == "" {
		eventID = uuid.NewString()
	}

	ingestSource := strings.TrimSpace(raw.IngestSource)

	return &event.AuthEvent{
		EventID:           eventID,
		TimestampMS:       raw.TimestampMS,
		UserID:            userID,
		Username:          username,
		IPAddress:         ipAddress,
		ASN:               strings.TrimSpace(raw.ASN),
		Country:           strings.TrimSpace(raw.Country),
		UserAgent:         userAgent,
		DeviceFingerprint: strings.TrimSpace(raw.DeviceFingerprint),
		Endpoint:          endpoint,
		Method:            method,
		Outcome:           outcome,
		FailureReason:     failureReason,
		LatencyMS:         raw.LatencyMS,
		IngestSource:      ingestSource,
		ReplayID:          strings.TrimSpace(raw.ReplayID),
		Raw:               raw.Raw,
	}, nil
}

// Now is overridable in tests; production code should prefer the caller's
// own clock where one is already threaded through (detectors, risk engine).
var Now = time.Now
