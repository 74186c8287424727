// Package signals implements the three named detectors (spec.md §4.3) as
// pure functions over window state. Detectors never mutate the risk engine;
// orchestration (internal/processor) decides whether a trigger counts.
package signals

import (
	"github.com/skywalker-88/authguard/internal/event"
	"github.com/skywalker-88/authguard/internal/window"
)

// SignalID names a detector.
type SignalID string

const (
	SignalFailedLoginVelocity SignalID = "failed_login_velocity"
	SignalIPFanOut            SignalID = "ip_fan_out"
	SignalUserFanIn           SignalID = "user_fan_in"
)

// EntityType classifies the entity a trigger scores against.
type EntityType string

const (
	EntityIP   EntityType = "IP"
	EntityUser EntityType = "USER"
)

// Trigger is the outcome of evaluating a detector against one event.
type Trigger struct {
	Triggered  bool
	SignalID   SignalID
	Entity     string
	EntityType EntityType
	Score      int
	Confidence float64
	DecayHint  string
	Tags       []string
	Reason     string
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// FailedLoginVelocity fires when an IP accumulates >= threshold FAILURE
// events within the window. Gate: outcome=FAILURE. Always records the
// attempt in the window, even when the gate fails to fire, as long as the
// gate condition (FAILURE) holds.
func FailedLoginVelocity(e *event.AuthEvent, w *window.SlidingWindow, threshold int) Trigger {
	if e.Outcome != event.OutcomeFailure {
		return Trigger{SignalID: SignalFailedLoginVelocity}
	}

	w.Add(e.IPAddress, e.TimestampMS)
	count := w.Count(e.IPAddress, e.TimestampMS)

	if count < threshold {
		return Trigger{SignalID: SignalFailedLoginVelocity}
	}

	return Trigger{
		Triggered:  true,
		SignalID:   SignalFailedLoginVelocity,
		Entity:     e.IPAddress,
		EntityType: EntityIP,
		Score:      30,
		Confidence: clampConfidence(float64(count) / float64(threshold)),
		DecayHint:  "standard",
		Tags:       []string{"brute_force"},
		Reason:     "failed login velocity exceeded threshold for ip",
	}
}

// IPFanOut fires when one IP has attempted login against >= threshold
// distinct usernames within the window. Gate: username present.
func IPFanOut(e *event.AuthEvent, w *window.SlidingWindow, threshold int) Trigger {
	if !e.HasUsername() {
		return Trigger{SignalID: SignalIPFanOut}
	}

	key := "ip:" + e.IPAddress + ":" + e.Username
	w.Add(key, e.TimestampMS)

	distinct := w.KeysWithPrefix("ip:"+e.IPAddress+":", e.TimestampMS)
	count := len(distinct)

	if count < threshold {
		return Trigger{SignalID: SignalIPFanOut}
	}

	return Trigger{
		Triggered:  true,
		SignalID:   SignalIPFanOut,
		Entity:     e.IPAddress,
		EntityType: EntityIP,
		Score:      40,
		Confidence: clampConfidence(float64(count) / float64(threshold)),
		DecayHint:  "standard",
		Tags:       []string{"credential_stuffing"},
		Reason:     "ip attempted logins against too many distinct usernames",
	}
}

// UserFanIn fires when one username has been attempted from >= threshold
// distinct IPs within the window. Gate: username present.
func UserFanIn(e *event.AuthEvent, w *window.SlidingWindow, threshold int) Trigger {
	if !e.HasUsername() {
		return Trigger{SignalID: SignalUserFanIn}
	}

	key := "username:" + e.Username + ":" + e.IPAddress
	w.Add(key, e.TimestampMS)

	distinct := w.KeysWithPrefix("username:"+e.Username+":", e.TimestampMS)
	count := len(distinct)

	if count < threshold {
		return Trigger{SignalID: SignalUserFanIn}
	}

	return Trigger{
		Triggered:  true,
		SignalID:   SignalUserFanIn,
		Entity:     e.Username,
		EntityType: EntityUser,
		Score:      35,
		Confidence: clampConfidence(float64(count) / float64(threshold)),
		DecayHint:  "standard",
		Tags:       []string{"account_takeover"},
		Reason:     "username attempted from too many distinct ips",
	}
}
