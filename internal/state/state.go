// Package state aggregates the windows, risk engine, and active-signal dedup
// set that the event processor mutates per request (spec.md §4.6), and
// provides the per-entity striped locking the concurrency model requires
// (spec.md §5).
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/skywalker-88/authguard/internal/risk"
	"github.com/skywalker-88/authguard/internal/signals"
	"github.com/skywalker-88/authguard/internal/window"
)

const defaultWindowSize = 60 * time.Second

// Store groups the three detector windows, the risk engine, and the
// active-signal dedup set. One Store backs the whole service.
type Store struct {
	IPFailureWindow *window.SlidingWindow // failed_login_velocity, keyed by ip
	IPUserWindow    *window.SlidingWindow // ip_fan_out, keyed by "ip:<ip>:<user>"
	UserIPWindow    *window.SlidingWindow // user_fan_in, keyed by "username:<user>:<ip>"
	Risk            *risk.Engine

	activeMu sync.Mutex
	active   map[string]struct{} // (signal_id, entity) pairs, joined as "signal_id|entity"

	entityLocks sync.Map // entity -> *sync.Mutex, per-entity serialization (§5)

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// New builds a Store with the spec.md default 60s windows and the given
// risk engine parameters.
func New(halfLifeSec, maxRisk float64) *Store {
	return &Store{
		IPFailureWindow: window.New(defaultWindowSize),
		IPUserWindow:    window.New(defaultWindowSize),
		UserIPWindow:    window.New(defaultWindowSize),
		Risk:            risk.NewEngine(halfLifeSec, maxRisk),
		active:          make(map[string]struct{}),
	}
}

// Lock returns the mutex for an entity, creating it on first use. The
// processor holds this lock across detector evaluation, risk mutation, and
// decision for that entity, so concurrent requests for the same entity
// observe a consistent order (spec.md §5).
func (s *Store) Lock(entity string) func() {
	v, _ := s.entityLocks.LoadOrStore(entity, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// LockEntities locks every distinct entity the request touches (an event
// can mutate both its IP's and its username's risk/active-signal state) in a
// fixed, sorted order, so two requests that share only one of two entities
// can never deadlock by acquiring their locks in opposite order. The
// returned unlock releases them in reverse acquisition order.
func (s *Store) LockEntities(entities ...string) func() {
	seen := make(map[string]struct{}, len(entities))
	unique := make([]string, 0, len(entities))
	for _, e := range entities {
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		unique = append(unique, e)
	}
	sort.Strings(unique)

	unlocks := make([]func(), 0, len(unique))
	for _, e := range unique {
		unlocks = append(unlocks, s.Lock(e))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func activeKey(signalID, entity string) string {
	return signalID + "|" + entity
}

// IsSignalActive reports whether (signalID, entity) is currently marked as
// an active, already-scored pattern.
func (s *Store) IsSignalActive(signalID, entity string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	_, ok := s.active[activeKey(signalID, entity)]
	return ok
}

// MarkSignalActive records (signalID, entity) as active so further triggers
// are deduped until the pattern is cleared (P5).
func (s *Store) MarkSignalActive(signalID, entity string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.active[activeKey(signalID, entity)] = struct{}{}
}

// ClearSignalActive removes an activation, allowing the next trigger for
// (signalID, entity) to add score again. Used by the optional janitor when
// the backing window has gone empty (spec.md §9).
func (s *Store) ClearSignalActive(signalID, entity string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	delete(s.active, activeKey(signalID, entity))
}

// ActiveCount reports the current size of the active-signal set, exposed for
// metrics/tests.
func (s *Store) ActiveCount() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return len(s.active)
}

// StartJanitor launches an optional background sweep that clears cold
// entries: active-signal entries whose window has gone empty, matching
// spec.md §9's suggested fix. Disabled by default; harmless when run since
// it only removes entries that would no longer dedup anything meaningful.
// interval and now are injected so tests can drive it deterministically.
func (s *Store) StartJanitor(interval time.Duration, now func() time.Time) {
	if s.janitorStop != nil {
		return
	}
	s.janitorStop = make(chan struct{})
	s.janitorDone = make(chan struct{})

	go func() {
		defer close(s.janitorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.janitorStop:
				return
			case t := <-ticker.C:
				_ = t
				s.sweepOnce(now())
			}
		}
	}()
}

// StopJanitor stops a previously started janitor and waits for it to exit.
func (s *Store) StopJanitor() {
	if s.janitorStop == nil {
		return
	}
	close(s.janitorStop)
	<-s.janitorDone
	s.janitorStop = nil
	s.janitorDone = nil
}

// sweepOnce evicts cold window keys and, where the window key maps 1:1 to a
// dedup entity (IPFailureWindow: key == ip), clears the matching
// active-signal entry too. IPUserWindow/UserIPWindow key on a composite
// "entity:other" string, so one empty composite key doesn't mean the
// detector's active set for that entity is cold — those are left to the
// normal trigger/clear path, not the janitor.
func (s *Store) sweepOnce(now time.Time) {
	nowMS := now.UnixMilli()

	for _, k := range s.IPFailureWindow.EmptyKeys(nowMS) {
		s.IPFailureWindow.Delete(k)
		s.ClearSignalActive(string(signals.SignalFailedLoginVelocity), k)
	}
	for _, w := range []*window.SlidingWindow{s.IPUserWindow, s.UserIPWindow} {
		for _, k := range w.EmptyKeys(nowMS) {
			w.Delete(k)
		}
	}
}
