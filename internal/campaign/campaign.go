// Package campaign implements a persisted rollup keyed by CampaignId: a
// supplemented feature (SPEC_FULL.md §12) grounded on the original
// campaign_store.py, which the distilled spec drops but the alert payload's
// optional campaign block (spec.md §4.11) implies a consumer for.
package campaign

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/skywalker-88/authguard/internal/decision"
)

// Record is the persisted rollup for one campaign id.
type Record struct {
	ID            string         `json:"id"`
	PrimaryVector string         `json:"primary_vector"`
	StartSec      int64          `json:"start"`
	LastSeenSec   int64          `json:"last_seen"`
	Events        int            `json:"events"`
	Entities      []string       `json:"entities"`
	Signals       map[string]int `json:"signals"`
	Risk          float64        `json:"risk"`
	Decisions     map[string]int `json:"decisions"`
	State         string         `json:"state"`
}

// Store persists campaign rollups to a single JSON file.
type Store struct {
	path string

	mu   sync.Mutex
	data map[string]*Record
}

// Open loads path if present, or starts empty.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	s := &Store{path: path, data: make(map[string]*Record)}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func hasKey(entities []string, entity string) bool {
	for _, e := range entities {
		if e == entity {
			return true
		}
	}
	return false
}

// Upsert folds one event's outcome into the campaign rollup: high-water-mark
// risk, distinct entity list, per-signal counts, and per-decision counts.
// tsSec is the event timestamp in whole seconds (the frontend this
// feeds expects seconds, not milliseconds).
func (s *Store) Upsert(campaignID, campaignType, entity string, signalIDs []string, risk float64, d decision.Decision, tsSec int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.data[campaignID]
	if !ok {
		r = &Record{
			ID:            campaignID,
			PrimaryVector: campaignType,
			StartSec:      tsSec,
			Signals:       make(map[string]int),
			Decisions:     map[string]int{"ALLOW": 0, "MONITOR": 0, "CHALLENGE": 0, "BLOCK": 0},
			State:         "ACTIVE",
		}
		s.data[campaignID] = r
	}

	r.LastSeenSec = tsSec
	r.Events++
	if risk > r.Risk {
		r.Risk = risk
	}
	if !hasKey(r.Entities, entity) {
		r.Entities = append(r.Entities, entity)
	}
	for _, sid := range signalIDs {
		r.Signals[sid]++
	}
	if _, known := r.Decisions[string(d)]; known {
		r.Decisions[string(d)]++
	}

	return s.saveLocked()
}

// List returns a snapshot of every tracked campaign.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.data))
	for _, r := range s.data {
		out = append(out, *r)
	}
	return out
}

// Get returns one campaign by id, or (Record{}, false) if unknown.
func (s *Store) Get(campaignID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[campaignID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}
