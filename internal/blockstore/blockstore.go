// Package blockstore implements the durable active-block registry
// (spec.md §4.10), a JSON-file-backed list of BlockRecord with an in-memory
// entity index for O(1) uniqueness lookups (spec.md §9 strategy).
package blockstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/authguard/internal/decision"
	"github.com/skywalker-88/authguard/internal/enforce"
	"github.com/skywalker-88/authguard/pkg/metrics"
)

// Source classifies how a block was created.
type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// Record is one durable block entry. The persisted file is always the full
// list — the entity index is a read-path optimization only.
type Record struct {
	ID          string  `json:"id"`
	Entity      string  `json:"entity"`
	Scope       string  `json:"scope"`
	Decision    string  `json:"decision"` // always HARD_BLOCK
	Risk        float64 `json:"risk"`
	TTLSeconds  int     `json:"ttl_seconds"`
	Active      bool    `json:"active"`
	Source      Source  `json:"source"`
	CreatedAtMS int64   `json:"created_at_ms"`
}

// Store persists BlockRecord to a local JSON file and keeps an
// entity -> *Record index over the active set for uniqueness.
type Store struct {
	path string

	mu       sync.Mutex
	records  []*Record
	byEntity map[string]*Record // only ever points at an ACTIVE record
}

// Open loads path if it exists, or starts empty.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("blockstore: create %s: %w", dir, err)
		}
	}

	s := &Store{path: path, byEntity: make(map[string]*Record)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("blockstore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("blockstore: parse %s: %w", path, err)
	}
	for _, r := range s.records {
		if r.Active {
			s.byEntity[r.Entity] = r
		}
	}
	metrics.ActiveBlocksGauge.Set(float64(len(s.byEntity)))
	return s, nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("blockstore: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("blockstore: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("blockstore: rename: %w", err)
	}
	return nil
}

// UpsertAuto records an automatic BLOCK for entity if no active record
// already exists for it (spec.md §4.10, scope always "auth"). Returns the
// (possibly pre-existing) active record.
func (s *Store) UpsertAuto(entity string, risk float64, createdAtMS int64) (*Record, error) {
	return s.upsert(entity, risk, createdAtMS, SourceAuto, "auto::"+entity)
}

// UpsertManual is the admin-API path for manually blocking an entity.
func (s *Store) UpsertManual(entity string, risk float64, createdAtMS int64) (*Record, error) {
	return s.upsert(entity, risk, createdAtMS, SourceManual, "manual::"+entity)
}

func (s *Store) upsert(entity string, risk float64, createdAtMS int64, source Source, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byEntity[entity]; ok {
		return existing, nil
	}

	r := &Record{
		ID:          id,
		Entity:      entity,
		Scope:       "auth",
		Decision:    "HARD_BLOCK",
		Risk:        risk,
		TTLSeconds:  300,
		Active:      true,
		Source:      source,
		CreatedAtMS: createdAtMS,
	}
	s.records = append(s.records, r)
	s.byEntity[entity] = r
	metrics.ActiveBlocksGauge.Set(float64(len(s.byEntity)))

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// Unblock flips the active record for entity to inactive. Idempotent (P10):
// unblocking an already-inactive (or never-blocked) entity is a no-op.
func (s *Store) Unblock(entity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byEntity[entity]
	if !ok {
		return nil
	}
	r.Active = false
	delete(s.byEntity, entity)
	metrics.ActiveBlocksGauge.Set(float64(len(s.byEntity)))
	return s.saveLocked()
}

// IsActive reports whether entity currently has an active block.
func (s *Store) IsActive(entity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byEntity[entity]
	return ok
}

// All returns a snapshot of every record, active and historical.
func (s *Store) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = *r
	}
	return out
}

// ReplayActive pushes every active block to the enforcer on startup,
// best-effort: a failure for one entity is logged and does not block the
// rest (fail-open startup, spec.md §4.10).
func (s *Store) ReplayActive(ctx context.Context, bridge *enforce.Bridge) {
	s.mu.Lock()
	active := make([]*Record, 0, len(s.byEntity))
	for _, r := range s.byEntity {
		active = append(active, r)
	}
	s.mu.Unlock()

	for _, r := range active {
		resp := bridge.Enforce(ctx, r.Entity, decision.Block)
		log.Info().
			Str("entity", r.Entity).
			Bool("enforcer_available", resp.Available).
			Msg("replayed active block to enforcer on startup")
	}
}
