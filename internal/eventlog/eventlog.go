// Package eventlog implements the durable, append-only record of every
// processed event (spec.md §4.9), backed by Postgres via database/sql and
// github.com/lib/pq.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/skywalker-88/authguard/internal/decision"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_log (
	id                     BIGSERIAL PRIMARY KEY,
	event_id               TEXT NOT NULL,
	ts                     BIGINT NOT NULL,
	entity                 TEXT NOT NULL,
	endpoint               TEXT NOT NULL,
	outcome                TEXT NOT NULL,
	decision               TEXT NOT NULL,
	risk                   DOUBLE PRECISION NOT NULL,
	enforcement_allowed    BOOLEAN NOT NULL,
	enforcement_reason     TEXT NOT NULL DEFAULT '',
	raw_event              JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS event_log_entity_ts_idx ON event_log (entity, ts);
CREATE INDEX IF NOT EXISTS event_log_ts_idx ON event_log (ts DESC);
`

// Record is one durable event-log row.
type Record struct {
	ID                 int64
	EventID            string
	TSMillis           int64
	Entity             string
	Endpoint           string
	Outcome            string
	Decision           decision.Decision
	Risk               float64
	EnforcementAllowed bool
	EnforcementReason  string
	RawEvent           map[string]any
}

// Log wraps a Postgres-backed event_log table.
type Log struct {
	db *sql.DB
}

// Open connects to dsn and ensures the event_log table exists.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying connection pool.
func (l *Log) Close() error { return l.db.Close() }

// normalizeTS implements P8: timestamps > now are clamped to now;
// non-positive timestamps are replaced with now.
func normalizeTS(tsMillis int64, now time.Time) int64 {
	nowMillis := now.UnixMilli()
	if tsMillis <= 0 || tsMillis > nowMillis {
		return nowMillis
	}
	return tsMillis
}

// Append writes one record, normalizing its timestamp per P8. A failure to
// persist returns an error; the caller decides whether that is fatal to the
// request (spec.md §7: the current default is to log and continue, but the
// signature here lets callers enforce fail-closed logging per §9 if they
// choose to).
func (l *Log) Append(ctx context.Context, r Record, now time.Time) error {
	ts := normalizeTS(r.TSMillis, now)

	raw, err := json.Marshal(r.RawEvent)
	if err != nil {
		return fmt.Errorf("eventlog: marshal raw_event: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO event_log
			(event_id, ts, entity, endpoint, outcome, decision, risk, enforcement_allowed, enforcement_reason, raw_event)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.EventID, ts, r.Entity, r.Endpoint, r.Outcome, string(r.Decision), r.Risk,
		r.EnforcementAllowed, r.EnforcementReason, raw,
	)
	if err != nil {
		return fmt.Errorf("eventlog: insert: %w", err)
	}
	return nil
}

// Range returns records for entity with ts >= since (and optionally <= until
// when untilMillis > 0), ordered ts DESC.
func (l *Log) Range(ctx context.Context, entity string, sinceMillis, untilMillis int64) ([]Record, error) {
	var rows *sql.Rows
	var err error
	if untilMillis > 0 {
		rows, err = l.db.QueryContext(ctx, `
			SELECT id, event_id, ts, entity, endpoint, outcome, decision, risk, enforcement_allowed, enforcement_reason, raw_event
			FROM event_log WHERE entity = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts DESC`,
			entity, sinceMillis, untilMillis)
	} else {
		rows, err = l.db.QueryContext(ctx, `
			SELECT id, event_id, ts, entity, endpoint, outcome, decision, risk, enforcement_allowed, enforcement_reason, raw_event
			FROM event_log WHERE entity = $1 AND ts >= $2 ORDER BY ts DESC`,
			entity, sinceMillis)
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: range query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Page returns a filtered, paginated read ordered ts DESC, for the
// metrics/dashboard collaborator. decisionFilter may be empty to match any.
func (l *Log) Page(ctx context.Context, decisionFilter string, entityFilter string, limit, offset int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_id, ts, entity, endpoint, outcome, decision, risk, enforcement_allowed, enforcement_reason, raw_event
		FROM event_log
		WHERE ($1 = '' OR decision = $1) AND ($2 = '' OR entity = $2)
		ORDER BY ts DESC
		LIMIT $3 OFFSET $4`,
		decisionFilter, entityFilter, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: page query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var decisionStr string
		var raw []byte
		if err := rows.Scan(&r.ID, &r.EventID, &r.TSMillis, &r.Entity, &r.Endpoint, &r.Outcome,
			&decisionStr, &r.Risk, &r.EnforcementAllowed, &r.EnforcementReason, &raw); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		r.Decision = decision.Decision(decisionStr)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.RawEvent); err != nil {
				return nil, fmt.Errorf("eventlog: unmarshal raw_event: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
