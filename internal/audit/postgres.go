package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/kranthikarthan/PE-sub004/internal/flow"
	"github.com/kranthikarthan/PE-sub004/internal/fraud"
	"github.com/kranthikarthan/PE-sub004/internal/webhook"
)

const insertEntrySQL = `INSERT INTO audit_trail
	(entry_id, correlation_id, tenant_id, kind, stage, status, at, detail)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const selectTrailSQL = `SELECT entry_id, correlation_id, tenant_id, kind, stage, status, at, detail
	FROM audit_trail WHERE correlation_id = $1 ORDER BY at, entry_id`

// PostgresStore persists the trail in an audit_trail table with the
// kind-specific remainder as JSONB.
type PostgresStore struct {
	db    *sql.DB
	newID func() string
}

// NewPostgresStore connects to the database and verifies the connection.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresStoreWithDB(db), nil
}

// NewPostgresStoreWithDB wraps an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, newID: uuid.NewString}
}

// EnsureSchema creates the trail table and its correlation index when they
// do not exist yet.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	const table = `CREATE TABLE IF NOT EXISTS audit_trail (
		entry_id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL,
		detail JSONB
	)`
	const index = `CREATE INDEX IF NOT EXISTS audit_trail_correlation_idx
		ON audit_trail (correlation_id, at)`

	if _, err := p.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("failed to create audit index: %w", err)
	}
	return nil
}

func (p *PostgresStore) insert(ctx context.Context, e Entry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode entry detail: %w", err)
	}
	_, err = p.db.ExecContext(ctx, insertEntrySQL,
		e.EntryID, e.CorrelationID, e.TenantID,
		string(e.Kind), e.Stage, e.Status, e.At, detail)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) RecordTransition(ctx context.Context, tr flow.Transition) error {
	return p.insert(ctx, entryFromTransition(p.newID(), tr))
}

func (p *PostgresStore) RecordAssessment(ctx context.Context, a fraud.Assessment) error {
	return p.insert(ctx, entryFromAssessment(p.newID(), a))
}

func (p *PostgresStore) RecordDelivery(ctx context.Context, d *webhook.Delivery) error {
	return p.insert(ctx, entryFromDelivery(p.newID(), d))
}

// Trail returns the recorded entries for one correlation id, oldest first.
func (p *PostgresStore) Trail(ctx context.Context, correlationID string) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, selectTrailSQL, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			kind   string
			at     time.Time
			detail []byte
		)
		if err := rows.Scan(&e.EntryID, &e.CorrelationID, &e.TenantID,
			&kind, &e.Stage, &e.Status, &at, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Kind = Kind(kind)
		e.At = at
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode entry detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	return entries, nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

var _ Store = (*PostgresStore)(nil)
