// Package store provides durable engine.Store implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-workflow/engine"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "workflow_instances"

type sqlExecContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLiteStore persists instance snapshots in a single SQLite table. Each row keeps the
// queryable columns next to the full JSON snapshot.
type SQLiteStore struct {
	db    *sql.DB
	table string

	schemaMu sync.Mutex
	schemaOK bool
}

// NewSQLiteStore builds a store on db. The schema is created on first use; a failed
// attempt is retried by the next call.
func NewSQLiteStore(db *sql.DB, table string) *SQLiteStore {
	if strings.TrimSpace(table) == "" {
		table = DefaultTable
	}
	return &SQLiteStore{db: db, table: table}
}

// Save upserts snapshot. Rows holding a newer version are left untouched.
func (s *SQLiteStore) Save(ctx context.Context, snapshot engine.Instance) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(snapshot.ID)
	if id == "" {
		return errors.New("snapshot id required")
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}

	q := fmt.Sprintf(`INSERT INTO %s (id, type, state, organization_id, created_by, version, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type=excluded.type,
			state=excluded.state,
			organization_id=excluded.organization_id,
			created_by=excluded.created_by,
			version=excluded.version,
			payload=excluded.payload,
			updated_at=excluded.updated_at
		WHERE excluded.version >= %s.version`, s.table, s.table)
	_, err = s.db.ExecContext(ctx, q,
		id,
		snapshot.Type,
		snapshot.CurrentState,
		snapshot.OrganizationID,
		snapshot.CreatedBy,
		snapshot.Version,
		string(payload),
		formatTime(snapshot.CreatedAt),
		formatTime(snapshot.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every snapshot ordered by creation time.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]engine.Instance, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, payload FROM %s ORDER BY created_at, id`, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	out := []engine.Instance{}
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var inst engine.Instance
		if err := json.Unmarshal([]byte(payload), &inst); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Delete removes the snapshot with id; missing rows are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, q, strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

// CountByState reports how many stored snapshots of workflowType sit in each state.
func (s *SQLiteStore) CountByState(ctx context.Context, workflowType string) (map[string]int, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT state, COUNT(*) FROM %s WHERE type = ? GROUP BY state`, s.table)
	rows, err := s.db.QueryContext(ctx, q, workflowType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[state] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not configured")
	}
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaOK {
		return nil
	}
	if err := s.ensureSchema(ctx, s.db); err != nil {
		return err
	}
	s.schemaOK = true
	return nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context, exec sqlExecContext) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		state TEXT NOT NULL,
		organization_id TEXT,
		created_by TEXT,
		version INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`, s.table)
	if _, err := exec.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_type_state ON %s (type, state)`, s.table, s.table)
	if _, err := exec.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("index %s: %w", s.table, err)
	}
	return nil
}

// fixed width so that created_at sorts lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
