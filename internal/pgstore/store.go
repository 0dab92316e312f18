// Package pgstore is a PostgreSQL persistence adapter. Each organization's
// committed snapshot is stored as one JSONB document.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"actionboard/internal/domain"
	"actionboard/internal/repo"
)

type Store struct {
	db  *sql.DB
	Now func() time.Time
}

// Open connects to dsn, pings, and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the snapshot and event tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS actionboard_snapshots (
			org_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			committed_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS actionboard_events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			org_id TEXT,
			payload JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) Commit(ctx context.Context, snap domain.Snapshot) error {
	if snap.Organization.ID == "" {
		return fmt.Errorf("%w: organization id is required", repo.ErrRejected)
	}
	return classify(s.commit(ctx, snap))
}

// classify marks integrity (23) and data (22) errors as rejected.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22")) {
		return fmt.Errorf("%w: %w", repo.ErrRejected, err)
	}
	return err
}

func (s *Store) commit(ctx context.Context, snap domain.Snapshot) error {
	ts := s.now().UTC()
	if snap.CommittedAt == "" {
		snap.CommittedAt = ts.Format(time.RFC3339)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	summary, err := json.Marshal(map[string]int{
		"selected": len(snap.Selection.Selected),
		"teams":    len(snap.Teams),
		"members":  len(snap.Members),
	})
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT INTO actionboard_snapshots(org_id,name,committed_at,payload) VALUES ($1,$2,$3,$4)
ON CONFLICT (org_id) DO UPDATE SET name=EXCLUDED.name, committed_at=EXCLUDED.committed_at, payload=EXCLUDED.payload`,
		snap.Organization.ID, snap.Organization.Name, ts, payload); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO actionboard_events(ts,type,org_id,payload) VALUES ($1,$2,$3,$4)`,
		ts, "onboarding.committed", snap.Organization.ID, summary); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Load(ctx context.Context, orgID string) (domain.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM actionboard_snapshots WHERE org_id=$1`, orgID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, fmt.Errorf("organization %s: %w", orgID, repo.ErrNotFound)
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", orgID, err)
	}
	return snap, nil
}

// ListOrganizations returns committed organizations, most recent first.
func (s *Store) ListOrganizations(ctx context.Context) ([]domain.OrganizationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT org_id, name, committed_at,
  COALESCE(jsonb_array_length(payload->'selection'->'selected'),0),
  COALESCE(jsonb_array_length(payload->'teams'),0),
  COALESCE(jsonb_array_length(payload->'members'),0)
FROM actionboard_snapshots ORDER BY committed_at DESC, org_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []domain.OrganizationSummary
	for rows.Next() {
		var o domain.OrganizationSummary
		var committed time.Time
		if err := rows.Scan(&o.ID, &o.Name, &committed, &o.Selected, &o.Teams, &o.Members); err != nil {
			return nil, err
		}
		o.CommittedAt = committed.UTC().Format(time.RFC3339)
		res = append(res, o)
	}
	return res, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
