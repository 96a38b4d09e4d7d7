// Package runstore persists batches and lake run records in SQLite, or in
// PostgreSQL when the database path is a postgres:// DSN.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

var (
	// ErrNotFound is returned when a batch does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a batch id is reused.
	ErrDuplicate = errors.New("duplicate")
)

const pingTimeout = 2 * time.Second

// Store provides batch and run persistence
type Store struct {
	db       *sql.DB
	postgres bool
}

// Batch is one persisted batch with its final counts
type Batch struct {
	ID         string            `json:"id"`
	BaseName   string            `json:"base_name"`
	Arguments  map[string]string `json:"arguments,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Total      int               `json:"total"`
	Published  int               `json:"published"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
}

// Running reports whether the batch has not finished yet.
func (b Batch) Running() bool {
	return b.FinishedAt == nil
}

// IsPostgres reports whether dsn selects the PostgreSQL backend.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open opens (and migrates) the store at dsn: a SQLite file path,
// ":memory:", or a postgres:// URL.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if IsPostgres(dsn) {
		return openPostgres(ctx, dsn)
	}
	return openSQLite(dsn)
}

func openSQLite(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases shared and serialises writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func openPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db, postgres: true}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateBatch records the start of a batch.
func (s *Store) CreateBatch(ctx context.Context, b Batch) error {
	argsJSON, err := json.Marshal(b.Arguments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO batches (id, base_name, arguments, started_at, total)
		VALUES (?, ?, ?, ?, ?)
	`), b.ID, b.BaseName, string(argsJSON), b.StartedAt.UTC(), b.Total)
	if isUniqueViolation(err) {
		return fmt.Errorf("batch %s: %w", b.ID, ErrDuplicate)
	}
	return err
}

// FinishBatch stores the final counts of a report.
func (s *Store) FinishBatch(ctx context.Context, report *domain.BatchReport) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE batches SET finished_at = ?, total = ?, published = ?, succeeded = ?, failed = ?
		WHERE id = ?
	`),
		report.FinishedAt.UTC(),
		len(report.Records),
		report.Counts[domain.StatePublished],
		report.Counts[domain.StateSucceeded],
		report.Counts[domain.StateFailed],
		report.BatchID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s: %w", report.BatchID, ErrNotFound)
	}
	return nil
}

// SaveRun inserts or updates a run record.
func (s *Store) SaveRun(ctx context.Context, rec domain.RunRecord) error {
	artifacts, err := json.Marshal(rec.ArtifactPaths)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (batch_id, lake_key, state, fetch_attempts, publish_attempts, started_at, updated_at,
			finished_at, failure_kind, error, diagnostics, artifact_paths, work_dir, bundle_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id, lake_key) DO UPDATE SET
			state = excluded.state,
			fetch_attempts = excluded.fetch_attempts,
			publish_attempts = excluded.publish_attempts,
			started_at = excluded.started_at,
			updated_at = excluded.updated_at,
			finished_at = excluded.finished_at,
			failure_kind = excluded.failure_kind,
			error = excluded.error,
			diagnostics = excluded.diagnostics,
			artifact_paths = excluded.artifact_paths,
			work_dir = excluded.work_dir,
			bundle_digest = excluded.bundle_digest
	`),
		rec.BatchID,
		rec.LakeKey,
		string(rec.State),
		rec.FetchAttempts,
		rec.PublishAttempts,
		nullTime(rec.StartedAt),
		rec.UpdatedAt.UTC(),
		nullTime(rec.FinishedAt),
		string(rec.FailureKind),
		rec.Error,
		rec.Diagnostics,
		string(artifacts),
		rec.WorkDir,
		rec.BundleDigest,
	)
	return err
}

const batchColumns = `id, base_name, arguments, started_at, finished_at, total, published, succeeded, failed`

// ListBatches returns the most recent batches first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+batchColumns+` FROM batches ORDER BY started_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetBatch returns one batch.
func (s *Store) GetBatch(ctx context.Context, id string) (Batch, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+batchColumns+` FROM batches WHERE id = ?`), id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	return b, err
}

// LatestBatch returns the most recently started batch.
func (s *Store) LatestBatch(ctx context.Context) (Batch, error) {
	batches, err := s.ListBatches(ctx, 1)
	if err != nil {
		return Batch{}, err
	}
	if len(batches) == 0 {
		return Batch{}, fmt.Errorf("no batches: %w", ErrNotFound)
	}
	return batches[0], nil
}

const runColumns = `batch_id, lake_key, state, fetch_attempts, publish_attempts, started_at, updated_at,
	finished_at, failure_kind, error, diagnostics, artifact_paths, work_dir, bundle_digest`

// ListRuns returns the runs of a batch sorted by lake key.
func (s *Store) ListRuns(ctx context.Context, batchID string) ([]domain.RunRecord, error) {
	return s.queryRuns(ctx, `SELECT `+runColumns+` FROM runs WHERE batch_id = ? ORDER BY lake_key`, batchID)
}

// LakeHistory returns the most recent runs of one lake across batches.
func (s *Store) LakeHistory(ctx context.Context, lakeKey string, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryRuns(ctx, `SELECT `+runColumns+` FROM runs WHERE lake_key = ? ORDER BY updated_at DESC LIMIT ?`, lakeKey, limit)
}

// Report rebuilds the report of a stored batch.
func (s *Store) Report(ctx context.Context, batchID string) (*domain.BatchReport, error) {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	runs, err := s.ListRuns(ctx, batchID)
	if err != nil {
		return nil, err
	}
	finished := time.Now().UTC()
	if b.FinishedAt != nil {
		finished = *b.FinishedAt
	}
	return domain.NewBatchReport(b.ID, b.BaseName, b.StartedAt, finished, runs), nil
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (Batch, error) {
	var b Batch
	var args sql.NullString
	var finished sql.NullTime

	if err := row.Scan(&b.ID, &b.BaseName, &args, &b.StartedAt, &finished, &b.Total, &b.Published, &b.Succeeded, &b.Failed); err != nil {
		return Batch{}, err
	}
	b.StartedAt = b.StartedAt.UTC()
	if finished.Valid {
		t := finished.Time.UTC()
		b.FinishedAt = &t
	}
	if args.Valid && args.String != "" && args.String != "null" {
		if err := json.Unmarshal([]byte(args.String), &b.Arguments); err != nil {
			return Batch{}, fmt.Errorf("batch %s arguments: %w", b.ID, err)
		}
	}
	return b, nil
}

func scanRun(row scanner) (domain.RunRecord, error) {
	var rec domain.RunRecord
	var state string
	var started, finished sql.NullTime
	var kind, errMsg, diag, artifacts, workDir, digest sql.NullString

	err := row.Scan(&rec.BatchID, &rec.LakeKey, &state, &rec.FetchAttempts, &rec.PublishAttempts,
		&started, &rec.UpdatedAt, &finished, &kind, &errMsg, &diag, &artifacts, &workDir, &digest)
	if err != nil {
		return domain.RunRecord{}, err
	}

	rec.State = domain.RunState(state)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.StartedAt = fromNullTime(started)
	rec.FinishedAt = fromNullTime(finished)
	rec.FailureKind = domain.FailureKind(kind.String)
	rec.Error = errMsg.String
	rec.Diagnostics = diag.String
	rec.WorkDir = workDir.String
	rec.BundleDigest = digest.String
	if artifacts.Valid && artifacts.String != "" && artifacts.String != "null" {
		if err := json.Unmarshal([]byte(artifacts.String), &rec.ArtifactPaths); err != nil {
			return domain.RunRecord{}, fmt.Errorf("run %s/%s artifacts: %w", rec.BatchID, rec.LakeKey, err)
		}
	}
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
