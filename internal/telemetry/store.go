// Package telemetry persists per-tick control-loop telemetry to SQLite and
// exposes it through the /debug/ admin routes.
package telemetry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// TickRecord is one agent's telemetry for one tick.
type TickRecord struct {
	RunID             string        `json:"run_id"`
	Agent             int           `json:"agent"`
	Tick              int64         `json:"tick"`
	RecordedAt        time.Time     `json:"recorded_at"`
	Haze              float64       `json:"haze"`
	SelfHaze          float64       `json:"self_haze"`
	Precision         float64       `json:"precision"`
	Beta              float64       `json:"beta"`
	HazeMode          string        `json:"haze_mode"`
	ModelFallback     bool          `json:"model_fallback"`
	Objective         float64       `json:"objective"`
	Ux                float64       `json:"ux"`
	Uy                float64       `json:"uy"`
	Iterations        int           `json:"iterations"`
	OptimizerFallback bool          `json:"optimizer_fallback"`
	Dropped           int           `json:"dropped"`
	Latency           time.Duration `json:"latency_ns"`
}

// Recorder receives tick telemetry. The control loop depends on this rather
// than on Store so recording can be disabled.
type Recorder interface {
	RecordTick(ctx context.Context, rec TickRecord) error
}

// Nop discards every record.
type Nop struct{}

func (Nop) RecordTick(context.Context, TickRecord) error { return nil }

// Run describes one recorded session.
type Run struct {
	RunID      string    `json:"run_id"`
	Label      string    `json:"label"`
	ConfigJSON string    `json:"config_json,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// Store is a SQLite-backed Recorder.
type Store struct {
	db *sql.DB
}

// connPragmas are applied to every pooled connection through the DSN, so
// foreign keys and the busy timeout hold whichever connection runs a query.
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// Open opens (creating if needed) the database at path, applies the
// connection PRAGMAs and runs pending migrations.
func Open(path string) (*Store, error) {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for the admin routes.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: closing it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// StartRun registers a new run and returns its ID.
func (s *Store) StartRun(ctx context.Context, label, configJSON string) (string, error) {
	id := uuid.New().String()
	err := retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (run_id, label, config_json, started_at) VALUES (?, ?, ?, ?)`,
			id, label, nullIfEmpty(configJSON), time.Now().UnixNano())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, label, COALESCE(config_json, ''), started_at FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		if err := rows.Scan(&r.RunID, &r.Label, &r.ConfigJSON, &started); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

const insertTickSQL = `
	INSERT INTO ticks (
		run_id, agent, tick, recorded_at, haze, self_haze, precision_pi, beta,
		haze_mode, model_fallback, objective, ux, uy, iterations,
		optimizer_fallback, dropped, latency_ns
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertTick(ctx context.Context, db execer, rec TickRecord) error {
	if rec.RunID == "" {
		return errors.New("record tick: missing run id")
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, insertTickSQL,
		rec.RunID, rec.Agent, rec.Tick, rec.RecordedAt.UnixNano(),
		rec.Haze, rec.SelfHaze, rec.Precision, rec.Beta,
		rec.HazeMode, rec.ModelFallback, rec.Objective, rec.Ux, rec.Uy, rec.Iterations,
		rec.OptimizerFallback, rec.Dropped, int64(rec.Latency),
	)
	return err
}

// RecordTick inserts one record. A zero RecordedAt is stamped with now.
func (s *Store) RecordTick(ctx context.Context, rec TickRecord) error {
	return retryOnBusy(func() error {
		return insertTick(ctx, s.db, rec)
	})
}

// RecordTicks inserts a batch of records in one transaction. Either all
// records are stored or none are.
func (s *Store) RecordTicks(ctx context.Context, recs []TickRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for _, rec := range recs {
			if err := insertTick(ctx, tx, rec); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListTicks returns a run's records ordered by agent then tick.
func (s *Store) ListTicks(ctx context.Context, runID string) ([]TickRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, agent, tick, recorded_at, haze, self_haze, precision_pi, beta,
		       haze_mode, model_fallback, objective, ux, uy, iterations,
		       optimizer_fallback, dropped, latency_ns
		FROM ticks
		WHERE run_id = ?
		ORDER BY agent, tick`, runID)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var out []TickRecord
	for rows.Next() {
		var r TickRecord
		var recorded, latency int64
		if err := rows.Scan(
			&r.RunID, &r.Agent, &r.Tick, &recorded, &r.Haze, &r.SelfHaze, &r.Precision, &r.Beta,
			&r.HazeMode, &r.ModelFallback, &r.Objective, &r.Ux, &r.Uy, &r.Iterations,
			&r.OptimizerFallback, &r.Dropped, &latency,
		); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		r.RecordedAt = time.Unix(0, recorded)
		r.Latency = time.Duration(latency)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// isSQLiteBusy reports whether err is a SQLITE_BUSY lock failure.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

const maxBusyRetries = 5

// retryOnBusy runs fn up to maxBusyRetries times while it fails with
// SQLITE_BUSY, backing off 10ms, 20ms, 40ms, ...
func retryOnBusy(fn func() error) error {
	delay := 10 * time.Millisecond
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = fn()
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt < maxBusyRetries-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("database still busy after %d attempts: %w", maxBusyRetries, err)
}
