package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// ErrNotInitialized is returned by operations that need Init first.
var ErrNotInitialized = errors.New("database not initialized")

// filePragmas tune an on-disk database for one writer and short reads.
var filePragmas = []string{
	"_pragma=journal_mode(WAL)",
	"_pragma=synchronous(NORMAL)",
	"_pragma=busy_timeout(5000)",
	"_pragma=foreign_keys(1)",
	"_txlock=immediate",
	"_time_format=sqlite",
}

// SQLiteStore keeps run history in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration. Zero pool settings take
// defaults; an in-memory database always uses a single connection.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) applyDefaults() {
	if c.Path == memoryPath {
		c.MaxOpenConns, c.MaxIdleConns, c.ConnMaxLifetime = 1, 1, 0
		return
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
}

func (c *Config) dsn() string {
	if c.Path == memoryPath {
		return memoryPath + "?_pragma=foreign_keys(1)&_time_format=sqlite"
	}
	return "file:" + c.Path + "?" + strings.Join(filePragmas, "&")
}

// NewSQLiteStore creates a store. Nothing is opened until Init.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("history database path is required")
	}
	cfg.applyDefaults()
	return &SQLiteStore{cfg: cfg}, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.cfg.Path
}

// Init opens the database, creating its directory if needed.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.cfg.Path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.cfg.dsn())
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to reach history database %s: %w", s.cfg.Path, err)
	}
	s.db = db
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate brings the schema up to date. Running it again is a no-op.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	target, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare migration target: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("history database unreachable: %w", err)
	}
	return nil
}

const (
	runColumns    = `id, script_path, wp_path, status, instructions, started_at, completed_at, error, created_at`
	resultColumns = `id, run_id, line, source, action, options, status, error, duration_ms, created_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.ScriptPath, &r.WPPath, &r.Status, &r.Instructions,
		&r.StartedAt, &r.CompletedAt, &r.Error, &r.CreatedAt)
	return &r, err
}

func scanResult(row rowScanner) (*InstructionResult, error) {
	var (
		r  InstructionResult
		ms int64
	)
	err := row.Scan(&r.ID, &r.RunID, &r.Line, &r.Source, &r.Action, &r.Options,
		&r.Status, &r.Error, &ms, &r.CreatedAt)
	r.Duration = time.Duration(ms) * time.Millisecond
	return &r, err
}

// collect scans every row of rows with scan.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// touchedRun turns an update of zero rows into ErrNotFound.
func touchedRun(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateRun inserts run. A zero CreatedAt is set to now.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ScriptPath, run.WPPath, run.Status, run.Instructions,
		run.StartedAt, run.CompletedAt, run.Error, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns the run with id, or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return run, nil
}

// FinishRun sets the final status of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, completedAt time.Time, errMsg *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		status, completedAt, errMsg, id)
	if err == nil {
		err = touchedRun(res, id)
	}
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// ListRuns returns runs, most recent first. A limit of zero or less lists
// them all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	runs, err := collect(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run together with its instruction results.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err == nil {
		err = touchedRun(res, id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// AddResult appends the outcome of one instruction and sets result.ID.
func (s *SQLiteStore) AddResult(ctx context.Context, result *InstructionResult) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	if result.Options == "" {
		result.Options = "{}"
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO instruction_results (run_id, line, source, action, options, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.Line, result.Source, result.Action, result.Options,
		result.Status, result.Error, result.Duration.Milliseconds(), result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record line %d of run %s: %w", result.Line, result.RunID, err)
	}

	if result.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read result ID: %w", err)
	}
	return nil
}

// ListResults returns the instruction results of a run in script order.
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]*InstructionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM instruction_results WHERE run_id = ? ORDER BY line, id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results of run %s: %w", runID, err)
	}
	results, err := collect(rows, scanResult)
	if err != nil {
		return nil, fmt.Errorf("failed to list results of run %s: %w", runID, err)
	}
	return results, nil
}
