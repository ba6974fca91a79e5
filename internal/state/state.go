package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a checkpoint or run does not exist.
var ErrNotFound = errors.New("state: not found")

// timeLayout is fixed width so that lexical order equals time order.
const timeLayout = "2006-01-02 15:04:05.000000"

const schema = `
CREATE TABLE IF NOT EXISTS processed_resources (
	id TEXT PRIMARY KEY,
	resource_type TEXT NOT NULL,
	processed_at TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_resource_type ON processed_resources(resource_type);
CREATE INDEX IF NOT EXISTS idx_status ON processed_resources(status);

CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id INTEGER PRIMARY KEY AUTOINCREMENT,
	resource_type TEXT NOT NULL,
	checkpoint_time TEXT NOT NULL,
	batch_size INTEGER,
	total_processed INTEGER,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_checkpoint_type ON checkpoints(resource_type, checkpoint_time);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id INTEGER PRIMARY KEY AUTOINCREMENT,
	start_time TEXT NOT NULL,
	end_time TEXT,
	status TEXT NOT NULL,
	city TEXT,
	config TEXT,
	stats TEXT
);
`

// Config controls where the ledger lives and how writes are committed.
type Config struct {
	Path        string
	AutoCommit  bool
	BusyTimeout time.Duration
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Manager is the durable processing ledger. With AutoCommit every write is
// committed immediately; otherwise writes accumulate in one transaction
// until Commit or Close.
type Manager struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
	tx *sql.Tx
}

// Open creates the database file and its parent directory if needed and
// ensures the schema exists.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Manager, error) {
	if cfg.Path == "" {
		return nil, errors.New("state: path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("state: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("state: failed to open database: %w", err)
	}
	// A single connection serialises writers inside this process and keeps
	// the batch transaction visible to every read.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: failed to create schema: %w", err)
	}

	logger.Info().Str("path", cfg.Path).Bool("auto_commit", cfg.AutoCommit).Msg("state manager ready")
	return &Manager{db: db, cfg: cfg, logger: logger, now: time.Now}, nil
}

func dsn(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	if cfg.Path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

func (m *Manager) timestamp() string {
	return m.now().UTC().Format(timeLayout)
}

// writer returns the executor for a mutation, opening the batch transaction
// when auto-commit is off. The transaction outlives the caller's context so
// that cancelling a run does not discard its ledger rows. Callers hold m.mu.
func (m *Manager) writer(ctx context.Context) (querier, error) {
	if m.cfg.AutoCommit {
		return m.db, nil
	}
	if m.tx == nil {
		tx, err := m.db.BeginTx(context.WithoutCancel(ctx), nil)
		if err != nil {
			return nil, fmt.Errorf("state: failed to begin transaction: %w", err)
		}
		m.tx = tx
	}
	return m.tx, nil
}

// abort rolls back the batch transaction after a failed write and returns
// err. Pending writes are lost; the next write starts a fresh transaction.
// Callers hold m.mu.
func (m *Manager) abort(err error) error {
	if m.tx != nil {
		if rbErr := m.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			m.logger.Warn().Err(rbErr).Msg("failed to roll back batch transaction")
		}
		m.tx = nil
		m.logger.Warn().Err(err).Msg("batch transaction rolled back")
	}
	return err
}

// reader returns the executor for a query. Callers hold m.mu.
func (m *Manager) reader() querier {
	if m.tx != nil {
		return m.tx
	}
	return m.db
}

// IsProcessed reports whether id is recorded as completed.
func (m *Manager) IsProcessed(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var one int
	err := m.reader().QueryRowContext(ctx, `SELECT 1 FROM processed_resources WHERE id = ? AND status = 'completed'`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: failed to query resource: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts or replaces the ledger row for id.
func (m *Manager) MarkProcessed(ctx context.Context, id, resourceType string, status models.ResourceStatus, metadata map[string]any, errMsg string) error {
	meta, err := encode(metadata)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.writer(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT OR REPLACE INTO processed_resources (id, resource_type, processed_at, status, error_message, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, resourceType, m.timestamp(), string(status), nullString(errMsg), meta)
	if err != nil {
		return m.abort(fmt.Errorf("state: failed to mark %s: %w", id, err))
	}
	return nil
}

// MarkBatchProcessed records all ids with one status in a single transaction.
func (m *Manager) MarkBatchProcessed(ctx context.Context, ids []string, resourceType string, status models.ResourceStatus) error {
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var tx *sql.Tx
	if m.cfg.AutoCommit {
		var err error
		tx, err = m.db.BeginTx(context.WithoutCancel(ctx), nil)
		if err != nil {
			return fmt.Errorf("state: failed to begin transaction: %w", err)
		}
		defer tx.Rollback()
	} else {
		q, err := m.writer(ctx)
		if err != nil {
			return err
		}
		tx = q.(*sql.Tx)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO processed_resources (id, resource_type, processed_at, status)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return m.abort(fmt.Errorf("state: failed to prepare batch insert: %w", err))
	}
	defer stmt.Close()

	ts := m.timestamp()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, resourceType, ts, string(status)); err != nil {
			return m.abort(fmt.Errorf("state: failed to mark %s: %w", id, err))
		}
	}

	if m.cfg.AutoCommit {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("state: failed to commit batch: %w", err)
		}
	}

	m.logger.Debug().Int("count", len(ids)).Str("resource_type", resourceType).Str("status", string(status)).Msg("batch marked")
	return nil
}

// ProcessedIDs returns the ids with the given status. An empty resourceType
// matches every type.
func (m *Manager) ProcessedIDs(ctx context.Context, resourceType string, status models.ResourceStatus) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `SELECT id FROM processed_resources WHERE status = ?`
	args := []any{string(status)}
	if resourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, resourceType)
	}

	rows, err := m.reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("state: failed to query processed ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("state: failed to scan id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// FailedResources lists failed rows, most recent first. An empty
// resourceType matches every type.
func (m *Manager) FailedResources(ctx context.Context, resourceType string) ([]models.ProcessedResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `SELECT id, resource_type, processed_at, status, error_message, metadata
		FROM processed_resources WHERE status = 'failed'`
	var args []any
	if resourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, resourceType)
	}
	query += ` ORDER BY processed_at DESC, id DESC`

	rows, err := m.reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("state: failed to query failed resources: %w", err)
	}
	defer rows.Close()

	out := []models.ProcessedResource{}
	for rows.Next() {
		var (
			r        models.ProcessedResource
			ts       string
			status   string
			errMsg   sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ResourceType, &ts, &status, &errMsg, &metadata); err != nil {
			return nil, fmt.Errorf("state: failed to scan resource: %w", err)
		}
		r.Status = models.ResourceStatus(status)
		r.ProcessedAt = parseTime(ts)
		r.ErrorMessage = errMsg.String
		if r.Metadata, err = decode(metadata); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Checkpoint appends a progress marker. total_processed is the number of
// completed rows of resourceType at this moment.
func (m *Manager) Checkpoint(ctx context.Context, resourceType string, batchSize int, metadata map[string]any) (int64, error) {
	meta, err := encode(metadata)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.writer(ctx)
	if err != nil {
		return 0, err
	}

	var total int
	err = q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_resources WHERE resource_type = ? AND status = 'completed'`,
		resourceType).Scan(&total)
	if err != nil {
		return 0, m.abort(fmt.Errorf("state: failed to count completed: %w", err))
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO checkpoints (resource_type, checkpoint_time, batch_size, total_processed, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		resourceType, m.timestamp(), batchSize, total, meta)
	if err != nil {
		return 0, m.abort(fmt.Errorf("state: failed to write checkpoint: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("state: failed to read checkpoint id: %w", err)
	}

	m.logger.Info().Int64("checkpoint_id", id).Str("resource_type", resourceType).
		Int("batch_size", batchSize).Int("total_processed", total).Msg("checkpoint")
	return id, nil
}

// LastCheckpoint returns the most recent checkpoint for resourceType, or
// ErrNotFound.
func (m *Manager) LastCheckpoint(ctx context.Context, resourceType string) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.reader().QueryContext(ctx, `
		SELECT checkpoint_id, resource_type, checkpoint_time, batch_size, total_processed, metadata
		FROM checkpoints WHERE resource_type = ?
		ORDER BY checkpoint_time DESC, checkpoint_id DESC LIMIT 1`, resourceType)
	if err != nil {
		return nil, fmt.Errorf("state: failed to query checkpoint: %w", err)
	}
	cps, err := scanCheckpoints(rows)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, ErrNotFound
	}
	return &cps[0], nil
}

func scanCheckpoints(rows *sql.Rows) ([]models.Checkpoint, error) {
	defer rows.Close()

	out := []models.Checkpoint{}
	for rows.Next() {
		var (
			c        models.Checkpoint
			ts       string
			batch    sql.NullInt64
			total    sql.NullInt64
			metadata sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ResourceType, &ts, &batch, &total, &metadata); err != nil {
			return nil, fmt.Errorf("state: failed to scan checkpoint: %w", err)
		}
		c.Time = parseTime(ts)
		c.BatchSize = int(batch.Int64)
		c.TotalProcessed = int(total.Int64)
		var err error
		if c.Metadata, err = decode(metadata); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StartPipelineRun inserts a running run and returns its id. The row is
// committed immediately, even in batch mode, along with any pending writes.
func (m *Manager) StartPipelineRun(ctx context.Context, city string, config map[string]any) (int64, error) {
	cfg, err := encode(config)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.commit(); err != nil {
		return 0, err
	}
	res, err := m.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (start_time, status, city, config) VALUES (?, ?, ?, ?)`,
		m.timestamp(), string(models.RunRunning), city, cfg)
	if err != nil {
		return 0, fmt.Errorf("state: failed to start run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("state: failed to read run id: %w", err)
	}

	m.logger.Info().Int64("run_id", id).Str("city", city).Msg("pipeline run started")
	return id, nil
}

// EndPipelineRun stamps end_time, the final status and stats on a run.
func (m *Manager) EndPipelineRun(ctx context.Context, runID int64, status models.RunStatus, stats map[string]any) error {
	encoded, err := encode(stats)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.writer(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE pipeline_runs SET end_time = ?, status = ?, stats = ? WHERE run_id = ?`,
		m.timestamp(), string(status), encoded, runID)
	if err != nil {
		return m.abort(fmt.Errorf("state: failed to end run %d: %w", runID, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}

	m.logger.Info().Int64("run_id", runID).Str("status", string(status)).Msg("pipeline run ended")
	return nil
}

// ListRuns returns up to limit runs, most recent first.
func (m *Manager) ListRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listRuns(ctx, limit)
}

func (m *Manager) listRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	rows, err := m.reader().QueryContext(ctx, `
		SELECT run_id, start_time, end_time, status, city, config, stats
		FROM pipeline_runs ORDER BY start_time DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("state: failed to query runs: %w", err)
	}
	defer rows.Close()

	out := []models.PipelineRun{}
	for rows.Next() {
		var (
			r       models.PipelineRun
			start   string
			end     sql.NullString
			status  string
			city    sql.NullString
			config  sql.NullString
			encoded sql.NullString
		)
		if err := rows.Scan(&r.ID, &start, &end, &status, &city, &config, &encoded); err != nil {
			return nil, fmt.Errorf("state: failed to scan run: %w", err)
		}
		r.StartTime = parseTime(start)
		if end.Valid {
			t := parseTime(end.String)
			r.EndTime = &t
		}
		r.Status = models.RunStatus(status)
		r.City = city.String
		if r.Config, err = decode(config); err != nil {
			return nil, err
		}
		if r.Stats, err = decode(encoded); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Statistics summarises the ledger with the five most recent checkpoints
// and runs.
func (m *Manager) Statistics(ctx context.Context) (models.StateStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := models.StateStatistics{ByResourceType: map[string]map[models.ResourceStatus]int{}}

	rows, err := m.reader().QueryContext(ctx,
		`SELECT resource_type, status, COUNT(*) FROM processed_resources GROUP BY resource_type, status`)
	if err != nil {
		return stats, fmt.Errorf("state: failed to count resources: %w", err)
	}
	for rows.Next() {
		var (
			rtype  string
			status string
			count  int
		)
		if err := rows.Scan(&rtype, &status, &count); err != nil {
			rows.Close()
			return stats, fmt.Errorf("state: failed to scan counts: %w", err)
		}
		if stats.ByResourceType[rtype] == nil {
			stats.ByResourceType[rtype] = map[models.ResourceStatus]int{}
		}
		stats.ByResourceType[rtype][models.ResourceStatus(status)] = count
		switch models.ResourceStatus(status) {
		case models.StatusCompleted:
			stats.TotalCompleted += count
		case models.StatusFailed:
			stats.TotalFailed += count
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("state: failed to count resources: %w", err)
	}

	cpRows, err := m.reader().QueryContext(ctx, `
		SELECT checkpoint_id, resource_type, checkpoint_time, batch_size, total_processed, metadata
		FROM checkpoints ORDER BY checkpoint_time DESC, checkpoint_id DESC LIMIT 5`)
	if err != nil {
		return stats, fmt.Errorf("state: failed to query checkpoints: %w", err)
	}
	if stats.RecentCheckpoints, err = scanCheckpoints(cpRows); err != nil {
		return stats, err
	}

	if stats.RecentRuns, err = m.listRuns(ctx, 5); err != nil {
		return stats, err
	}
	return stats, nil
}

// ClearFailed deletes every failed row so those resources are retried, and
// returns how many were removed.
func (m *Manager) ClearFailed(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.writer(ctx)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `DELETE FROM processed_resources WHERE status = 'failed'`)
	if err != nil {
		return 0, m.abort(fmt.Errorf("state: failed to clear failed resources: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("state: failed to count cleared rows: %w", err)
	}

	m.logger.Info().Int64("count", n).Msg("cleared failed resources")
	return n, nil
}

// Reset deletes all resources, checkpoints and runs.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, err := m.writer(ctx)
	if err != nil {
		return err
	}
	for _, table := range []string{"processed_resources", "checkpoints", "pipeline_runs"} {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return m.abort(fmt.Errorf("state: failed to reset %s: %w", table, err))
		}
	}

	m.logger.Warn().Msg("state database reset, all tracking data deleted")
	return nil
}

// Commit commits pending batch-mode writes. It is a no-op when nothing is
// pending.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commit()
}

func (m *Manager) commit() error {
	if m.tx == nil {
		return nil
	}
	err := m.tx.Commit()
	m.tx = nil
	if err != nil {
		return fmt.Errorf("state: failed to commit: %w", err)
	}
	return nil
}

// Close commits pending writes and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	commitErr := m.commit()
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("state: failed to close database: %w", err)
	}
	m.logger.Info().Msg("state manager closed")
	return commitErr
}

func encode(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("state: failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decode(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, fmt.Errorf("state: failed to decode metadata: %w", err)
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
