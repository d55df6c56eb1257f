package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// ErrRunNotFound is returned by GetSummary for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists run summaries in PostgreSQL. It implements schemas.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Store = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS walkthrough_runs (
    run_id      TEXT PRIMARY KEY,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    total       INTEGER NOT NULL,
    passed      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS scenario_results (
    id                TEXT PRIMARY KEY,
    run_id            TEXT NOT NULL REFERENCES walkthrough_runs(run_id) ON DELETE CASCADE,
    position          INTEGER NOT NULL,
    scenario_name     TEXT NOT NULL,
    source            TEXT NOT NULL,
    status            TEXT NOT NULL,
    failed_step_index INTEGER,
    failure_kind      TEXT NOT NULL,
    failure_message   TEXT NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    duration_ns       BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS step_results (
    result_id   TEXT NOT NULL REFERENCES scenario_results(id) ON DELETE CASCADE,
    step_index  INTEGER NOT NULL,
    description TEXT NOT NULL,
    status      TEXT NOT NULL,
    message     TEXT NOT NULL,
    duration_ns BIGINT NOT NULL,
    PRIMARY KEY (result_id, step_index)
);
CREATE INDEX IF NOT EXISTS scenario_results_run_id_idx ON scenario_results (run_id);
`

var (
	scenarioColumns = []string{"id", "run_id", "position", "scenario_name", "source", "status", "failed_step_index", "failure_kind", "failure_message", "started_at", "duration_ns"}
	stepColumns     = []string{"result_id", "step_index", "description", "status", "message", "duration_ns"}
)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a connection pool for url, creates the store and ensures the
// schema exists. The returned function closes the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// EnsureSchema creates the result tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveSummary stores a run and all of its scenario and step results in one transaction.
func (s *Store) SaveSummary(ctx context.Context, summary *schemas.RunSummary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO walkthrough_runs (run_id, started_at, finished_at, total, passed) VALUES ($1, $2, $3, $4, $5)`,
		summary.RunID, summary.StartedAt.UTC(), summary.FinishedAt.UTC(), summary.Total(), summary.Count(schemas.StatusPassed),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", summary.RunID, err)
	}

	if len(summary.Results) > 0 {
		if err := s.persistResults(ctx, tx, summary); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	s.log.Debug("Persisted run summary", zap.String("run_id", summary.RunID), zap.Int("results", len(summary.Results)))
	return nil
}

func (s *Store) persistResults(ctx context.Context, tx pgx.Tx, summary *schemas.RunSummary) error {
	results := make([][]interface{}, len(summary.Results))
	var steps [][]interface{}
	for i, r := range summary.Results {
		var failedStep *int32
		if r.FailedStepIndex != nil {
			v := int32(*r.FailedStepIndex)
			failedStep = &v
		}
		results[i] = []interface{}{
			r.ID, summary.RunID, int32(i), r.ScenarioName, r.Source, string(r.Status),
			failedStep, string(r.FailureKind), r.FailureMessage,
			r.StartedAt.UTC(), int64(r.Duration),
		}
		for _, st := range r.Steps {
			steps = append(steps, []interface{}{
				r.ID, int32(st.Index), st.Description, string(st.Status), st.Message, int64(st.Duration),
			})
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"scenario_results"}, scenarioColumns, pgx.CopyFromRows(results))
	if err != nil {
		return fmt.Errorf("failed to copy scenario results: %w", err)
	}
	if int(n) != len(results) {
		return fmt.Errorf("mismatch in copied scenario results count: expected %d, got %d", len(results), n)
	}

	if len(steps) == 0 {
		return nil
	}
	n, err = tx.CopyFrom(ctx, pgx.Identifier{"step_results"}, stepColumns, pgx.CopyFromRows(steps))
	if err != nil {
		return fmt.Errorf("failed to copy step results: %w", err)
	}
	if int(n) != len(steps) {
		return fmt.Errorf("mismatch in copied step results count: expected %d, got %d", len(steps), n)
	}
	return nil
}

// GetSummary loads a stored run with its results in their original order.
func (s *Store) GetSummary(ctx context.Context, runID string) (*schemas.RunSummary, error) {
	summary, err := s.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	index, err := s.getResults(ctx, summary)
	if err != nil {
		return nil, err
	}
	if err := s.getSteps(ctx, summary, index); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *Store) getRun(ctx context.Context, runID string) (*schemas.RunSummary, error) {
	rows, err := s.pool.Query(ctx, `SELECT run_id, started_at, finished_at FROM walkthrough_runs WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	summary := &schemas.RunSummary{}
	if err := rows.Scan(&summary.RunID, &summary.StartedAt, &summary.FinishedAt); err != nil {
		return nil, fmt.Errorf("failed to scan run row: %w", err)
	}
	return summary, nil
}

// getResults fills summary.Results and returns their positions keyed by result ID.
func (s *Store) getResults(ctx context.Context, summary *schemas.RunSummary) (map[string]int, error) {
	query := `
        SELECT id, scenario_name, source, status, failed_step_index, failure_kind, failure_message, started_at, duration_ns
        FROM scenario_results
        WHERE run_id = $1
        ORDER BY position ASC;
    `
	rows, err := s.pool.Query(ctx, query, summary.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenario results: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		var (
			r          schemas.ExecutionResult
			status     string
			kind       string
			failedStep *int32
			durationNs int64
		)
		if err := rows.Scan(&r.ID, &r.ScenarioName, &r.Source, &status, &failedStep, &kind, &r.FailureMessage, &r.StartedAt, &durationNs); err != nil {
			return nil, fmt.Errorf("failed to scan scenario result row: %w", err)
		}
		r.Status = schemas.Status(status)
		r.Passed = r.Status == schemas.StatusPassed
		r.FailureKind = schemas.FailureKind(kind)
		r.Duration = time.Duration(durationNs)
		if failedStep != nil {
			v := int(*failedStep)
			r.FailedStepIndex = &v
		}
		index[r.ID] = len(summary.Results)
		summary.Results = append(summary.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return index, nil
}

func (s *Store) getSteps(ctx context.Context, summary *schemas.RunSummary, index map[string]int) error {
	query := `
        SELECT s.result_id, s.step_index, s.description, s.status, s.message, s.duration_ns
        FROM step_results s
        JOIN scenario_results r ON r.id = s.result_id
        WHERE r.run_id = $1
        ORDER BY r.position ASC, s.step_index ASC;
    `
	rows, err := s.pool.Query(ctx, query, summary.RunID)
	if err != nil {
		return fmt.Errorf("failed to query step results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			resultID   string
			st         schemas.StepResult
			stepIndex  int32
			status     string
			durationNs int64
		)
		if err := rows.Scan(&resultID, &stepIndex, &st.Description, &status, &st.Message, &durationNs); err != nil {
			return fmt.Errorf("failed to scan step result row: %w", err)
		}
		pos, ok := index[resultID]
		if !ok {
			s.log.Warn("Step result without scenario result", zap.String("result_id", resultID))
			continue
		}
		st.Index = int(stepIndex)
		st.Status = schemas.Status(status)
		st.Duration = time.Duration(durationNs)
		summary.Results[pos].Steps = append(summary.Results[pos].Steps, st)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error during row iteration: %w", err)
	}
	return nil
}
