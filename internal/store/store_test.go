package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const sqlInsertRun = `INSERT INTO walkthrough_runs (run_id, started_at, finished_at, total, passed) VALUES ($1, $2, $3, $4, $5)`

func intPtr(i int) *int { return &i }

var (
	started  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished = started.Add(5 * time.Second)
)

func sampleSummary() *schemas.RunSummary {
	return &schemas.RunSummary{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: finished,
		Results: []schemas.ExecutionResult{
			{
				ID: "res-1", ScenarioName: "detail page", Source: "detail.yaml",
				Status: schemas.StatusPassed, Passed: true, StartedAt: started, Duration: time.Second,
				Steps: []schemas.StepResult{
					{Index: 0, Description: "navigate https://x.test/", Status: schemas.StatusPassed, Duration: 500 * time.Millisecond},
					{Index: 1, Description: "exists h1", Status: schemas.StatusPassed, Duration: 100 * time.Millisecond},
				},
			},
			{
				ID: "res-2", ScenarioName: "broken", Source: "broken.yaml",
				Status: schemas.StatusFailed, FailedStepIndex: intPtr(0), FailureKind: schemas.FailureAssertion,
				FailureMessage: "exists assertion failed at step 0", StartedAt: started, Duration: 4 * time.Second,
				Steps: []schemas.StepResult{
					{Index: 0, Description: "exists .missing", Status: schemas.StatusFailed, Message: "observed nothing", Duration: 4 * time.Second},
				},
			},
		},
	}
}

func newStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, *observer.ObservedLogs) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	core, logs := observer.New(zapcore.ErrorLevel)
	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.New(core))
	require.NoError(t, err)
	return s, mockPool, logs
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool, _ := newStore(t)

	mockPool.ExpectExec(flexibleSQLMatcher(schemaSQL)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))

	mockPool.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	err := s.EnsureSchema(context.Background())
	assert.ErrorContains(t, err, "failed to create schema")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a full summary in one transaction", func(t *testing.T) {
		s, mockPool, logs := newStore(t)
		summary := sampleSummary()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs("run-1", started, finished, 2, 1).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"scenario_results"}, scenarioColumns).WillReturnResult(2)
		mockPool.ExpectCopyFrom(pgx.Identifier{"step_results"}, stepColumns).WillReturnResult(3)
		mockPool.ExpectCommit()

		require.NoError(t, s.SaveSummary(ctx, summary))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, logs.Len(), "no errors should be logged on success")
	})

	t.Run("should skip copies for an empty run", func(t *testing.T) {
		s, mockPool, _ := newStore(t)
		summary := &schemas.RunSummary{RunID: "run-empty", StartedAt: started, FinishedAt: finished}

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs("run-empty", started, finished, 0, 0).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		require.NoError(t, s.SaveSummary(ctx, summary))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the copy fails", func(t *testing.T) {
		s, mockPool, logs := newStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"scenario_results"}, scenarioColumns).
			WillReturnError(errors.New("disk full"))
		mockPool.ExpectRollback()

		err := s.SaveSummary(ctx, sampleSummary())
		assert.ErrorContains(t, err, "failed to copy scenario results: disk full")
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, logs.Len())
	})

	t.Run("should detect a short copy", func(t *testing.T) {
		s, mockPool, _ := newStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"scenario_results"}, scenarioColumns).WillReturnResult(2)
		mockPool.ExpectCopyFrom(pgx.Identifier{"step_results"}, stepColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.SaveSummary(ctx, sampleSummary())
		assert.ErrorContains(t, err, "mismatch in copied step results count: expected 3, got 1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should log a failed rollback", func(t *testing.T) {
		s, mockPool, logs := newStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("duplicate key"))
		mockPool.ExpectRollback().WillReturnError(errors.New("connection reset"))

		err := s.SaveSummary(ctx, sampleSummary())
		assert.ErrorContains(t, err, "failed to insert run run-1: duplicate key")
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "Failed to rollback transaction", logs.All()[0].Message)
	})

	t.Run("should report begin failures", func(t *testing.T) {
		s, mockPool, _ := newStore(t)
		mockPool.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := s.SaveSummary(ctx, sampleSummary())
		assert.ErrorContains(t, err, "failed to begin transaction")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("should rebuild the summary in order", func(t *testing.T) {
		s, mockPool, _ := newStore(t)

		mockPool.ExpectQuery("FROM walkthrough_runs").WithArgs("run-1").
			WillReturnRows(pgxmock.NewRows([]string{"run_id", "started_at", "finished_at"}).
				AddRow("run-1", started, finished))

		failed := int32(0)
		mockPool.ExpectQuery("FROM scenario_results").WithArgs("run-1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "scenario_name", "source", "status", "failed_step_index", "failure_kind", "failure_message", "started_at", "duration_ns"}).
				AddRow("res-1", "detail page", "detail.yaml", "passed", nil, "", "", started, int64(time.Second)).
				AddRow("res-2", "broken", "broken.yaml", "failed", &failed, "assertion", "exists assertion failed at step 0", started, int64(4*time.Second)))

		mockPool.ExpectQuery("FROM step_results").WithArgs("run-1").
			WillReturnRows(pgxmock.NewRows([]string{"result_id", "step_index", "description", "status", "message", "duration_ns"}).
				AddRow("res-1", int32(0), "navigate https://x.test/", "passed", "", int64(500*time.Millisecond)).
				AddRow("res-1", int32(1), "exists h1", "passed", "", int64(100*time.Millisecond)).
				AddRow("res-2", int32(0), "exists .missing", "failed", "observed nothing", int64(4*time.Second)).
				AddRow("res-9", int32(0), "orphan", "passed", "", int64(0)))

		got, err := s.GetSummary(ctx, "run-1")
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())

		assert.Equal(t, sampleSummary(), got)
	})

	t.Run("should return ErrRunNotFound", func(t *testing.T) {
		s, mockPool, _ := newStore(t)
		mockPool.ExpectQuery("FROM walkthrough_runs").WithArgs("nope").
			WillReturnRows(pgxmock.NewRows([]string{"run_id", "started_at", "finished_at"}))

		_, err := s.GetSummary(ctx, "nope")
		assert.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("should wrap query errors", func(t *testing.T) {
		s, mockPool, _ := newStore(t)
		mockPool.ExpectQuery("FROM walkthrough_runs").WithArgs("run-1").
			WillReturnRows(pgxmock.NewRows([]string{"run_id", "started_at", "finished_at"}).
				AddRow("run-1", started, finished))
		mockPool.ExpectQuery("FROM scenario_results").WithArgs("run-1").WillReturnError(errors.New("timeout"))

		_, err := s.GetSummary(ctx, "run-1")
		assert.ErrorContains(t, err, "failed to query scenario results: timeout")
	})
}
