// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/walkthrough/api/schemas"
	"github.com/xkilldash9x/walkthrough/internal/config"
	"github.com/xkilldash9x/walkthrough/internal/ctxutil"
	"github.com/xkilldash9x/walkthrough/internal/observability"
)

// -- Interfaces for Dependency Inversion --

// ScenarioRunner executes a single scenario against a driver. *runner.Runner
// satisfies it.
type ScenarioRunner interface {
	Run(ctx context.Context, sc *schemas.Scenario, driver schemas.UiDriver) (*schemas.ExecutionResult, error)
}

// ResultHook is called once per scenario as soon as its result is final.
// Hooks may be called concurrently.
type ResultHook func(result schemas.ExecutionResult)

const (
	sessionCloseTimeout = 10 * time.Second
	persistTimeout      = 30 * time.Second
)

// Engine runs a batch of scenarios, each in its own fresh driver session,
// with bounded concurrency.
type Engine struct {
	cfg      config.Interface
	logger   *zap.Logger
	runner   ScenarioRunner
	sessions schemas.SessionFactory
	store    schemas.Store
	hooks    []ResultHook
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithStore persists every run summary to store.
func WithStore(store schemas.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithResultHook registers a hook receiving each result as it completes.
func WithResultHook(hook ResultHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, hook) }
}

// New creates an Engine.
func New(cfg config.Interface, logger *zap.Logger, runner ScenarioRunner, sessions schemas.SessionFactory, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if sessions == nil {
		return nil, errors.New("session factory cannot be nil")
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "engine")),
		runner:   runner,
		sessions: sessions,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RunAll executes scenarios and returns their results in declaration order.
//
// A failing scenario never aborts the batch unless fail-fast is enabled, in
// which case scenarios not yet started are reported as cancelled. Cancelling
// ctx has the same effect for scenarios not yet started and stops in-flight
// scenarios at their next step boundary. The returned error is only non-nil
// for invalid input or when persisting the summary failed; in the latter case
// the summary is still returned.
func (e *Engine) RunAll(ctx context.Context, scenarios []*schemas.Scenario) (*schemas.RunSummary, error) {
	for i, sc := range scenarios {
		if sc == nil {
			return nil, fmt.Errorf("scenario %d is nil", i)
		}
		if len(sc.Steps) == 0 {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, schemas.ErrEmptyScenario)
		}
	}

	ec := e.cfg.Engine()
	concurrency := ec.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	var limiter *rate.Limiter
	if ec.LaunchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(ec.LaunchRate), 1)
	}

	summary := &schemas.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Results:   make([]schemas.ExecutionResult, len(scenarios)),
	}
	logger := e.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("Starting scenario batch",
		zap.Int("scenarios", len(scenarios)),
		zap.Int("concurrency", concurrency),
		zap.Bool("fail_fast", ec.FailFast))

	var stopped atomic.Bool
	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	for i, sc := range scenarios {
		if limiter != nil && !stopped.Load() {
			if err := limiter.Wait(ctx); err != nil {
				logger.Debug("Launch rate wait interrupted", zap.Error(err))
			}
		}

		// Go blocks while the pool is full, so scenarios start in declaration order.
		g.Go(func() error {
			res := e.runOne(ctx, summary.RunID, sc, ec, &stopped)
			summary.Results[i] = res
			for _, hook := range e.hooks {
				hook(res)
			}
			return nil
		})
	}
	_ = g.Wait()
	summary.FinishedAt = time.Now().UTC()

	logger.Info("Scenario batch finished",
		zap.Int("passed", summary.Count(schemas.StatusPassed)),
		zap.Int("failed", summary.Count(schemas.StatusFailed)),
		zap.Int("errored", summary.Count(schemas.StatusErrored)),
		zap.Int("cancelled", summary.Count(schemas.StatusCancelled)),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)))

	if e.store != nil {
		// Persist even when ctx was cancelled; the results are still worth keeping.
		persistCtx, cancel := context.WithTimeout(ctxutil.Detach(ctx), persistTimeout)
		defer cancel()
		if err := e.store.SaveSummary(persistCtx, summary); err != nil {
			logger.Error("Failed to persist run summary", zap.Error(err))
			return summary, fmt.Errorf("failed to persist run summary: %w", err)
		}
	}
	return summary, nil
}

// runOne runs a single scenario in a fresh session and always produces a result.
func (e *Engine) runOne(ctx context.Context, runID string, sc *schemas.Scenario, ec config.EngineConfig, stopped *atomic.Bool) schemas.ExecutionResult {
	logger := e.logger.With(observability.ScenarioFields(runID, sc.Name, sc.Source)...)

	if stopped.Load() {
		return notRun(sc, schemas.StatusCancelled, schemas.FailureCancelled, "not started: an earlier scenario failed and fail-fast is enabled")
	}
	if err := ctx.Err(); err != nil {
		return notRun(sc, schemas.StatusCancelled, schemas.FailureCancelled, fmt.Sprintf("not started: %v", err))
	}

	session, err := e.sessions.NewSession(ctx)
	if err != nil {
		logger.Error("Failed to open driver session", zap.Error(err))
		e.markFailure(ec, stopped)
		return notRun(sc, schemas.StatusErrored, schemas.FailureDriver, fmt.Sprintf("failed to open driver session: %v", err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(ctxutil.Detach(ctx), sessionCloseTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			logger.Warn("Failed to close driver session", zap.String("session_id", session.ID()), zap.Error(err))
		}
	}()

	runCtx := ctx
	if ec.ScenarioTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, ec.ScenarioTimeout)
		defer cancel()
	}

	logger.Debug("Running scenario", zap.String("session_id", session.ID()))
	result, err := e.runner.Run(runCtx, sc, session)
	if err != nil {
		logger.Error("Driver failure while running scenario", zap.Error(err))
	}
	if result == nil {
		msg := "runner returned no result"
		if err != nil {
			msg = err.Error()
		}
		result = ptr(notRun(sc, schemas.StatusErrored, schemas.FailureDriver, msg))
	}
	if !result.Passed {
		e.markFailure(ec, stopped)
	}
	return *result
}

func (e *Engine) markFailure(ec config.EngineConfig, stopped *atomic.Bool) {
	if ec.FailFast && !stopped.Swap(true) {
		e.logger.Info("Fail-fast triggered; remaining scenarios will not be started")
	}
}

// notRun builds the result of a scenario whose steps never executed.
// FailedStepIndex stays nil since no step was attempted.
func notRun(sc *schemas.Scenario, status schemas.Status, kind schemas.FailureKind, msg string) schemas.ExecutionResult {
	steps := make([]schemas.StepResult, len(sc.Steps))
	for i, s := range sc.Steps {
		steps[i] = schemas.StepResult{Index: i, Description: s.Describe(), Status: schemas.StatusSkipped}
	}
	return schemas.ExecutionResult{
		ID:             uuid.NewString(),
		ScenarioName:   sc.Name,
		Source:         sc.Source,
		Status:         status,
		FailureKind:    kind,
		FailureMessage: msg,
		Steps:          steps,
		StartedAt:      time.Now().UTC(),
	}
}

func ptr[T any](v T) *T { return &v }
