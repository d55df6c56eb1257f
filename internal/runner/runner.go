// internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/walkthrough/api/schemas"
	"github.com/xkilldash9x/walkthrough/internal/config"
	"github.com/xkilldash9x/walkthrough/internal/ctxutil"
	"go.uber.org/zap"
)

// Options tunes step execution.
type Options struct {
	// DefaultTimeout is the polling window of steps without their own timeout.
	DefaultTimeout time.Duration
	PollInterval   time.Duration
	// ActionTimeout bounds a single driver primitive such as a navigation.
	ActionTimeout time.Duration
	Login         config.LoginConfig
}

// DefaultOptions returns the options used for any zero field passed to New.
func DefaultOptions() Options {
	return Options{
		DefaultTimeout: 4 * time.Second,
		PollInterval:   100 * time.Millisecond,
		ActionTimeout:  30 * time.Second,
		Login: config.LoginConfig{
			UsernameSelector: "#username",
			PasswordSelector: "#password",
			SubmitSelector:   "button[type=submit]",
		},
	}
}

// OptionsFromConfig builds runner options from the application configuration.
func OptionsFromConfig(cfg config.Interface) Options {
	rc := cfg.Runner()
	return Options{
		DefaultTimeout: rc.DefaultTimeout,
		PollInterval:   rc.PollInterval,
		ActionTimeout:  rc.ActionTimeout,
		Login:          cfg.Scenario().Login,
	}
}

// Runner executes scenarios against a UiDriver. It holds no state between
// runs and is safe for concurrent use with distinct drivers.
type Runner struct {
	logger *zap.Logger
	opts   Options
}

// New creates a Runner. Zero-valued options fall back to DefaultOptions.
func New(opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = def.DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = def.ActionTimeout
	}
	if opts.Login.UsernameSelector == "" {
		opts.Login.UsernameSelector = def.Login.UsernameSelector
	}
	if opts.Login.PasswordSelector == "" {
		opts.Login.PasswordSelector = def.Login.PasswordSelector
	}
	if opts.Login.SubmitSelector == "" {
		opts.Login.SubmitSelector = def.Login.SubmitSelector
	}
	return &Runner{logger: logger.Named("runner"), opts: opts}
}

// Run executes the steps of sc in order against driver and stops at the first
// step that does not succeed.
//
// Failed and cancelled scenarios are test outcomes: they are described by the
// returned result and the error is nil. A *DriverError means the automation
// surface itself broke; it is returned together with an errored result.
// Cancellation of ctx is honored between steps only.
func (r *Runner) Run(ctx context.Context, sc *schemas.Scenario, driver schemas.UiDriver) (*schemas.ExecutionResult, error) {
	if sc == nil {
		return nil, errors.New("scenario cannot be nil")
	}
	if driver == nil {
		return nil, errors.New("driver cannot be nil")
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, schemas.ErrEmptyScenario)
	}

	logger := r.logger.With(zap.String("scenario", sc.Name))
	started := time.Now()
	m := newMachine(sc, started)

	var stepErr error
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			m.cancel(i, err)
			logger.Info("Scenario cancelled", zap.Int("before_step", i))
			break
		}

		m.begin(i)
		stepStart := time.Now()
		stepErr = r.RunStep(ctx, driver, i, step)
		m.stepDone(time.Since(stepStart), stepErr)

		if stepErr != nil {
			logger.Debug("Step did not succeed",
				zap.Int("step", i),
				zap.String("description", step.Describe()),
				zap.Error(stepErr))
			break
		}
		logger.Debug("Step passed",
			zap.Int("step", i),
			zap.String("description", step.Describe()),
			zap.Duration("duration", time.Since(stepStart)))
	}
	if m.phase == phaseRunning {
		m.complete()
	}
	result := m.finish(time.Since(started))

	fields := []zap.Field{zap.String("status", string(result.Status)), zap.Duration("duration", result.Duration)}
	if result.FailedStepIndex != nil {
		fields = append(fields, zap.Int("failed_step", *result.FailedStepIndex), zap.String("failure", result.FailureMessage))
	}
	logger.Info("Scenario finished", fields...)

	if m.phase == phaseErrored {
		var drvErr *DriverError
		if errors.As(stepErr, &drvErr) {
			return result, drvErr
		}
		return result, stepErr
	}
	return result, nil
}

// RunStep executes a single step and returns the typed error describing why
// it did not succeed: *ActionError, *AssertionFailure, *SelectorError or
// *DriverError. The step runs on a context detached from ctx's cancellation
// and bounded by the step's own windows.
func (r *Runner) RunStep(ctx context.Context, driver schemas.UiDriver, index int, step schemas.Step) error {
	stepCtx := ctxutil.Detach(ctx)
	switch {
	case step.Action != nil:
		return r.runAction(stepCtx, driver, index, step)
	case step.Assertion != nil:
		return r.runAssertion(stepCtx, driver, index, step)
	default:
		return &ActionError{StepIndex: index, Reason: "step has no action or assertion"}
	}
}

func (r *Runner) window(step schemas.Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return r.opts.DefaultTimeout
}
