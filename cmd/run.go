// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/walkthrough/api/schemas"
	"github.com/xkilldash9x/walkthrough/internal/browser"
	"github.com/xkilldash9x/walkthrough/internal/config"
	"github.com/xkilldash9x/walkthrough/internal/engine"
	"github.com/xkilldash9x/walkthrough/internal/observability"
	"github.com/xkilldash9x/walkthrough/internal/reporting"
	"github.com/xkilldash9x/walkthrough/internal/runner"
	"github.com/xkilldash9x/walkthrough/internal/scenario"
	"github.com/xkilldash9x/walkthrough/internal/watch"
)

// ErrScenariosFailed is returned by the run command when at least one
// scenario did not pass. main maps it to exit code 1.
var ErrScenariosFailed = errors.New("not all scenarios passed")

const browserShutdownTimeout = 15 * time.Second

// sessionProvider creates the driver session factory for a run. Tests inject
// an in-memory factory instead of launching a browser.
type sessionProvider interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.SessionFactory, func(), error)
}

type defaultSessionProvider struct{}

// NewSessionProvider returns the provider backed by a local or remote Chrome.
func NewSessionProvider() sessionProvider {
	return &defaultSessionProvider{}
}

func (p *defaultSessionProvider) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.SessionFactory, func(), error) {
	manager, err := browser.NewManager(ctx, cfg.Browser(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), browserShutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	return manager, cleanup, nil
}

type runOptions struct {
	paths []string
	tags  []string
	watch bool
}

func newRunCmd(sessions sessionProvider, stores storeProvider) *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run scenario files or directories",
		Long: `Loads every scenario from the given files and directories, runs each one in a
fresh browser session and reports the results. The exit code is 1 when any
scenario did not pass.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			opts.paths = args
			return runScenarios(ctx, cmd.OutOrStdout(), observability.GetLogger(), cfg, opts, sessions, stores)
		},
	}

	runCmd.Flags().StringP("format", "f", reporting.FormatText, "Report format: text, json, junit or sarif.")
	runCmd.Flags().StringP("output", "o", "", "Report file path. If unset, the report is printed to stdout.")
	runCmd.Flags().IntP("concurrency", "j", 0, "Number of scenarios run in parallel. (Overrides config/env)")
	runCmd.Flags().Bool("fail-fast", false, "Stop starting scenarios after the first one that does not pass.")
	runCmd.Flags().Duration("timeout", 0, "Time limit for each scenario, e.g. 2m. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser without a visible window.")
	runCmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Re-run whenever a scenario file changes.")
	runCmd.Flags().StringSliceVarP(&opts.tags, "tag", "t", nil, "Only run scenarios carrying one of these tags.")

	return runCmd
}

// runScenarios holds the testable core of the run command.
func runScenarios(
	ctx context.Context,
	out io.Writer,
	logger *zap.Logger,
	cfg config.Interface,
	opts runOptions,
	sessions sessionProvider,
	stores storeProvider,
) (err error) {
	loader := scenario.NewLoader(cfg.Scenario(), logger)
	load := func() ([]*schemas.Scenario, error) {
		all, err := loader.Load(opts.paths...)
		if err != nil {
			return nil, err
		}
		selected := scenario.Filter(all, opts.tags)
		if len(selected) == 0 {
			return nil, fmt.Errorf("no scenarios found in %v (tags %v)", opts.paths, opts.tags)
		}
		return selected, nil
	}

	scenarios, err := load()
	if err != nil {
		return err
	}

	factory, cleanup, err := sessions.Create(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	var engineOpts []engine.Option
	if cfg.Database().URL != "" {
		st, closeStore, err := stores.Create(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		if closeStore != nil {
			defer closeStore()
		}
		engineOpts = append(engineOpts, engine.WithStore(st))
	}

	eng, err := engine.New(cfg, logger, runner.New(runner.OptionsFromConfig(cfg), logger), factory, engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	reporter, err := newReporter(cfg.Report(), out)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if closeErr := reporter.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to finalize report: %w", closeErr)
		}
	}()

	summary, err := runBatch(ctx, logger, eng, reporter, scenarios)
	if err != nil {
		return err
	}

	if !opts.watch {
		if !summary.AllPassed() {
			return fmt.Errorf("%w: %d of %d", ErrScenariosFailed, summary.Total()-summary.Count(schemas.StatusPassed), summary.Total())
		}
		return nil
	}

	watcher, err := watch.New(opts.paths, logger)
	if err != nil {
		return err
	}
	logger.Info("Watching for scenario changes. Press Ctrl+C to stop.", zap.Strings("paths", opts.paths))
	return watcher.Run(ctx, func(ctx context.Context, changed []string) {
		scenarios, err := load()
		if err != nil {
			logger.Error("Failed to reload scenarios", zap.Error(err))
			return
		}
		if _, err := runBatch(ctx, logger, eng, reporter, scenarios); err != nil {
			logger.Error("Re-run failed", zap.Error(err))
		}
	})
}

// runBatch runs scenarios and writes the summary. A summary that could not be
// persisted is still reported.
func runBatch(ctx context.Context, logger *zap.Logger, eng *engine.Engine, reporter reporting.Reporter, scenarios []*schemas.Scenario) (*schemas.RunSummary, error) {
	summary, err := eng.RunAll(ctx, scenarios)
	if summary == nil {
		return nil, err
	}
	if err != nil {
		logger.Warn("Run finished but could not be stored", zap.String("run_id", summary.RunID), zap.Error(err))
	}
	if err := reporter.Write(summary); err != nil {
		return summary, fmt.Errorf("failed to write report: %w", err)
	}
	return summary, nil
}

// newReporter writes to out unless the configuration names an output file.
func newReporter(rc config.ReportConfig, out io.Writer) (reporting.Reporter, error) {
	format := rc.Format
	if format == "" {
		format = reporting.FormatText
	}
	if rc.Output == "" || rc.Output == "stdout" {
		return reporting.NewWithWriter(format, reporting.NopWriteCloser(out), Version)
	}
	return reporting.New(format, rc.Output, Version)
}
