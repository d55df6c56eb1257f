// File: cmd/report.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/walkthrough/api/schemas"
	"github.com/xkilldash9x/walkthrough/internal/config"
	"github.com/xkilldash9x/walkthrough/internal/observability"
	"github.com/xkilldash9x/walkthrough/internal/store"
)

// storeProvider defines an interface for components that can create a data store
// (schemas.Store). Tests inject a mock store instead of a live database connection.
type storeProvider interface {
	// Create initializes and returns a schemas.Store, a cleanup function to release
	// resources, and an error if the creation fails.
	Create(ctx context.Context, cfg config.Interface) (schemas.Store, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider is a factory function that creates a new defaultStoreProvider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the database, ensures the schema exists and returns the
// store along with a cleanup function closing the pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (schemas.Store, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, errors.New("database URL is not configured (WALKTHROUGH_DATABASE_URL)")
	}

	s, closePool, err := store.Connect(ctx, cfg.Database().URL, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		closePool()
		logger.Debug("Database connection pool closed.")
	}
	return s, cleanup, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var runID string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render the report of a stored run",
		Long: `Loads a run previously persisted to the database and renders it in any
of the supported report formats.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, cmd.OutOrStdout(), observability.GetLogger(), cfg, runID, provider)
		},
	}

	reportCmd.Flags().StringVar(&runID, "run-id", "", "The ID of the run to report on (required)")
	_ = reportCmd.MarkFlagRequired("run-id")
	reportCmd.Flags().StringP("output", "o", "", "Output file path. If unset, the report is printed to stdout.")
	reportCmd.Flags().StringP("format", "f", "text", "Format for the output report: text, json, junit or sarif.")

	return reportCmd
}

// runReport contains the core, testable logic for rendering a stored run.
func runReport(ctx context.Context, out io.Writer, logger *zap.Logger, cfg config.Interface, runID string, provider storeProvider) (err error) {
	logger.Debug("Loading stored run", zap.String("run_id", runID))

	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	// Mocks may not provide a cleanup.
	if cleanup != nil {
		defer cleanup()
	}

	summary, err := st.GetSummary(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
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

	if err := reporter.Write(summary); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if path := cfg.Report().Output; path != "" && path != "stdout" {
		logger.Info("Report successfully written to file", zap.String("path", path))
	}
	return nil
}
