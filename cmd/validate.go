package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/walkthrough/internal/config"
	"github.com/xkilldash9x/walkthrough/internal/observability"
	"github.com/xkilldash9x/walkthrough/internal/scenario"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Check scenario files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), observability.GetLogger(), cfg, args)
		},
	}
}

func runValidate(out io.Writer, logger *zap.Logger, cfg config.Interface, paths []string) error {
	scenarios, err := scenario.NewLoader(cfg.Scenario(), logger).Load(paths...)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	for _, sc := range scenarios {
		fmt.Fprintf(out, "ok  %s (%s, %d steps)\n", sc.Name, sc.Source, len(sc.Steps))
	}
	fmt.Fprintf(out, "%d scenario(s) valid.\n", len(scenarios))
	return nil
}
