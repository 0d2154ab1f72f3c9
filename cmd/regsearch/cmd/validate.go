package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/regsearch/internal/output"
	"github.com/Aman-CERP/regsearch/internal/validation"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate <queries.yaml>",
		Short: "Run golden queries against the loaded corpus",
		Long: `Run every query in a golden query file and report where the expected
passages ranked. Core and negative queries must pass; extended queries
are reported but do not fail the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := validation.LoadQueries(args[0])
			if err != nil {
				return err
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			logger := slog.Default()
			rt, err := openRuntime(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					logger.Warn("close failed", slog.String("error", err.Error()))
				}
			}()

			result := validation.NewValidator(rt.engine).RunAll(cmd.Context(), queries)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				printValidation(output.New(cmd.OutOrStdout()), result)
			}

			if !result.OK() {
				return fmt.Errorf("validation failed: core %d/%d, negative %d/%d",
					result.Core.Passed, result.Core.Total,
					result.Negative.Passed, result.Negative.Total)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}

func printValidation(w *output.Writer, result *validation.ValidationResult) {
	suites := []struct {
		name string
		res  validation.SuiteResult
	}{
		{"Core", result.Core},
		{"Extended", result.Extended},
		{"Negative", result.Negative},
	}
	for _, s := range suites {
		if s.res.Total == 0 {
			continue
		}
		w.Statusf("📋", "%s: %d/%d passed", s.name, s.res.Passed, s.res.Total)
		for _, r := range s.res.Results {
			line := fmt.Sprintf("%s %s", r.Spec.ID, r.Spec.Query.Text)
			switch {
			case r.Error != "":
				w.Error(line + ": " + r.Error)
			case r.Passed && r.MatchedAt > 0:
				w.Successf("%s (rank %d)", line, r.MatchedAt)
			case r.Passed:
				w.Success(line)
			default:
				w.Warningf("%s: got [%s]", line, strings.Join(r.TopResults, ", "))
			}
		}
	}
	w.Newline()
	w.Statusf("📈", "MRR %.3f", result.MRR)
}
