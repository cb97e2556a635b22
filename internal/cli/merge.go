package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"diffrsp/internal/pipeline"
)

func (a *app) mergeCommand() *cobra.Command {
	var (
		stateDir string
		partial  bool
		output   string
	)
	cmd := &cobra.Command{
		Use:   "merge <runID>",
		Short: "Retry the merge of a failed run from its retained worker outputs",
		Long: `merge reads the run ledger of a run whose merge failed and merges the
worker outputs it retained. With --partial a run whose workers partly failed
is merged from the intervals that completed.`,
		Args: exactArgs("runID"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.do(func() (CLIResult, error) {
				return a.merge(cmd, args[0], stateDir, partial, output)
			})
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "run ledger directory (default: run.state_dir, else ./.diffrsp)")
	cmd.Flags().BoolVar(&partial, "partial", false, "merge the completed intervals of a run with failed workers")
	cmd.Flags().StringVar(&output, "output", "", "write the merged file here instead of the run's output")
	return cmd
}

func (a *app) merge(cmd *cobra.Command, runID, stateDir string, partial bool, output string) (CLIResult, error) {
	e, err := a.load(cmd, nil)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	defer func() { _ = e.logger.Sync() }()

	if stateDir == "" {
		stateDir = e.cfg.Run.StateDir
	}
	if stateDir == "" {
		stateDir = ".diffrsp"
	}
	store, err := openStore(stateDir)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	if output != "" {
		if output, err = filepath.Abs(output); err != nil {
			err = invalidInvocationf("--output: %v", err)
			return CLIResult{ExitCode: ExitCode(err)}, err
		}
	}

	e.logger.Info("merging retained outputs", zap.String("run_id", runID), zap.String("state_dir", store.Dir()))
	out, mergeErr := e.newPipeline(store).MergeRun(cmd.Context(), pipeline.MergeRequest{
		RunID:   runID,
		Partial: partial,
		Output:  output,
	})
	res := CLIResult{Outcome: out}
	if out != nil {
		res.ExitCode = outcomeExitCode(out.Status, mergeErr)
		report(a.stdout, out, store.Dir())
	} else {
		res.ExitCode = ExitCode(mergeErr)
	}
	return res, mergeErr
}
