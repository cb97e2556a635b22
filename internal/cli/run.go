package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"diffrsp/internal/config"
	"diffrsp/internal/core"
	"diffrsp/internal/pipeline"
	"diffrsp/internal/recovery/state"
)

// runFlags are the run overrides; each applies only when set on the
// command line.
type runFlags struct {
	keepTemp         bool
	parallelism      int
	tempDir          string
	onFailure        string
	cleanupOnFailure bool
	metricsFile      string
	stateDir         string
}

func (a *app) runCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <workerCount> <eventFile> <spacecraftFile> <sourceModel> <responseFunctionId> <outputFile>",
		Short: "Partition the event file, compute responses in parallel and merge",
		Long: `run splits the event file's [TSTART, TSTOP) range into workerCount equal
intervals, runs select then diffuse-response on each interval concurrently
and merges the interval outputs into outputFile.

Worker outputs are deleted once merged unless --keep-temp is set. When a
worker fails the merge is skipped and the outputs of the intervals that did
complete are kept and listed, unless --on-failure=partial merges them or
--cleanup-on-failure deletes them.`,
		Args: exactArgs("workerCount", "eventFile", "spacecraftFile", "sourceModel", "responseFunctionId", "outputFile"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.do(func() (CLIResult, error) { return a.run(cmd, args, f) })
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.keepTemp, "keep-temp", false, "keep every worker output")
	fl.IntVar(&f.parallelism, "parallelism", 0, "max concurrent workers (0 = one per interval)")
	fl.StringVar(&f.tempDir, "temp-dir", "", "directory for worker outputs (default: system temp dir)")
	fl.StringVar(&f.onFailure, "on-failure", "", "worker failure policy: fail|partial")
	fl.BoolVar(&f.cleanupOnFailure, "cleanup-on-failure", false, "delete completed worker outputs when the run fails")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "write a Prometheus text exposition of the run here")
	fl.StringVar(&f.stateDir, "state-dir", "", "run ledger directory (default: .diffrsp next to the output)")
	return cmd
}

func (a *app) run(cmd *cobra.Command, args []string, f runFlags) (CLIResult, error) {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return CLIResult{ExitCode: ExitInvalidInvocation}, invalidInvocationf("workerCount must be an integer (got %q)", args[0])
	}
	output, err := filepath.Abs(args[5])
	if err != nil {
		return CLIResult{ExitCode: ExitInvalidInvocation}, invalidInvocationf("outputFile: %v", err)
	}
	if fi, err := os.Stat(filepath.Dir(output)); err != nil || !fi.IsDir() {
		err := configErrorf("output directory %s does not exist", filepath.Dir(output))
		return CLIResult{ExitCode: ExitCode(err)}, err
	}

	fl := cmd.Flags()
	e, err := a.load(cmd, func(cfg *config.Config) error {
		if fl.Changed("keep-temp") {
			cfg.Run.KeepTemp = f.keepTemp
		}
		if fl.Changed("parallelism") {
			if f.parallelism < 0 {
				return invalidInvocationf("--parallelism must be >= 0 (got %d)", f.parallelism)
			}
			cfg.Run.Parallelism = f.parallelism
		}
		if fl.Changed("temp-dir") {
			cfg.Run.TempDir = f.tempDir
		}
		if fl.Changed("on-failure") {
			if _, err := core.ParseFailurePolicy(f.onFailure); err != nil {
				return invalidInvocationf("--on-failure: %v", err)
			}
			cfg.Run.OnFailure = f.onFailure
		}
		if fl.Changed("cleanup-on-failure") {
			cfg.Run.CleanupOnFailure = f.cleanupOnFailure
		}
		if fl.Changed("metrics-file") {
			cfg.Run.MetricsFile = f.metricsFile
		}
		if fl.Changed("state-dir") {
			cfg.Run.StateDir = f.stateDir
		}
		return nil
	})
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	defer func() { _ = e.logger.Sync() }()

	stateDir := e.cfg.Run.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(filepath.Dir(output), ".diffrsp")
	}
	store, err := openStore(stateDir)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}

	req := pipeline.Request{
		Partitions:       n,
		EventFile:        args[1],
		SpacecraftFile:   args[2],
		SourceModel:      args[3],
		ResponseID:       args[4],
		Output:           output,
		Parallelism:      e.cfg.Run.Parallelism,
		TempDir:          e.cfg.Run.TempDir,
		KeepTemp:         e.cfg.Run.KeepTemp,
		Policy:           e.cfg.Policy(),
		CleanupOnFailure: e.cfg.Run.CleanupOnFailure,
	}
	e.logger.Info("starting run",
		zap.Int("intervals", n),
		zap.String("event_file", req.EventFile),
		zap.String("output", output),
		zap.String("policy", string(req.Policy)),
		zap.Bool("keep_temp", req.KeepTemp),
	)

	out, runErr := e.newPipeline(store).Run(cmd.Context(), req)
	res := CLIResult{Outcome: out}
	if out != nil {
		res.ExitCode = outcomeExitCode(out.Status, runErr)
		report(a.stdout, out, store.Dir())
	} else {
		res.ExitCode = ExitCode(runErr)
	}
	return res, runErr
}

func joinInts(ns []int) string {
	s := make([]string, len(ns))
	for i, n := range ns {
		s[i] = strconv.Itoa(n)
	}
	return strings.Join(s, " ")
}

// retryHint is printed when the retained outputs of a run can be merged
// again.
func retryHint(out *pipeline.Outcome, stateDir string) string {
	switch out.Status {
	case state.RunMergeFailed:
		return "diffrsp merge " + out.RunID + " --state-dir " + stateDir
	case state.RunFailed:
		if len(out.Artifacts.Retained) > 0 {
			return "diffrsp merge " + out.RunID + " --state-dir " + stateDir + " --partial"
		}
	}
	return ""
}
