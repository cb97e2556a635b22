// Package cli maps command lines onto pipeline runs and their outcomes onto
// semantic exit codes.
package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"diffrsp/internal/config"
	"diffrsp/internal/logging"
	"diffrsp/internal/metadata"
	"diffrsp/internal/pipeline"
	"diffrsp/internal/recovery/state"
	"diffrsp/internal/tool"
)

// CLIResult is the outcome of one invocation.
type CLIResult struct {
	ExitCode int

	// Outcome is set by run and merge once the pipeline started.
	Outcome *pipeline.Outcome
}

// Run parses args (excluding argv[0]), executes the command and returns the
// semantic exit code plus any error. Reports go to stdout; logs go to
// stderr.
func Run(ctx context.Context, args []string, stdout io.Writer) (res CLIResult, err error) {
	res.ExitCode = ExitInternalError
	defer func() {
		if r := recover(); r != nil {
			res = CLIResult{ExitCode: ExitInternalError}
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if args == nil {
		// cobra falls back to os.Args on nil
		args = []string{}
	}
	a := &app{stdout: stdout}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(io.Discard)

	if execErr := root.ExecuteContext(ctx); execErr != nil && !a.ran {
		// Cobra rejected the command line before any RunE started.
		if ExitCode(execErr) == ExitInternalError {
			execErr = invalidInvocationf("%v", execErr)
		}
		return CLIResult{ExitCode: ExitCode(execErr)}, execErr
	}
	return a.result, a.err
}

type app struct {
	stdout io.Writer

	configPath string
	verbose    bool

	// ran is set once a RunE started; result and err hold its outcome.
	ran    bool
	result CLIResult
	err    error
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "diffrsp",
		Short: "Compute diffuse responses for an event file in parallel",
		Long: `diffrsp splits an event file into equal time intervals, runs the
select and diffuse-response tools on each interval concurrently and merges
the results into a single output file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})

	root.AddCommand(a.runCommand(), a.mergeCommand(), a.inspectCommand())
	return root
}

// do runs fn as the command body and records its result.
func (a *app) do(fn func() (CLIResult, error)) error {
	a.ran = true
	a.result, a.err = fn()
	return a.err
}

func exactArgs(names ...string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != len(names) {
			return invalidInvocationf("expected %d arguments (%v), got %d", len(names), names, len(args))
		}
		for i, v := range args {
			if v == "" {
				return invalidInvocationf("%s must not be empty", names[i])
			}
		}
		return nil
	}
}

// env is what every subcommand needs after config loading.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	runner *tool.Executor
}

func (a *app) load(cmd *cobra.Command, override func(*config.Config) error) (*env, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	if override != nil {
		if err := override(cfg); err != nil {
			return nil, err
		}
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, configErrorf("config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, configErrorf("logging: %v", err)
	}
	vars, err := cfg.Environment()
	if err != nil {
		_ = logger.Sync()
		return nil, configErrorf("%v", err)
	}
	logger.Debug("loaded configuration",
		zap.String("command", cmd.Name()),
		zap.String("config", a.configPath),
		zap.String("select_tool", cfg.Tools.Select),
		zap.String("response_tool", cfg.Tools.Response),
		zap.Int("env_vars", len(vars)),
	)
	return &env{cfg: cfg, logger: logger, runner: tool.NewExecutor(vars, logger)}, nil
}

func (e *env) newPipeline(store *state.Store) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Reader:      metadata.Reader{},
		Runner:      e.runner,
		Suite:       e.cfg.Suite(),
		Ledger:      &state.FailureRecorder{Store: store},
		MetricsFile: e.cfg.Run.MetricsFile,
		Logger:      e.logger,
	}
}

func openStore(dir string) (*state.Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, configErrorf("state dir: %v", err)
	}
	st, err := state.NewStore(abs)
	if err != nil {
		return nil, configErrorf("state dir: %v", err)
	}
	return st, nil
}
