// Package tool runs the external science tools (the select and response
// stages) as child processes.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Arg is one key=value parameter of a tool invocation.
type Arg struct {
	Key   string
	Value string
}

// Invocation is one call of an external tool. Parameters are passed in the
// key=value form the science tools accept on their command line, in order.
type Invocation struct {
	Tool string
	Args []Arg
}

// Argv returns the argument vector without the tool name.
func (inv Invocation) Argv() []string {
	out := make([]string, len(inv.Args))
	for i, a := range inv.Args {
		out[i] = a.Key + "=" + a.Value
	}
	return out
}

// CommandLine renders the invocation for logs.
func (inv Invocation) CommandLine() string {
	return strings.TrimSpace(inv.Tool + " " + strings.Join(inv.Argv(), " "))
}

// Get returns the value of key, or "" when absent.
func (inv Invocation) Get(key string) string {
	for _, a := range inv.Args {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Result contains the outcome of a finished invocation.
type Result struct {
	Stdout []byte
	Stderr []byte

	// ExitCode is the process exit status; 0 is success. A tool killed by a
	// signal gets 128 plus the signal number, as a shell reports it.
	ExitCode int

	// Signal names the signal that killed the tool, e.g. SIGKILL. Empty when
	// the tool exited on its own.
	Signal string

	Duration time.Duration
}

// Runner executes invocations. A non-nil error means the process could not be
// run at all; a non-zero ExitCode means it ran and failed.
type Runner interface {
	Execute(ctx context.Context, inv Invocation) (*Result, error)
}

// Executor runs tools as child processes.
//
// Unlike a sandboxed runner, the tools inherit the parent environment: the
// science tools locate their calibration database and parameter files through
// it. Env entries are appended and win over inherited values.
type Executor struct {
	Env        []string
	WorkingDir string
	Logger     *zap.Logger
}

// NewExecutor creates an Executor. A nil logger disables logging.
func NewExecutor(env []string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{Env: env, Logger: logger}
}

// Execute runs inv to completion.
//
// The child runs in its own process group; if ctx is cancelled the whole group
// is killed so no orphaned tool keeps writing into the temp directory.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	if strings.TrimSpace(inv.Tool) == "" {
		return nil, fmt.Errorf("tool is empty")
	}

	cmd := exec.Command(inv.Tool, inv.Argv()...)
	cmd.Dir = e.WorkingDir
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.Logger.Debug("starting tool", zap.String("command", inv.CommandLine()))
	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", inv.Tool, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("%s cancelled: %w", inv.Tool, ctx.Err())
	case err = <-done:
	}

	res := &Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", inv.Tool, err)
		}
		res.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.ExitCode = 128 + int(ws.Signal())
			res.Signal = signalName(ws.Signal())
		}
	}
	res.Duration = time.Since(started)

	e.Logger.Debug("tool finished",
		zap.String("tool", inv.Tool),
		zap.Int("exit_code", res.ExitCode),
		zap.String("signal", res.Signal),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func signalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", int(sig))
}

// Tail returns at most the last n non-empty lines of out.
func Tail(out []byte, n int) string {
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		kept = append(kept, lines[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}
