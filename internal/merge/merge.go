// Package merge reassembles worker outputs into the final event file.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"diffrsp/internal/artifact"
	"diffrsp/internal/core"
	"diffrsp/internal/tool"
)

// RegionReader returns the selection region recorded in an event file.
// *metadata.Reader implements it.
type RegionReader interface {
	ReadRegion(path string) (core.Region, error)
}

// Artifacts hands out scratch files. *artifact.Manager implements it.
type Artifacts interface {
	Allocate(kind artifact.Kind, label, ext string) (string, error)
	Release(paths ...string) error
}

// Merger combines per-interval outputs.
type Merger struct {
	Runner    tool.Runner
	Suite     tool.Suite
	Regions   RegionReader
	Artifacts Artifacts
	Logger    *zap.Logger
}

// Merge writes the combination of inputs, in the given order, to output.
//
// A single input is copied byte for byte and left in place. Several inputs
// are concatenated by the select tool over an @list file with open time
// bounds and the region of the first input.
//
// output is first written under a hidden sibling name and renamed into place
// on success, so it either appears complete or keeps its previous state.
// Inputs are never modified. Failures are *core.MergeError.
func (m *Merger) Merge(ctx context.Context, inputs []string, output string) error {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fail := func(cause error) error {
		return &core.MergeError{Output: output, Inputs: append([]string(nil), inputs...), Cause: cause}
	}
	if len(inputs) == 0 {
		return fail(errors.New("no inputs"))
	}
	if strings.TrimSpace(output) == "" {
		return fail(errors.New("output path is empty"))
	}

	staging := stagingPath(output)
	defer os.Remove(staging) // no-op after a successful rename

	var err error
	if len(inputs) == 1 {
		logger.Info("copying single interval output", zap.String("input", inputs[0]), zap.String("output", output))
		err = copyFile(inputs[0], staging)
	} else {
		logger.Info("merging interval outputs", zap.Int("inputs", len(inputs)), zap.String("output", output))
		err = m.concat(ctx, inputs, staging)
	}
	if err != nil {
		return fail(err)
	}

	if err := os.Rename(staging, output); err != nil {
		return fail(fmt.Errorf("rename into place: %w", err))
	}
	logger.Info("wrote merged output", zap.String("output", output))
	return nil
}

func (m *Merger) concat(ctx context.Context, inputs []string, staging string) error {
	if m.Runner == nil || m.Regions == nil || m.Artifacts == nil {
		return errors.New("merger is not fully configured")
	}
	region, err := m.Regions.ReadRegion(inputs[0])
	if err != nil {
		return fmt.Errorf("read region of %s: %w", inputs[0], err)
	}

	list, err := m.Artifacts.Allocate(artifact.KindScratch, "inputs", ".txt")
	if err != nil {
		return err
	}
	defer func() { _ = m.Artifacts.Release(list) }()
	if err := os.WriteFile(list, []byte(strings.Join(inputs, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write input list: %w", err)
	}

	inv := m.Suite.Select(tool.Selection{
		InFile:  "@" + list,
		OutFile: staging,
		Region:  region,
		Chatter: 0,
	})
	res, err := m.Runner.Execute(ctx, inv)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		msg := fmt.Sprintf("select exited with status %d", res.ExitCode)
		if tail := tool.Tail(res.Stderr, 8); tail != "" {
			msg += ": " + tail
		}
		return errors.New(msg)
	}
	if _, err := os.Stat(staging); err != nil {
		return fmt.Errorf("select produced no output: %w", err)
	}
	return nil
}

// stagingPath returns a hidden, unique name next to output.
func stagingPath(output string) string {
	dir, base := filepath.Split(output)
	return filepath.Join(dir, "."+base+".partial-"+uuid.NewString()[:8])
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Sync()
}
