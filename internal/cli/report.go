package cli

import (
	"fmt"
	"io"
	"time"

	"diffrsp/internal/pipeline"
)

// report prints the outcome of a run for the operator. Every retained temp
// file is listed so nothing is left behind unannounced.
func report(w io.Writer, out *pipeline.Outcome, stateDir string) {
	fmt.Fprintf(w, "run %s: %s (%s)\n", out.RunID, out.Status, out.Duration.Round(time.Millisecond))
	if out.Output != "" {
		fmt.Fprintf(w, "output: %s\n", out.Output)
	}
	if len(out.Merged) > 0 {
		fmt.Fprintf(w, "merged intervals: %s\n", joinInts(out.Merged))
	}
	for _, we := range out.Failures() {
		fmt.Fprintf(w, "failed interval %d %s: %s stage", we.Index+1, we.Interval, we.Stage)
		switch {
		case we.Signal != "":
			fmt.Fprintf(w, ", killed by %s", we.Signal)
		case we.ExitCode > 0:
			fmt.Fprintf(w, ", exit status %d", we.ExitCode)
		}
		fmt.Fprintln(w)
	}
	for _, p := range out.Artifacts.Retained {
		fmt.Fprintf(w, "retained: %s\n", p)
	}
	if out.Artifacts.Err != nil {
		fmt.Fprintf(w, "cleanup: %v\n", out.Artifacts.Err)
	}
	if hint := retryHint(out, stateDir); hint != "" {
		fmt.Fprintf(w, "retry merge with: %s\n", hint)
	}
}
