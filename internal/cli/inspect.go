package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"diffrsp/internal/core"
	"diffrsp/internal/metadata"
)

func (a *app) inspectCommand() *cobra.Command {
	var asJSON bool
	var n int
	cmd := &cobra.Command{
		Use:   "inspect <eventFile>",
		Short: "Print the time range and region a run would partition",
		Args:  exactArgs("eventFile"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.do(func() (CLIResult, error) { return a.inspect(args[0], n, asJSON) })
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the metadata as JSON")
	cmd.Flags().IntVar(&n, "intervals", 0, "also print the partition into this many intervals")
	return cmd
}

func (a *app) inspect(path string, n int, asJSON bool) (CLIResult, error) {
	ds, err := metadata.Reader{}.Read(path)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	var intervals []core.Interval
	if n != 0 {
		if intervals, err = core.Partition(ds.Start, ds.Stop, n); err != nil {
			return CLIResult{ExitCode: ExitCode(err)}, err
		}
	}

	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		err := enc.Encode(struct {
			core.Dataset
			Intervals []core.Interval `json:"intervals,omitempty"`
		}{ds, intervals})
		if err != nil {
			return CLIResult{ExitCode: ExitInternalError}, err
		}
		return CLIResult{ExitCode: ExitSuccess}, nil
	}

	fmt.Fprintf(a.stdout, "event file: %s\n", ds.Path)
	fmt.Fprintf(a.stdout, "TSTART: %s\n", core.FormatFloat(ds.Start))
	fmt.Fprintf(a.stdout, "TSTOP: %s\n", core.FormatFloat(ds.Stop))
	fmt.Fprintf(a.stdout, "region: %s\n", ds.Region)
	for i, iv := range intervals {
		fmt.Fprintf(a.stdout, "interval %d: %s\n", i+1, iv)
	}
	return CLIResult{ExitCode: ExitSuccess}, nil
}
