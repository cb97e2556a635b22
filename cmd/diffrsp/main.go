package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"diffrsp/internal/cli"
)

// main only wires process concerns: signals, stdio and the exit code.
// An interrupt cancels the run, which kills the running tool process groups.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result, err := cli.Run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "diffrsp:", err)
	}
	os.Exit(result.ExitCode)
}
