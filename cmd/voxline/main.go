// Command voxline runs the per-call dialogue core: the HTTP turn endpoint
// plus the operator subcommands for replaying recorded calls and validating
// tenant configuration.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:           "voxline",
		Short:         "Voxline dialogue core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newReplayCmd(), newValidateConfigCmd(), newIndexScenariosCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voxline: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return 1
	}
	return 0
}

// exitError carries a process exit code through cobra's RunE chain.
// Code 2 means an invariant violation (replay divergence, invalid config),
// code 3 means missing data (no recorded events, unknown tenant file).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error { return &exitError{code: code, err: err} }

// newLogger builds the process logger. Level comes from VOXLINE_LOG_LEVEL
// (debug, info, warn, error); anything else falls back to info.
func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(envOr("VOXLINE_LOG_LEVEL", "info"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
