package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/voxlinehq/voxline/internal/journal"
	"github.com/voxlinehq/voxline/internal/replay"
	"github.com/voxlinehq/voxline/internal/scenario"
)

// newReplayCmd re-runs a recorded call against the current configuration and
// prints the divergence report as JSON. Exit code 0 means the replay was
// clean, 2 means at least one decision diverged, 3 means the journal holds
// nothing for the call.
func newReplayCmd() *cobra.Command {
	var (
		tenantID string
		callID   string
		capture  string
	)
	cmd := &cobra.Command{
		Use:   "replay --tenant <id> --call <id>",
		Short: "Replay a recorded call and diff its decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(cmd.Context(), tenantID, callID, capture)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant the call belongs to")
	cmd.Flags().StringVar(&callID, "call", "", "call to replay")
	cmd.Flags().StringVar(&capture, "capture", "", "SQLite capture file (default: VOXLINE_JOURNAL_DATABASE_URL)")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("call")
	return cmd
}

func runReplay(ctx context.Context, tenantID, callID, capture string) error {
	log := newLogger()

	reader, closeReader, err := openJournalReader(ctx, capture)
	if err != nil {
		return err
	}
	defer closeReader()

	resolver, err := buildResolver(log)
	if err != nil {
		return err
	}

	scs, closeScenarios, err := openScenarioStore(ctx)
	if err != nil {
		return err
	}
	defer closeScenarios()

	engine := replay.NewEngine(reader, resolver, scs, log)
	rep, err := engine.Replay(ctx, tenantID, callID)
	if errors.Is(err, replay.ErrNoEvents) {
		return exitWith(3, err)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	if !rep.Clean() {
		return exitWith(2, fmt.Errorf("replay diverged on %d decision(s)", len(rep.Divergences)))
	}
	return nil
}

func openJournalReader(ctx context.Context, capture string) (journal.Reader, func(), error) {
	if capture != "" {
		c, err := journal.OpenSQLite(capture)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}
	url := envOr("VOXLINE_JOURNAL_DATABASE_URL", "")
	if url == "" {
		return nil, nil, errors.New("no journal: pass --capture or set VOXLINE_JOURNAL_DATABASE_URL")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect journal database: %w", err)
	}
	return journal.NewPostgres(pool), pool.Close, nil
}

// openScenarioStore reads the live catalogue when a state database is
// configured. Without one the replay still runs, but every scenario-owned
// turn will diverge to the discovery flow.
func openScenarioStore(ctx context.Context) (scenario.Store, func(), error) {
	url := envOr("VOXLINE_STATE_DATABASE_URL", "")
	if url == "" {
		return scenario.NewMemStore(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect state database: %w", err)
	}
	return scenario.NewPostgresStore(pool), pool.Close, nil
}
