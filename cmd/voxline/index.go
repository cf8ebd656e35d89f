package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/voxlinehq/voxline/internal/scenario"
	embedopenai "github.com/voxlinehq/voxline/pkg/provider/embeddings/openai"
)

// newIndexScenariosCmd rebuilds a tenant's scenario trigger embeddings after
// catalogue edits. Exit code 2 means the catalogue contains near-duplicate
// scenarios the admin should merge.
func newIndexScenariosCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "index-scenarios --tenant <id>",
		Short: "Rebuild a tenant's scenario embeddings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndexScenarios(cmd.Context(), tenantID)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant whose catalogue to index")
	cmd.MarkFlagRequired("tenant")
	return cmd
}

func runIndexScenarios(ctx context.Context, tenantID string) error {
	log := newLogger()

	url := envOr("VOXLINE_STATE_DATABASE_URL", "")
	if url == "" {
		return errors.New("index-scenarios needs VOXLINE_STATE_DATABASE_URL")
	}
	key := envOr("VOXLINE_EMBEDDINGS_API_KEY", "")
	if key == "" {
		return errors.New("index-scenarios needs VOXLINE_EMBEDDINGS_API_KEY")
	}

	var provOpts []embedopenai.Option
	if base := envOr("VOXLINE_EMBEDDINGS_BASE_URL", ""); base != "" {
		provOpts = append(provOpts, embedopenai.WithBaseURL(base))
	}
	embedder, err := embedopenai.New(key, envOr("VOXLINE_EMBEDDINGS_MODEL", "text-embedding-3-small"), provOpts...)
	if err != nil {
		return fmt.Errorf("build embeddings provider: %w", err)
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("connect state database: %w", err)
	}
	defer pool.Close()

	store := scenario.NewPostgresStore(pool)
	if err := store.Init(ctx); err != nil {
		return err
	}

	rep, err := scenario.NewIndexer(store, embedder, log).Index(ctx, tenantID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	if len(rep.Overlaps) > 0 {
		return exitWith(2, fmt.Errorf("catalogue has %d near-duplicate scenario pair(s)", len(rep.Overlaps)))
	}
	return nil
}
