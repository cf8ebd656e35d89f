package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/internal/scenario"
)

// newValidateConfigCmd checks a tenant's override document against the
// schema, the merged result against the cross-field invariants, and, when a
// state database is configured, the tenant's scenario catalogue. Exit code
// 2 means the configuration is invalid, 3 means the tenant has no override
// file in VOXLINE_CONFIG_DIR.
func newValidateConfigCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "validate-config --tenant <id>",
		Short: "Validate a tenant's configuration overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidateConfig(cmd.Context(), tenantID)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant whose overrides to validate")
	cmd.MarkFlagRequired("tenant")
	return cmd
}

func runValidateConfig(ctx context.Context, tenantID string) error {
	defaults, err := config.LoadDefaults(envOr("VOXLINE_DEFAULTS_FILE", "voxline-defaults.yaml"))
	if err != nil {
		return err
	}

	dir := envOr("VOXLINE_CONFIG_DIR", "")
	if dir == "" {
		return errors.New("VOXLINE_CONFIG_DIR is not set")
	}
	path := filepath.Join(dir, tenantID+".yaml")
	doc, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return exitWith(3, fmt.Errorf("tenant %s has no override file at %s", tenantID, path))
	}
	if err != nil {
		return err
	}

	if err := config.ValidateOverridesYAML(doc); err != nil {
		fmt.Fprintln(os.Stdout, err)
		return exitWith(2, fmt.Errorf("tenant %s overrides are invalid", tenantID))
	}

	source := &config.DirSource{Dir: dir}
	o, err := source.Overrides(tenantID)
	if err != nil {
		return err
	}
	if err := config.ValidateResolved(config.Merge(defaults, o)); err != nil {
		fmt.Fprintln(os.Stdout, err)
		return exitWith(2, fmt.Errorf("tenant %s resolved config violates invariants", tenantID))
	}

	if err := validateCatalogue(ctx, tenantID); err != nil {
		return err
	}

	fmt.Printf("tenant %s configuration is valid\n", tenantID)
	return nil
}

// validateCatalogue checks every scenario of the tenant when a state
// database is reachable. Without one the catalogue check is skipped.
func validateCatalogue(ctx context.Context, tenantID string) error {
	url := envOr("VOXLINE_STATE_DATABASE_URL", "")
	if url == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("connect state database: %w", err)
	}
	defer pool.Close()

	scs, err := scenario.NewPostgresStore(pool).List(ctx, tenantID)
	if err != nil {
		return err
	}
	var bad int
	for _, sc := range scs {
		if err := sc.Validate(); err != nil {
			fmt.Fprintf(os.Stdout, "scenario %s: %v\n", sc.ID, err)
			bad++
		}
	}
	if bad > 0 {
		return exitWith(2, fmt.Errorf("tenant %s has %d invalid scenario(s)", tenantID, bad))
	}
	return nil
}
