package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/voxlinehq/voxline/internal/callstate"
	"github.com/voxlinehq/voxline/internal/config"
	"github.com/voxlinehq/voxline/internal/httpapi"
	"github.com/voxlinehq/voxline/internal/journal"
	"github.com/voxlinehq/voxline/internal/observe"
	"github.com/voxlinehq/voxline/internal/pipeline"
	"github.com/voxlinehq/voxline/internal/resilience"
	"github.com/voxlinehq/voxline/internal/scenario"
	llmopenai "github.com/voxlinehq/voxline/pkg/provider/llm/openai"
)

// Environment variables read by serve. Stores without a connection string
// fall back to in-memory implementations, which is only suitable for local
// development.
//
//	VOXLINE_LISTEN_ADDR           HTTP listen address (default ":8080")
//	VOXLINE_STATE_DATABASE_URL    Postgres for call state and scenarios
//	VOXLINE_JOURNAL_DATABASE_URL  Postgres for the event journal
//	VOXLINE_JOURNAL_CAPTURE       SQLite capture file (dev alternative)
//	VOXLINE_DEFAULTS_FILE         platform defaults YAML
//	VOXLINE_CONFIG_DIR            per-tenant override directory
//	VOXLINE_TIER3_API_KEY         arms the LLM matcher tier when set
//	VOXLINE_TIER3_MODEL           model name for the LLM tier
//	VOXLINE_TIER3_BASE_URL        OpenAI-compatible endpoint override
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the turn endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	log := newLogger()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxline"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn("telemetry shutdown", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	resolver, err := buildResolver(log)
	if err != nil {
		return err
	}

	var (
		states  callstate.Store
		locker  callstate.Locker
		recents callstate.RecentLister
		scs     scenario.Store
		checks  []httpapi.ReadyCheck
	)
	if url := envOr("VOXLINE_STATE_DATABASE_URL", ""); url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return fmt.Errorf("connect state database: %w", err)
		}
		defer pool.Close()

		pg := callstate.NewPostgresStore(pool)
		if err := pg.Init(ctx); err != nil {
			return err
		}
		scpg := scenario.NewPostgresStore(pool)
		if err := scpg.Init(ctx); err != nil {
			return err
		}
		states, locker, recents, scs = pg, pg, pg, scpg
		checks = append(checks, httpapi.ReadyCheck{Name: "state-database", Probe: pool.Ping})
	} else {
		log.Warn("VOXLINE_STATE_DATABASE_URL unset; call state is in-memory")
		mem := callstate.NewMemStore()
		states, locker, recents, scs = mem, mem, mem, scenario.NewMemStore()
	}

	sink, closeSink, err := buildJournalSink(ctx, log, &checks)
	if err != nil {
		return err
	}
	defer closeSink()

	writer := journal.NewWriter(sink, 1024, log)
	writer.OnDrop = func(n int) {
		metrics.JournalOverflow.Add(context.Background(), int64(n))
	}
	checks = append(checks, journalBacklogCheck(writer))

	matcher, err := buildMatcher(log)
	if err != nil {
		return err
	}

	pipe := pipeline.New(states, locker, scs, resolver,
		pipeline.WithMatcher(matcher),
		pipeline.WithJournal(writer),
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(log),
	)

	api := httpapi.New(pipe,
		httpapi.WithReadyChecks(checks...),
		httpapi.WithRecentCalls(recents),
		httpapi.WithMetrics(metrics),
		httpapi.WithLogger(log),
	)

	srv := &http.Server{
		Addr:              envOr("VOXLINE_LISTEN_ADDR", ":8080"),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("voxline serving", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if err := writer.Close(sctx); err != nil {
		log.Warn("journal writer close", "err", err)
	}
	return nil
}

// buildResolver assembles the tenant config resolver from the platform
// defaults file and the override directory.
func buildResolver(log *slog.Logger) (*config.Resolver, error) {
	defaults, err := config.LoadDefaults(envOr("VOXLINE_DEFAULTS_FILE", "voxline-defaults.yaml"))
	if err != nil {
		return nil, err
	}

	var source config.Source
	if dir := envOr("VOXLINE_CONFIG_DIR", ""); dir != "" {
		source = &config.DirSource{Dir: dir}
	} else {
		log.Warn("VOXLINE_CONFIG_DIR unset; all tenants run on platform defaults")
	}

	r := config.NewResolver(defaults, source)
	r.AlertFn = func(tenantID string, err error) {
		log.Error("tenant config unavailable, using defaults", "tenant_id", tenantID, "err", err)
	}
	return r, nil
}

// journalBacklogCheck reports the journal writer unready when it dropped
// events since the previous probe: the sink is not keeping up with turns.
func journalBacklogCheck(w *journal.Writer) httpapi.ReadyCheck {
	var prev atomic.Int64
	return httpapi.ReadyCheck{
		Name: "journal-writer",
		Probe: func(context.Context) error {
			cur := w.Dropped()
			if n := cur - prev.Swap(cur); n > 0 {
				return fmt.Errorf("dropped %d events since last probe", n)
			}
			return nil
		},
	}
}

// buildJournalSink picks the journal backend: Postgres in production, a
// SQLite capture file for local runs, memory as the last resort.
func buildJournalSink(ctx context.Context, log *slog.Logger, checks *[]httpapi.ReadyCheck) (journal.Sink, func(), error) {
	if url := envOr("VOXLINE_JOURNAL_DATABASE_URL", ""); url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, nil, fmt.Errorf("connect journal database: %w", err)
		}
		pg := journal.NewPostgres(pool)
		if err := pg.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		*checks = append(*checks, httpapi.ReadyCheck{Name: "journal-database", Probe: pool.Ping})
		return pg, pool.Close, nil
	}
	if path := envOr("VOXLINE_JOURNAL_CAPTURE", ""); path != "" {
		capture, err := journal.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return capture, func() { capture.Close() }, nil
	}
	log.Warn("no journal backend configured; events are kept in-memory only")
	mem := journal.NewMemory(0)
	return mem, func() {}, nil
}

// buildMatcher arms the LLM fallback tier when a Tier-3 API key is present.
func buildMatcher(log *slog.Logger) (*scenario.Matcher, error) {
	opts := []scenario.MatcherOption{scenario.WithLogger(log)}

	if key := envOr("VOXLINE_TIER3_API_KEY", ""); key != "" {
		var provOpts []llmopenai.Option
		if base := envOr("VOXLINE_TIER3_BASE_URL", ""); base != "" {
			provOpts = append(provOpts, llmopenai.WithBaseURL(base))
		}
		provOpts = append(provOpts, llmopenai.WithTimeout(10*time.Second))

		p, err := llmopenai.New(key, envOr("VOXLINE_TIER3_MODEL", "gpt-4o-mini"), provOpts...)
		if err != nil {
			return nil, fmt.Errorf("build tier-3 provider: %w", err)
		}
		breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: "tier3"})
		opts = append(opts, scenario.WithTier3(p, breaker))
		log.Info("tier-3 matcher armed", "model", envOr("VOXLINE_TIER3_MODEL", "gpt-4o-mini"))
	}

	return scenario.NewMatcher(opts...), nil
}
