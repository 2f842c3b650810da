package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/medreg/registry-cli/internal/crawl"
	"github.com/medreg/registry-cli/internal/db"
	"github.com/medreg/registry-cli/internal/execution"
	"github.com/medreg/registry-cli/internal/ledger"
	"github.com/medreg/registry-cli/internal/model"
	"github.com/medreg/registry-cli/internal/monitoring"
	"github.com/medreg/registry-cli/internal/portal"
	"github.com/medreg/registry-cli/internal/store"
	"github.com/medreg/registry-cli/internal/token"
)

// crawlEnv holds the initialized pool and repositories needed by the
// plan/run/status/serve commands.
type crawlEnv struct {
	Pool    *pgxpool.Pool
	Portal  *portal.Client
	Guard   *token.Guard
	Ledger  *ledger.Ledger
	Execs   *execution.Repo
	Doctors *store.DoctorStore
	Metrics *monitoring.Metrics
}

// Close releases the connection pool.
func (e *crawlEnv) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// initEnv validates config, connects to Postgres, runs migrations and
// wires the repositories. Callers should defer env.Close().
func initEnv(ctx context.Context) (*crawlEnv, error) {
	if err := cfg.Validate("crawl"); err != nil {
		return nil, err
	}

	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return &crawlEnv{
		Pool:    pool,
		Portal:  portal.NewClient(cfg.Portal),
		Guard:   token.NewGuard(pool),
		Ledger:  ledger.New(pool),
		Execs:   execution.NewRepo(pool),
		Doctors: store.NewDoctorStore(pool),
		Metrics: monitoring.NewMetrics(prometheus.DefaultRegisterer),
	}, nil
}

// newOrchestrator assembles the crawl engine for one execution, sized
// from the execution's stored parameters.
func (e *crawlEnv) newOrchestrator(exec *model.Execution, onProgress crawl.ProgressFunc) *crawl.Orchestrator {
	fetcher := crawl.NewBatchFetcher(e.Portal, cfg.Crawl.PageRetryPasses, cfg.Crawl.RetryDelay())

	crawler := crawl.NewStateCrawler(
		fetcher,
		e.Ledger,
		e.Guard,
		e.Doctors,
		e.Execs,
		crawl.Config{
			PageSize:        exec.PageSize,
			BatchSize:       exec.BatchSize,
			Delay:           cfg.Crawl.Delay(),
			RetryDelay:      cfg.Crawl.RetryDelay(),
			MaxBatchRetries: cfg.Crawl.MaxBatchRetries,
			BlockThreshold:  cfg.Crawl.BlockThreshold,
			MaxResults:      exec.Params.MaxResults,
		},
		onProgress,
	)

	return crawl.NewOrchestrator(e.Execs, crawler)
}
