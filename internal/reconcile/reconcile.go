// Package reconcile compares remote authoritative totals against locally
// stored counts, per region.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/medreg/registry-cli/internal/db"
	"github.com/medreg/registry-cli/internal/resilience"
)

// ProbeFailed is the remote-total sentinel for a region whose probe
// errored. Rows carrying it are reported but excluded from totals math.
const ProbeFailed = -1

// Row is the comparison result for one region.
type Row struct {
	Region      string    `json:"region"`
	RemoteTotal int       `json:"remote_total"`
	LocalTotal  int       `json:"local_total"`
	Missing     int       `json:"missing"`
	CountedAt   time.Time `json:"counted_at"`
}

// RemoteCounter probes the remote total for a region. *portal.Client
// satisfies it.
type RemoteCounter interface {
	CountRegion(ctx context.Context, token, region string) (int, error)
}

// LocalCounter counts stored records for a region. *store.DoctorStore
// satisfies it.
type LocalCounter interface {
	CountByRegion(ctx context.Context, region string) (int, error)
}

// TokenSource supplies the captcha token the remote probes need.
type TokenSource interface {
	Current(ctx context.Context) (string, error)
}

// Reconciler produces and persists per-region count snapshots. It never
// touches the page ledger.
type Reconciler struct {
	remote RemoteCounter
	local  LocalCounter
	tokens TokenSource
	pool   db.Pool
	log    *zap.Logger
}

// New wires a Reconciler.
func New(remote RemoteCounter, local LocalCounter, tokens TokenSource, pool db.Pool) *Reconciler {
	return &Reconciler{
		remote: remote,
		local:  local,
		tokens: tokens,
		pool:   pool,
		log:    zap.L().With(zap.String("component", "reconcile")),
	}
}

// Reconcile probes every region concurrently and returns one row per
// region, sorted by region code. Transient probe errors get a bounded
// retry; a probe that still fails yields RemoteTotal -1 instead of
// failing the whole pass. Results are persisted as a
// point-in-time snapshot, upserted by region.
func (r *Reconciler) Reconcile(ctx context.Context, regions []string) ([]Row, error) {
	tok, err := r.tokens.Current(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: obtain token")
	}

	rows := make([]Row, len(regions))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, region := range regions {
		g.Go(func() error {
			row := Row{Region: region, CountedAt: time.Now().UTC()}

			remote, err := resilience.DoVal(gctx, resilience.RetryConfig{
				MaxAttempts: 3,
				Delay:       2 * time.Second,
				OnRetry:     resilience.RetryLogger("reconcile", "count "+region),
			}, func(ctx context.Context) (int, error) {
				return r.remote.CountRegion(ctx, tok, region)
			})
			if err != nil {
				r.log.Warn("remote probe failed",
					zap.String("region", region),
					zap.Error(err))
				row.RemoteTotal = ProbeFailed
			} else {
				row.RemoteTotal = remote
			}

			local, err := r.local.CountByRegion(gctx, region)
			if err != nil {
				return err
			}
			row.LocalTotal = local

			if row.RemoteTotal >= 0 {
				row.Missing = row.RemoteTotal - row.LocalTotal
				if row.Missing < 0 {
					row.Missing = 0
				}
			}

			mu.Lock()
			rows[i] = row
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "reconcile: count regions")
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Region < rows[j].Region })

	for _, row := range rows {
		if row.RemoteTotal == ProbeFailed {
			continue
		}
		_, err := r.pool.Exec(ctx,
			`INSERT INTO state_counts (state, api_total, db_total, missing, counted_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (state) DO UPDATE SET
				api_total = EXCLUDED.api_total,
				db_total = EXCLUDED.db_total,
				missing = EXCLUDED.missing,
				counted_at = EXCLUDED.counted_at`,
			row.Region, row.RemoteTotal, row.LocalTotal, row.Missing, row.CountedAt,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: persist snapshot for %s", row.Region)
		}
	}
	return rows, nil
}

// Summary aggregates successful rows. Failed probes are counted
// separately and excluded from the percentage.
type Summary struct {
	RemoteTotal  int
	LocalTotal   int
	Missing      int
	Coverage     float64
	FailedProbes int
}

// Summarize folds rows into a Summary.
func Summarize(rows []Row) Summary {
	var s Summary
	for _, row := range rows {
		if row.RemoteTotal == ProbeFailed {
			s.FailedProbes++
			continue
		}
		s.RemoteTotal += row.RemoteTotal
		s.LocalTotal += row.LocalTotal
		s.Missing += row.Missing
	}
	if s.RemoteTotal > 0 {
		s.Coverage = float64(s.LocalTotal) / float64(s.RemoteTotal) * 100
	}
	return s
}
