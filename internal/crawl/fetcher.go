package crawl

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/medreg/registry-cli/internal/portal"
)

// Fetcher fetches one page of search results. *portal.Client satisfies it.
type Fetcher interface {
	FetchPage(ctx context.Context, req portal.PageRequest) (*portal.PageResult, error)
}

// FetchedPage is one successfully fetched page plus the remote total the
// API reported alongside it.
type FetchedPage struct {
	Number  int
	Records []portal.Record
	Total   int
}

// BatchResult separates the pages that succeeded from the ones that
// exhausted their retries. Succeeded is sorted by page number.
type BatchResult struct {
	Succeeded []FetchedPage
	Failed    []int
}

// BatchFetcher fetches a set of pages concurrently and retries stragglers
// individually before giving up on them.
type BatchFetcher struct {
	fetcher     Fetcher
	retryPasses int
	retryDelay  time.Duration
	log         *zap.Logger
}

// NewBatchFetcher builds a BatchFetcher. retryPasses is the number of
// additional individual passes over failed pages; retryDelay separates
// the passes.
func NewBatchFetcher(fetcher Fetcher, retryPasses int, retryDelay time.Duration) *BatchFetcher {
	return &BatchFetcher{
		fetcher:     fetcher,
		retryPasses: retryPasses,
		retryDelay:  retryDelay,
		log:         zap.L().With(zap.String("component", "batch_fetcher")),
	}
}

// FetchBatch fetches the given pages with parallelism bounded by the batch
// size. Individual page failures never fail the batch; they end up in
// Failed after the retry passes. The only error returned is context
// cancellation.
func (b *BatchFetcher) FetchBatch(ctx context.Context, base portal.PageRequest, pages []int) (*BatchResult, error) {
	result := &BatchResult{}
	if len(pages) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(pages))

	for _, p := range pages {
		req := base
		req.Page = p
		g.Go(func() error {
			res, err := b.fetcher.FetchPage(gctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				b.log.Warn("page fetch failed",
					zap.String("region", req.Region),
					zap.Int("page", req.Page),
					zap.Error(err))
				result.Failed = append(result.Failed, req.Page)
				return nil
			}
			result.Succeeded = append(result.Succeeded, FetchedPage{
				Number:  res.Page,
				Records: res.Records,
				Total:   res.Total,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for pass := 1; pass <= b.retryPasses && len(result.Failed) > 0; pass++ {
		if err := sleep(ctx, b.retryDelay); err != nil {
			return nil, err
		}
		b.log.Info("retrying failed pages",
			zap.String("region", base.Region),
			zap.Int("pass", pass),
			zap.Ints("pages", result.Failed))

		var stillFailed []int
		for _, p := range result.Failed {
			req := base
			req.Page = p
			res, err := b.fetcher.FetchPage(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				stillFailed = append(stillFailed, p)
				continue
			}
			result.Succeeded = append(result.Succeeded, FetchedPage{
				Number:  res.Page,
				Records: res.Records,
				Total:   res.Total,
			})
		}
		result.Failed = stillFailed
	}

	// Completion/discovery logic downstream depends on ascending order.
	sort.Slice(result.Succeeded, func(i, j int) bool {
		return result.Succeeded[i].Number < result.Succeeded[j].Number
	})
	sort.Ints(result.Failed)
	return result, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
