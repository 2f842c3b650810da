package crawl

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medreg/registry-cli/internal/ledger"
	"github.com/medreg/registry-cli/internal/model"
	"github.com/medreg/registry-cli/internal/portal"
	"github.com/medreg/registry-cli/internal/token"
)

// PageLedger is the durable page bookkeeping the crawler drives to
// completeness. *ledger.Ledger satisfies it.
type PageLedger interface {
	InitializePages(ctx context.Context, stateID int64, totalPages int) (int64, error)
	PendingPages(ctx context.Context, stateID int64, limit int) ([]int, error)
	MarkFetchedBatch(ctx context.Context, stateID int64, pages []ledger.PageResult) error
	MarkFailed(ctx context.Context, stateID int64, pageNumber int, reason string) error
	Stats(ctx context.Context, stateID int64) (ledger.PageStats, error)
}

// TokenGuard gates fetch activity on captcha-token validity. *token.Guard
// satisfies it.
type TokenGuard interface {
	Current(ctx context.Context) (string, error)
	IsValid(ctx context.Context) (bool, error)
}

// DoctorWriter persists fetched records idempotently. *store.DoctorStore
// satisfies it.
type DoctorWriter interface {
	UpsertBatch(ctx context.Context, doctors []model.Doctor) (int64, error)
}

// StateRepo is the slice of the execution repository the crawler needs to
// track one region's lifecycle.
type StateRepo interface {
	StartState(ctx context.Context, stateID int64) error
	SetStateTotals(ctx context.Context, stateID int64, totalPages, totalRecords int) error
	CompleteState(ctx context.Context, stateID int64) error
	FailState(ctx context.Context, stateID int64) error
}

// Config bundles the tunables of one crawl run.
type Config struct {
	PageSize        int
	BatchSize       int
	Delay           time.Duration
	RetryDelay      time.Duration
	MaxBatchRetries int
	BlockThreshold  int
	MaxResults      int
}

// StateCrawler drives a single region's page ledger to completeness. It
// holds no per-region state between calls; everything resumable lives in
// the ledger.
type StateCrawler struct {
	fetcher    *BatchFetcher
	ledger     PageLedger
	guard      TokenGuard
	store      DoctorWriter
	states     StateRepo
	cfg        Config
	onProgress ProgressFunc
	log        *zap.Logger
}

// NewStateCrawler wires a StateCrawler from its collaborators.
func NewStateCrawler(
	fetcher *BatchFetcher,
	pages PageLedger,
	guard TokenGuard,
	store DoctorWriter,
	states StateRepo,
	cfg Config,
	onProgress ProgressFunc,
) *StateCrawler {
	return &StateCrawler{
		fetcher:    fetcher,
		ledger:     pages,
		guard:      guard,
		store:      store,
		states:     states,
		cfg:        cfg,
		onProgress: onProgress,
		log:        zap.L().With(zap.String("component", "state_crawler")),
	}
}

// Crawl fetches every pending page of one region. The returned Outcome
// tells the orchestrator whether to continue with the next region, pause
// the execution, or record a regional failure; err carries detail for
// logging and is non-nil only for non-completed outcomes.
func (c *StateCrawler) Crawl(ctx context.Context, st *model.ExecutionState, params model.ExecutionParams) (Outcome, error) {
	log := c.log.With(
		zap.String("execution_id", st.ExecutionID),
		zap.String("region", st.Region))

	if err := c.states.StartState(ctx, st.ID); err != nil {
		return OutcomeFailed, err
	}

	tok, err := c.guard.Current(ctx)
	if err != nil {
		if errors.Is(err, token.ErrNoToken) {
			return OutcomeTokenExpired, eris.Wrapf(err, "crawl: no valid token for %s", st.Region)
		}
		return OutcomeFailed, err
	}

	base := portal.PageRequest{
		Token:            tok,
		Region:           st.Region,
		Municipality:     params.Municipality,
		RegistrationType: params.RegistrationType,
		Situation:        params.Situation,
		PageSize:         c.cfg.PageSize,
	}

	var (
		totalPages       int
		totalRecords     int
		recordsThisRun   int
		consecutiveEmpty int
		batchRetries     int
	)
	if st.TotalPages != nil {
		totalPages = *st.TotalPages
	}
	if st.TotalRecords != nil {
		totalRecords = *st.TotalRecords
	}

	tracker := newProgressTracker(c.cfg.BatchSize, c.cfg.Delay)
	log.Info("region crawl starting",
		zap.Int("known_total_pages", totalPages),
		zap.Int("page_size", c.cfg.PageSize),
		zap.Int("batch_size", c.cfg.BatchSize))

	for {
		valid, err := c.guard.IsValid(ctx)
		if err != nil {
			return OutcomeFailed, err
		}
		if !valid {
			c.failState(ctx, st.ID)
			return OutcomeTokenExpired, eris.Errorf("crawl: token expired while crawling %s", st.Region)
		}

		var pages []int
		if totalPages == 0 {
			// Discovery probe: one page alone reveals the remote total.
			first := 1
			if params.StartPage > 1 {
				first = params.StartPage
			}
			pages = []int{first}
		} else {
			limit := c.cfg.BatchSize
			if params.StartPage > 1 {
				// Manual resume override: skip the head of the region, so
				// the limit applies after filtering.
				limit = 0
			}
			pages, err = c.ledger.PendingPages(ctx, st.ID, limit)
			if err != nil {
				c.failState(ctx, st.ID)
				return OutcomeFailed, err
			}
			if params.StartPage > 1 {
				pages = fromStartPage(pages, params.StartPage, c.cfg.BatchSize)
			}
			if len(pages) == 0 {
				break
			}
		}

		batchStart := time.Now()
		batch, err := c.fetcher.FetchBatch(ctx, base, pages)
		if err != nil {
			return OutcomeFailed, err
		}
		tracker.observe(time.Since(batchStart))

		if len(batch.Succeeded) == 0 {
			// Whole batch gone. Bounded retry, then decide between a
			// token problem and a hard regional failure.
			batchRetries++
			if batchRetries < c.cfg.MaxBatchRetries {
				log.Warn("entire batch failed, retrying",
					zap.Int("attempt", batchRetries),
					zap.Ints("pages", pages))
				if err := sleep(ctx, c.cfg.RetryDelay); err != nil {
					return OutcomeFailed, err
				}
				continue
			}
			c.markAllFailed(ctx, st.ID, batch.Failed, "fetch failed after retries")
			valid, verr := c.guard.IsValid(ctx)
			if verr == nil && !valid {
				c.failState(ctx, st.ID)
				return OutcomeTokenExpired, eris.Errorf("crawl: token expired after %d failed batches for %s", batchRetries, st.Region)
			}
			c.failState(ctx, st.ID)
			return OutcomeFailed, eris.Errorf("crawl: all pages failed %d times for %s", batchRetries, st.Region)
		}
		batchRetries = 0

		var (
			doctors []model.Doctor
			fetched []ledger.PageResult
			blocked []int
		)
		for _, page := range batch.Succeeded {
			if page.Total > 0 && page.Total != totalRecords {
				// Remote total moved; grow the ledger tail. Shrinking
				// never happens, existing rows keep their status.
				totalRecords = page.Total
				totalPages = int(math.Ceil(float64(totalRecords) / float64(c.cfg.PageSize)))
				if err := c.states.SetStateTotals(ctx, st.ID, totalPages, totalRecords); err != nil {
					c.failState(ctx, st.ID)
					return OutcomeFailed, err
				}
				inserted, err := c.ledger.InitializePages(ctx, st.ID, totalPages)
				if err != nil {
					c.failState(ctx, st.ID)
					return OutcomeFailed, err
				}
				log.Info("region total discovered",
					zap.Int("total_records", totalRecords),
					zap.Int("total_pages", totalPages),
					zap.Int64("pages_added", inserted))
			}

			if len(page.Records) == 0 {
				if totalRecords > 0 {
					// An empty page mid-sequence is a soft block, not an
					// end-of-results signal.
					blocked = append(blocked, page.Number)
				}
				continue
			}
			doctors = append(doctors, portal.ToDoctors(page.Records)...)
			fetched = append(fetched, ledger.PageResult{Number: page.Number, Records: len(page.Records)})
		}

		if totalRecords == 0 {
			// The region genuinely has nothing to crawl.
			if err := c.states.SetStateTotals(ctx, st.ID, 0, 0); err != nil {
				return OutcomeFailed, err
			}
			if err := c.states.CompleteState(ctx, st.ID); err != nil {
				return OutcomeFailed, err
			}
			log.Info("region has no records, marking complete")
			return OutcomeCompleted, nil
		}

		// Persist before advancing the ledger: a crash in between only
		// causes a refetch, and the upsert is idempotent.
		if len(doctors) > 0 {
			if _, err := c.store.UpsertBatch(ctx, doctors); err != nil {
				c.failState(ctx, st.ID)
				return OutcomeFailed, eris.Wrapf(err, "crawl: persist batch for %s", st.Region)
			}
			recordsThisRun += len(doctors)
		}

		if len(fetched) > 0 {
			if err := c.ledger.MarkFetchedBatch(ctx, st.ID, fetched); err != nil {
				c.failState(ctx, st.ID)
				return OutcomeFailed, err
			}
		}
		c.markAllFailed(ctx, st.ID, batch.Failed, "fetch failed after retries")
		c.markAllFailed(ctx, st.ID, blocked, "possible block: empty page with known nonzero total")

		if len(doctors) == 0 {
			consecutiveEmpty++
			if consecutiveEmpty >= c.cfg.BlockThreshold {
				c.failState(ctx, st.ID)
				return OutcomeBlocked, eris.Errorf(
					"crawl: %d consecutive empty batches for %s with %d known records",
					consecutiveEmpty, st.Region, totalRecords)
			}
		} else {
			consecutiveEmpty = 0
		}

		c.emitProgress(ctx, st, tracker, pages, len(doctors), len(batch.Failed)+len(blocked), totalPages, totalRecords, time.Since(batchStart))

		if c.cfg.MaxResults > 0 && recordsThisRun >= c.cfg.MaxResults {
			log.Info("max results cap reached, stopping",
				zap.Int("records", recordsThisRun),
				zap.Int("cap", c.cfg.MaxResults))
			return OutcomeStopped, nil
		}

		if err := sleep(ctx, c.cfg.Delay); err != nil {
			return OutcomeFailed, err
		}
	}

	stats, err := c.ledger.Stats(ctx, st.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if stats.Complete() {
		if err := c.states.CompleteState(ctx, st.ID); err != nil {
			return OutcomeFailed, err
		}
		log.Info("region crawl complete",
			zap.Int("pages", stats.Total),
			zap.Int("records_this_run", recordsThisRun))
		return OutcomeCompleted, nil
	}
	if params.StartPage > 1 {
		// The skipped head keeps the region intentionally partial; the
		// untouched pages stay pending for a later full run.
		log.Info("region crawl stopped at start-page boundary",
			zap.Int("start_page", params.StartPage),
			zap.Int("fetched", stats.Fetched),
			zap.Int("total", stats.Total))
		return OutcomeStopped, nil
	}
	return OutcomeFailed, eris.Errorf("crawl: %s left incomplete: %d of %d pages fetched", st.Region, stats.Fetched, stats.Total)
}

// fromStartPage drops pages below start and caps the batch length.
func fromStartPage(pages []int, start, max int) []int {
	out := pages[:0:0]
	for _, p := range pages {
		if p >= start {
			out = append(out, p)
		}
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func (c *StateCrawler) emitProgress(ctx context.Context, st *model.ExecutionState, tracker *progressTracker, pages []int, records, failures, totalPages, totalRecords int, batchTime time.Duration) {
	if c.onProgress == nil || len(pages) == 0 {
		return
	}
	stats, err := c.ledger.Stats(ctx, st.ID)
	if err != nil {
		return
	}
	c.onProgress(ProgressEvent{
		ExecutionID:  st.ExecutionID,
		Region:       st.Region,
		FirstPage:    pages[0],
		LastPage:     pages[len(pages)-1],
		TotalPages:   totalPages,
		Records:      records,
		TotalRecords: totalRecords,
		FailedPages:  failures,
		Percent:      percent(stats.Fetched, totalPages),
		BatchTime:    batchTime,
		ETA:          tracker.eta(totalPages, stats.Fetched),
	})
}

func (c *StateCrawler) markAllFailed(ctx context.Context, stateID int64, pages []int, reason string) {
	for _, p := range pages {
		if err := c.ledger.MarkFailed(ctx, stateID, p, reason); err != nil {
			c.log.Error("mark page failed", zap.Int("page", p), zap.Error(err))
		}
	}
}

func (c *StateCrawler) failState(ctx context.Context, stateID int64) {
	if err := c.states.FailState(ctx, stateID); err != nil {
		c.log.Error("mark state failed", zap.Int64("state_id", stateID), zap.Error(err))
	}
}
