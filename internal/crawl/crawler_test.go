package crawl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreg/registry-cli/internal/model"
	"github.com/medreg/registry-cli/internal/portal"
)

func testConfig() Config {
	return Config{
		PageSize:        10,
		BatchSize:       2,
		Delay:           0,
		RetryDelay:      0,
		MaxBatchRetries: 3,
		BlockThreshold:  2,
	}
}

func newTestEnv(regions ...string) *fakeEnv {
	exec := &model.Execution{
		ID:        "exec-1",
		Kind:      model.KindDoctor,
		PageSize:  10,
		BatchSize: 2,
		Status:    model.ExecutionPending,
		Params:    model.ExecutionParams{Regions: regions},
	}
	states := make([]*model.ExecutionState, len(regions))
	for i, r := range regions {
		states[i] = &model.ExecutionState{
			ID:          int64(i + 1),
			ExecutionID: exec.ID,
			Region:      r,
			Status:      model.RegionPending,
		}
	}
	return newFakeEnv(exec, states...)
}

// pagedRegion answers fetches for one region with a fixed total; pages
// past the end come back empty.
func pagedRegion(total, pageSize int) fetchFunc {
	return func(_ context.Context, req portal.PageRequest) (*portal.PageResult, error) {
		start := (req.Page - 1) * pageSize
		n := total - start
		if n < 0 {
			n = 0
		}
		if n > pageSize {
			n = pageSize
		}
		return &portal.PageResult{
			Page:    req.Page,
			Records: makeRecords(req.Region, req.Page, n),
			Total:   total,
		}, nil
	}
}

func buildCrawler(f Fetcher, led *fakeLedger, guard *fakeGuard, store *fakeStore, env *fakeEnv, cfg Config) *StateCrawler {
	return NewStateCrawler(NewBatchFetcher(f, 2, 0), led, guard, store, env, cfg, nil)
}

func TestCrawlRegionToCompletion(t *testing.T) {
	env := newTestEnv("AA")
	led := newFakeLedger()
	store := newFakeStore()
	guard := &fakeGuard{token: "tok", validFor: -1}

	c := buildCrawler(pagedRegion(25, 10), led, guard, store, env, testConfig())
	outcome, err := c.Crawl(context.Background(), env.states[1], model.ExecutionParams{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	assert.Equal(t, model.RegionCompleted, env.stateStatus(1))
	assert.Equal(t, 25, store.count())
	assert.Equal(t, 3, led.pageCount(1))

	stats, _ := led.Stats(context.Background(), 1)
	assert.True(t, stats.Complete())
}

func TestCrawlZeroRecordRegionCompletes(t *testing.T) {
	env := newTestEnv("BB")
	led := newFakeLedger()
	store := newFakeStore()
	guard := &fakeGuard{token: "tok", validFor: -1}

	c := buildCrawler(pagedRegion(0, 10), led, guard, store, env, testConfig())
	outcome, err := c.Crawl(context.Background(), env.states[1], model.ExecutionParams{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, model.RegionCompleted, env.stateStatus(1))
	assert.Zero(t, store.count())
}

func TestCrawlBlockedOnSecondEmptyBatch(t *testing.T) {
	env := newTestEnv("SP")
	led := newFakeLedger()
	store := newFakeStore()
	guard := &fakeGuard{token: "tok", validFor: -1}

	// Every page claims 100 total records but carries none.
	fetcher := &countingFetcher{fn: func(_ context.Context, req portal.PageRequest) (*portal.PageResult, error) {
		return &portal.PageResult{Page: req.Page, Total: 100}, nil
	}}

	c := buildCrawler(fetcher, led, guard, store, env, testConfig())
	outcome, err := c.Crawl(context.Background(), env.states[1], model.ExecutionParams{})
	assert.Equal(t, OutcomeBlocked, outcome)
	assert.ErrorContains(t, err, "consecutive empty batches")

	// Discovery batch (1 page) trips the counter to 1, the next batch
	// (2 pages) to 2. Blocking on the first batch would mean 1 call, on
	// the third would mean 5.
	assert.Equal(t, 3, fetcher.calls)
	assert.Equal(t, model.RegionFailed, env.stateStatus(1))
	assert.Equal(t, model.PageFailed, led.statusOf(1, 1))
}

func TestCrawlTotalGrowthExtendsLedgerTail(t *testing.T) {
	env := newTestEnv("GG")
	led := newFakeLedger()
	store := newFakeStore()
	guard := &fakeGuard{token: "tok", validFor: -1}

	// The discovery fetch of page 1 reports 50 records; every later
	// fetch reports a grown total of 70.
	fetcher := fetchFunc(func(_ context.Context, req portal.PageRequest) (*portal.PageResult, error) {
		total := 70
		if req.Page == 1 {
			total = 50
		}
		return &portal.PageResult{
			Page:    req.Page,
			Records: makeRecords(req.Region, req.Page, 10),
			Total:   total,
		}, nil
	})

	c := buildCrawler(fetcher, led, guard, store, env, testConfig())
	outcome, err := c.Crawl(context.Background(), env.states[1], model.ExecutionParams{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	// 5 pages from discovery, then 2 more when the total grew.
	assert.Equal(t, []int{5, 7}, led.initCalls)
	assert.Equal(t, 7, led.pageCount(1))
	assert.Equal(t, model.PageFetched, led.statusOf(1, 1))
	assert.Equal(t, 70, store.count())

	st := env.states[1]
	require.NotNil(t, st.TotalPages)
	assert.Equal(t, 7, *st.TotalPages)
	require.NotNil(t, st.TotalRecords)
	assert.Equal(t, 70, *st.TotalRecords)
}

func TestCrawlTokenExpiresMidRegion(t *testing.T) {
	env := newTestEnv("SP")
	led := newFakeLedger()
	store := newFakeStore()
	guard := &fakeGuard{token: "tok", validFor: 1}

	c := buildCrawler(pagedRegion(30, 10), led, guard, store, env, testConfig())
	outcome, err := c.Crawl(context.Background(), env.states[1], model.ExecutionParams{})
	assert.Equal(t, OutcomeTokenExpired, outcome)
	assert.ErrorContains(t, err, "token expired")

	// Progress from the first batch survives; the region is left
	// incomplete, not completed and not silently retried.
	assert.NotEqual(t, model.RegionCompleted, env.stateStatus(1))
	assert.Equal(t, 10, store.count())
	assert.Equal(t, model.PageFetched, led.statusOf(1, 1))
	assert.Equal(t, model.PagePending, led.statusOf(1, 2))
}

func TestCrawlNoTokenAtStart(t *testing.T) {
	env := newTestEnv("SP")
	c := buildCrawler(pagedRegion(30, 10), newFakeLedger(), &fakeGuard{}, newFakeStore(), env, testConfig())

	outcome, err := c.Crawl(context.Background(), env.states[1], model.ExecutionParams{})
	assert.Equal(t, OutcomeTokenExpired, outcome)
	assert.Error(t, err)
}

func TestCrawlMaxResultsStopsEarly(t *testing.T) {
	env := newTestEnv("SP")
	led := newFakeLedger()
	store := newFakeStore()
	guard := &fakeGuard{token: "tok", validFor: -1}

	cfg := testConfig()
	cfg.MaxResults = 10

	c := buildCrawler(pagedRegion(50, 10), led, guard, store, env, cfg)
	outcome, err := c.Crawl(context.Background(), env.states[1], model.ExecutionParams{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, outcome)

	// Stopped early without marking the region complete.
	assert.NotEqual(t, model.RegionCompleted, env.stateStatus(1))
	assert.Equal(t, 10, store.count())
}

func TestCrawlWholeBatchFailureExhaustsRetries(t *testing.T) {
	env := newTestEnv("SP")
	guard := &fakeGuard{token: "tok", validFor: -1}

	fetcher := fetchFunc(func(_ context.Context, req portal.PageRequest) (*portal.PageResult, error) {
		return nil, assert.AnError
	})

	c := buildCrawler(fetcher, newFakeLedger(), guard, newFakeStore(), env, testConfig())
	outcome, err := c.Crawl(context.Background(), env.states[1], model.ExecutionParams{})
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorContains(t, err, "all pages failed")
	assert.Equal(t, model.RegionFailed, env.stateStatus(1))
}

func TestCrawlRefetchIsIdempotent(t *testing.T) {
	// Crawling the same region twice (simulating crash-and-retry with a
	// wiped ledger) leaves the stored record count unchanged.
	guard := &fakeGuard{token: "tok", validFor: -1}
	store := newFakeStore()

	for i := 0; i < 2; i++ {
		env := newTestEnv("AA")
		c := buildCrawler(pagedRegion(25, 10), newFakeLedger(), guard, store, env, testConfig())
		outcome, err := c.Crawl(context.Background(), env.states[1], model.ExecutionParams{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, outcome)
	}
	assert.Equal(t, 25, store.count())
}

func TestCrawlEmitsProgress(t *testing.T) {
	env := newTestEnv("AA")
	guard := &fakeGuard{token: "tok", validFor: -1}

	var events []ProgressEvent
	c := NewStateCrawler(
		NewBatchFetcher(pagedRegion(25, 10), 2, 0),
		newFakeLedger(), guard, newFakeStore(), env, testConfig(),
		func(ev ProgressEvent) { events = append(events, ev) },
	)

	_, err := c.Crawl(context.Background(), env.states[1], model.ExecutionParams{})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	first := events[0]
	assert.Equal(t, "AA", first.Region)
	assert.Equal(t, 1, first.FirstPage)
	assert.Equal(t, 25, first.TotalRecords)
	last := events[len(events)-1]
	assert.Equal(t, 100.0, last.Percent)
}

func TestCrawlStartPageSkipsHead(t *testing.T) {
	env := newTestEnv("AA")
	led := newFakeLedger()
	store := newFakeStore()
	guard := &fakeGuard{token: "tok", validFor: -1}

	c := buildCrawler(pagedRegion(25, 10), led, guard, store, env, testConfig())
	outcome, err := c.Crawl(context.Background(), env.states[1], model.ExecutionParams{StartPage: 2})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, outcome)

	// Pages 2 and 3 fetched, page 1 left pending for a later full run.
	assert.Equal(t, model.PageFetched, led.statusOf(1, 2))
	assert.Equal(t, model.PageFetched, led.statusOf(1, 3))
	assert.Equal(t, model.PagePending, led.statusOf(1, 1))
	assert.Equal(t, 15, store.count())
	assert.NotEqual(t, model.RegionCompleted, env.stateStatus(1))
}
