package crawl

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/medreg/registry-cli/internal/ledger"
	"github.com/medreg/registry-cli/internal/model"
	"github.com/medreg/registry-cli/internal/portal"
	"github.com/medreg/registry-cli/internal/token"
)

// fetchFunc adapts a closure to the Fetcher interface.
type fetchFunc func(ctx context.Context, req portal.PageRequest) (*portal.PageResult, error)

func (f fetchFunc) FetchPage(ctx context.Context, req portal.PageRequest) (*portal.PageResult, error) {
	return f(ctx, req)
}

// countingFetcher wraps a fetchFunc and counts calls.
type countingFetcher struct {
	mu    sync.Mutex
	calls int
	fn    fetchFunc
}

func (c *countingFetcher) FetchPage(ctx context.Context, req portal.PageRequest) (*portal.PageResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.fn(ctx, req)
}

// makeRecords builds n records with CRMs unique per (region, page).
func makeRecords(region string, page, n int) []portal.Record {
	out := make([]portal.Record, n)
	for i := range out {
		out[i] = portal.Record{
			CRM:        strconv.Itoa(page*1000 + i + 1),
			State:      region,
			Name:       fmt.Sprintf("DOCTOR %d-%d", page, i+1),
			StatusCode: "A",
		}
	}
	return out
}

// fakePage mirrors one crawl_pages row.
type fakePage struct {
	status  model.PageStatus
	records int
	reason  string
}

// fakeLedger is an in-memory PageLedger keyed by state id.
type fakeLedger struct {
	mu        sync.Mutex
	pages     map[int64]map[int]*fakePage
	initCalls []int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{pages: map[int64]map[int]*fakePage{}}
}

func (l *fakeLedger) state(stateID int64) map[int]*fakePage {
	if _, ok := l.pages[stateID]; !ok {
		l.pages[stateID] = map[int]*fakePage{}
	}
	return l.pages[stateID]
}

func (l *fakeLedger) InitializePages(_ context.Context, stateID int64, totalPages int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initCalls = append(l.initCalls, totalPages)
	pages := l.state(stateID)
	var inserted int64
	for i := 1; i <= totalPages; i++ {
		if _, ok := pages[i]; !ok {
			pages[i] = &fakePage{status: model.PagePending}
			inserted++
		}
	}
	return inserted, nil
}

func (l *fakeLedger) PendingPages(_ context.Context, stateID int64, limit int) ([]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []int
	for n, p := range l.state(stateID) {
		if p.status == model.PagePending || p.status == model.PageFailed {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *fakeLedger) MarkFetchedBatch(_ context.Context, stateID int64, pages []ledger.PageResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range pages {
		l.state(stateID)[p.Number] = &fakePage{status: model.PageFetched, records: p.Records}
	}
	return nil
}

func (l *fakeLedger) MarkFailed(_ context.Context, stateID int64, pageNumber int, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state(stateID)[pageNumber] = &fakePage{status: model.PageFailed, reason: reason}
	return nil
}

func (l *fakeLedger) Stats(_ context.Context, stateID int64) (ledger.PageStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var s ledger.PageStats
	for _, p := range l.state(stateID) {
		s.Total++
		switch p.status {
		case model.PageFetched:
			s.Fetched++
		case model.PagePending:
			s.Pending++
		case model.PageFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (l *fakeLedger) statusOf(stateID int64, page int) model.PageStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.state(stateID)[page]; ok {
		return p.status
	}
	return ""
}

func (l *fakeLedger) pageCount(stateID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state(stateID))
}

// fakeGuard returns a fixed token and flips invalid after validFor
// IsValid calls. validFor < 0 means always valid.
type fakeGuard struct {
	token    string
	validFor int
	calls    int
}

func (g *fakeGuard) Current(context.Context) (string, error) {
	if g.token == "" {
		return "", token.ErrNoToken
	}
	return g.token, nil
}

func (g *fakeGuard) IsValid(context.Context) (bool, error) {
	g.calls++
	if g.validFor < 0 || g.calls <= g.validFor {
		return true, nil
	}
	return false, nil
}

// fakeStore dedups upserts by (crm, state), like the real doctors table.
type fakeStore struct {
	mu      sync.Mutex
	byKey   map[string]model.Doctor
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: map[string]model.Doctor{}}
}

func (s *fakeStore) UpsertBatch(_ context.Context, doctors []model.Doctor) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	for _, d := range doctors {
		s.byKey[fmt.Sprintf("%d/%s", d.CRM, d.State)] = d
	}
	return int64(len(doctors)), nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// fakeEnv holds one execution with its states, implementing both the
// crawler's StateRepo and the orchestrator's ExecutionRepo.
type fakeEnv struct {
	mu      sync.Mutex
	exec    *model.Execution
	states  map[int64]*model.ExecutionState
	ordered []int64
}

func newFakeEnv(exec *model.Execution, states ...*model.ExecutionState) *fakeEnv {
	env := &fakeEnv{exec: exec, states: map[int64]*model.ExecutionState{}}
	for _, st := range states {
		env.states[st.ID] = st
		env.ordered = append(env.ordered, st.ID)
	}
	return env
}

func (e *fakeEnv) Get(context.Context, string) (*model.Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.exec
	return &cp, nil
}

func (e *fakeEnv) Start(context.Context, string) error {
	return e.setExecStatus(model.ExecutionRunning)
}

func (e *fakeEnv) Pause(context.Context, string) error {
	return e.setExecStatus(model.ExecutionPaused)
}

func (e *fakeEnv) Complete(context.Context, string) error {
	return e.setExecStatus(model.ExecutionCompleted)
}

func (e *fakeEnv) setExecStatus(s model.ExecutionStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exec.Status = s
	return nil
}

func (e *fakeEnv) Status(context.Context, string) (model.ExecutionStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exec.Status, nil
}

func (e *fakeEnv) PendingStates(context.Context, string) ([]*model.ExecutionState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*model.ExecutionState
	for _, id := range e.ordered {
		st := e.states[id]
		if st.Status != model.RegionCompleted && st.Status != model.RegionSkipped {
			out = append(out, st)
		}
	}
	return out, nil
}

func (e *fakeEnv) AllStatesDone(context.Context, string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.states {
		if st.Status != model.RegionCompleted && st.Status != model.RegionSkipped {
			return false, nil
		}
	}
	return true, nil
}

func (e *fakeEnv) StartState(_ context.Context, stateID int64) error {
	return e.setStateStatus(stateID, model.RegionRunning)
}

func (e *fakeEnv) CompleteState(_ context.Context, stateID int64) error {
	return e.setStateStatus(stateID, model.RegionCompleted)
}

func (e *fakeEnv) FailState(_ context.Context, stateID int64) error {
	return e.setStateStatus(stateID, model.RegionFailed)
}

func (e *fakeEnv) setStateStatus(stateID int64, s model.RegionStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[stateID].Status = s
	return nil
}

func (e *fakeEnv) SetStateTotals(_ context.Context, stateID int64, totalPages, totalRecords int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.states[stateID]
	st.TotalPages = &totalPages
	st.TotalRecords = &totalRecords
	return nil
}

func (e *fakeEnv) stateStatus(stateID int64) model.RegionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[stateID].Status
}
