// Package execution persists crawl executions and their per-region states.
package execution

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/medreg/registry-cli/internal/db"
	"github.com/medreg/registry-cli/internal/model"
)

// Progress aggregates page counts across every region of an execution.
type Progress struct {
	TotalPages   int `json:"total_pages"`
	FetchedPages int `json:"fetched_pages"`
	FailedPages  int `json:"failed_pages"`
	Records      int `json:"records"`
}

// Repo provides access to crawl_executions and crawl_execution_states.
type Repo struct {
	pool db.Pool
}

// NewRepo creates a Repo backed by the given connection pool.
func NewRepo(pool db.Pool) *Repo {
	return &Repo{pool: pool}
}

// Create inserts a pending execution plus one pending state per region,
// all in one transaction. Regions must be non-empty and deduplicated by
// the caller; the unique constraint rejects duplicates.
func (r *Repo) Create(ctx context.Context, kind model.ExecutionKind, pageSize, batchSize int, params model.ExecutionParams) (*model.Execution, error) {
	if len(params.Regions) == 0 {
		return nil, eris.New("execution: at least one region is required")
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "execution: marshal params")
	}

	exec := &model.Execution{
		ID:        uuid.NewString(),
		Kind:      kind,
		PageSize:  pageSize,
		BatchSize: batchSize,
		Status:    model.ExecutionPending,
		Params:    params,
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "execution: begin create")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx,
		`INSERT INTO crawl_executions (id, type, page_size, batch_size, params)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		exec.ID, string(kind), pageSize, batchSize, raw,
	).Scan(&exec.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "execution: insert execution %s", exec.ID)
	}

	for _, region := range params.Regions {
		_, err = tx.Exec(ctx,
			`INSERT INTO crawl_execution_states (execution_id, region)
			 VALUES ($1, $2)`,
			exec.ID, region,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "execution: insert state for region %s", region)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "execution: commit create")
	}
	return exec, nil
}

// Get fetches a single execution by id.
func (r *Repo) Get(ctx context.Context, id string) (*model.Execution, error) {
	exec := &model.Execution{}
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, type, page_size, batch_size, status, params,
		        created_at, started_at, completed_at
		 FROM crawl_executions WHERE id = $1`,
		id,
	).Scan(&exec.ID, &exec.Kind, &exec.PageSize, &exec.BatchSize, &exec.Status,
		&raw, &exec.CreatedAt, &exec.StartedAt, &exec.CompletedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "execution: get %s", id)
	}
	if err := json.Unmarshal(raw, &exec.Params); err != nil {
		return nil, eris.Wrapf(err, "execution: decode params for %s", id)
	}
	return exec, nil
}

// ListActive returns executions that may still make progress, oldest first.
func (r *Repo) ListActive(ctx context.Context) ([]*model.Execution, error) {
	return r.list(ctx,
		`SELECT id, type, page_size, batch_size, status, params,
		        created_at, started_at, completed_at
		 FROM crawl_executions
		 WHERE status IN ('pending', 'running', 'paused')
		 ORDER BY created_at`)
}

// ListRecent returns the most recent executions regardless of status.
func (r *Repo) ListRecent(ctx context.Context, limit int) ([]*model.Execution, error) {
	return r.list(ctx,
		`SELECT id, type, page_size, batch_size, status, params,
		        created_at, started_at, completed_at
		 FROM crawl_executions
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
}

func (r *Repo) list(ctx context.Context, sql string, args ...any) ([]*model.Execution, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "execution: list")
	}
	defer rows.Close()

	var out []*model.Execution
	for rows.Next() {
		exec := &model.Execution{}
		var raw []byte
		err := rows.Scan(&exec.ID, &exec.Kind, &exec.PageSize, &exec.BatchSize,
			&exec.Status, &raw, &exec.CreatedAt, &exec.StartedAt, &exec.CompletedAt)
		if err != nil {
			return nil, eris.Wrap(err, "execution: scan execution")
		}
		if err := json.Unmarshal(raw, &exec.Params); err != nil {
			return nil, eris.Wrapf(err, "execution: decode params for %s", exec.ID)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// Start transitions an execution to running. COALESCE keeps the original
// started_at when a paused execution is resumed.
func (r *Repo) Start(ctx context.Context, id string) error {
	return r.setStatus(ctx, id,
		`UPDATE crawl_executions
		 SET status = 'running', started_at = COALESCE(started_at, now())
		 WHERE id = $1`)
}

// Pause transitions a running execution to paused so it can be resumed later.
func (r *Repo) Pause(ctx context.Context, id string) error {
	return r.setStatus(ctx, id,
		`UPDATE crawl_executions SET status = 'paused' WHERE id = $1`)
}

// Cancel marks an execution cancelled. Running crawlers observe the status
// between regions and stop.
func (r *Repo) Cancel(ctx context.Context, id string) error {
	return r.setStatus(ctx, id,
		`UPDATE crawl_executions
		 SET status = 'cancelled', completed_at = now()
		 WHERE id = $1`)
}

// Complete marks an execution completed.
func (r *Repo) Complete(ctx context.Context, id string) error {
	return r.setStatus(ctx, id,
		`UPDATE crawl_executions
		 SET status = 'completed', completed_at = now()
		 WHERE id = $1`)
}

// Fail marks an execution failed.
func (r *Repo) Fail(ctx context.Context, id string) error {
	return r.setStatus(ctx, id,
		`UPDATE crawl_executions
		 SET status = 'failed', completed_at = now()
		 WHERE id = $1`)
}

func (r *Repo) setStatus(ctx context.Context, id, sql string) error {
	tag, err := r.pool.Exec(ctx, sql, id)
	if err != nil {
		return eris.Wrapf(err, "execution: update status for %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("execution: %s not found", id)
	}
	return nil
}

// Status returns just the current status of an execution.
func (r *Repo) Status(ctx context.Context, id string) (model.ExecutionStatus, error) {
	var s model.ExecutionStatus
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM crawl_executions WHERE id = $1`, id,
	).Scan(&s)
	if err != nil {
		return "", eris.Wrapf(err, "execution: status of %s", id)
	}
	return s, nil
}

// PendingStates returns the regions of an execution that still need work,
// ordered by region so resumed runs process them in a stable order.
func (r *Repo) PendingStates(ctx context.Context, executionID string) ([]*model.ExecutionState, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, execution_id, region, status, total_pages, total_records,
		        started_at, completed_at
		 FROM crawl_execution_states
		 WHERE execution_id = $1
		   AND status NOT IN ('completed', 'skipped')
		 ORDER BY region`,
		executionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "execution: pending states for %s", executionID)
	}
	defer rows.Close()
	return scanStates(rows)
}

// States returns every region state of an execution ordered by region.
func (r *Repo) States(ctx context.Context, executionID string) ([]*model.ExecutionState, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, execution_id, region, status, total_pages, total_records,
		        started_at, completed_at
		 FROM crawl_execution_states
		 WHERE execution_id = $1
		 ORDER BY region`,
		executionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "execution: states for %s", executionID)
	}
	defer rows.Close()
	return scanStates(rows)
}

func scanStates(rows pgx.Rows) ([]*model.ExecutionState, error) {
	var out []*model.ExecutionState
	for rows.Next() {
		st := &model.ExecutionState{}
		err := rows.Scan(&st.ID, &st.ExecutionID, &st.Region, &st.Status,
			&st.TotalPages, &st.TotalRecords, &st.StartedAt, &st.CompletedAt)
		if err != nil {
			return nil, eris.Wrap(err, "execution: scan state")
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// StartState transitions a region state to running, preserving the original
// start time across resumes.
func (r *Repo) StartState(ctx context.Context, stateID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE crawl_execution_states
		 SET status = 'running', started_at = COALESCE(started_at, now())
		 WHERE id = $1`,
		stateID,
	)
	if err != nil {
		return eris.Wrapf(err, "execution: start state %d", stateID)
	}
	return nil
}

// SetStateTotals records the totals discovered from the first page fetch.
// Safe to call again when the remote total grows mid-crawl.
func (r *Repo) SetStateTotals(ctx context.Context, stateID int64, totalPages, totalRecords int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE crawl_execution_states
		 SET total_pages = $2, total_records = $3
		 WHERE id = $1`,
		stateID, totalPages, totalRecords,
	)
	if err != nil {
		return eris.Wrapf(err, "execution: set totals for state %d", stateID)
	}
	return nil
}

// CompleteState marks a region state completed.
func (r *Repo) CompleteState(ctx context.Context, stateID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE crawl_execution_states
		 SET status = 'completed', completed_at = now()
		 WHERE id = $1`,
		stateID,
	)
	if err != nil {
		return eris.Wrapf(err, "execution: complete state %d", stateID)
	}
	return nil
}

// FailState marks a region state failed. The reason goes to the log only;
// page-level errors live in the ledger.
func (r *Repo) FailState(ctx context.Context, stateID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE crawl_execution_states
		 SET status = 'failed', completed_at = now()
		 WHERE id = $1`,
		stateID,
	)
	if err != nil {
		return eris.Wrapf(err, "execution: fail state %d", stateID)
	}
	return nil
}

// SkipState marks a region state skipped, used when a region has zero
// records to crawl.
func (r *Repo) SkipState(ctx context.Context, stateID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE crawl_execution_states
		 SET status = 'skipped', completed_at = now()
		 WHERE id = $1`,
		stateID,
	)
	if err != nil {
		return eris.Wrapf(err, "execution: skip state %d", stateID)
	}
	return nil
}

// AllStatesDone reports whether every region state reached completed or
// skipped, meaning the execution as a whole can be marked completed.
func (r *Repo) AllStatesDone(ctx context.Context, executionID string) (bool, error) {
	var remaining int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM crawl_execution_states
		 WHERE execution_id = $1
		   AND status NOT IN ('completed', 'skipped')`,
		executionID,
	).Scan(&remaining)
	if err != nil {
		return false, eris.Wrapf(err, "execution: completeness check for %s", executionID)
	}
	return remaining == 0, nil
}

// Progress aggregates ledger counters across all regions of an execution.
func (r *Repo) Progress(ctx context.Context, executionID string) (Progress, error) {
	var p Progress
	err := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(p.*),
			COUNT(p.*) FILTER (WHERE p.status = 'fetched'),
			COUNT(p.*) FILTER (WHERE p.status = 'failed'),
			COALESCE(SUM(p.records_count) FILTER (WHERE p.status = 'fetched'), 0)
		 FROM crawl_pages p
		 JOIN crawl_execution_states s ON s.id = p.execution_state_id
		 WHERE s.execution_id = $1`,
		executionID,
	).Scan(&p.TotalPages, &p.FetchedPages, &p.FailedPages, &p.Records)
	if err != nil {
		return Progress{}, eris.Wrapf(err, "execution: progress for %s", executionID)
	}
	return p, nil
}
