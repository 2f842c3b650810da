// Package ledger is the durable source of truth for which pages of a region
// still need fetching. Every mutation is an idempotent re-derivation, so a
// process restart at any point loses at most the in-flight batch.
package ledger

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/medreg/registry-cli/internal/db"
)

// PageResult pairs a page number with the record count obtained for it.
type PageResult struct {
	Number  int
	Records int
}

// PageStats summarizes the ledger for one execution state.
type PageStats struct {
	Total   int `json:"total"`
	Fetched int `json:"fetched"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// Complete reports whether every known page has been fetched.
func (s PageStats) Complete() bool {
	return s.Total > 0 && s.Total == s.Fetched
}

// Ledger provides access to the crawl_pages table.
type Ledger struct {
	pool db.Pool
}

// New creates a Ledger backed by the given connection pool.
func New(pool db.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// InitializePages ensures rows 1..totalPages exist in pending status.
// Idempotent: pre-existing rows keep their status, so calling it again with
// a grown total only inserts the new tail pages. Returns the inserted count.
func (l *Ledger) InitializePages(ctx context.Context, stateID int64, totalPages int) (int64, error) {
	if totalPages <= 0 {
		return 0, nil
	}

	tag, err := l.pool.Exec(ctx,
		`INSERT INTO crawl_pages (execution_state_id, page_number)
		 SELECT $1, generate_series(1, $2::int)
		 ON CONFLICT (execution_state_id, page_number) DO NOTHING`,
		stateID, totalPages,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "ledger: initialize pages for state %d", stateID)
	}
	return tag.RowsAffected(), nil
}

// PendingPages returns page numbers in pending or failed status, ascending.
// Failed pages are included so failures self-heal on the next pass. A limit
// <= 0 means no cap.
func (l *Ledger) PendingPages(ctx context.Context, stateID int64, limit int) ([]int, error) {
	sql := `SELECT page_number FROM crawl_pages
		 WHERE execution_state_id = $1
		   AND status IN ('pending', 'failed')
		 ORDER BY page_number`
	args := []any{stateID}
	if limit > 0 {
		sql += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: pending pages for state %d", stateID)
	}
	defer rows.Close()

	var pages []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "ledger: scan page number")
		}
		pages = append(pages, n)
	}
	return pages, rows.Err()
}

// MarkFetchedBatch transitions the listed pages to fetched, stamping the
// fetch time, recording the count and clearing any previous error. The
// updates ride one pgx batch so a whole crawl batch lands together.
func (l *Ledger) MarkFetchedBatch(ctx context.Context, stateID int64, pages []PageResult) error {
	if len(pages) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, p := range pages {
		b.Queue(
			`UPDATE crawl_pages
			 SET status = 'fetched', records_count = $3, fetched_at = now(), error = NULL
			 WHERE execution_state_id = $1 AND page_number = $2`,
			stateID, p.Number, p.Records,
		)
	}

	br := l.pool.SendBatch(ctx, b)
	defer br.Close() //nolint:errcheck

	for range pages {
		if _, err := br.Exec(); err != nil {
			return eris.Wrapf(err, "ledger: mark fetched batch for state %d", stateID)
		}
	}
	return nil
}

// MarkFailed transitions a page to failed with a reason. Retry bounding is
// the caller's concern; the ledger keeps no attempt counter.
func (l *Ledger) MarkFailed(ctx context.Context, stateID int64, pageNumber int, reason string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE crawl_pages
		 SET status = 'failed', error = $3
		 WHERE execution_state_id = $1 AND page_number = $2`,
		stateID, pageNumber, reason,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: mark page %d failed for state %d", pageNumber, stateID)
	}
	return nil
}

// Stats returns page counts by status for one execution state.
func (l *Ledger) Stats(ctx context.Context, stateID int64) (PageStats, error) {
	var s PageStats
	err := l.pool.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'fetched'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'failed')
		 FROM crawl_pages
		 WHERE execution_state_id = $1`,
		stateID,
	).Scan(&s.Total, &s.Fetched, &s.Pending, &s.Failed)
	if err != nil {
		return PageStats{}, eris.Wrapf(err, "ledger: stats for state %d", stateID)
	}
	return s, nil
}

// IsComplete reports whether all known pages of the state are fetched.
func (l *Ledger) IsComplete(ctx context.Context, stateID int64) (bool, error) {
	stats, err := l.Stats(ctx, stateID)
	if err != nil {
		return false, err
	}
	return stats.Complete(), nil
}
