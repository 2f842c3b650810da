package ledger

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestInitializePages(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("INSERT INTO crawl_pages").
		WithArgs(int64(7), 25).
		WillReturnResult(pgxmock.NewResult("INSERT", 25))

	inserted, err := New(mock).InitializePages(context.Background(), 7, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(25), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitializePagesIdempotent(t *testing.T) {
	// A rerun over an already-seeded state inserts nothing thanks to the
	// ON CONFLICT DO NOTHING clause.
	mock := newMock(t)
	mock.ExpectExec("ON CONFLICT \\(execution_state_id, page_number\\) DO NOTHING").
		WithArgs(int64(7), 25).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := New(mock).InitializePages(context.Background(), 7, 25)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitializePagesGrownTotal(t *testing.T) {
	// When the remote total grows from 50 to 70 only the 20 new tail
	// pages are inserted; the original rows keep their status.
	mock := newMock(t)
	mock.ExpectExec("INSERT INTO crawl_pages").
		WithArgs(int64(3), 70).
		WillReturnResult(pgxmock.NewResult("INSERT", 20))

	inserted, err := New(mock).InitializePages(context.Background(), 3, 70)
	require.NoError(t, err)
	assert.Equal(t, int64(20), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitializePagesZeroTotal(t *testing.T) {
	mock := newMock(t)

	inserted, err := New(mock).InitializePages(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingPagesIncludesFailed(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT page_number FROM crawl_pages").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"page_number"}).
			AddRow(2).AddRow(5).AddRow(9))

	pages, err := New(mock).PendingPages(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 9}, pages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingPagesLimit(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("LIMIT \\$2").
		WithArgs(int64(7), 5).
		WillReturnRows(pgxmock.NewRows([]string{"page_number"}).AddRow(1))

	pages, err := New(mock).PendingPages(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, pages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingPagesEmpty(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT page_number FROM crawl_pages").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"page_number"}))

	pages, err := New(mock).PendingPages(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFetchedBatch(t *testing.T) {
	mock := newMock(t)
	eb := mock.ExpectBatch()
	eb.ExpectExec("UPDATE crawl_pages").
		WithArgs(int64(7), 1, 200).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	eb.ExpectExec("UPDATE crawl_pages").
		WithArgs(int64(7), 2, 183).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := New(mock).MarkFetchedBatch(context.Background(), 7, []PageResult{
		{Number: 1, Records: 200},
		{Number: 2, Records: 183},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFetchedBatchEmpty(t *testing.T) {
	mock := newMock(t)

	err := New(mock).MarkFetchedBatch(context.Background(), 7, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("SET status = 'failed'").
		WithArgs(int64(7), 4, "request timeout").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := New(mock).MarkFailed(context.Background(), 7, 4, "request timeout")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("COUNT\\(\\*\\) FILTER").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"total", "fetched", "pending", "failed"}).
			AddRow(25, 20, 3, 2))

	stats, err := New(mock).Stats(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, PageStats{Total: 25, Fetched: 20, Pending: 3, Failed: 2}, stats)
	assert.False(t, stats.Complete())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsComplete(t *testing.T) {
	tests := []struct {
		name                            string
		total, fetched, pending, failed int
		want                            bool
	}{
		{"all fetched", 25, 25, 0, 0, true},
		{"pages remain", 25, 20, 3, 2, false},
		{"no pages yet", 0, 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectQuery("COUNT\\(\\*\\) FILTER").
				WithArgs(int64(7)).
				WillReturnRows(pgxmock.NewRows([]string{"total", "fetched", "pending", "failed"}).
					AddRow(tt.total, tt.fetched, tt.pending, tt.failed))

			done, err := New(mock).IsComplete(context.Background(), 7)
			require.NoError(t, err)
			assert.Equal(t, tt.want, done)
		})
	}
}
