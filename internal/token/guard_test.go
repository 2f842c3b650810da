package token

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
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

func TestCurrent(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT token FROM captcha_tokens").
		WillReturnRows(pgxmock.NewRows([]string{"token"}).AddRow("tok-abc"))

	g := NewGuard(mock)
	tok, err := g.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", tok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrent_NoToken(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT token FROM captcha_tokens").
		WillReturnError(pgx.ErrNoRows)

	g := NewGuard(mock)
	_, err := g.Current(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestIsValid(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	g := NewGuard(mock)
	ok, err := g.IsValid(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemainingSeconds(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT GREATEST").
		WillReturnRows(pgxmock.NewRows([]string{"ttl"}).AddRow(345))

	g := NewGuard(mock)
	ttl, err := g.RemainingSeconds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 345, ttl)
}

func TestRemainingSeconds_NoToken(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT GREATEST").WillReturnError(pgx.ErrNoRows)

	g := NewGuard(mock)
	ttl, err := g.RemainingSeconds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ttl)
}

func TestStore(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM captcha_tokens WHERE expires_at").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO captcha_tokens").
		WithArgs("tok-new", float64(1800)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	g := NewGuard(mock)
	require.NoError(t, g.Store(context.Background(), "tok-new", 30*time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("DELETE FROM captcha_tokens").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	g := NewGuard(mock)
	require.NoError(t, g.Delete(context.Background()))
}
