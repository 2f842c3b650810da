// Package token gates crawl activity on CAPTCHA-token validity. Tokens are
// written by the external login flow; the crawler only reads them.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/medreg/registry-cli/internal/db"
)

// ErrNoToken indicates no valid CAPTCHA token exists. Callers treat this as
// "pause and ask the operator for a fresh token", never as a retryable error.
var ErrNoToken = eris.New("token: no valid captcha token")

// Guard provides read access to the captcha_tokens table.
type Guard struct {
	pool db.Pool
}

// NewGuard creates a Guard backed by the given connection pool.
func NewGuard(pool db.Pool) *Guard {
	return &Guard{pool: pool}
}

// Current returns the newest non-expired token. Returns ErrNoToken when none
// exists.
func (g *Guard) Current(ctx context.Context) (string, error) {
	var token string
	err := g.pool.QueryRow(ctx,
		`SELECT token FROM captcha_tokens
		 WHERE expires_at > now()
		 ORDER BY created_at DESC LIMIT 1`,
	).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoToken
		}
		return "", eris.Wrap(err, "token: query current")
	}
	return token, nil
}

// IsValid reports whether a non-expired token exists.
func (g *Guard) IsValid(ctx context.Context) (bool, error) {
	var valid bool
	err := g.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM captcha_tokens WHERE expires_at > now())",
	).Scan(&valid)
	if err != nil {
		return false, eris.Wrap(err, "token: check validity")
	}
	return valid, nil
}

// RemainingSeconds returns the TTL of the newest token, or 0 if none is valid.
func (g *Guard) RemainingSeconds(ctx context.Context) (int, error) {
	var ttl int
	err := g.pool.QueryRow(ctx,
		`SELECT GREATEST(0, EXTRACT(EPOCH FROM expires_at - now()))::int
		 FROM captcha_tokens
		 WHERE expires_at > now()
		 ORDER BY created_at DESC LIMIT 1`,
	).Scan(&ttl)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrap(err, "token: query ttl")
	}
	return ttl, nil
}

// Store saves a fresh token with the given TTL, dropping expired ones first.
// Used by the token CLI command only; the crawl core never writes tokens.
func (g *Guard) Store(ctx context.Context, token string, ttl time.Duration) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "token: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DELETE FROM captcha_tokens WHERE expires_at <= now()"); err != nil {
		return eris.Wrap(err, "token: delete expired")
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO captcha_tokens (token, expires_at) VALUES ($1, now() + make_interval(secs => $2))",
		token, ttl.Seconds(),
	); err != nil {
		return eris.Wrap(err, "token: insert")
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "token: commit tx")
	}
	return nil
}

// CleanupExpired removes tokens past their expiry.
func (g *Guard) CleanupExpired(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, "DELETE FROM captcha_tokens WHERE expires_at <= now()"); err != nil {
		return eris.Wrap(err, "token: delete expired")
	}
	return nil
}

// Delete removes all captcha tokens.
func (g *Guard) Delete(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, "DELETE FROM captcha_tokens"); err != nil {
		return eris.Wrap(err, "token: delete all")
	}
	return nil
}
