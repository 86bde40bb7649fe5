package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/oauth2"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// TokenStore persists Search Console OAuth tokens per identity.
type TokenStore struct {
	pool  pool
	table string
}

// NewTokenStore wraps an existing pool.
func NewTokenStore(p pool, tables Tables) (*TokenStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	tables, err := tables.withDefaults()
	if err != nil {
		return nil, err
	}
	return &TokenStore{pool: p, table: tables.Tokens}, nil
}

func identityKey(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Token loads the token for identity.
func (s *TokenStore) Token(ctx context.Context, identity string) (*oauth2.Token, error) {
	query := fmt.Sprintf(`
SELECT access_token, refresh_token, token_type, expiry
FROM %s
WHERE identity = $1`, s.table)
	var (
		tok    oauth2.Token
		expiry *time.Time
	)
	err := s.pool.QueryRow(ctx, query, identityKey(identity)).Scan(
		&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, audit.ErrNotFound
		}
		return nil, fmt.Errorf("select token: %w", err)
	}
	if expiry != nil {
		tok.Expiry = *expiry
	}
	return &tok, nil
}

// SaveToken upserts the token for identity.
func (s *TokenStore) SaveToken(ctx context.Context, identity string, token *oauth2.Token) error {
	if token == nil {
		return nil
	}
	var expiry *time.Time
	if !token.Expiry.IsZero() {
		e := token.Expiry.UTC()
		expiry = &e
	}
	query := fmt.Sprintf(`
INSERT INTO %s (identity, access_token, refresh_token, token_type, expiry, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (identity) DO UPDATE
SET access_token = EXCLUDED.access_token,
    refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), %s.refresh_token),
    token_type = EXCLUDED.token_type,
    expiry = EXCLUDED.expiry,
    updated_at = now()`, s.table, s.table)
	_, err := s.pool.Exec(ctx, query,
		identityKey(identity), token.AccessToken, token.RefreshToken, token.TokenType, expiry)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// DeleteToken removes the token. Deleting a missing identity is not an error.
func (s *TokenStore) DeleteToken(ctx context.Context, identity string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE identity = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, identityKey(identity)); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
