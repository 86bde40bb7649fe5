package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// TokenStore keeps Search Console OAuth tokens in the run database.
type TokenStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewTokenStore shares the RunStore's database handle. Closing the
// RunStore closes it.
func NewTokenStore(runs *RunStore) *TokenStore {
	return &TokenStore{db: runs.db, now: runs.now}
}

func identityKey(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Token loads the token for identity.
func (s *TokenStore) Token(ctx context.Context, identity string) (*oauth2.Token, error) {
	var (
		tok    oauth2.Token
		expiry sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expiry FROM gsc_tokens WHERE identity = ?`,
		identityKey(identity)).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, audit.ErrNotFound
		}
		return nil, fmt.Errorf("select token: %w", err)
	}
	if expiry.Valid && expiry.String != "" {
		if tok.Expiry, err = time.Parse(time.RFC3339Nano, expiry.String); err != nil {
			return nil, fmt.Errorf("decode token expiry: %w", err)
		}
	}
	return &tok, nil
}

// SaveToken upserts the token. An empty refresh token keeps the stored one,
// since Google only returns it on the first consent.
func (s *TokenStore) SaveToken(ctx context.Context, identity string, token *oauth2.Token) error {
	if token == nil {
		return nil
	}
	var expiry sql.NullString
	if !token.Expiry.IsZero() {
		expiry = sql.NullString{String: formatTime(token.Expiry), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gsc_tokens (identity, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = COALESCE(NULLIF(excluded.refresh_token, ''), gsc_tokens.refresh_token),
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at`,
		identityKey(identity), token.AccessToken, token.RefreshToken, token.TokenType, expiry, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// DeleteToken removes the token. Deleting a missing identity is not an error.
func (s *TokenStore) DeleteToken(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM gsc_tokens WHERE identity = ?`, identityKey(identity)); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
