package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

func newMockTokenStore(t *testing.T) (*TokenStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewTokenStore(mock, Tables{})
	require.NoError(t, err)
	return store, mock
}

func TestTokenStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockTokenStore(t)
	expiry := time.Date(2025, 3, 15, 11, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO gsc_tokens").
		WithArgs("owner@example.com", "access", "refresh", "Bearer", &expiry).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT access_token, refresh_token, token_type, expiry").
		WithArgs("owner@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"access_token", "refresh_token", "token_type", "expiry"}).
			AddRow("access", "refresh", "Bearer", &expiry))

	ctx := context.Background()
	err := store.SaveToken(ctx, "  Owner@Example.com ", &oauth2.Token{
		AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer", Expiry: expiry,
	})
	require.NoError(t, err)

	tok, err := store.Token(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, "refresh", tok.RefreshToken)
	assert.True(t, expiry.Equal(tok.Expiry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenStoreMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockTokenStore(t)
	mock.ExpectQuery("SELECT access_token").WithArgs("nobody").WillReturnError(pgx.ErrNoRows)

	_, err := store.Token(context.Background(), "nobody")
	require.ErrorIs(t, err, audit.ErrNotFound)
}

func TestTokenStoreDelete(t *testing.T) {
	t.Parallel()

	store, mock := newMockTokenStore(t)
	mock.ExpectExec("DELETE FROM gsc_tokens").
		WithArgs("acct-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.DeleteToken(context.Background(), "ACCT-1"))
	require.NoError(t, store.SaveToken(context.Background(), "acct-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
