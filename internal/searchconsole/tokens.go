package searchconsole

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
)

// TokenStore holds OAuth tokens per identity (account id or email).
// Token returns audit.ErrNotFound when the identity has never connected.
type TokenStore interface {
	Token(ctx context.Context, identity string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, identity string, token *oauth2.Token) error
	DeleteToken(ctx context.Context, identity string) error
}

// MemoryTokenStore is a process-local TokenStore.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]oauth2.Token
}

// NewMemoryTokenStore returns an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]oauth2.Token)}
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Token returns a copy of the stored token.
func (s *MemoryTokenStore) Token(_ context.Context, identity string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[normalizeIdentity(identity)]
	if !ok {
		return nil, audit.ErrNotFound
	}
	return &tok, nil
}

// SaveToken stores or replaces the token for identity.
func (s *MemoryTokenStore) SaveToken(_ context.Context, identity string, token *oauth2.Token) error {
	if token == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[normalizeIdentity(identity)] = *token
	return nil
}

// DeleteToken removes the token. Deleting a missing identity is not an error.
func (s *MemoryTokenStore) DeleteToken(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, normalizeIdentity(identity))
	return nil
}
