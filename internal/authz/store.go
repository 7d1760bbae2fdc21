package authz

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned when no token has been stored for a permission.
var ErrNoToken = errors.New("no token stored for permission")

// verifierStore holds the PKCE verifier minted for each in-flight
// authorization, consumed once by the callback's token exchange.
type verifierStore struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *verifierStore) put(permissionID, verifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]string)
	}
	s.m[permissionID] = verifier
}

func (s *verifierStore) take(permissionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	verifier, ok := s.m[permissionID]
	if ok {
		delete(s.m, permissionID)
	}
	return verifier, ok
}

// InMemoryTokenStore keeps tokens in process memory. Suitable for tests and
// the smoke binary; production deployments use the relational store.
type InMemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.Token
}

func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{tokens: make(map[string]*oauth2.Token)}
}

var _ TokenStore = (*InMemoryTokenStore)(nil)

func (s *InMemoryTokenStore) SaveOAuthToken(ctx context.Context, permissionID string, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *tok
	s.tokens[permissionID] = &copied
	return nil
}

func (s *InMemoryTokenStore) OAuthToken(ctx context.Context, permissionID string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[permissionID]
	if !ok {
		return nil, ErrNoToken
	}
	copied := *tok
	return &copied, nil
}
