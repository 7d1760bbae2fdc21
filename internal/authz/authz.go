// Package authz drives the authorization-code leg of a permission request:
// building the consent URL a final customer is redirected to, and turning
// the administrator's callback into the matching lifecycle event.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"eddie.energy/internal/obs"
	"eddie.energy/internal/outbox"
	"eddie.energy/internal/permission"
)

var (
	// ErrUserDeniedAuthorization marks a callback where the final customer
	// refused consent.
	ErrUserDeniedAuthorization = errors.New("user denied authorization")
	// ErrStateMismatch marks a callback whose state parameter does not
	// verify, either tampered with or expired.
	ErrStateMismatch = errors.New("authorization state mismatch")
	// ErrSignState marks a failure to mint the signed state parameter.
	ErrSignState = errors.New("sign authorization state")
)

// TokenStore persists the tokens obtained for accepted permissions, keyed by
// permission id.
type TokenStore interface {
	SaveOAuthToken(ctx context.Context, permissionID string, tok *oauth2.Token) error
	OAuthToken(ctx context.Context, permissionID string) (*oauth2.Token, error)
}

// Manager runs the OAuth authorization-code flow against a permission
// administrator. The state parameter is a short-lived signed token carrying
// the permission id, so the callback can be correlated without server-side
// session storage.
type Manager struct {
	cfg       oauth2.Config
	stateKey  []byte
	stateTTL  time.Duration
	tokens    TokenStore
	outbox    *outbox.Outbox
	verifiers verifierStore
	now       func() time.Time
}

// NewManager wires the flow. stateKey signs the state parameter and must be
// stable across replicas behind the same callback URL.
func NewManager(cfg oauth2.Config, stateKey []byte, tokens TokenStore, ob *outbox.Outbox) *Manager {
	return &Manager{
		cfg:      cfg,
		stateKey: stateKey,
		stateTTL: 15 * time.Minute,
		tokens:   tokens,
		outbox:   ob,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the manager clock; used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// AuthorizationURL returns the consent URL for the given permission request,
// with a fresh PKCE challenge and a signed state parameter.
func (m *Manager) AuthorizationURL(permissionID string) (string, error) {
	state, err := m.signState(permissionID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSignState, err)
	}
	verifier := oauth2.GenerateVerifier()
	m.verifiers.put(permissionID, verifier)
	return m.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	), nil
}

// Callback is the administrator's answer as delivered to the redirect URI.
type Callback struct {
	Code  string
	State string
	// Error is the OAuth error parameter, e.g. "access_denied" or
	// "invalid_scope"; empty on success.
	Error string
}

// ProcessCallback turns the administrator's callback into the matching
// lifecycle event: ACCEPTED with a stored token, REJECTED when the customer
// denied, INVALID when the administrator could not grant the requested scope.
// State verification failures return ErrStateMismatch without touching any
// permission request.
func (m *Manager) ProcessCallback(ctx context.Context, cb Callback) error {
	permissionID, err := m.verifyState(cb.State)
	if err != nil {
		obs.LogEvent("authz.state_mismatch", map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %w", ErrStateMismatch, err)
	}

	switch cb.Error {
	case "":
	case "access_denied":
		if err := m.outbox.Commit(ctx, permission.StatusChanged{
			ID:      permissionID,
			Status:  permission.StatusRejected,
			Message: "final customer denied authorization",
		}); err != nil {
			return err
		}
		return ErrUserDeniedAuthorization
	default:
		return m.outbox.Commit(ctx, permission.StatusChanged{
			ID:      permissionID,
			Status:  permission.StatusInvalid,
			Message: "authorization failed: " + cb.Error,
		})
	}

	opts := []oauth2.AuthCodeOption{}
	if verifier, ok := m.verifiers.take(permissionID); ok {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := m.cfg.Exchange(ctx, cb.Code, opts...)
	if err != nil {
		obs.LogEvent("authz.exchange_failed", map[string]any{
			"permission_id": permissionID,
			"error":         err.Error(),
		})
		return m.outbox.Commit(ctx, permission.StatusChanged{
			ID:      permissionID,
			Status:  permission.StatusUnableToSend,
			Message: "token exchange failed",
		})
	}
	if err := m.tokens.SaveOAuthToken(ctx, permissionID, tok); err != nil {
		return fmt.Errorf("store token for permission %s: %w", permissionID, err)
	}

	return m.outbox.Commit(ctx, permission.StatusChanged{
		ID:     permissionID,
		Status: permission.StatusAccepted,
	})
}

// TokenSource returns a refreshing token source for an accepted permission,
// suitable for authenticating upstream fetches.
func (m *Manager) TokenSource(ctx context.Context, permissionID string) (oauth2.TokenSource, error) {
	tok, err := m.tokens.OAuthToken(ctx, permissionID)
	if err != nil {
		return nil, err
	}
	return m.cfg.TokenSource(ctx, tok), nil
}

type stateClaims struct {
	PermissionID string `json:"pid"`
	jwt.RegisteredClaims
}

func (m *Manager) signState(permissionID string) (string, error) {
	now := m.now()
	claims := stateClaims{
		PermissionID: permissionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.stateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.stateKey)
}

func (m *Manager) verifyState(state string) (string, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.stateKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil {
		return "", err
	}
	if claims.PermissionID == "" {
		return "", errors.New("state carries no permission id")
	}
	return claims.PermissionID, nil
}
