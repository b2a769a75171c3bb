package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Prefix namespaces every key written by the SDK.
const Prefix = "alien-sso_"

const (
	KeyCodeVerifier   = "code_verifier"
	KeyAccessToken    = "access_token"
	KeyIDToken        = "id_token"
	KeyRefreshToken   = "refresh_token"
	KeyTokenExpiry    = "token_expiry"
	KeySolanaAddress  = "solana_address"
	KeySessionAddress = "session_address"
)

var tokenKeys = []string{KeyAccessToken, KeyIDToken, KeyRefreshToken, KeyTokenExpiry}

// TokenBundle is the set of tokens issued by the provider.
type TokenBundle struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	// Expiry is the local absolute expiry; zero when the provider sent no expires_in.
	Expiry time.Time
}

// Session namespaces and routes keys to the ephemeral or the durable store.
type Session struct {
	ephemeral Store
	durable   Store
}

// New builds a Session. Nil stores default to in-memory ones.
func New(ephemeral, durable Store) *Session {
	if ephemeral == nil {
		ephemeral = NewMemoryStore(0)
	}
	if durable == nil {
		durable = NewMemoryStore(0)
	}
	return &Session{ephemeral: ephemeral, durable: durable}
}

// NewInMemory is a Session that forgets everything on exit.
func NewInMemory() *Session { return New(nil, nil) }

// Key returns the namespaced storage key for name.
func Key(name string) string { return Prefix + name }

func (s *Session) get(ctx context.Context, st Store, name string) (string, bool, error) {
	v, ok, err := st.Get(ctx, Key(name))
	if err != nil {
		return "", false, fmt.Errorf("session: get %s: %w", name, err)
	}
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

func (s *Session) set(ctx context.Context, st Store, name, value string) error {
	if err := st.Set(ctx, Key(name), value); err != nil {
		return fmt.Errorf("session: set %s: %w", name, err)
	}
	return nil
}

func (s *Session) del(ctx context.Context, st Store, name string) error {
	if err := st.Delete(ctx, Key(name)); err != nil {
		return fmt.Errorf("session: delete %s: %w", name, err)
	}
	return nil
}

// SaveVerifier stores the PKCE verifier for the current login attempt.
func (s *Session) SaveVerifier(ctx context.Context, verifier string) error {
	return s.set(ctx, s.ephemeral, KeyCodeVerifier, verifier)
}

// Verifier returns the stored PKCE verifier.
func (s *Session) Verifier(ctx context.Context) (string, bool, error) {
	return s.get(ctx, s.ephemeral, KeyCodeVerifier)
}

// ClearVerifier removes the PKCE verifier.
func (s *Session) ClearVerifier(ctx context.Context) error {
	return s.del(ctx, s.ephemeral, KeyCodeVerifier)
}

// SaveBundle replaces the stored token set with b. Fields left empty in b are removed,
// so tokens and expiry from an earlier login never survive next to new ones.
func (s *Session) SaveBundle(ctx context.Context, b TokenBundle) error {
	if b.AccessToken == "" {
		return errors.New("session: refusing to store an empty access token")
	}
	expiry := ""
	if !b.Expiry.IsZero() {
		expiry = strconv.FormatInt(b.Expiry.UnixMilli(), 10)
	}
	pairs := []struct{ key, value string }{
		{KeyAccessToken, b.AccessToken},
		{KeyIDToken, b.IDToken},
		{KeyRefreshToken, b.RefreshToken},
		{KeyTokenExpiry, expiry},
	}
	for _, p := range pairs {
		var err error
		if p.value == "" {
			err = s.del(ctx, s.durable, p.key)
		} else {
			err = s.set(ctx, s.durable, p.key, p.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Bundle reads the stored tokens. ok is false when no access token is stored.
func (s *Session) Bundle(ctx context.Context) (TokenBundle, bool, error) {
	var b TokenBundle
	access, ok, err := s.get(ctx, s.durable, KeyAccessToken)
	if err != nil || !ok {
		return b, false, err
	}
	b.AccessToken = access
	if b.IDToken, _, err = s.get(ctx, s.durable, KeyIDToken); err != nil {
		return b, false, err
	}
	if b.RefreshToken, _, err = s.get(ctx, s.durable, KeyRefreshToken); err != nil {
		return b, false, err
	}
	if b.Expiry, _, err = s.TokenExpiry(ctx); err != nil {
		return b, false, err
	}
	return b, true, nil
}

// AccessToken returns the stored access token.
func (s *Session) AccessToken(ctx context.Context) (string, bool, error) {
	return s.get(ctx, s.durable, KeyAccessToken)
}

// IDToken returns the stored id token.
func (s *Session) IDToken(ctx context.Context) (string, bool, error) {
	return s.get(ctx, s.durable, KeyIDToken)
}

// RefreshToken returns the stored refresh token.
func (s *Session) RefreshToken(ctx context.Context) (string, bool, error) {
	return s.get(ctx, s.durable, KeyRefreshToken)
}

// SetAccessToken stores only the access token (SSO variant).
func (s *Session) SetAccessToken(ctx context.Context, token string) error {
	return s.set(ctx, s.durable, KeyAccessToken, token)
}

// TokenExpiry returns the stored absolute expiry.
func (s *Session) TokenExpiry(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := s.get(ctx, s.durable, KeyTokenExpiry)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, errParse := strconv.ParseInt(raw, 10, 64)
	if errParse != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// ClearTokens removes every stored token and the expiry.
func (s *Session) ClearTokens(ctx context.Context) error {
	var errs []error
	for _, key := range tokenKeys {
		if err := s.del(ctx, s.durable, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear removes the verifier, all tokens and the Solana binding.
func (s *Session) Clear(ctx context.Context) error {
	return errors.Join(
		s.ClearVerifier(ctx),
		s.ClearTokens(ctx),
		s.del(ctx, s.durable, KeySolanaAddress),
		s.del(ctx, s.durable, KeySessionAddress),
	)
}

// SetSolanaAddress stores the wallet bound to this session.
func (s *Session) SetSolanaAddress(ctx context.Context, address string) error {
	return s.set(ctx, s.durable, KeySolanaAddress, address)
}

// SolanaAddress returns the stored wallet address.
func (s *Session) SolanaAddress(ctx context.Context) (string, bool, error) {
	return s.get(ctx, s.durable, KeySolanaAddress)
}

// SetSessionAddress stores the session address returned by an attestation.
func (s *Session) SetSessionAddress(ctx context.Context, address string) error {
	return s.set(ctx, s.durable, KeySessionAddress, address)
}

// SessionAddress returns the stored session address.
func (s *Session) SessionAddress(ctx context.Context) (string, bool, error) {
	return s.get(ctx, s.durable, KeySessionAddress)
}
