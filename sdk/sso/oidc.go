package sso

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alien-org/alien-sso-go/internal/pkce"
	"github.com/alien-org/alien-sso-go/internal/provider"
	"github.com/alien-org/alien-sso-go/sdk/poll"
	"github.com/alien-org/alien-sso-go/sdk/session"
	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// DefaultScope is requested when OIDCConfig.Scope is empty.
const DefaultScope = "openid"

// OIDCConfig configures an OIDCClient.
type OIDCConfig struct {
	SSOBaseURL      string
	ProviderAddress string
	// ClientID defaults to ProviderAddress.
	ClientID    string
	Scope       string
	RedirectURI string

	PollingInterval time.Duration
	// Algorithms accepted by GetAuthData. Defaults to DefaultOIDCAlgorithms.
	Algorithms     []string
	VerifierLength int

	HTTPClient *http.Client
	Session    *session.Session
	Random     io.Reader
	Now        func() time.Time
}

// OIDCClient drives the OAuth2/OIDC variant of the flow: GET authorize with a JSON response
// mode, polling, a standard token endpoint and userinfo. It refreshes tokens through a
// RefreshCoordinator owned by the client.
type OIDCClient struct {
	cfg       OIDCConfig
	api       *provider.Client
	session   *session.Session
	claims    *ClaimsDecoder
	oauth     *oauth2.Config
	refresher *RefreshCoordinator
}

// NewOIDCClient builds an OIDCClient from cfg.
func NewOIDCClient(cfg OIDCConfig) *OIDCClient {
	if cfg.SSOBaseURL == "" {
		cfg.SSOBaseURL = DefaultBaseURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = cfg.ProviderAddress
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = poll.DefaultInterval
	}
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = DefaultOIDCAlgorithms
	}
	if cfg.Session == nil {
		cfg.Session = session.NewInMemory()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	api := provider.New(cfg.SSOBaseURL,
		provider.WithHTTPClient(cfg.HTTPClient),
		provider.WithProviderAddress(cfg.ProviderAddress),
	)
	c := &OIDCClient{
		cfg:     cfg,
		api:     api,
		session: cfg.Session,
		claims:  NewClaimsDecoder(cfg.Algorithms, cfg.ClientID, true),
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Scopes:      []string{cfg.Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   api.URL(PathOAuthAuthz),
				TokenURL:  api.URL(PathOAuthToken),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
	c.refresher = NewRefreshCoordinator(cfg.Session, c.refreshGrant)
	return c
}

// Session returns the session store used by the client.
func (c *OIDCClient) Session() *session.Session { return c.session }

// Coordinator exposes the client's refresh coordinator.
func (c *OIDCClient) Coordinator() *RefreshCoordinator { return c.refresher }

// AuthorizeOption adds optional parameters to the authorize request.
type AuthorizeOption func(url.Values)

// WithNonce binds the id token to nonce.
func WithNonce(nonce string) AuthorizeOption {
	return func(q url.Values) {
		if nonce != "" {
			q.Set("nonce", nonce)
		}
	}
}

// Authorize starts a login with an S256 challenge and returns the deep link and polling code.
func (c *OIDCClient) Authorize(ctx context.Context, opts ...AuthorizeOption) (*AuthorizeResponse, error) {
	pair := pkce.Generator{Random: c.cfg.Random}.Pair(c.cfg.VerifierLength, pkce.EncodingBase64URL)
	if pair.Capability == pkce.Weak {
		log.Warn("alien sso: secure random source unavailable, code verifier generated with a weak generator")
	}
	if err := c.session.SaveVerifier(ctx, pair.Verifier); err != nil {
		return nil, fmt.Errorf("alien sso: store code verifier: %w", err)
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("response_mode", "json")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("scope", c.cfg.Scope)
	q.Set("code_challenge", pair.Challenge)
	q.Set("code_challenge_method", pkce.MethodS256)
	if c.cfg.RedirectURI != "" {
		q.Set("redirect_uri", c.cfg.RedirectURI)
	}
	for _, opt := range opts {
		opt(q)
	}

	var out AuthorizeResponse
	if err := c.api.Get(ctx, "authorize", PathOAuthAuthz, q, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Poll issues a single poll request.
func (c *OIDCClient) Poll(ctx context.Context, pollingCode string) (*PollResponse, error) {
	var out PollResponse
	if err := c.api.PostJSON(ctx, "poll", PathOAuthPoll, PollRequest{PollingCode: pollingCode}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewPollLoop returns a started loop for auth.
func (c *OIDCClient) NewPollLoop(auth *AuthorizeResponse) (*poll.Loop[string], error) {
	if auth == nil || auth.PollingCode == "" {
		return nil, &ssoerr.ValidationError{Op: "poll", Field: "polling_code", Message: "required"}
	}
	poller := func(ctx context.Context) (poll.Response[string], error) {
		out, err := c.Poll(ctx, auth.PollingCode)
		if err != nil {
			return poll.Response[string]{}, err
		}
		return poll.Response[string]{Status: out.Status, Value: out.AuthorizationCode}, nil
	}
	loop := poll.New(poller, poll.Options{Interval: c.cfg.PollingInterval, Now: c.cfg.Now})
	if _, err := loop.Start(auth.Deadline()); err != nil {
		return nil, err
	}
	return loop, nil
}

// AwaitAuthorization blocks until the login reaches a terminal state.
func (c *OIDCClient) AwaitAuthorization(ctx context.Context, auth *AuthorizeResponse) (poll.Outcome[string], error) {
	loop, err := c.NewPollLoop(auth)
	if err != nil {
		return poll.Outcome[string]{State: poll.StateError, Err: err}, err
	}
	return loop.Await(ctx)
}

// WatchAuthorization polls on timers and reports through cb.
func (c *OIDCClient) WatchAuthorization(ctx context.Context, auth *AuthorizeResponse, cb poll.Callbacks[string]) (*poll.Handle[string], error) {
	loop, err := c.NewPollLoop(auth)
	if err != nil {
		return nil, err
	}
	return loop.Watch(ctx, cb), nil
}

// ExchangeCode redeems code at the token endpoint with the stored verifier and persists the
// resulting bundle. The verifier is consumed whatever the outcome.
func (c *OIDCClient) ExchangeCode(ctx context.Context, code string) (*session.TokenBundle, error) {
	verifier, ok, err := c.session.Verifier(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ssoerr.MissingVerifierError{}
	}
	defer c.clearVerifier(ctx)

	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, tokenError("exchange", err)
	}
	bundle, err := c.bundleFrom("exchange", tok)
	if err != nil {
		return nil, err
	}
	if bundle.IDToken == "" {
		return nil, &ssoerr.ValidationError{Op: "exchange", Field: "id_token", Message: "required"}
	}
	if err = c.session.SaveBundle(ctx, bundle); err != nil {
		return nil, fmt.Errorf("alien sso: store tokens: %w", err)
	}
	return &bundle, nil
}

// Login runs Authorize, waits for approval and exchanges the code.
func (c *OIDCClient) Login(ctx context.Context, onLink func(*AuthorizeResponse), opts ...AuthorizeOption) (*session.TokenBundle, error) {
	defer c.clearVerifier(ctx)

	auth, err := c.Authorize(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if onLink != nil {
		onLink(auth)
	}
	out, err := c.AwaitAuthorization(ctx, auth)
	if err != nil {
		return nil, err
	}
	if out.State != poll.StateAuthorized {
		return nil, &TerminalStateError{State: out.State}
	}
	return c.ExchangeCode(ctx, out.Value)
}

// UserInfo fetches the userinfo document with the stored access token. A rejected token
// surfaces as a *ssoerr.ProviderError with status 401.
func (c *OIDCClient) UserInfo(ctx context.Context) (*UserInfo, error) {
	token, ok, err := c.session.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoToken
	}
	var out UserInfo
	if err = c.api.Get(ctx, "userinfo", PathOAuthUserInfo, nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyAuth is the soft check: it returns the userinfo, refreshing once on a 401, or nil
// on any failure.
func (c *OIDCClient) VerifyAuth(ctx context.Context) *UserInfo {
	info, err := WithAutoRefresh(ctx, c, c.UserInfo, 1)
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			log.Debugf("alien sso: verify auth: %v", err)
		}
		return nil
	}
	return info
}

// RefreshAccessToken trades the stored refresh token for new tokens. Concurrent calls share
// one request. On failure every stored token is cleared.
func (c *OIDCClient) RefreshAccessToken(ctx context.Context) (*session.TokenBundle, error) {
	return c.refresher.Refresh(ctx)
}

// HasRefreshToken reports whether a refresh token is stored.
func (c *OIDCClient) HasRefreshToken(ctx context.Context) bool {
	_, ok, err := c.session.RefreshToken(ctx)
	return err == nil && ok
}

// EnsureFresh refreshes the tokens when the stored expiry has passed. It is a no-op when
// no expiry is stored or the token is still valid.
func (c *OIDCClient) EnsureFresh(ctx context.Context) error {
	if !c.IsTokenExpired(ctx) {
		return nil
	}
	_, err := c.RefreshAccessToken(ctx)
	return err
}

// IsTokenExpired reports whether the stored expiry is at or before now. Tokens without a
// stored expiry are not considered expired.
func (c *OIDCClient) IsTokenExpired(ctx context.Context) bool {
	expiry, ok, err := c.session.TokenExpiry(ctx)
	if err != nil || !ok {
		return false
	}
	return !c.cfg.Now().Before(expiry)
}

// GetAccessToken returns the stored access token.
func (c *OIDCClient) GetAccessToken(ctx context.Context) (string, bool) {
	return c.read(ctx, c.session.AccessToken)
}

// GetIDToken returns the stored id token.
func (c *OIDCClient) GetIDToken(ctx context.Context) (string, bool) {
	return c.read(ctx, c.session.IDToken)
}

// GetRefreshToken returns the stored refresh token.
func (c *OIDCClient) GetRefreshToken(ctx context.Context) (string, bool) {
	return c.read(ctx, c.session.RefreshToken)
}

func (c *OIDCClient) read(ctx context.Context, get func(context.Context) (string, bool, error)) (string, bool) {
	v, ok, err := get(ctx)
	if err != nil {
		log.Errorf("alien sso: read session: %v", err)
		return "", false
	}
	return v, ok
}

// GetAuthData decodes the stored id token (or the access token when no id token is stored)
// and returns its claims, or nil when any check fails.
func (c *OIDCClient) GetAuthData(ctx context.Context) *Claims {
	token, ok := c.GetIDToken(ctx)
	if !ok {
		if token, ok = c.GetAccessToken(ctx); !ok {
			return nil
		}
	}
	return c.claims.Decode(token)
}

// Logout forgets the verifier and all tokens.
func (c *OIDCClient) Logout(ctx context.Context) error {
	return c.session.Clear(ctx)
}

func (c *OIDCClient) refreshGrant(ctx context.Context, refreshToken string) (session.TokenBundle, error) {
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return session.TokenBundle{}, tokenError("refresh", err)
	}
	return c.bundleFrom("refresh", tok)
}

func (c *OIDCClient) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.api.StampedHTTPClient())
}

func (c *OIDCClient) bundleFrom(op string, tok *oauth2.Token) (session.TokenBundle, error) {
	if tok == nil || tok.AccessToken == "" {
		return session.TokenBundle{}, &ssoerr.ValidationError{Op: op, Field: "access_token", Message: "required"}
	}
	bundle := session.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		bundle.IDToken = id
	}
	switch {
	case tok.ExpiresIn > 0:
		bundle.Expiry = c.cfg.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	case !tok.Expiry.IsZero():
		bundle.Expiry = tok.Expiry
	}
	return bundle, nil
}

// tokenError maps x/oauth2 failures onto the ssoerr taxonomy.
func tokenError(op string, err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		status := 0
		if retrieve.Response != nil {
			status = retrieve.Response.StatusCode
		}
		msg := retrieve.ErrorDescription
		if msg == "" {
			msg = retrieve.ErrorCode
		}
		if msg == "" && retrieve.Response != nil {
			msg = retrieve.Response.Status
		}
		return &ssoerr.ProviderError{Op: op, HTTPStatus: status, Message: msg, Body: retrieve.Body}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &ssoerr.NetworkError{Op: op, Err: err}
	}
	return &ssoerr.ValidationError{Op: op, Message: "unusable token response", Err: err}
}

// clearVerifier drops the stored verifier. It still runs when ctx is already cancelled.
func (c *OIDCClient) clearVerifier(ctx context.Context) {
	if err := c.session.ClearVerifier(context.WithoutCancel(ctx)); err != nil {
		log.Errorf("alien sso: clear verifier error: %v", err)
	}
}
