// Package sso implements the client side of the Alien SSO protocol: the PKCE authorization
// request, the poll loop bridging the browser and the mobile approval, code exchange,
// token verification and local claim decoding. OIDCClient adds the OAuth2/OIDC variant
// with refresh support.
package sso

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alien-org/alien-sso-go/internal/pkce"
	"github.com/alien-org/alien-sso-go/internal/provider"
	"github.com/alien-org/alien-sso-go/sdk/poll"
	"github.com/alien-org/alien-sso-go/sdk/session"
	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
	log "github.com/sirupsen/logrus"
)

// DefaultBaseURL is the public SSO endpoint.
const DefaultBaseURL = "https://sso.alien.com"

// ErrNoToken is returned by strict checks when no access token is stored.
var ErrNoToken = errors.New("alien sso: no access token")

// Signer produces a signed authorization request. It is implemented by server.Signer
// for deployments that hold the provider key in-process.
type Signer interface {
	Authorize(ctx context.Context, codeChallenge string) (*AuthorizeResponse, error)
}

// Config configures a Client.
type Config struct {
	// SSOBaseURL is the provider base URL. Defaults to DefaultBaseURL.
	SSOBaseURL string
	// ServerBaseURL is the backend that signs authorization requests when no Signer is set.
	ServerBaseURL string
	// ProviderAddress is sent as X-PROVIDER-ADDRESS and used as the expected token audience.
	ProviderAddress string
	// PollingInterval defaults to 5s.
	PollingInterval time.Duration
	// Algorithms accepted by GetAuthData. Defaults to DefaultSSOAlgorithms.
	Algorithms []string
	// VerifierLength is the number of random bytes behind the PKCE verifier.
	VerifierLength int

	HTTPClient *http.Client
	Session    *session.Session
	Signer     Signer
	// Random overrides the PKCE randomness source (crypto/rand by default).
	Random io.Reader
	// Now overrides the clock used for poll deadlines.
	Now func() time.Time
}

// Client is the SSO (non-OIDC) client. It is safe for concurrent use.
type Client struct {
	cfg     Config
	sso     *provider.Client
	backend *provider.Client
	session *session.Session
	claims  *ClaimsDecoder
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.SSOBaseURL == "" {
		cfg.SSOBaseURL = DefaultBaseURL
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = poll.DefaultInterval
	}
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = DefaultSSOAlgorithms
	}
	if cfg.Session == nil {
		cfg.Session = session.NewInMemory()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	opts := []provider.Option{
		provider.WithHTTPClient(cfg.HTTPClient),
		provider.WithProviderAddress(cfg.ProviderAddress),
	}
	c := &Client{
		cfg:     cfg,
		sso:     provider.New(cfg.SSOBaseURL, opts...),
		session: cfg.Session,
		claims:  NewClaimsDecoder(cfg.Algorithms, cfg.ProviderAddress, false),
	}
	if cfg.ServerBaseURL != "" {
		c.backend = provider.New(cfg.ServerBaseURL, opts...)
	}
	return c
}

// Session returns the session store used by the client.
func (c *Client) Session() *session.Session { return c.session }

// Authorize starts a login: it generates a PKCE pair, stores the verifier before any
// network call, and obtains a deep link and polling code either from the configured
// Signer or from the signing backend.
func (c *Client) Authorize(ctx context.Context) (*AuthorizeResponse, error) {
	pair := pkce.Generator{Random: c.cfg.Random}.Pair(c.cfg.VerifierLength, pkce.EncodingHex)
	if pair.Capability == pkce.Weak {
		log.Warn("alien sso: secure random source unavailable, code verifier generated with a weak generator")
	}
	if err := c.session.SaveVerifier(ctx, pair.Verifier); err != nil {
		return nil, fmt.Errorf("alien sso: store code verifier: %w", err)
	}

	var (
		resp *AuthorizeResponse
		err  error
	)
	switch {
	case c.cfg.Signer != nil:
		resp, err = c.cfg.Signer.Authorize(ctx, pair.Challenge)
	case c.backend != nil:
		resp = &AuthorizeResponse{}
		err = c.backend.PostJSON(ctx, "authorize", PathAuthorize, AuthorizeRequest{CodeChallenge: pair.Challenge}, resp)
	default:
		err = errors.New("alien sso: authorize requires a signer or a server base url")
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &ssoerr.ValidationError{Op: "authorize", Message: "empty response"}
	}
	if err = c.sso.Validate("authorize", resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Poll issues a single poll request.
func (c *Client) Poll(ctx context.Context, pollingCode string) (*PollResponse, error) {
	var out PollResponse
	if err := c.sso.PostJSON(ctx, "poll", PathPoll, PollRequest{PollingCode: pollingCode}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) poller(pollingCode string) poll.Poller[string] {
	return func(ctx context.Context) (poll.Response[string], error) {
		out, err := c.Poll(ctx, pollingCode)
		if err != nil {
			return poll.Response[string]{}, err
		}
		return poll.Response[string]{Status: out.Status, Value: out.AuthorizationCode}, nil
	}
}

// NewPollLoop returns a started loop for auth. Callers may drive it with Step, Await or Watch.
func (c *Client) NewPollLoop(auth *AuthorizeResponse) (*poll.Loop[string], error) {
	if auth == nil || auth.PollingCode == "" {
		return nil, &ssoerr.ValidationError{Op: "poll", Field: "polling_code", Message: "required"}
	}
	loop := poll.New(c.poller(auth.PollingCode), poll.Options{Interval: c.cfg.PollingInterval, Now: c.cfg.Now})
	if _, err := loop.Start(auth.Deadline()); err != nil {
		return nil, err
	}
	return loop, nil
}

// AwaitAuthorization blocks until the login reaches a terminal state. The authorization
// code is in Outcome.Value when Outcome.State is authorized.
func (c *Client) AwaitAuthorization(ctx context.Context, auth *AuthorizeResponse) (poll.Outcome[string], error) {
	loop, err := c.NewPollLoop(auth)
	if err != nil {
		return poll.Outcome[string]{State: poll.StateError, Err: err}, err
	}
	return loop.Await(ctx)
}

// WatchAuthorization polls on timers and reports through cb. Stop the returned handle to cancel.
func (c *Client) WatchAuthorization(ctx context.Context, auth *AuthorizeResponse, cb poll.Callbacks[string]) (*poll.Handle[string], error) {
	loop, err := c.NewPollLoop(auth)
	if err != nil {
		return nil, err
	}
	return loop.Watch(ctx, cb), nil
}

// ExchangeToken trades code and the stored verifier for an access token and persists it.
// The verifier is consumed whatever the outcome.
func (c *Client) ExchangeToken(ctx context.Context, code string) (string, error) {
	verifier, ok, err := c.session.Verifier(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &ssoerr.MissingVerifierError{}
	}
	defer c.clearVerifier(ctx)

	var out ExchangeResponse
	req := ExchangeRequest{AuthorizationCode: code, CodeVerifier: verifier}
	if err = c.sso.PostJSON(ctx, "exchange", PathExchange, req, &out); err != nil {
		return "", err
	}
	bundle := session.TokenBundle{
		AccessToken:  out.AccessToken,
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
		TokenType:    out.TokenType,
		ExpiresIn:    out.ExpiresIn,
	}
	if out.ExpiresIn > 0 {
		bundle.Expiry = c.cfg.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	if err = c.session.SaveBundle(ctx, bundle); err != nil {
		return "", fmt.Errorf("alien sso: store tokens: %w", err)
	}
	return out.AccessToken, nil
}

// Login runs Authorize, waits for approval and exchanges the code. onLink receives the
// deep link to present (QR code, clipboard, browser) before polling starts.
func (c *Client) Login(ctx context.Context, onLink func(*AuthorizeResponse)) (string, error) {
	defer c.clearVerifier(ctx)

	auth, err := c.Authorize(ctx)
	if err != nil {
		return "", err
	}
	if onLink != nil {
		onLink(auth)
	}
	out, err := c.AwaitAuthorization(ctx, auth)
	if err != nil {
		return "", err
	}
	if out.State != poll.StateAuthorized {
		return "", &TerminalStateError{State: out.State}
	}
	return c.ExchangeToken(ctx, out.Value)
}

// VerifyAuth asks the provider whether the stored access token is valid. It errors when no
// token is stored (ErrNoToken), when the provider rejects it (*ssoerr.AuthenticationError
// with status 401) or on any transport or schema failure.
func (c *Client) VerifyAuth(ctx context.Context) error {
	token, ok, err := c.session.AccessToken(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoToken
	}
	var out VerifyResponse
	if err = c.sso.PostJSON(ctx, "verify", PathVerify, VerifyRequest{AccessToken: token}, &out); err != nil {
		return err
	}
	if !*out.IsValid {
		return &ssoerr.AuthenticationError{Op: "verify", Message: "access token is invalid", HTTPStatus: http.StatusUnauthorized}
	}
	return nil
}

// CheckAuth is the non-failing form of VerifyAuth: it reports false for a missing token
// and for any failure.
func (c *Client) CheckAuth(ctx context.Context) bool {
	if err := c.VerifyAuth(ctx); err != nil {
		if !errors.Is(err, ErrNoToken) {
			log.Debugf("alien sso: check auth: %v", err)
		}
		return false
	}
	return true
}

// GetAccessToken returns the stored access token.
func (c *Client) GetAccessToken(ctx context.Context) (string, bool) {
	token, ok, err := c.session.AccessToken(ctx)
	if err != nil {
		log.Errorf("alien sso: read access token: %v", err)
		return "", false
	}
	return token, ok
}

// GetAuthData decodes the stored access token locally. It returns nil when no token is
// stored or the token fails any structural, algorithm, type or audience check.
func (c *Client) GetAuthData(ctx context.Context) *Claims {
	token, ok := c.GetAccessToken(ctx)
	if !ok {
		return nil
	}
	return c.claims.Decode(token)
}

// Logout forgets the verifier and all tokens.
func (c *Client) Logout(ctx context.Context) error {
	return c.session.Clear(ctx)
}

// TerminalStateError reports a login that ended rejected or expired.
type TerminalStateError struct {
	State poll.State
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("alien sso: authorization %s", e.State)
}

// clearVerifier drops the stored verifier. It still runs when ctx is already cancelled.
func (c *Client) clearVerifier(ctx context.Context) {
	if err := c.session.ClearVerifier(context.WithoutCancel(ctx)); err != nil {
		log.Errorf("alien sso: clear verifier error: %v", err)
	}
}
