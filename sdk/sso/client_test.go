package sso

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alien-org/alien-sso-go/internal/pkce"
	"github.com/alien-org/alien-sso-go/sdk/poll"
	"github.com/alien-org/alien-sso-go/sdk/session"
	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
)

func newSSOClient(t *testing.T, idp *fakeIdP, signer Signer) *Client {
	t.Helper()
	cfg := Config{
		SSOBaseURL:      idp.URL(),
		ProviderAddress: testProvider,
		PollingInterval: 10 * time.Millisecond,
		Signer:          signer,
	}
	if signer == nil {
		cfg.ServerBaseURL = idp.URL()
	}
	return NewClient(cfg)
}

func authorizeHandler(t *testing.T, gotChallenge *string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AuthorizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode authorize body: %v", err)
		}
		if gotChallenge != nil {
			*gotChallenge = req.CodeChallenge
		}
		writeJSON(w, http.StatusOK, AuthorizeResponse{
			DeepLink:    "alien://authorize?code=1",
			PollingCode: "polling-1",
			ExpiredAt:   time.Now().Add(time.Minute).Unix(),
		})
	}
}

func TestLoginScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idp := newFakeIdP(t)
	token := ssoAccessToken(t)

	var challenge string
	idp.handle(PathAuthorize, authorizeHandler(t, &challenge))
	idp.scriptPolls(
		PollResponse{Status: poll.StatusPending},
		PollResponse{Status: poll.StatusPending},
		PollResponse{Status: poll.StatusAuthorized, AuthorizationCode: "code-1"},
	)
	var exchanged ExchangeRequest
	idp.handle(PathExchange, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&exchanged)
		writeJSON(w, http.StatusOK, ExchangeResponse{AccessToken: token})
	})
	idp.handle(PathVerify, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"is_valid": true})
	})

	c := newSSOClient(t, idp, nil)
	var link string
	got, err := c.Login(ctx, func(a *AuthorizeResponse) { link = a.DeepLink })
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got != token || link == "" {
		t.Fatalf("Login() = %q, link %q", got, link)
	}
	if idp.count(PathPoll) != 3 {
		t.Fatalf("poll calls = %d, want 3", idp.count(PathPoll))
	}
	if exchanged.AuthorizationCode != "code-1" {
		t.Fatalf("exchanged code = %q", exchanged.AuthorizationCode)
	}
	if pkce.ChallengeHex(exchanged.CodeVerifier) != challenge {
		t.Fatal("exchanged verifier does not match the authorize challenge")
	}
	if h := idp.lastHeader(PathPoll).Get("X-PROVIDER-ADDRESS"); h != testProvider {
		t.Fatalf("X-PROVIDER-ADDRESS = %q", h)
	}
	if _, ok, _ := c.Session().Verifier(ctx); ok {
		t.Fatal("verifier survived the exchange")
	}

	if err = c.VerifyAuth(ctx); err != nil {
		t.Fatalf("VerifyAuth() error = %v", err)
	}
	claims := c.GetAuthData(ctx)
	if claims == nil {
		t.Fatal("GetAuthData() = nil")
	}
	if u := claims.CallbackUser(); u == nil || u.SessionAddress != "session-1" {
		t.Fatalf("CallbackUser() = %+v", u)
	}

	if err = c.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if err = c.VerifyAuth(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("VerifyAuth() after logout error = %v, want ErrNoToken", err)
	}
	if c.CheckAuth(ctx) {
		t.Fatal("CheckAuth() after logout = true")
	}
	if c.GetAuthData(ctx) != nil {
		t.Fatal("GetAuthData() after logout != nil")
	}
}

func TestAuthorizeStoresVerifierBeforeRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idp := newFakeIdP(t)
	c := newSSOClient(t, idp, nil)

	idp.handle(PathAuthorize, func(w http.ResponseWriter, r *http.Request) {
		if _, ok, _ := c.Session().Verifier(r.Context()); !ok {
			t.Error("verifier not stored before the authorize request")
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
	})

	_, err := c.Authorize(ctx)
	var perr *ssoerr.ProviderError
	if !errors.As(err, &perr) || perr.StatusCode() != http.StatusInternalServerError || perr.Message != "boom" {
		t.Fatalf("Authorize() error = %v", err)
	}
}

func TestAuthorizeRejectsInvalidResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{name: "missing polling code", body: map[string]any{"deep_link": "alien://x", "expired_at": 1}, field: "polling_code"},
		{name: "missing deep link", body: map[string]any{"polling_code": "p", "expired_at": 1}, field: "deep_link"},
		{name: "missing expiry", body: map[string]any{"deep_link": "alien://x", "polling_code": "p"}, field: "expired_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			idp := newFakeIdP(t)
			idp.handle(PathAuthorize, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			})
			_, err := newSSOClient(t, idp, nil).Authorize(context.Background())
			var verr *ssoerr.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("Authorize() error = %v, want validation error on %s", err, tt.field)
			}
		})
	}
}

func TestAuthorizeUsesSigner(t *testing.T) {
	t.Parallel()
	idp := newFakeIdP(t)
	signer := &stubSigner{resp: &AuthorizeResponse{DeepLink: "alien://x?link_signature=ab", PollingCode: "p", ExpiredAt: time.Now().Add(time.Minute).Unix()}}
	c := newSSOClient(t, idp, signer)

	resp, err := c.Authorize(context.Background())
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if resp.PollingCode != "p" || len(signer.challenges) != 1 || len(signer.challenges[0]) != 64 {
		t.Fatalf("Authorize() = %+v, challenges %v", resp, signer.challenges)
	}
	if idp.count(PathAuthorize) != 0 {
		t.Fatal("backend called although a signer is configured")
	}
}

func TestExchangeTokenWithoutVerifier(t *testing.T) {
	t.Parallel()
	idp := newFakeIdP(t)
	_, err := newSSOClient(t, idp, nil).ExchangeToken(context.Background(), "code")
	if !ssoerr.IsMissingVerifier(err) {
		t.Fatalf("ExchangeToken() error = %v, want MissingVerifierError", err)
	}
	if idp.count(PathExchange) != 0 {
		t.Fatal("exchange request sent without a verifier")
	}
}

func TestExchangeFailureClearsVerifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idp := newFakeIdP(t)
	idp.handle(PathExchange, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
	})
	c := newSSOClient(t, idp, nil)
	_ = c.Session().SaveVerifier(ctx, "v")

	if _, err := c.ExchangeToken(ctx, "code"); ssoerr.StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("ExchangeToken() error = %v", err)
	}
	if _, ok, _ := c.Session().Verifier(ctx); ok {
		t.Fatal("verifier kept after a failed exchange")
	}
	if _, err := c.ExchangeToken(ctx, "code"); !ssoerr.IsMissingVerifier(err) {
		t.Fatalf("second ExchangeToken() error = %v, want MissingVerifierError", err)
	}
}

func TestVerifyAuthInvalidToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idp := newFakeIdP(t)
	idp.handle(PathVerify, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"is_valid": false})
	})
	c := newSSOClient(t, idp, nil)
	_ = c.Session().SetAccessToken(ctx, "token")

	err := c.VerifyAuth(ctx)
	var aerr *ssoerr.AuthenticationError
	if !errors.As(err, &aerr) || aerr.StatusCode() != http.StatusUnauthorized {
		t.Fatalf("VerifyAuth() error = %v", err)
	}
	if !ssoerr.IsUnauthorized(err) {
		t.Fatal("IsUnauthorized() = false")
	}
	if c.CheckAuth(ctx) {
		t.Fatal("CheckAuth() = true for an invalid token")
	}
}

func TestVerifyAuthMissingField(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idp := newFakeIdP(t)
	idp.handle(PathVerify, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	})
	c := newSSOClient(t, idp, nil)
	_ = c.Session().SetAccessToken(ctx, "token")

	if err := c.VerifyAuth(ctx); !ssoerr.IsValidation(err) {
		t.Fatalf("VerifyAuth() error = %v, want validation error", err)
	}
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idp := newFakeIdP(t)
	idp.handle(PathAuthorize, authorizeHandler(t, nil))
	idp.scriptPolls(PollResponse{Status: poll.StatusPending}, PollResponse{Status: poll.StatusRejected})

	c := newSSOClient(t, idp, nil)
	_, err := c.Login(ctx, nil)
	var terr *TerminalStateError
	if !errors.As(err, &terr) || terr.State != poll.StateRejected {
		t.Fatalf("Login() error = %v, want rejected", err)
	}
	if idp.count(PathExchange) != 0 {
		t.Fatal("exchange attempted after rejection")
	}
	if _, ok, _ := c.Session().Verifier(ctx); ok {
		t.Fatal("verifier kept after rejection")
	}
}

func TestLoginPollFailureClearsVerifier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		login func(ctx context.Context, idp *fakeIdP) (*session.Session, error)
	}{
		{
			name: "sso",
			login: func(ctx context.Context, idp *fakeIdP) (*session.Session, error) {
				idp.handle(PathAuthorize, authorizeHandler(t, nil))
				c := newSSOClient(t, idp, nil)
				_, err := c.Login(ctx, nil)
				return c.Session(), err
			},
		},
		{
			name: "oidc",
			login: func(ctx context.Context, idp *fakeIdP) (*session.Session, error) {
				idp.handle(PathOAuthAuthz, func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, http.StatusOK, AuthorizeResponse{DeepLink: "alien://oauth", PollingCode: "pc", ExpiredAt: time.Now().Add(time.Minute).Unix()})
				})
				c := newOIDCClient(t, idp, nil)
				_, err := c.Login(ctx, nil)
				return c.Session(), err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			idp := newFakeIdP(t)
			down := func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "down"})
			}
			idp.handle(PathPoll, down)
			idp.handle(PathOAuthPoll, down)

			sess, err := tt.login(ctx, idp)
			if ssoerr.StatusCode(err) != http.StatusInternalServerError {
				t.Fatalf("Login() error = %v, want status 500", err)
			}
			if _, ok, _ := sess.Verifier(ctx); ok {
				t.Fatal("verifier kept after a failed poll")
			}
		})
	}
}

func TestLoginCancelledClearsVerifier(t *testing.T) {
	t.Parallel()
	idp := newFakeIdP(t)
	idp.handle(PathAuthorize, authorizeHandler(t, nil))
	idp.scriptPolls(PollResponse{Status: poll.StatusPending})
	c := newSSOClient(t, idp, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Login(ctx, func(*AuthorizeResponse) {
		time.AfterFunc(30*time.Millisecond, cancel)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Login() error = %v, want context.Canceled", err)
	}
	if _, ok, _ := c.Session().Verifier(context.Background()); ok {
		t.Fatal("verifier kept after cancellation")
	}
}

func TestWatchAuthorization(t *testing.T) {
	t.Parallel()
	idp := newFakeIdP(t)
	idp.scriptPolls(PollResponse{Status: poll.StatusPending}, PollResponse{Status: poll.StatusAuthorized, AuthorizationCode: "code-9"})
	c := newSSOClient(t, idp, nil)

	codes := make(chan string, 1)
	h, err := c.WatchAuthorization(context.Background(), &AuthorizeResponse{
		DeepLink: "alien://x", PollingCode: "p", ExpiredAt: time.Now().Add(time.Minute).Unix(),
	}, poll.Callbacks[string]{OnAuthorized: func(code string) { codes <- code }})
	if err != nil {
		t.Fatalf("WatchAuthorization() error = %v", err)
	}
	defer h.Stop()

	select {
	case code := <-codes:
		if code != "code-9" {
			t.Fatalf("OnAuthorized(%q)", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for authorization")
	}
}
