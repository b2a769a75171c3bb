package mockprovider

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alien-org/alien-sso-go/sdk/poll"
	"github.com/alien-org/alien-sso-go/sdk/server"
	"github.com/alien-org/alien-sso-go/sdk/solana"
	"github.com/alien-org/alien-sso-go/sdk/sso"
	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
)

const testProvider = "00000001000000000000000600000000"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type harness struct {
	provider *Provider
	server   *httptest.Server
	key      ed25519.PrivateKey
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	pub, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg.ProviderAddress = testProvider
	cfg.ProviderPublicKey = pub
	p := New(cfg)
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	return &harness{provider: p, server: srv, key: key}
}

func (h *harness) signer(t *testing.T, key ed25519.PrivateKey) *server.Signer {
	t.Helper()
	s, err := server.NewSigner(testProvider, hex.EncodeToString(key.Seed()), h.server.URL,
		server.WithHTTPClient(h.server.Client()))
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return s
}

func (h *harness) ssoClient(t *testing.T, signer sso.Signer) *sso.Client {
	return sso.NewClient(sso.Config{
		SSOBaseURL:      h.server.URL,
		ProviderAddress: testProvider,
		PollingInterval: 5 * time.Millisecond,
		HTTPClient:      h.server.Client(),
		Signer:          signer,
	})
}

func TestSSOLoginAgainstMock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{PendingPolls: 2})
	signer := h.signer(t, h.key)
	client := h.ssoClient(t, signer)

	var link string
	token, err := client.Login(ctx, func(auth *sso.AuthorizeResponse) { link = auth.DeepLink })
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token == "" {
		t.Fatal("Login() returned an empty token")
	}
	if !server.VerifyLink(link, signer.PublicKey()) {
		t.Fatalf("deep link %q carries no valid link_signature", link)
	}
	if err = client.VerifyAuth(ctx); err != nil {
		t.Fatalf("VerifyAuth() error = %v", err)
	}
	claims := client.GetAuthData(ctx)
	if claims == nil || claims.CallbackUser() == nil || claims.CallbackUser().SessionAddress == "" {
		t.Fatalf("GetAuthData() = %+v, want a callback session address", claims)
	}

	h.provider.Revoke(token)
	err = client.VerifyAuth(ctx)
	if !ssoerr.IsUnauthorized(err) {
		t.Fatalf("VerifyAuth() after revoke = %v, want unauthorized", err)
	}
	if client.CheckAuth(ctx) {
		t.Fatal("CheckAuth() = true after revoke")
	}
}

func TestAuthorizeWithForeignKeyIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	_, foreign, _ := ed25519.GenerateKey(nil)
	client := h.ssoClient(t, h.signer(t, foreign))

	_, err := client.Authorize(context.Background())
	var authErr *ssoerr.AuthenticationError
	if !errors.As(err, &authErr) || authErr.StatusCode() != http.StatusUnauthorized {
		t.Fatalf("Authorize() error = %v, want AuthenticationError 401", err)
	}
}

func TestLoginTerminalStates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		cfg    Config
		settle func(p *Provider, code string)
		want   poll.State
	}{
		{
			name:   "rejected",
			cfg:    Config{PendingPolls: -1},
			settle: func(p *Provider, code string) { p.Reject(code) },
			want:   poll.StateRejected,
		},
		{
			name: "expired",
			cfg:  Config{PendingPolls: -1, LinkTTL: time.Nanosecond},
			want: poll.StateExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tt.cfg)
			client := h.ssoClient(t, h.signer(t, h.key))
			_, err := client.Login(context.Background(), func(auth *sso.AuthorizeResponse) {
				if tt.settle != nil {
					tt.settle(h.provider, auth.PollingCode)
				}
			})
			var terminal *sso.TerminalStateError
			if !errors.As(err, &terminal) || terminal.State != tt.want {
				t.Fatalf("Login() error = %v, want terminal state %s", err, tt.want)
			}
			if _, ok, _ := client.Session().Verifier(context.Background()); ok {
				t.Fatal("verifier survived a failed login")
			}
		})
	}
}

func TestExchangeConsumesVerifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{PendingPolls: -1})
	client := h.ssoClient(t, h.signer(t, h.key))

	auth, err := client.Authorize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	h.provider.Approve(auth.PollingCode)
	res, err := client.Poll(ctx, auth.PollingCode)
	if err != nil || res.Status != poll.StatusAuthorized {
		t.Fatalf("Poll() = %+v, %v", res, err)
	}
	if _, err = client.ExchangeToken(ctx, res.AuthorizationCode); err != nil {
		t.Fatalf("ExchangeToken() error = %v", err)
	}
	if _, err = client.ExchangeToken(ctx, res.AuthorizationCode); !ssoerr.IsMissingVerifier(err) {
		t.Fatalf("second ExchangeToken() error = %v, want missing verifier", err)
	}
}

func TestOIDCLoginRefreshAgainstMock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{PendingPolls: 1})
	client := sso.NewOIDCClient(sso.OIDCConfig{
		SSOBaseURL:      h.server.URL,
		ProviderAddress: testProvider,
		RedirectURI:     "https://app.test/callback",
		PollingInterval: 5 * time.Millisecond,
		HTTPClient:      h.server.Client(),
	})

	bundle, err := client.Login(ctx, nil, sso.WithNonce("nonce-1"))
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if bundle.IDToken == "" || bundle.RefreshToken == "" {
		t.Fatalf("Login() bundle = %+v, want id and refresh tokens", bundle)
	}
	claims := client.GetAuthData(ctx)
	if claims == nil || claims.Nonce != "nonce-1" {
		t.Fatalf("GetAuthData() = %+v, want nonce-1", claims)
	}
	info := client.VerifyAuth(ctx)
	if info == nil || info.Sub != claims.Subject {
		t.Fatalf("VerifyAuth() = %+v, want sub %q", info, claims.Subject)
	}

	h.provider.Revoke(bundle.AccessToken)
	info = client.VerifyAuth(ctx)
	if info == nil {
		t.Fatal("VerifyAuth() = nil, want a refreshed session")
	}
	if got := client.Coordinator().Flights(); got != 1 {
		t.Fatalf("refresh flights = %d, want 1", got)
	}
	refreshed, _ := client.GetRefreshToken(ctx)
	if refreshed == bundle.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
}

func TestOIDCTokenErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{PendingPolls: -1})
	client := sso.NewOIDCClient(sso.OIDCConfig{
		SSOBaseURL:      h.server.URL,
		ProviderAddress: testProvider,
		HTTPClient:      h.server.Client(),
	})
	if _, err := client.Authorize(ctx); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	_, err := client.ExchangeCode(ctx, "never-issued")
	var perr *ssoerr.ProviderError
	if !errors.As(err, &perr) || perr.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("ExchangeCode() error = %v, want ProviderError 400", err)
	}
}

func TestSolanaLinkAgainstMock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{PendingPolls: 1})
	client := solana.NewClient(solana.Config{
		SSOBaseURL:      h.server.URL,
		ProviderAddress: testProvider,
		PollingInterval: 5 * time.Millisecond,
		HTTPClient:      h.server.Client(),
	})
	wallet, err := solanago.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	link, err := client.GenerateLink(ctx, wallet.PublicKey().String())
	if err != nil {
		t.Fatalf("GenerateLink() error = %v", err)
	}
	out, err := client.AwaitAttestation(ctx, link)
	if err != nil || out.State != poll.StateAuthorized {
		t.Fatalf("AwaitAttestation() = %+v, %v", out, err)
	}
	msg := solana.OracleMessage(out.Value.SessionAddress, wallet.PublicKey(), out.Value.Timestamp)
	sig, _ := hex.DecodeString(out.Value.OracleSignature)
	if !ed25519.Verify(h.provider.OraclePublicKey(), msg, sig) {
		t.Fatal("oracle signature does not verify")
	}

	params, err := out.Value.Params()
	if err != nil {
		t.Fatalf("Params() error = %v", err)
	}
	registry, _ := solanago.NewRandomPrivateKey()
	builder, err := solana.NewBuilder(solana.BuilderConfig{SessionRegistryProgram: registry.PublicKey().String()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = builder.Build(params); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	got, err := client.Attestation(ctx, wallet.PublicKey().String())
	if err != nil || got != out.Value.SessionAddress {
		t.Fatalf("Attestation() = %q, %v, want %q", got, err, out.Value.SessionAddress)
	}
}

func TestSolanaAttestationUnknownWallet(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	client := solana.NewClient(solana.Config{SSOBaseURL: h.server.URL, HTTPClient: h.server.Client()})
	wallet, _ := solanago.NewRandomPrivateKey()
	_, err := client.Attestation(context.Background(), wallet.PublicKey().String())
	if ssoerr.StatusCode(err) != http.StatusNotFound {
		t.Fatalf("Attestation() error = %v, want 404", err)
	}
}
