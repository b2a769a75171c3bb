package cmd

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alien-org/alien-sso-go/internal/config"
	"github.com/alien-org/alien-sso-go/internal/mockprovider"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

const testProvider = "00000001000000000000000600000000"

var quiet = LoginOptions{NoBrowser: true, NoClipboard: true}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// newRuntime starts a mock provider that trusts a fresh key and returns a runtime
// configured with that key and an in-memory store.
func newRuntime(t *testing.T) (*Runtime, *mockprovider.Provider) {
	t.Helper()
	pub, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	provider := mockprovider.New(mockprovider.Config{
		ProviderAddress:   testProvider,
		ProviderPublicKey: pub,
		PendingPolls:      1,
	})
	idp := httptest.NewServer(provider.Handler())
	t.Cleanup(idp.Close)

	cfg := &config.Config{
		SSOBaseURL:         idp.URL,
		ProviderAddress:    testProvider,
		ProviderPrivateKey: hex.EncodeToString(key.Seed()),
		RedirectURI:        "https://app.test/cb",
		PollingInterval:    5 * time.Millisecond,
		Store:              config.StoreConfig{Backend: "memory"},
	}
	cfg.ApplyDefaults()
	rt, err := NewRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt, provider
}

func TestSSOCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt, _ := newRuntime(t)
	var out bytes.Buffer

	if err := DoVerify(ctx, rt, &out, TokenOptions{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("DoVerify() before login = %v", err)
	}
	if err := DoLogin(ctx, rt, &out, quiet); err != nil {
		t.Fatalf("DoLogin() error = %v", err)
	}
	if !strings.Contains(out.String(), "alienapp://") || !strings.Contains(out.String(), "Session address:") {
		t.Fatalf("login output = %s", out.String())
	}
	if err := DoVerify(ctx, rt, &out, TokenOptions{}); err != nil {
		t.Fatalf("DoVerify() error = %v", err)
	}

	out.Reset()
	if err := DoWhoami(ctx, rt, &out, TokenOptions{Output: "json"}); err != nil {
		t.Fatalf("DoWhoami() error = %v", err)
	}
	var view whoami
	if err := json.Unmarshal(out.Bytes(), &view); err != nil {
		t.Fatalf("whoami json: %v (%s)", err, out.String())
	}
	if view.SessionAddress == "" || view.Subject != view.SessionAddress {
		t.Fatalf("whoami = %+v", view)
	}
	if len(view.Token) > 16 {
		t.Fatalf("whoami printed the full token %q", view.Token)
	}

	if err := DoLogout(ctx, rt, &out); err != nil {
		t.Fatal(err)
	}
	if err := DoWhoami(ctx, rt, &out, TokenOptions{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("DoWhoami() after logout = %v", err)
	}
}

func TestOIDCCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt, provider := newRuntime(t)
	var out bytes.Buffer
	opts := quiet
	opts.Nonce = "n-1"

	if err := DoRefresh(ctx, rt, &out); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("DoRefresh() without tokens = %v", err)
	}
	if err := DoOIDCLogin(ctx, rt, &out, opts); err != nil {
		t.Fatalf("DoOIDCLogin() error = %v", err)
	}
	out.Reset()
	if err := DoWhoami(ctx, rt, &out, TokenOptions{OIDC: true, Output: "yaml"}); err != nil {
		t.Fatalf("DoWhoami() error = %v", err)
	}
	var view whoami
	if err := yaml.Unmarshal(out.Bytes(), &view); err != nil || view.Nonce != "n-1" {
		t.Fatalf("whoami yaml = %+v, %v", view, err)
	}

	token, _ := rt.OIDCClient().GetAccessToken(ctx)
	provider.Revoke(token)
	if err := DoVerify(ctx, rt, &out, TokenOptions{OIDC: true}); err != nil {
		t.Fatalf("DoVerify() should refresh a revoked token: %v", err)
	}
	if err := DoRefresh(ctx, rt, &out); err != nil {
		t.Fatalf("DoRefresh() error = %v", err)
	}
}

func TestWhoamiRejectsUnknownFormat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt, _ := newRuntime(t)
	if err := DoLogin(ctx, rt, &bytes.Buffer{}, quiet); err != nil {
		t.Fatal(err)
	}
	if err := DoWhoami(ctx, rt, &bytes.Buffer{}, TokenOptions{Output: "xml"}); err == nil {
		t.Fatal("DoWhoami() accepted xml output")
	}
}

func TestSolanaLinkCommand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt, _ := newRuntime(t)
	var out bytes.Buffer

	if err := DoSolanaLink(ctx, rt, &out, SolanaOptions{LoginOptions: quiet}); err == nil {
		t.Fatal("DoSolanaLink() without a wallet succeeded")
	}
	key, err := solanago.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	wallet := key.PublicKey().String()
	if err := DoSolanaLink(ctx, rt, &out, SolanaOptions{LoginOptions: quiet, Wallet: wallet}); err != nil {
		t.Fatalf("DoSolanaLink() error = %v", err)
	}
	got, ok, err := rt.Session.SolanaAddress(ctx)
	if err != nil || !ok || got != wallet {
		t.Fatalf("stored wallet = %q, %v, %v", got, ok, err)
	}
	if _, ok, _ = rt.Session.SessionAddress(ctx); !ok {
		t.Fatal("session address not stored")
	}
}

func TestPresentLink(t *testing.T) {
	origClip, origOpen := writeClipboard, openURL
	t.Cleanup(func() {
		writeClipboard = origClip
		openURL = origOpen
	})
	var copied, opened string
	writeClipboard = func(s string) error { copied = s; return nil }
	openURL = func(s string) error { opened = s; return nil }

	var out bytes.Buffer
	presentLink(&out, "alienapp://x", LoginOptions{})
	if copied != "alienapp://x" || opened != "alienapp://x" {
		t.Fatalf("copied %q opened %q", copied, opened)
	}
	if !strings.Contains(out.String(), "copied to the clipboard") {
		t.Fatalf("output = %s", out.String())
	}

	copied, opened = "", ""
	writeClipboard = func(string) error { return errors.New("no display") }
	out.Reset()
	presentLink(&out, "alienapp://y", LoginOptions{NoBrowser: true})
	if opened != "" || strings.Contains(out.String(), "clipboard") {
		t.Fatalf("opened %q output %s", opened, out.String())
	}
}
