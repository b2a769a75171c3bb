package server

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alien-org/alien-sso-go/internal/pkce"
	"github.com/alien-org/alien-sso-go/sdk/sso"
	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
)

const seedHex = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

func newTestSigner(t *testing.T, baseURL string) *Signer {
	t.Helper()
	s, err := NewSigner("provider-1", seedHex, baseURL)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return s
}

func TestParsePrivateKey(t *testing.T) {
	t.Parallel()
	seed, _ := hex.DecodeString(seedHex)
	full := hex.EncodeToString(ed25519.NewKeyFromSeed(seed))

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "seed", in: seedHex},
		{name: "expanded key", in: full},
		{name: "0x prefix", in: "0x" + seedHex},
		{name: "not hex", in: "zz", wantErr: true},
		{name: "wrong length", in: seedHex[:40], wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			key, err := ParsePrivateKey(tt.in)
			if tt.wantErr {
				if !ssoerr.IsValidation(err) {
					t.Fatalf("ParsePrivateKey() error = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrivateKey() error = %v", err)
			}
			if !key.Equal(ed25519.NewKeyFromSeed(seed)) {
				t.Fatal("ParsePrivateKey() returned a different key")
			}
		})
	}
}

func TestSignaturePayloadOrder(t *testing.T) {
	t.Parallel()
	got, err := SignaturePayload("provider-1", strings.Repeat("a", 64))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"provider_address":"provider-1","code_challenge":"` + strings.Repeat("a", 64) + `","code_challenge_method":"S256"}`
	if string(got) != want {
		t.Fatalf("SignaturePayload() = %s\nwant %s", got, want)
	}
}

func TestSignRequest(t *testing.T) {
	t.Parallel()
	s := newTestSigner(t, "")
	challenge := pkce.ChallengeHex("verifier")

	req, err := s.SignRequest(challenge)
	if err != nil {
		t.Fatalf("SignRequest() error = %v", err)
	}
	if req.CodeChallengeMethod != "S256" || req.ProviderAddress != "provider-1" {
		t.Fatalf("SignRequest() = %+v", req)
	}
	if !VerifyRequest(req, s.PublicKey()) {
		t.Fatal("VerifyRequest() = false for a fresh signature")
	}
	req.CodeChallenge = pkce.ChallengeHex("other")
	if VerifyRequest(req, s.PublicKey()) {
		t.Fatal("VerifyRequest() = true after tampering")
	}

	for _, bad := range []string{"", "short", strings.Repeat("a", 65), pkce.ChallengeS256("verifier")} {
		if _, err = s.SignRequest(bad); !ssoerr.IsValidation(err) {
			t.Fatalf("SignRequest(%q) error = %v, want validation error", bad, err)
		}
	}
}

func TestAuthorizeAppendsLinkSignature(t *testing.T) {
	t.Parallel()
	const deepLink = "alien://authorize?session=abc&foo=bar"
	var got sso.AuthorizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != sso.PathAuthorize {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sso.AuthorizeResponse{DeepLink: deepLink, PollingCode: "pc", ExpiredAt: time.Now().Add(time.Minute).Unix()})
	}))
	defer srv.Close()

	s := newTestSigner(t, srv.URL)
	resp, err := s.Authorize(context.Background(), pkce.ChallengeHex("v"))
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if !VerifyRequest(got, s.PublicKey()) {
		t.Fatal("provider received an invalid provider_signature")
	}
	if !strings.HasPrefix(resp.DeepLink, deepLink+"&link_signature=") {
		t.Fatalf("deep link = %q", resp.DeepLink)
	}
	if !VerifyLink(resp.DeepLink, s.PublicKey()) {
		t.Fatal("VerifyLink() = false")
	}
	sigHex := resp.DeepLink[strings.LastIndex(resp.DeepLink, "=")+1:]
	sig, _ := hex.DecodeString(sigHex)
	if !ed25519.Verify(s.PublicKey(), []byte(deepLink), sig) {
		t.Fatal("link_signature does not cover the raw deep link")
	}
}

func TestAuthorizeRejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad signature", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestSigner(t, srv.URL).Authorize(context.Background(), pkce.ChallengeHex("v"))
	var aerr *ssoerr.AuthenticationError
	if !errors.As(err, &aerr) || aerr.StatusCode() != http.StatusForbidden {
		t.Fatalf("Authorize() error = %v, want AuthenticationError 403", err)
	}
}

func TestSetQueryParam(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "no query", in: "alien://x", want: "alien://x?link_signature=s"},
		{name: "keeps order", in: "alien://x?b=2&a=1", want: "alien://x?b=2&a=1&link_signature=s"},
		{name: "replaces", in: "alien://x?link_signature=old&a=1", want: "alien://x?a=1&link_signature=s"},
		{name: "fragment", in: "https://h/p?a=1#frag", want: "https://h/p?a=1&link_signature=s#frag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := setQueryParam(tt.in, LinkSignatureParam, "s"); got != tt.want {
				t.Fatalf("setQueryParam() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVerifyLinkRejects(t *testing.T) {
	t.Parallel()
	s := newTestSigner(t, "")
	signed := s.SignLink("alien://x?a=1")

	other := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)).Public().(ed25519.PublicKey)
	cases := map[string]struct {
		link string
		key  ed25519.PublicKey
	}{
		"wrong key": {signed, other},
		"tampered":  {strings.Replace(signed, "a=1", "a=2", 1), s.PublicKey()},
		"missing":   {"alien://x?a=1", s.PublicKey()},
		"short key": {signed, s.PublicKey()[:8]},
		"not last":  {signed + "&z=1", s.PublicKey()},
		"not hex":   {"alien://x?link_signature=zz", s.PublicKey()},
	}
	for name, tc := range cases {
		if VerifyLink(tc.link, tc.key) {
			t.Errorf("%s: VerifyLink() = true", name)
		}
	}
}
