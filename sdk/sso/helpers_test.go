package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testProvider = "provider-address-1"

var testSecret = []byte("test-secret")

// fakeIdP is a scriptable provider. Each handler field may be replaced by a test.
type fakeIdP struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	polls    []PollResponse
	pollIdx  int
	handlers map[string]http.HandlerFunc
	calls    map[string]*atomic.Int32
	headers  map[string]http.Header
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	f := &fakeIdP{
		t:        t,
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]*atomic.Int32),
		headers:  make(map[string]http.Header),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIdP) URL() string { return f.server.URL }

func (f *fakeIdP) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	f.handlers[path] = h
	f.mu.Unlock()
}

func (f *fakeIdP) scriptPolls(polls ...PollResponse) {
	f.mu.Lock()
	f.polls = polls
	f.pollIdx = 0
	f.mu.Unlock()
}

func (f *fakeIdP) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.calls[path]; ok {
		return int(c.Load())
	}
	return 0
}

func (f *fakeIdP) lastHeader(path string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[path]
}

func (f *fakeIdP) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	c, ok := f.calls[r.URL.Path]
	if !ok {
		c = &atomic.Int32{}
		f.calls[r.URL.Path] = c
	}
	f.headers[r.URL.Path] = r.Header.Clone()
	h := f.handlers[r.URL.Path]
	f.mu.Unlock()
	c.Add(1)

	if h != nil {
		h(w, r)
		return
	}
	switch r.URL.Path {
	case PathPoll, PathOAuthPoll:
		f.mu.Lock()
		var resp PollResponse
		if len(f.polls) > 0 {
			i := f.pollIdx
			if i >= len(f.polls) {
				i = len(f.polls) - 1
			}
			resp = f.polls[i]
			f.pollIdx++
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, resp)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func mintToken(t *testing.T, method jwt.SigningMethod, header map[string]any, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	for k, v := range header {
		if v == nil {
			delete(tok.Header, k)
			continue
		}
		tok.Header[k] = v
	}
	var key any = testSecret
	if method == jwt.SigningMethodNone {
		key = jwt.UnsafeAllowNoneSignatureType
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func ssoAccessToken(t *testing.T) string {
	now := time.Now()
	return mintToken(t, jwt.SigningMethodHS256, nil, jwt.MapClaims{
		"app_callback_payload":           `{"session_address":"session-1"}`,
		"app_callback_session_signature": "abcd",
		"app_callback_session_address":   "session-1",
		"expired_at":                     now.Add(time.Hour).Unix(),
		"issued_at":                      now.Unix(),
	})
}

func oidcIDToken(t *testing.T, aud string) string {
	now := time.Now()
	return mintToken(t, jwt.SigningMethodHS256, nil, jwt.MapClaims{
		"iss":   "https://sso.alien.test",
		"sub":   "user-1",
		"aud":   aud,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"nonce": "n-1",
	})
}

type stubSigner struct {
	resp       *AuthorizeResponse
	err        error
	challenges []string
}

func (s *stubSigner) Authorize(_ context.Context, challenge string) (*AuthorizeResponse, error) {
	s.challenges = append(s.challenges, challenge)
	return s.resp, s.err
}
