// Package server holds the provider private key and signs authorization requests on behalf
// of a relying application. Deploy it behind the backend endpoint that browser clients call,
// or embed it in trusted processes that talk to the provider directly.
package server

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/alien-org/alien-sso-go/internal/pkce"
	"github.com/alien-org/alien-sso-go/internal/provider"
	"github.com/alien-org/alien-sso-go/sdk/sso"
	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// LinkSignatureParam is the deep link query parameter carrying the provider signature.
const LinkSignatureParam = "link_signature"

// challengeLength is the length of a hex encoded SHA-256 challenge.
const challengeLength = 64

// Signer signs authorization requests with the provider's Ed25519 key.
type Signer struct {
	providerAddress string
	key             ed25519.PrivateKey
	api             *provider.Client
}

// Option customises a Signer.
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient sets the client used to reach the provider.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// NewSigner creates a Signer. privateKeyHex is either a 32 byte seed or a 64 byte
// expanded Ed25519 key, hex encoded.
func NewSigner(providerAddress, privateKeyHex, ssoBaseURL string, opts ...Option) (*Signer, error) {
	if providerAddress == "" {
		return nil, &ssoerr.ValidationError{Op: "signer", Field: "provider_address", Message: "required"}
	}
	key, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	if ssoBaseURL == "" {
		ssoBaseURL = sso.DefaultBaseURL
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Signer{
		providerAddress: providerAddress,
		key:             key,
		api:             provider.New(ssoBaseURL, provider.WithHTTPClient(o.httpClient)),
	}, nil
}

// ParsePrivateKey decodes a hex encoded Ed25519 seed or private key.
func ParsePrivateKey(privateKeyHex string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, &ssoerr.ValidationError{Op: "signer", Field: "provider_private_key", Message: "not hex", Err: err}
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, &ssoerr.ValidationError{Op: "signer", Field: "provider_private_key", Message: "must be 32 or 64 bytes"}
	}
}

// ProviderAddress returns the address requests are signed for.
func (s *Signer) ProviderAddress() string { return s.providerAddress }

// PublicKey returns the verification key matching the signer.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// SignaturePayload is the exact byte sequence covered by provider_signature. Field order is
// part of the protocol, so the document is assembled key by key.
func SignaturePayload(providerAddress, codeChallenge string) ([]byte, error) {
	payload := []byte(`{}`)
	var err error
	for _, kv := range [][2]string{
		{"provider_address", providerAddress},
		{"code_challenge", codeChallenge},
		{"code_challenge_method", pkce.MethodS256},
	} {
		if payload, err = sjson.SetBytes(payload, kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// SignRequest builds the signed authorize body for codeChallenge, which must be the
// 64 character hex challenge.
func (s *Signer) SignRequest(codeChallenge string) (sso.AuthorizeRequest, error) {
	if len(codeChallenge) != challengeLength {
		return sso.AuthorizeRequest{}, &ssoerr.ValidationError{Op: "authorize", Field: "code_challenge", Message: "invalid code challenge"}
	}
	payload, err := SignaturePayload(s.providerAddress, codeChallenge)
	if err != nil {
		return sso.AuthorizeRequest{}, &ssoerr.ValidationError{Op: "authorize", Message: "build signature payload", Err: err}
	}
	return sso.AuthorizeRequest{
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: pkce.MethodS256,
		ProviderAddress:     s.providerAddress,
		ProviderSignature:   hex.EncodeToString(ed25519.Sign(s.key, payload)),
	}, nil
}

// Authorize signs the request, posts it to the provider and returns the response with
// link_signature added to the deep link. A non-2xx reply is an *ssoerr.AuthenticationError.
func (s *Signer) Authorize(ctx context.Context, codeChallenge string) (*sso.AuthorizeResponse, error) {
	req, err := s.SignRequest(codeChallenge)
	if err != nil {
		return nil, err
	}
	var out sso.AuthorizeResponse
	if err = s.api.PostJSON(ctx, "authorize", sso.PathAuthorize, req, &out); err != nil {
		var perr *ssoerr.ProviderError
		if errors.As(err, &perr) {
			return nil, &ssoerr.AuthenticationError{
				Op:         "authorize",
				Message:    "provider authorization failed: " + perr.Message,
				HTTPStatus: perr.HTTPStatus,
			}
		}
		return nil, err
	}
	out.DeepLink = s.SignLink(out.DeepLink)
	log.WithField("provider_address", s.providerAddress).Debug("alien sso: authorization request signed")
	return &out, nil
}

// SignLink signs the raw deep link and sets link_signature, keeping the rest of the query
// in place. An existing link_signature is replaced.
func (s *Signer) SignLink(deepLink string) string {
	sig := hex.EncodeToString(ed25519.Sign(s.key, []byte(deepLink)))
	return setQueryParam(deepLink, LinkSignatureParam, sig)
}

// VerifyLink checks the link_signature of a signed deep link against publicKey.
func VerifyLink(deepLink string, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	original, sigHex, ok := splitQueryParam(deepLink, LinkSignatureParam)
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, []byte(original), sig)
}

// VerifyRequest checks provider_signature of an authorize body against publicKey.
func VerifyRequest(req sso.AuthorizeRequest, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(req.ProviderSignature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	payload, err := SignaturePayload(req.ProviderAddress, req.CodeChallenge)
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey, payload, sig)
}

// setQueryParam appends key=value to rawURL, dropping earlier occurrences of key.
func setQueryParam(rawURL, key, value string) string {
	base, fragment, hasFragment := strings.Cut(rawURL, "#")
	path, query, _ := strings.Cut(base, "?")
	parts := make([]string, 0, 4)
	for _, part := range strings.Split(query, "&") {
		if part == "" || queryKey(part) == key {
			continue
		}
		parts = append(parts, part)
	}
	parts = append(parts, key+"="+value)
	out := path + "?" + strings.Join(parts, "&")
	if hasFragment {
		out += "#" + fragment
	}
	return out
}

// splitQueryParam removes the last key parameter from rawURL and returns the URL as it
// was before setQueryParam added it.
func splitQueryParam(rawURL, key string) (string, string, bool) {
	base, fragment, hasFragment := strings.Cut(rawURL, "#")
	path, query, hasQuery := strings.Cut(base, "?")
	if !hasQuery {
		return "", "", false
	}
	parts := strings.Split(query, "&")
	last := len(parts) - 1
	if queryKey(parts[last]) != key {
		return "", "", false
	}
	_, value, _ := strings.Cut(parts[last], "=")
	out := path
	if rest := parts[:last]; len(rest) > 0 {
		out += "?" + strings.Join(rest, "&")
	}
	if hasFragment {
		out += "#" + fragment
	}
	return out, value, true
}

func queryKey(part string) string {
	k, _, _ := strings.Cut(part, "=")
	return k
}
