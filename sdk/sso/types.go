package sso

import (
	"time"

	"github.com/alien-org/alien-sso-go/sdk/poll"
)

// Wire paths of the SSO provider.
const (
	PathAuthorize     = "/authorize"
	PathPoll          = "/poll"
	PathExchange      = "/access_token/exchange"
	PathVerify        = "/access_token/verify"
	PathOAuthAuthz    = "/oauth/authorize"
	PathOAuthPoll     = "/oauth/poll"
	PathOAuthToken    = "/oauth/token"
	PathOAuthUserInfo = "/oauth/userinfo"
)

// AuthorizeRequest is the body of POST /authorize. ProviderSignature is set when the
// request is signed by the holder of the provider key.
type AuthorizeRequest struct {
	CodeChallenge       string `json:"code_challenge" validate:"required"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	ProviderAddress     string `json:"provider_address,omitempty"`
	ProviderSignature   string `json:"provider_signature,omitempty"`
}

// AuthorizeResponse carries what is needed to render the QR code and start polling.
type AuthorizeResponse struct {
	DeepLink    string `json:"deep_link" validate:"required"`
	PollingCode string `json:"polling_code" validate:"required"`
	// ExpiredAt is a unix timestamp in seconds.
	ExpiredAt int64 `json:"expired_at" validate:"required,gt=0"`
}

// Deadline converts ExpiredAt to a time.
func (r *AuthorizeResponse) Deadline() time.Time {
	return time.Unix(r.ExpiredAt, 0)
}

// PollRequest is the body of POST /poll.
type PollRequest struct {
	PollingCode string `json:"polling_code"`
}

// PollResponse is the provider's answer to one poll.
type PollResponse struct {
	Status            poll.Status `json:"status" validate:"required,oneof=pending authorized rejected expired"`
	AuthorizationCode string      `json:"authorization_code,omitempty" validate:"required_if=Status authorized"`
}

// ExchangeRequest is the body of POST /access_token/exchange.
type ExchangeRequest struct {
	AuthorizationCode string `json:"authorization_code"`
	CodeVerifier      string `json:"code_verifier"`
}

// ExchangeResponse is the reply of POST /access_token/exchange.
type ExchangeResponse struct {
	AccessToken  string `json:"access_token" validate:"required"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// VerifyRequest is the body of POST /access_token/verify.
type VerifyRequest struct {
	AccessToken string `json:"access_token"`
}

// VerifyResponse is the reply of POST /access_token/verify.
type VerifyResponse struct {
	IsValid *bool `json:"is_valid" validate:"required"`
}

// UserInfo is the reply of GET /oauth/userinfo.
type UserInfo struct {
	Sub string `json:"sub" validate:"required"`
}

// TokenResponse is the OAuth2 token endpoint reply, used by the mock provider.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}
