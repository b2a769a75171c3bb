package sso

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

// Default accepted signing algorithms. "none" can never be enabled.
var (
	DefaultSSOAlgorithms  = []string{"HS256"}
	DefaultOIDCAlgorithms = []string{"RS256", "ES256", "EdDSA", "HS256"}
)

// Claims is the locally decoded payload of an access or id token. It is advisory only:
// the signature is not verified, the provider's verify/userinfo endpoint is authoritative.
type Claims struct {
	jwt.RegisteredClaims

	Nonce    string `json:"nonce,omitempty"`
	AuthTime int64  `json:"auth_time,omitempty"`

	// SSO access token fields.
	AppCallbackPayload          string `json:"app_callback_payload,omitempty"`
	AppCallbackSessionSignature string `json:"app_callback_session_signature,omitempty"`
	AppCallbackSessionAddress   string `json:"app_callback_session_address,omitempty"`
	SessionExpiredAt            int64  `json:"expired_at,omitempty"`
	SessionIssuedAt             int64  `json:"issued_at,omitempty"`

	// Raw is the complete decoded payload.
	Raw map[string]any `json:"-"`
}

// CallbackUser is the JSON document carried in app_callback_payload.
type CallbackUser struct {
	SessionAddress string `json:"session_address"`
}

// CallbackUser decodes app_callback_payload. It returns nil when absent or malformed.
func (c *Claims) CallbackUser() *CallbackUser {
	if c == nil || c.AppCallbackPayload == "" {
		return nil
	}
	var u CallbackUser
	if err := json.Unmarshal([]byte(c.AppCallbackPayload), &u); err != nil {
		return nil
	}
	return &u
}

// Expired reports whether the token's own expiry (exp, or the SSO expired_at) is at or before now.
// Tokens without an expiry never report expired.
func (c *Claims) Expired(now time.Time) bool {
	if c == nil {
		return true
	}
	if c.ExpiresAt != nil {
		return !now.Before(c.ExpiresAt.Time)
	}
	if c.SessionExpiredAt > 0 {
		return now.Unix() >= c.SessionExpiredAt
	}
	return false
}

// oidcShape lists the claims an OIDC token must carry.
type oidcShape struct {
	Iss string   `validate:"required"`
	Sub string   `validate:"required"`
	Aud []string `validate:"required,min=1"`
	Exp int64    `validate:"required,gt=0"`
	Iat int64    `validate:"required,gt=0"`
}

// ClaimsDecoder decodes JWT-shaped tokens without verifying their signature.
type ClaimsDecoder struct {
	algorithms  map[string]struct{}
	audience    string
	requireOIDC bool
	validate    *validator.Validate
}

// NewClaimsDecoder accepts tokens signed with one of algorithms whose audience, when present,
// contains audience. requireOIDC additionally demands iss, sub, aud, exp and iat.
func NewClaimsDecoder(algorithms []string, audience string, requireOIDC bool) *ClaimsDecoder {
	allowed := make(map[string]struct{}, len(algorithms))
	for _, alg := range algorithms {
		if alg == "" || strings.EqualFold(alg, "none") {
			continue
		}
		allowed[alg] = struct{}{}
	}
	return &ClaimsDecoder{
		algorithms:  allowed,
		audience:    audience,
		requireOIDC: requireOIDC,
		validate:    validator.New(),
	}
}

// Decode returns the claims of token, or nil when any check fails. It never panics or errors,
// so UI code may call it on every render.
func (d *ClaimsDecoder) Decode(token string) *Claims {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	parser := jwt.NewParser()
	raw := jwt.MapClaims{}
	parsed, _, err := parser.ParseUnverified(token, raw)
	if err != nil {
		log.Debugf("alien sso: discard undecodable token: %v", err)
		return nil
	}

	alg, _ := parsed.Header["alg"].(string)
	if _, ok := d.algorithms[alg]; !ok {
		log.Debugf("alien sso: discard token with unsupported alg %q", alg)
		return nil
	}
	if typ, _ := parsed.Header["typ"].(string); !isJWTType(typ) {
		log.Debugf("alien sso: discard token with typ %q", typ)
		return nil
	}

	payload, err := json.Marshal(map[string]any(raw))
	if err != nil {
		return nil
	}
	claims := &Claims{}
	if err = json.Unmarshal(payload, claims); err != nil {
		return nil
	}
	claims.Raw = map[string]any(raw)

	if _, hasAud := raw["aud"]; hasAud && d.audience != "" && !containsString(claims.Audience, d.audience) {
		log.Debugf("alien sso: discard token not issued for %q", d.audience)
		return nil
	}
	if d.requireOIDC && !d.hasOIDCShape(claims) {
		return nil
	}
	return claims
}

func (d *ClaimsDecoder) hasOIDCShape(c *Claims) bool {
	shape := oidcShape{Iss: c.Issuer, Sub: c.Subject, Aud: c.Audience}
	if c.ExpiresAt != nil {
		shape.Exp = c.ExpiresAt.Unix()
	}
	if c.IssuedAt != nil {
		shape.Iat = c.IssuedAt.Unix()
	}
	return d.validate.Struct(shape) == nil
}

// isJWTType accepts "JWT" and media types of the JWT family such as "at+jwt".
func isJWTType(typ string) bool {
	typ = strings.ToLower(strings.TrimSpace(typ))
	return typ == "jwt" || strings.HasSuffix(typ, "+jwt")
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
