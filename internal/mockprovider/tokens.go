package mockprovider

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func (p *Provider) sign(claims jwt.MapClaims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("mock provider: sign token: %w", err)
	}
	return token, nil
}

// mintAccessToken issues the SSO access token carrying the app callback payload.
func (p *Provider) mintAccessToken(flow *pendingFlow) (string, error) {
	now := p.cfg.Now()
	payload, err := json.Marshal(map[string]string{"session_address": flow.sessionAddress})
	if err != nil {
		return "", err
	}
	sessionSig := ed25519.Sign(p.cfg.OracleKey, payload)
	claims := jwt.MapClaims{
		"iss":                            p.cfg.Issuer,
		"sub":                            flow.sessionAddress,
		"iat":                            now.Unix(),
		"exp":                            now.Add(p.cfg.TokenTTL).Unix(),
		"jti":                            uuid.NewString(),
		"app_callback_payload":           string(payload),
		"app_callback_session_signature": hex.EncodeToString(sessionSig),
		"app_callback_session_address":   flow.sessionAddress,
		"issued_at":                      now.Unix(),
		"expired_at":                     now.Add(p.cfg.TokenTTL).Unix(),
	}
	if p.cfg.ProviderAddress != "" {
		claims["aud"] = p.cfg.ProviderAddress
	}
	return p.sign(claims)
}

// mintOIDCTokens issues an access token and an id token for clientID.
func (p *Provider) mintOIDCTokens(flow *pendingFlow) (string, string, error) {
	now := p.cfg.Now()
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss": p.cfg.Issuer,
			"sub": flow.sessionAddress,
			"aud": flow.clientID,
			"iat": now.Unix(),
			"exp": now.Add(p.cfg.TokenTTL).Unix(),
			"jti": uuid.NewString(),
		}
	}
	access, err := p.sign(base())
	if err != nil {
		return "", "", err
	}
	idClaims := base()
	idClaims["auth_time"] = now.Unix()
	if flow.nonce != "" {
		idClaims["nonce"] = flow.nonce
	}
	id, err := p.sign(idClaims)
	if err != nil {
		return "", "", err
	}
	return access, id, nil
}

// validToken verifies the signature and expiry of token and returns its claims, or nil.
func (p *Provider) validToken(token string) jwt.MapClaims {
	p.mu.Lock()
	revoked := p.revoked[token]
	p.mu.Unlock()
	if revoked {
		return nil
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.cfg.Now))
	if err != nil || !parsed.Valid {
		return nil
	}
	return claims
}
