package mockprovider

import (
	"net/http"
	"strings"

	"github.com/alien-org/alien-sso-go/internal/pkce"
	"github.com/alien-org/alien-sso-go/sdk/sso"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func oauthError(c *gin.Context, status int, code, description string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "error_description": description})
}

func (p *Provider) handleOAuthAuthorize(c *gin.Context) {
	q := c.Request.URL.Query()
	switch {
	case q.Get("response_type") != "code":
		oauthError(c, http.StatusBadRequest, "unsupported_response_type", "response_type must be code")
		return
	case q.Get("client_id") == "":
		oauthError(c, http.StatusBadRequest, "invalid_request", "client_id is required")
		return
	case q.Get("code_challenge") == "":
		oauthError(c, http.StatusBadRequest, "invalid_request", "code_challenge is required")
		return
	case q.Get("code_challenge_method") != pkce.MethodS256:
		oauthError(c, http.StatusBadRequest, "invalid_request", "code_challenge_method must be S256")
		return
	}
	if p.cfg.ProviderAddress != "" && q.Get("client_id") != p.cfg.ProviderAddress {
		oauthError(c, http.StatusUnauthorized, "unauthorized_client", "unknown client_id")
		return
	}

	p.mu.Lock()
	code, link := p.newFlowLocked(&pendingFlow{
		kind:        flowOIDC,
		challenge:   q.Get("code_challenge"),
		encoding:    pkce.EncodingBase64URL,
		clientID:    q.Get("client_id"),
		redirectURI: q.Get("redirect_uri"),
		nonce:       q.Get("nonce"),
	})
	expiresAt := p.flows[code].expiresAt
	p.mu.Unlock()

	c.JSON(http.StatusOK, sso.AuthorizeResponse{DeepLink: link, PollingCode: code, ExpiredAt: expiresAt.Unix()})
}

func (p *Provider) handleToken(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		oauthError(c, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	form := c.Request.PostForm
	var (
		flow   *pendingFlow
		reason string
	)
	p.mu.Lock()
	switch form.Get("grant_type") {
	case "authorization_code":
		flow, reason = p.redeemLocked(form.Get("code"), form.Get("code_verifier"), flowOIDC)
		if flow != nil && flow.redirectURI != "" && form.Get("redirect_uri") != flow.redirectURI {
			flow, reason = nil, "redirect_uri mismatch"
		}
	case "refresh_token":
		rt := form.Get("refresh_token")
		flow = p.refresh[rt]
		delete(p.refresh, rt)
		if flow == nil {
			reason = "unknown refresh token"
		}
	default:
		p.mu.Unlock()
		oauthError(c, http.StatusBadRequest, "unsupported_grant_type", "grant_type not supported")
		return
	}
	if flow != nil && form.Get("client_id") != "" && form.Get("client_id") != flow.clientID {
		flow, reason = nil, "client_id mismatch"
	}
	var refreshToken string
	if flow != nil {
		refreshToken = strings.ReplaceAll(uuid.NewString(), "-", "")
		p.refresh[refreshToken] = flow
	}
	p.mu.Unlock()

	if flow == nil {
		oauthError(c, http.StatusBadRequest, "invalid_grant", reason)
		return
	}
	access, id, err := p.mintOIDCTokens(flow)
	if err != nil {
		oauthError(c, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, sso.TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.cfg.TokenTTL.Seconds()),
		IDToken:      id,
		RefreshToken: refreshToken,
	})
}

func (p *Provider) handleUserInfo(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		c.Header("WWW-Authenticate", `Bearer error="invalid_request"`)
		oauthError(c, http.StatusUnauthorized, "invalid_request", "bearer token required")
		return
	}
	claims := p.validToken(token)
	if claims == nil {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		oauthError(c, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
		return
	}
	sub, _ := claims.GetSubject()
	c.JSON(http.StatusOK, sso.UserInfo{Sub: sub})
}
