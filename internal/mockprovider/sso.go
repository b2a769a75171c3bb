package mockprovider

import (
	"net/http"

	"github.com/alien-org/alien-sso-go/internal/pkce"
	"github.com/alien-org/alien-sso-go/sdk/poll"
	"github.com/alien-org/alien-sso-go/sdk/server"
	"github.com/alien-org/alien-sso-go/sdk/sso"
	"github.com/gin-gonic/gin"
)

func (p *Provider) handleAuthorize(c *gin.Context) {
	if !p.checkProviderAddress(c) {
		return
	}
	var req sso.AuthorizeRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil || req.CodeChallenge == "" {
		abort(c, http.StatusBadRequest, "code_challenge is required")
		return
	}
	if p.cfg.ProviderPublicKey != nil {
		if req.ProviderAddress != p.cfg.ProviderAddress || !server.VerifyRequest(req, p.cfg.ProviderPublicKey) {
			abort(c, http.StatusUnauthorized, "invalid provider signature")
			return
		}
	}

	p.mu.Lock()
	code, link := p.newFlowLocked(&pendingFlow{kind: flowSSO, challenge: req.CodeChallenge, encoding: pkce.EncodingHex})
	expiresAt := p.flows[code].expiresAt
	p.mu.Unlock()

	c.JSON(http.StatusOK, sso.AuthorizeResponse{DeepLink: link, PollingCode: code, ExpiredAt: expiresAt.Unix()})
}

// handlePoll serves /poll and /oauth/poll.
func (p *Provider) handlePoll(c *gin.Context) {
	var req sso.PollRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil || req.PollingCode == "" {
		abort(c, http.StatusBadRequest, "polling_code is required")
		return
	}
	p.mu.Lock()
	flow, ok := p.flows[req.PollingCode]
	if !ok || flow.kind == flowSolana {
		p.mu.Unlock()
		abort(c, http.StatusNotFound, "unknown polling code")
		return
	}
	p.advanceLocked(flow)
	resp := sso.PollResponse{Status: flow.status}
	if flow.status == poll.StatusAuthorized {
		resp.AuthorizationCode = flow.code
	}
	p.mu.Unlock()
	c.JSON(http.StatusOK, resp)
}

// redeemLocked consumes code after checking verifier against the stored challenge.
func (p *Provider) redeemLocked(code, verifier string, kind flowKind) (*pendingFlow, string) {
	g, ok := p.grants[code]
	if !ok || g.used || g.flow.kind != kind {
		return nil, "unknown or used authorization code"
	}
	g.used = true
	if verifier == "" || pkce.Challenge(verifier, g.flow.encoding) != g.flow.challenge {
		return nil, "code_verifier does not match code_challenge"
	}
	return g.flow, ""
}

func (p *Provider) handleExchange(c *gin.Context) {
	if !p.checkProviderAddress(c) {
		return
	}
	var req sso.ExchangeRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil || req.AuthorizationCode == "" {
		abort(c, http.StatusBadRequest, "authorization_code is required")
		return
	}
	p.mu.Lock()
	flow, reason := p.redeemLocked(req.AuthorizationCode, req.CodeVerifier, flowSSO)
	p.mu.Unlock()
	if flow == nil {
		abort(c, http.StatusBadRequest, reason)
		return
	}
	token, err := p.mintAccessToken(flow)
	if err != nil {
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, sso.ExchangeResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(p.cfg.TokenTTL.Seconds()),
	})
}

func (p *Provider) handleVerify(c *gin.Context) {
	if !p.checkProviderAddress(c) {
		return
	}
	var req sso.VerifyRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		abort(c, http.StatusBadRequest, "access_token is required")
		return
	}
	valid := req.AccessToken != "" && p.validToken(req.AccessToken) != nil
	c.JSON(http.StatusOK, gin.H{"is_valid": valid})
}
