package mockprovider

import (
	"crypto/ed25519"
	"encoding/hex"
	"net/http"

	"github.com/alien-org/alien-sso-go/sdk/poll"
	"github.com/alien-org/alien-sso-go/sdk/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
)

func bindWallet(c *gin.Context) (solanago.PublicKey, bool) {
	var req solana.LinkRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil || req.SolanaAddress == "" {
		abort(c, http.StatusBadRequest, "solana_address is required")
		return solanago.PublicKey{}, false
	}
	wallet, err := solanago.PublicKeyFromBase58(req.SolanaAddress)
	if err != nil {
		abort(c, http.StatusBadRequest, "solana_address is not a base58 public key")
		return solanago.PublicKey{}, false
	}
	return wallet, true
}

func (p *Provider) handleSolanaLink(c *gin.Context) {
	if !p.checkProviderAddress(c) {
		return
	}
	wallet, ok := bindWallet(c)
	if !ok {
		return
	}
	p.mu.Lock()
	code, link := p.newFlowLocked(&pendingFlow{kind: flowSolana, wallet: wallet.String()})
	expiresAt := p.flows[code].expiresAt
	p.mu.Unlock()

	c.JSON(http.StatusOK, solana.LinkResponse{DeepLink: link, PollingCode: code, ExpiredAt: expiresAt.Unix()})
}

func (p *Provider) handleSolanaPoll(c *gin.Context) {
	var req solana.PollRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil || req.PollingCode == "" {
		abort(c, http.StatusBadRequest, "polling_code is required")
		return
	}
	p.mu.Lock()
	flow, ok := p.flows[req.PollingCode]
	if !ok || flow.kind != flowSolana {
		p.mu.Unlock()
		abort(c, http.StatusNotFound, "unknown polling code")
		return
	}
	p.advanceLocked(flow)
	snapshot := *flow
	p.mu.Unlock()

	resp := solana.PollResponse{Status: snapshot.status}
	if snapshot.status == poll.StatusAuthorized {
		wallet := solanago.MustPublicKeyFromBase58(snapshot.wallet)
		msg := solana.OracleMessage(snapshot.sessionAddress, wallet, snapshot.timestamp)
		resp.OracleSignature = hex.EncodeToString(ed25519.Sign(p.cfg.OracleKey, msg))
		resp.OraclePublicKey = hex.EncodeToString(p.OraclePublicKey())
		resp.SolanaAddress = snapshot.wallet
		resp.Timestamp = snapshot.timestamp
		resp.SessionAddress = snapshot.sessionAddress
	}
	c.JSON(http.StatusOK, resp)
}

func (p *Provider) handleSolanaAttestation(c *gin.Context) {
	wallet, ok := bindWallet(c)
	if !ok {
		return
	}
	p.mu.Lock()
	sessionAddress, found := p.attestations[wallet.String()]
	p.mu.Unlock()
	if !found {
		abort(c, http.StatusNotFound, "no attestation for wallet")
		return
	}
	c.JSON(http.StatusOK, solana.AttestationResponse{SessionAddress: sessionAddress})
}
