// Package mockprovider is an in-process Alien SSO identity provider for development and
// integration tests. It serves the SSO, OIDC and Solana endpoints with gin, approves
// pending logins after a configurable number of polls and mints HS256 tokens.
package mockprovider

import (
	"crypto/ed25519"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alien-org/alien-sso-go/internal/logging"
	"github.com/alien-org/alien-sso-go/internal/pkce"
	"github.com/alien-org/alien-sso-go/sdk/poll"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	defaultIssuer   = "https://sso.alien.test"
	defaultLinkTTL  = 5 * time.Minute
	defaultTokenTTL = time.Hour
)

type flowKind int

const (
	flowSSO flowKind = iota
	flowOIDC
	flowSolana
)

// Config configures a Provider.
type Config struct {
	// Issuer is the iss claim of minted tokens.
	Issuer string
	// ProviderAddress is the expected X-PROVIDER-ADDRESS and the SSO token audience.
	ProviderAddress string
	// ProviderPublicKey, when set, makes POST /authorize require a valid provider_signature.
	ProviderPublicKey ed25519.PublicKey
	// Secret signs HS256 tokens. A random secret is used when empty.
	Secret []byte
	// PendingPolls is the number of pending replies before a login is approved automatically.
	// A negative value disables auto-approval; use Approve and Reject instead.
	PendingPolls int
	LinkTTL      time.Duration
	TokenTTL     time.Duration
	// OracleKey signs Solana bindings. A fresh key is generated when nil.
	OracleKey ed25519.PrivateKey
	Now       func() time.Time
}

type pendingFlow struct {
	kind           flowKind
	challenge      string
	encoding       pkce.Encoding
	clientID       string
	redirectURI    string
	nonce          string
	wallet         string
	sessionAddress string
	expiresAt      time.Time
	polls          int
	status         poll.Status
	code           string
	timestamp      int64
}

type grant struct {
	flow *pendingFlow
	used bool
}

// Provider holds the mock's state. It is safe for concurrent use.
type Provider struct {
	cfg Config

	mu           sync.Mutex
	flows        map[string]*pendingFlow
	grants       map[string]*grant
	refresh      map[string]*pendingFlow
	revoked      map[string]bool
	attestations map[string]string
}

// New builds a Provider with cfg, filling defaults.
func New(cfg Config) *Provider {
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(uuid.NewString())
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = defaultLinkTTL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.OracleKey == nil {
		_, cfg.OracleKey, _ = ed25519.GenerateKey(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provider{
		cfg:          cfg,
		flows:        make(map[string]*pendingFlow),
		grants:       make(map[string]*grant),
		refresh:      make(map[string]*pendingFlow),
		revoked:      make(map[string]bool),
		attestations: make(map[string]string),
	}
}

// OraclePublicKey returns the key the oracle signs Solana bindings with.
func (p *Provider) OraclePublicKey() ed25519.PublicKey {
	return p.cfg.OracleKey.Public().(ed25519.PublicKey)
}

// Handler returns a gin engine serving every endpoint.
func (p *Provider) Handler() http.Handler {
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	p.Register(engine)
	return engine
}

// Register mounts the endpoints on r.
func (p *Provider) Register(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	r.POST("/authorize", p.handleAuthorize)
	r.POST("/poll", p.handlePoll)
	r.POST("/access_token/exchange", p.handleExchange)
	r.POST("/access_token/verify", p.handleVerify)

	oauth := r.Group("/oauth")
	oauth.GET("/authorize", p.handleOAuthAuthorize)
	oauth.POST("/poll", p.handlePoll)
	oauth.POST("/token", p.handleToken)
	oauth.GET("/userinfo", p.handleUserInfo)

	solana := r.Group("/solana")
	solana.POST("/link", p.handleSolanaLink)
	solana.POST("/poll", p.handleSolanaPoll)
	solana.POST("/attestation", p.handleSolanaAttestation)
}

// Approve authorizes the pending flow identified by pollingCode.
func (p *Provider) Approve(pollingCode string) bool {
	return p.settle(pollingCode, poll.StatusAuthorized)
}

// Reject declines the pending flow identified by pollingCode.
func (p *Provider) Reject(pollingCode string) bool {
	return p.settle(pollingCode, poll.StatusRejected)
}

// Revoke invalidates an issued access token.
func (p *Provider) Revoke(accessToken string) {
	p.mu.Lock()
	p.revoked[accessToken] = true
	p.mu.Unlock()
}

func (p *Provider) settle(pollingCode string, status poll.Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	flow, ok := p.flows[pollingCode]
	if !ok || flow.status != poll.StatusPending {
		return false
	}
	p.finishLocked(flow, status)
	return true
}

// newFlowLocked registers flow and returns its polling code and deep link.
func (p *Provider) newFlowLocked(flow *pendingFlow) (string, string) {
	code := uuid.NewString()
	flow.status = poll.StatusPending
	flow.expiresAt = p.cfg.Now().Add(p.cfg.LinkTTL)
	p.flows[code] = flow
	link := "alienapp://authorize_session?polling_code=" + code
	if flow.kind == flowSolana {
		link = "alienapp://solana_link?polling_code=" + code
	}
	return code, link
}

// advanceLocked applies one poll to flow.
func (p *Provider) advanceLocked(flow *pendingFlow) {
	if flow.status != poll.StatusPending {
		return
	}
	if !p.cfg.Now().Before(flow.expiresAt) {
		flow.status = poll.StatusExpired
		return
	}
	flow.polls++
	if p.cfg.PendingPolls >= 0 && flow.polls > p.cfg.PendingPolls {
		p.finishLocked(flow, poll.StatusAuthorized)
	}
}

func (p *Provider) finishLocked(flow *pendingFlow, status poll.Status) {
	flow.status = status
	if status != poll.StatusAuthorized {
		return
	}
	if flow.sessionAddress == "" {
		flow.sessionAddress = newSessionAddress()
	}
	switch flow.kind {
	case flowSolana:
		flow.timestamp = p.cfg.Now().Unix()
		p.attestations[flow.wallet] = flow.sessionAddress
	default:
		flow.code = uuid.NewString()
		p.grants[flow.code] = &grant{flow: flow}
	}
	log.WithField("session_address", flow.sessionAddress).Debug("mock provider: flow authorized")
}

func newSessionAddress() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// checkProviderAddress rejects requests whose X-PROVIDER-ADDRESS differs from the configured one.
func (p *Provider) checkProviderAddress(c *gin.Context) bool {
	if p.cfg.ProviderAddress == "" {
		return true
	}
	if got := c.GetHeader("X-PROVIDER-ADDRESS"); got != "" && got != p.cfg.ProviderAddress {
		abort(c, http.StatusForbidden, "unknown provider address")
		return false
	}
	return true
}
