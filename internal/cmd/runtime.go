// Package cmd implements the alien-sso command actions. Each action takes a Runtime built
// from the loaded configuration and writes its user facing output to an io.Writer.
package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alien-org/alien-sso-go/internal/config"
	"github.com/alien-org/alien-sso-go/internal/store"
	"github.com/alien-org/alien-sso-go/internal/util"
	"github.com/alien-org/alien-sso-go/sdk/server"
	"github.com/alien-org/alien-sso-go/sdk/session"
	"github.com/alien-org/alien-sso-go/sdk/solana"
	"github.com/alien-org/alien-sso-go/sdk/sso"
	log "github.com/sirupsen/logrus"
)

// Runtime bundles the shared dependencies of the client commands.
type Runtime struct {
	Config     *config.Config
	HTTPClient *http.Client
	Session    *session.Session

	durable session.Store
}

// NewRuntime opens the configured durable store and builds a proxy-aware HTTP client.
func NewRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	hc, err := util.NewHTTPClient(cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}
	durable, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	// the verifier must survive a CLI restart between authorize and exchange, so both
	// halves of the session live in the durable store
	return &Runtime{
		Config:     cfg,
		HTTPClient: hc,
		Session:    session.New(durable, durable),
		durable:    durable,
	}, nil
}

// Close releases the durable store.
func (r *Runtime) Close() error {
	return store.Close(r.durable)
}

// Signer returns the local signer, or nil when no private key is configured.
func (r *Runtime) Signer() (*server.Signer, error) {
	if r.Config.ProviderPrivateKey == "" {
		return nil, nil
	}
	return server.NewSigner(r.Config.ProviderAddress, r.Config.ProviderPrivateKey, r.Config.SSOBaseURL,
		server.WithHTTPClient(r.HTTPClient))
}

// SSOClient builds the SSO client. A configured private key signs locally; otherwise
// authorize is delegated to server-base-url.
func (r *Runtime) SSOClient() (*sso.Client, error) {
	cfg := sso.Config{
		SSOBaseURL:      r.Config.SSOBaseURL,
		ServerBaseURL:   r.Config.ServerBaseURL,
		ProviderAddress: r.Config.ProviderAddress,
		PollingInterval: r.Config.PollingInterval,
		Algorithms:      r.Config.AllowedAlgorithms,
		HTTPClient:      r.HTTPClient,
		Session:         r.Session,
	}
	signer, err := r.Signer()
	if err != nil {
		return nil, err
	}
	if signer != nil {
		cfg.Signer = signer
	} else if cfg.ServerBaseURL == "" {
		log.Warn("neither provider-private-key nor server-base-url is set, authorize will fail")
	}
	return sso.NewClient(cfg), nil
}

// OIDCClient builds the OIDC client.
func (r *Runtime) OIDCClient() *sso.OIDCClient {
	return sso.NewOIDCClient(sso.OIDCConfig{
		SSOBaseURL:      r.Config.SSOBaseURL,
		ProviderAddress: r.Config.ProviderAddress,
		ClientID:        r.Config.ClientID,
		Scope:           r.Config.Scope,
		RedirectURI:     r.Config.RedirectURI,
		PollingInterval: r.Config.PollingInterval,
		Algorithms:      r.Config.AllowedAlgorithms,
		HTTPClient:      r.HTTPClient,
		Session:         r.Session,
	})
}

// SolanaClient builds the Solana link client.
func (r *Runtime) SolanaClient() *solana.Client {
	return solana.NewClient(solana.Config{
		SSOBaseURL:      r.Config.SSOBaseURL,
		ProviderAddress: r.Config.ProviderAddress,
		PollingInterval: r.Config.PollingInterval,
		HTTPClient:      r.HTTPClient,
		Session:         r.Session,
	})
}
