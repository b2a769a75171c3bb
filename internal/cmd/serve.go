package cmd

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/alien-org/alien-sso-go/internal/api"
	"github.com/alien-org/alien-sso-go/internal/config"
	"github.com/alien-org/alien-sso-go/internal/logging"
	"github.com/alien-org/alien-sso-go/internal/mockprovider"
	"github.com/alien-org/alien-sso-go/internal/util"
	"github.com/alien-org/alien-sso-go/internal/watcher"
	"github.com/alien-org/alien-sso-go/sdk/server"
	log "github.com/sirupsen/logrus"
)

// newSigner builds the backend signer from cfg, or nil when no key is configured.
func newSigner(cfg *config.Config) (*server.Signer, error) {
	if cfg.ProviderPrivateKey == "" {
		return nil, nil
	}
	hc, err := util.NewHTTPClient(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	return server.NewSigner(cfg.ProviderAddress, cfg.ProviderPrivateKey, cfg.SSOBaseURL, server.WithHTTPClient(hc))
}

// DoServe runs the signing backend until ctx is cancelled. When configPath is set the
// file is watched and a changed key or provider address is applied without a restart.
func DoServe(ctx context.Context, cfg *config.Config, configPath string) error {
	signer, err := newSigner(cfg)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	if signer == nil {
		log.Warn("provider-private-key is not set, /authorize answers 503 until it is configured")
	}
	srv := api.NewServer(signer)

	if configPath != "" {
		w, errWatch := watcher.NewWatcher(configPath, func(_, updated *config.Config) {
			logging.SetLevel(updated.Debug)
			next, errSigner := newSigner(updated)
			if errSigner != nil {
				log.Errorf("reloaded signer rejected, keeping the current one: %v", errSigner)
				return
			}
			srv.SetSigner(next)
		})
		if errWatch != nil {
			return fmt.Errorf("config watcher: %w", errWatch)
		}
		w.SetConfig(cfg)
		if errWatch = w.Start(ctx); errWatch != nil {
			log.Warnf("config hot reload disabled: %v", errWatch)
		}
		defer func() { _ = w.Stop() }()
	}
	return srv.Run(ctx, cfg.Listen)
}

// MockOptions configures DoMockProvider.
type MockOptions struct {
	Listen       string
	PendingPolls int
	LinkTTL      time.Duration
	TokenTTL     time.Duration
}

// DoMockProvider runs the in-process identity provider until ctx is cancelled. When the
// config carries a provider key, authorize requests must be signed with it.
func DoMockProvider(ctx context.Context, cfg *config.Config, out io.Writer, opts MockOptions) error {
	mockCfg := mockprovider.Config{
		ProviderAddress: cfg.ProviderAddress,
		PendingPolls:    opts.PendingPolls,
		LinkTTL:         opts.LinkTTL,
		TokenTTL:        opts.TokenTTL,
	}
	if cfg.ProviderPrivateKey != "" {
		key, err := server.ParsePrivateKey(cfg.ProviderPrivateKey)
		if err != nil {
			return err
		}
		mockCfg.ProviderPublicKey = key.Public().(ed25519.PublicKey)
	}
	provider := mockprovider.New(mockCfg)

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("mock provider: listen on %s: %w", opts.Listen, err)
	}
	_, _ = fmt.Fprintf(out, "Mock provider listening on http://%s\n", ln.Addr())

	srv := &http.Server{Handler: provider.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	<-errCh
	return err
}
