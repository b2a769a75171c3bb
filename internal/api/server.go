// Package api is the signing backend: a small gin service that keeps the provider
// private key away from browsers and mobile clients. Clients generate their own PKCE
// pair and POST the challenge to /authorize; the backend signs it, forwards it to the
// provider and returns the deep link and polling code.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alien-org/alien-sso-go/internal/logging"
	"github.com/alien-org/alien-sso-go/sdk/server"
	"github.com/alien-org/alien-sso-go/sdk/sso"
	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Server serves the signing backend.
type Server struct {
	engine  *gin.Engine
	signer  atomic.Pointer[server.Signer]
	metrics *metrics

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer builds the backend around signer. A nil signer is allowed; /authorize then
// answers 503 until SetSigner installs one.
func NewServer(signer *server.Signer) *Server {
	s := &Server{metrics: newMetrics()}
	if signer != nil {
		s.signer.Store(signer)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery(), s.metrics.middleware(), corsMiddleware())
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		s.metrics.handler().ServeHTTP(c.Writer, c.Request)
	})
	engine.POST(sso.PathAuthorize, s.handleAuthorize)
	s.engine = engine
	return s
}

// Handler exposes the gin engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Signer returns the signer currently in use.
func (s *Server) Signer() *server.Signer { return s.signer.Load() }

// SetSigner atomically replaces the signer. In-flight requests finish with the old one.
func (s *Server) SetSigner(signer *server.Signer) {
	if signer == nil {
		return
	}
	old := s.signer.Swap(signer)
	s.metrics.signerReloadTotal.Inc()
	if old == nil || old.ProviderAddress() != signer.ProviderAddress() {
		log.Infof("signer installed for provider %s", signer.ProviderAddress())
		return
	}
	log.Info("signer key reloaded")
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("api: server is already running")
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("signing backend listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.clear()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Debug("stopping signing backend")
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	s.clear()
	return err
}

func (s *Server) clear() {
	s.mu.Lock()
	s.httpServer = nil
	s.mu.Unlock()
}

func (s *Server) handleHealth(c *gin.Context) {
	logging.SkipGinRequestLogging(c)
	status := "ok"
	if s.signer.Load() == nil {
		status = "no_signer"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

type authorizeBody struct {
	CodeChallenge string `json:"code_challenge" binding:"required"`
}

func (s *Server) handleAuthorize(c *gin.Context) {
	signer := s.signer.Load()
	if signer == nil {
		s.metrics.authorizeTotal.WithLabelValues(outcomeNoSigner).Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signing key is not configured"})
		return
	}
	var body authorizeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.metrics.authorizeTotal.WithLabelValues(outcomeInvalid).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "code_challenge is required"})
		return
	}

	start := time.Now()
	resp, err := signer.Authorize(c.Request.Context(), body.CodeChallenge)
	s.metrics.signDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		status, outcome := classify(err)
		s.metrics.authorizeTotal.WithLabelValues(outcome).Inc()
		_ = c.Error(err)
		log.WithField("request_id", logging.GetGinRequestID(c)).Warnf("authorize failed: %v", err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.metrics.authorizeTotal.WithLabelValues(outcomeOK).Inc()
	c.JSON(http.StatusOK, resp)
}

// classify maps a signer failure to the status returned to the client.
func classify(err error) (int, string) {
	var (
		validation *ssoerr.ValidationError
		auth       *ssoerr.AuthenticationError
		provider   *ssoerr.ProviderError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, outcomeInvalid
	case errors.As(err, &auth):
		if auth.HTTPStatus >= http.StatusInternalServerError {
			return http.StatusBadGateway, outcomeUpstream
		}
		// the provider refused our own signature: a backend misconfiguration
		return http.StatusBadGateway, outcomeRejected
	case errors.As(err, &provider):
		if provider.HTTPStatus >= 400 && provider.HTTPStatus < 500 && provider.HTTPStatus != http.StatusTooManyRequests {
			return http.StatusBadRequest, outcomeInvalid
		}
		return http.StatusBadGateway, outcomeUpstream
	default:
		return http.StatusBadGateway, outcomeUpstream
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+logging.RequestIDHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
