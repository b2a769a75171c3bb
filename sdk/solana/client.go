// Package solana binds a Solana wallet to an Alien session. The provider's oracle signs the
// binding once the user approves it in the mobile app; the wallet then records it on chain
// through a SAS attestation created by the credential signer program.
package solana

import (
	"context"
	"net/http"
	"time"

	"github.com/alien-org/alien-sso-go/internal/provider"
	"github.com/alien-org/alien-sso-go/sdk/poll"
	"github.com/alien-org/alien-sso-go/sdk/session"
	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
	log "github.com/sirupsen/logrus"
)

// Wire paths of the Solana endpoints.
const (
	PathLink        = "/solana/link"
	PathPoll        = "/solana/poll"
	PathAttestation = "/solana/attestation"
)

// DefaultBaseURL is the public SSO endpoint.
const DefaultBaseURL = "https://sso.alien.com"

// LinkRequest is the body of /solana/link and /solana/attestation.
type LinkRequest struct {
	SolanaAddress string `json:"solana_address"`
}

// LinkResponse carries the deep link to approve the binding.
type LinkResponse struct {
	DeepLink    string `json:"deep_link" validate:"required"`
	PollingCode string `json:"polling_code" validate:"required"`
	ExpiredAt   int64  `json:"expired_at" validate:"required,gt=0"`
}

// Deadline converts ExpiredAt to a time.
func (r *LinkResponse) Deadline() time.Time { return time.Unix(r.ExpiredAt, 0) }

// PollRequest is the body of /solana/poll.
type PollRequest struct {
	PollingCode string `json:"polling_code"`
}

// PollResponse is one poll answer. The oracle fields are present once authorized.
type PollResponse struct {
	Status          poll.Status `json:"status" validate:"required,oneof=pending authorized rejected expired"`
	OracleSignature string      `json:"oracle_signature,omitempty"`
	OraclePublicKey string      `json:"oracle_public_key,omitempty"`
	SolanaAddress   string      `json:"solana_address,omitempty"`
	Timestamp       int64       `json:"timestamp,omitempty"`
	SessionAddress  string      `json:"session_address,omitempty"`
}

// OracleResult is the oracle-signed binding delivered by an authorized poll.
type OracleResult struct {
	OracleSignature string `json:"oracle_signature" validate:"required,hexadecimal,len=128"`
	OraclePublicKey string `json:"oracle_public_key" validate:"required,hexadecimal,len=64"`
	SolanaAddress   string `json:"solana_address" validate:"required"`
	Timestamp       int64  `json:"timestamp" validate:"required,gt=0"`
	SessionAddress  string `json:"session_address" validate:"required"`
}

// AttestationResponse is the reply of /solana/attestation.
type AttestationResponse struct {
	SessionAddress string `json:"session_address" validate:"required"`
}

// Config configures a Client.
type Config struct {
	SSOBaseURL      string
	ProviderAddress string
	PollingInterval time.Duration
	HTTPClient      *http.Client
	Session         *session.Session
	Now             func() time.Time
}

// Client talks to the Solana endpoints of the provider.
type Client struct {
	cfg     Config
	api     *provider.Client
	session *session.Session
}

// NewClient builds a Client.
func NewClient(cfg Config) *Client {
	if cfg.SSOBaseURL == "" {
		cfg.SSOBaseURL = DefaultBaseURL
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = poll.DefaultInterval
	}
	if cfg.Session == nil {
		cfg.Session = session.NewInMemory()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		cfg: cfg,
		api: provider.New(cfg.SSOBaseURL,
			provider.WithHTTPClient(cfg.HTTPClient),
			provider.WithProviderAddress(cfg.ProviderAddress),
		),
		session: cfg.Session,
	}
}

// GenerateLink asks the provider for a deep link binding wallet to the user's session.
func (c *Client) GenerateLink(ctx context.Context, wallet string) (*LinkResponse, error) {
	if wallet == "" {
		return nil, &ssoerr.ValidationError{Op: "solana link", Field: "solana_address", Message: "required"}
	}
	var out LinkResponse
	if err := c.api.PostJSON(ctx, "solana link", PathLink, LinkRequest{SolanaAddress: wallet}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Poll issues a single poll request.
func (c *Client) Poll(ctx context.Context, pollingCode string) (*PollResponse, error) {
	var out PollResponse
	if err := c.api.PostJSON(ctx, "solana poll", PathPoll, PollRequest{PollingCode: pollingCode}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Attestation returns the session address already attested for wallet.
func (c *Client) Attestation(ctx context.Context, wallet string) (string, error) {
	var out AttestationResponse
	if err := c.api.PostJSON(ctx, "solana attestation", PathAttestation, LinkRequest{SolanaAddress: wallet}, &out); err != nil {
		return "", err
	}
	return out.SessionAddress, nil
}

func (c *Client) poller(pollingCode string) poll.Poller[OracleResult] {
	return func(ctx context.Context) (poll.Response[OracleResult], error) {
		out, err := c.Poll(ctx, pollingCode)
		if err != nil {
			return poll.Response[OracleResult]{}, err
		}
		resp := poll.Response[OracleResult]{Status: out.Status}
		if out.Status != poll.StatusAuthorized {
			return resp, nil
		}
		resp.Value = OracleResult{
			OracleSignature: out.OracleSignature,
			OraclePublicKey: out.OraclePublicKey,
			SolanaAddress:   out.SolanaAddress,
			Timestamp:       out.Timestamp,
			SessionAddress:  out.SessionAddress,
		}
		if err = c.api.Validate("solana poll", &resp.Value); err != nil {
			return poll.Response[OracleResult]{}, err
		}
		return resp, nil
	}
}

// NewPollLoop returns a started loop for link.
func (c *Client) NewPollLoop(link *LinkResponse) (*poll.Loop[OracleResult], error) {
	if link == nil || link.PollingCode == "" {
		return nil, &ssoerr.ValidationError{Op: "solana poll", Field: "polling_code", Message: "required"}
	}
	loop := poll.New(c.poller(link.PollingCode), poll.Options{Interval: c.cfg.PollingInterval, Now: c.cfg.Now})
	if _, err := loop.Start(link.Deadline()); err != nil {
		return nil, err
	}
	return loop, nil
}

// AwaitAttestation blocks until the binding is approved, rejected, expired or fails.
// An authorized poll missing any oracle field ends in the error state with a validation error.
func (c *Client) AwaitAttestation(ctx context.Context, link *LinkResponse) (poll.Outcome[OracleResult], error) {
	loop, err := c.NewPollLoop(link)
	if err != nil {
		return poll.Outcome[OracleResult]{State: poll.StateError, Err: err}, err
	}
	return loop.Await(ctx)
}

// WatchAttestation polls on timers and reports through cb.
func (c *Client) WatchAttestation(ctx context.Context, link *LinkResponse, cb poll.Callbacks[OracleResult]) (*poll.Handle[OracleResult], error) {
	loop, err := c.NewPollLoop(link)
	if err != nil {
		return nil, err
	}
	return loop.Watch(ctx, cb), nil
}

// SaveAttestation records the bound wallet and session address in the session store.
func (c *Client) SaveAttestation(ctx context.Context, wallet, sessionAddress string) error {
	if err := c.session.SetSolanaAddress(ctx, wallet); err != nil {
		return err
	}
	if err := c.session.SetSessionAddress(ctx, sessionAddress); err != nil {
		return err
	}
	log.WithField("wallet", wallet).WithField("session_address", sessionAddress).Debug("solana: attestation saved")
	return nil
}

// Params turns an oracle result into builder input. The attested wallet pays.
func (r OracleResult) Params() (AttestationParams, error) {
	payer, err := parseKey("solana_address", r.SolanaAddress)
	if err != nil {
		return AttestationParams{}, err
	}
	return AttestationParams{
		Payer:              payer,
		SessionAddress:     r.SessionAddress,
		OracleSignatureHex: r.OracleSignature,
		OraclePublicKeyHex: r.OraclePublicKey,
		Timestamp:          r.Timestamp,
	}, nil
}
