package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alien-org/alien-sso-go/internal/util"
	"github.com/alien-org/alien-sso-go/sdk/sso"
	"gopkg.in/yaml.v3"
)

// TokenOptions selects the flow whose tokens a command operates on.
type TokenOptions struct {
	// OIDC switches to the OIDC token set (id, access and refresh tokens).
	OIDC bool
	// Output is text, json or yaml.
	Output string
}

// ErrNotAuthenticated is returned when the stored session does not verify.
var ErrNotAuthenticated = errors.New("not authenticated")

// DoVerify checks the stored access token with the provider. OIDC sessions are refreshed
// once when the provider rejects the token.
func DoVerify(ctx context.Context, rt *Runtime, out io.Writer, opts TokenOptions) error {
	if opts.OIDC {
		info := rt.OIDCClient().VerifyAuth(ctx)
		if info == nil {
			return ErrNotAuthenticated
		}
		_, _ = fmt.Fprintf(out, "Token is valid for %s\n", info.Sub)
		return nil
	}
	client, err := rt.SSOClient()
	if err != nil {
		return err
	}
	if err = client.VerifyAuth(ctx); err != nil {
		if errors.Is(err, sso.ErrNoToken) {
			return ErrNotAuthenticated
		}
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	_, _ = fmt.Fprintln(out, "Token is valid")
	return nil
}

// whoami is the printable view of the stored claims.
type whoami struct {
	Subject        string   `json:"sub" yaml:"sub"`
	Issuer         string   `json:"iss,omitempty" yaml:"iss,omitempty"`
	Audience       []string `json:"aud,omitempty" yaml:"aud,omitempty"`
	ExpiresAt      string   `json:"exp,omitempty" yaml:"exp,omitempty"`
	SessionAddress string   `json:"session_address,omitempty" yaml:"session_address,omitempty"`
	Nonce          string   `json:"nonce,omitempty" yaml:"nonce,omitempty"`
	Token          string   `json:"token" yaml:"token"`
}

// DoWhoami decodes the stored token locally, without contacting the provider.
func DoWhoami(ctx context.Context, rt *Runtime, out io.Writer, opts TokenOptions) error {
	var (
		claims *sso.Claims
		token  string
	)
	if opts.OIDC {
		client := rt.OIDCClient()
		claims = client.GetAuthData(ctx)
		token, _ = client.GetIDToken(ctx)
	} else {
		client, err := rt.SSOClient()
		if err != nil {
			return err
		}
		claims = client.GetAuthData(ctx)
		token, _ = client.GetAccessToken(ctx)
	}
	if claims == nil {
		return ErrNotAuthenticated
	}

	view := whoami{
		Subject:  claims.Subject,
		Issuer:   claims.Issuer,
		Audience: claims.Audience,
		Nonce:    claims.Nonce,
		Token:    util.HideToken(token),
	}
	if claims.ExpiresAt != nil {
		view.ExpiresAt = claims.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if user := claims.CallbackUser(); user != nil {
		view.SessionAddress = user.SessionAddress
	}
	return render(out, opts.Output, view)
}

func render(out io.Writer, format string, v whoami) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer func() { _ = enc.Close() }()
		return enc.Encode(v)
	case "", "text":
		_, _ = fmt.Fprintf(out, "sub:     %s\n", v.Subject)
		if v.Issuer != "" {
			_, _ = fmt.Fprintf(out, "iss:     %s\n", v.Issuer)
		}
		if len(v.Audience) > 0 {
			_, _ = fmt.Fprintf(out, "aud:     %v\n", v.Audience)
		}
		if v.ExpiresAt != "" {
			_, _ = fmt.Fprintf(out, "exp:     %s\n", v.ExpiresAt)
		}
		if v.SessionAddress != "" {
			_, _ = fmt.Fprintf(out, "session: %s\n", v.SessionAddress)
		}
		_, _ = fmt.Fprintf(out, "token:   %s\n", v.Token)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// DoRefresh trades the stored OIDC refresh token for a new token set.
func DoRefresh(ctx context.Context, rt *Runtime, out io.Writer) error {
	client := rt.OIDCClient()
	if !client.HasRefreshToken(ctx) {
		return fmt.Errorf("%w: no refresh token stored", ErrNotAuthenticated)
	}
	bundle, err := client.RefreshAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Tokens refreshed, access token %s stored.\n", util.HideToken(bundle.AccessToken))
	return nil
}

// DoLogout forgets every stored token and the pending verifier.
func DoLogout(ctx context.Context, rt *Runtime, out io.Writer) error {
	if err := rt.Session.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	_, _ = fmt.Fprintln(out, "Logged out.")
	return nil
}
