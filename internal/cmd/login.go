package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/alien-org/alien-sso-go/internal/browser"
	"github.com/alien-org/alien-sso-go/internal/util"
	"github.com/alien-org/alien-sso-go/sdk/sso"
	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
)

// LoginOptions controls how the deep link is presented.
type LoginOptions struct {
	// NoBrowser skips handing the link to the system URL handler.
	NoBrowser bool
	// NoClipboard skips copying the link.
	NoClipboard bool
	// Nonce is sent on OIDC logins and checked against the id token.
	Nonce string
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	linkStyle    = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var (
	writeClipboard = clipboard.WriteAll
	openURL        = browser.OpenURL
)

func presentLink(out io.Writer, link string, opts LoginOptions) {
	_, _ = fmt.Fprintln(out, headingStyle.Render("Open this link with the Alien app to continue:"))
	_, _ = fmt.Fprintln(out, linkStyle.Render(link))
	if !opts.NoClipboard {
		if err := writeClipboard(link); err != nil {
			log.Debugf("clipboard unavailable: %v", err)
		} else {
			_, _ = fmt.Fprintln(out, mutedStyle.Render("The link was copied to the clipboard."))
		}
	}
	if !opts.NoBrowser {
		if err := openURL(link); err != nil {
			log.Debugf("could not open link: %v", err)
		}
	}
	_, _ = fmt.Fprintln(out, mutedStyle.Render("Waiting for approval..."))
}

// DoLogin runs the SSO login and stores the access token.
func DoLogin(ctx context.Context, rt *Runtime, out io.Writer, opts LoginOptions) error {
	client, err := rt.SSOClient()
	if err != nil {
		return err
	}
	token, err := client.Login(ctx, func(auth *sso.AuthorizeResponse) {
		presentLink(out, auth.DeepLink, opts)
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Login successful, access token %s stored.\n", util.HideToken(token))
	if claims := client.GetAuthData(ctx); claims != nil {
		if user := claims.CallbackUser(); user != nil {
			_, _ = fmt.Fprintf(out, "Session address: %s\n", user.SessionAddress)
		}
	}
	return nil
}

// DoOIDCLogin runs the OIDC login and stores the token bundle.
func DoOIDCLogin(ctx context.Context, rt *Runtime, out io.Writer, opts LoginOptions) error {
	client := rt.OIDCClient()
	var authOpts []sso.AuthorizeOption
	if opts.Nonce != "" {
		authOpts = append(authOpts, sso.WithNonce(opts.Nonce))
	}
	bundle, err := client.Login(ctx, func(auth *sso.AuthorizeResponse) {
		presentLink(out, auth.DeepLink, opts)
	}, authOpts...)
	if err != nil {
		return fmt.Errorf("oidc login failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Login successful, access token %s stored.\n", util.HideToken(bundle.AccessToken))
	if bundle.RefreshToken != "" {
		_, _ = fmt.Fprintln(out, "A refresh token was issued.")
	}
	return nil
}
