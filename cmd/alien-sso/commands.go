package main

import (
	"context"
	"time"

	"github.com/alien-org/alien-sso-go/internal/cmd"
	"github.com/spf13/cobra"
)

// withRuntime opens the runtime for the duration of fn.
func (a *app) withRuntime(ctx context.Context, fn func(*cmd.Runtime) error) error {
	rt, err := cmd.NewRuntime(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	return fn(rt)
}

func addLoginFlags(c *cobra.Command, opts *cmd.LoginOptions) {
	f := c.Flags()
	f.BoolVar(&opts.NoBrowser, "no-browser", false, "Do not hand the deep link to the system URL handler")
	f.BoolVar(&opts.NoClipboard, "no-clipboard", false, "Do not copy the deep link to the clipboard")
}

func newLoginCommand(a *app) *cobra.Command {
	var opts loginFlags
	c := &cobra.Command{
		Use:   "login",
		Short: "Log in through the Alien app",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return a.withRuntime(c.Context(), func(rt *cmd.Runtime) error {
				if opts.oidc {
					return cmd.DoOIDCLogin(c.Context(), rt, c.OutOrStdout(), opts.LoginOptions)
				}
				return cmd.DoLogin(c.Context(), rt, c.OutOrStdout(), opts.LoginOptions)
			})
		},
	}
	addLoginFlags(c, &opts.LoginOptions)
	c.Flags().BoolVar(&opts.oidc, "oidc", false, "Use the OAuth2/OIDC flow instead of the SSO flow")
	c.Flags().StringVar(&opts.Nonce, "nonce", "", "OIDC nonce to request and check in the id token")
	return c
}

// loginFlags adds the flow selector to the login options.
type loginFlags struct {
	cmd.LoginOptions
	oidc bool
}

func addTokenFlags(c *cobra.Command, opts *cmd.TokenOptions) {
	c.Flags().BoolVar(&opts.OIDC, "oidc", false, "Operate on the OIDC token set")
}

func newVerifyCommand(a *app) *cobra.Command {
	var opts cmd.TokenOptions
	c := &cobra.Command{
		Use:   "verify",
		Short: "Ask the provider whether the stored token is valid",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return a.withRuntime(c.Context(), func(rt *cmd.Runtime) error {
				return cmd.DoVerify(c.Context(), rt, c.OutOrStdout(), opts)
			})
		},
	}
	addTokenFlags(c, &opts)
	return c
}

func newWhoamiCommand(a *app) *cobra.Command {
	var opts cmd.TokenOptions
	c := &cobra.Command{
		Use:   "whoami",
		Short: "Print the claims of the stored token without contacting the provider",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return a.withRuntime(c.Context(), func(rt *cmd.Runtime) error {
				return cmd.DoWhoami(c.Context(), rt, c.OutOrStdout(), opts)
			})
		},
	}
	addTokenFlags(c, &opts)
	c.Flags().StringVarP(&opts.Output, "output", "o", "text", "Output format (text, json or yaml)")
	return c
}

func newRefreshCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Trade the stored OIDC refresh token for new tokens",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return a.withRuntime(c.Context(), func(rt *cmd.Runtime) error {
				return cmd.DoRefresh(c.Context(), rt, c.OutOrStdout())
			})
		},
	}
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget every stored token",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return a.withRuntime(c.Context(), func(rt *cmd.Runtime) error {
				return cmd.DoLogout(c.Context(), rt, c.OutOrStdout())
			})
		},
	}
}

func newSolanaLinkCommand(a *app) *cobra.Command {
	var opts cmd.SolanaOptions
	c := &cobra.Command{
		Use:   "solana-link [wallet]",
		Short: "Bind a Solana wallet to the Alien session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Wallet = args[0]
			}
			return a.withRuntime(c.Context(), func(rt *cmd.Runtime) error {
				return cmd.DoSolanaLink(c.Context(), rt, c.OutOrStdout(), opts)
			})
		},
	}
	addLoginFlags(c, &opts.LoginOptions)
	c.Flags().StringVar(&opts.Keypair, "keypair", "", "solana-keygen file used to sign and submit the attestation")
	return c
}

func newServeCommand(a *app) *cobra.Command {
	var listen string
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the signing backend",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Listen = listen
			}
			return cmd.DoServe(c.Context(), a.cfg, a.flags.configPath)
		},
	}
	c.Flags().StringVar(&listen, "listen", "", "Listen address (overrides the config)")
	return c
}

func newMockProviderCommand(a *app) *cobra.Command {
	opts := cmd.MockOptions{}
	c := &cobra.Command{
		Use:   "mock-provider",
		Short: "Run a local identity provider for development",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return cmd.DoMockProvider(c.Context(), a.cfg, c.OutOrStdout(), opts)
		},
	}
	f := c.Flags()
	f.StringVar(&opts.Listen, "listen", "127.0.0.1:8787", "Listen address")
	f.IntVar(&opts.PendingPolls, "pending-polls", 2, "Pending polls before a login is approved; negative never approves")
	f.DurationVar(&opts.LinkTTL, "link-ttl", 5*time.Minute, "Lifetime of a deep link")
	f.DurationVar(&opts.TokenTTL, "token-ttl", time.Hour, "Lifetime of minted tokens")
	return c
}
