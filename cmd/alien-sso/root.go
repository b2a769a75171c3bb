package main

import (
	"fmt"

	"github.com/alien-org/alien-sso-go/internal/buildinfo"
	"github.com/alien-org/alien-sso-go/internal/config"
	"github.com/alien-org/alien-sso-go/internal/logging"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	envFile    string
	debug      bool
}

// app carries what the persistent pre-run resolved for the subcommands.
type app struct {
	flags rootFlags
	cfg   *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "alien-sso",
		Short:         "Alien SSO client, signing backend and mock provider",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	cmd.SetVersionTemplate(buildinfo.String() + "\n")

	f := cmd.PersistentFlags()
	f.StringVarP(&a.flags.configPath, "config", "c", "config.yaml", "Path to the YAML configuration file")
	f.StringVar(&a.flags.envFile, "env-file", ".env", "Optional .env file loaded before the environment is read")
	f.BoolVar(&a.flags.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		newLoginCommand(a),
		newVerifyCommand(a),
		newWhoamiCommand(a),
		newRefreshCommand(a),
		newLogoutCommand(a),
		newSolanaLinkCommand(a),
		newServeCommand(a),
		newMockProviderCommand(a),
	)
	return cmd
}

func (a *app) load() error {
	if a.flags.envFile != "" {
		config.LoadDotEnv(a.flags.envFile)
	}
	cfg, err := config.LoadConfig(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.debug {
		cfg.Debug = true
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	a.cfg = cfg
	return nil
}
