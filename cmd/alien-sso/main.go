// Package main is the alien-sso command: interactive logins against the Alien identity
// provider, token inspection, Solana wallet linking, the signing backend and a local mock
// provider for development.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alien-org/alien-sso-go/internal/buildinfo"
	"github.com/alien-org/alien-sso-go/internal/logging"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Debugf("command failed: %v", err)
		stop()
		os.Exit(1)
	}
}
