package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/alien-org/alien-sso-go/sdk/poll"
	"github.com/alien-org/alien-sso-go/sdk/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// SolanaOptions configures DoSolanaLink.
type SolanaOptions struct {
	LoginOptions
	// Wallet is the base58 address to bind. Defaults to the keypair's address.
	Wallet string
	// Keypair is a solana-keygen JSON file. When set, the attestation transaction is built,
	// signed with it and submitted to the configured RPC endpoint.
	Keypair string
}

// DoSolanaLink binds a Solana wallet to the Alien session and optionally submits the
// on-chain attestation.
func DoSolanaLink(ctx context.Context, rt *Runtime, out io.Writer, opts SolanaOptions) error {
	var key solanago.PrivateKey
	if opts.Keypair != "" {
		var err error
		if key, err = solanago.PrivateKeyFromSolanaKeygenFile(opts.Keypair); err != nil {
			return fmt.Errorf("read keypair %s: %w", opts.Keypair, err)
		}
		if opts.Wallet == "" {
			opts.Wallet = key.PublicKey().String()
		}
	}
	if opts.Wallet == "" {
		return fmt.Errorf("a wallet address or a keypair is required")
	}

	client := rt.SolanaClient()
	link, err := client.GenerateLink(ctx, opts.Wallet)
	if err != nil {
		return fmt.Errorf("generate link: %w", err)
	}
	presentLink(out, link.DeepLink, opts.LoginOptions)

	outcome, err := client.AwaitAttestation(ctx, link)
	if err != nil {
		return fmt.Errorf("wallet link failed: %w", err)
	}
	if outcome.State != poll.StateAuthorized {
		return fmt.Errorf("wallet link %s", outcome.State)
	}
	result := outcome.Value
	if err = client.SaveAttestation(ctx, result.SolanaAddress, result.SessionAddress); err != nil {
		return fmt.Errorf("save attestation: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Wallet %s linked to session %s.\n", result.SolanaAddress, result.SessionAddress)

	if opts.Keypair == "" {
		return nil
	}
	sig, err := submitAttestation(ctx, rt, key, result)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Attestation submitted: %s\n", sig)
	return nil
}

func submitAttestation(ctx context.Context, rt *Runtime, key solanago.PrivateKey, result solana.OracleResult) (solanago.Signature, error) {
	cfg := rt.Config.Solana
	builder, err := solana.NewBuilder(solana.BuilderConfig{
		CredentialSignerProgram: cfg.CredentialSignerProgram,
		SASProgram:              cfg.SASProgram,
		SessionRegistryProgram:  cfg.SessionRegistryProgram,
	})
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("attestation builder: %w", err)
	}
	params, err := result.Params()
	if err != nil {
		return solanago.Signature{}, err
	}
	tx, err := builder.Build(params)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("build attestation: %w", err)
	}
	rpcURL := cfg.RPCURL
	if rpcURL == "" {
		rpcURL = solana.DefaultRPCURL
	}
	submitter := &solana.Submitter{Wallet: solana.KeypairWallet{Key: key}, RPC: solana.NewRPC(rpcURL)}
	return submitter.Submit(ctx, tx)
}
