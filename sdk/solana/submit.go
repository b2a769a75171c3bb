package solana

import (
	"context"
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

// DefaultRPCURL is the public mainnet-beta endpoint.
const DefaultRPCURL = rpc.MainNetBeta_RPC

// Wallet signs transactions for one account.
type Wallet interface {
	PublicKey() solanago.PublicKey
	SignTransaction(ctx context.Context, tx *solanago.Transaction) error
}

// RPC is the subset of a Solana node used to submit an attestation.
type RPC interface {
	LatestBlockhash(ctx context.Context) (solanago.Hash, error)
	Send(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
}

// KeypairWallet signs with an in-memory private key.
type KeypairWallet struct {
	Key solanago.PrivateKey
}

func (w KeypairWallet) PublicKey() solanago.PublicKey { return w.Key.PublicKey() }

func (w KeypairWallet) SignTransaction(_ context.Context, tx *solanago.Transaction) error {
	pub := w.Key.PublicKey()
	_, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(pub) {
			return &w.Key
		}
		return nil
	})
	return err
}

type nodeRPC struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

// NewRPC returns an RPC backed by a JSON-RPC node at endpoint.
func NewRPC(endpoint string) RPC {
	return &nodeRPC{client: rpc.New(endpoint), commitment: rpc.CommitmentConfirmed}
}

func (n *nodeRPC) LatestBlockhash(ctx context.Context) (solanago.Hash, error) {
	res, err := n.client.GetLatestBlockhash(ctx, n.commitment)
	if err != nil {
		return solanago.Hash{}, fmt.Errorf("solana rpc: latest blockhash: %w", err)
	}
	if res == nil || res.Value == nil {
		return solanago.Hash{}, errors.New("solana rpc: empty blockhash result")
	}
	return res.Value.Blockhash, nil
}

func (n *nodeRPC) Send(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	sig, err := n.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: n.commitment,
	})
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("solana rpc: send transaction: %w", err)
	}
	return sig, nil
}

// Submitter signs and broadcasts attestation transactions.
type Submitter struct {
	Wallet Wallet
	RPC    RPC
}

// Submit attaches a recent blockhash to tx, has the wallet sign it and broadcasts it.
// The wallet must be the transaction payer.
func (s *Submitter) Submit(ctx context.Context, tx *AttestationTransaction) (solanago.Signature, error) {
	if s.Wallet == nil || s.RPC == nil {
		return solanago.Signature{}, errors.New("solana: submitter needs a wallet and an rpc")
	}
	if !tx.Payer.Equals(s.Wallet.PublicKey()) {
		return solanago.Signature{}, fmt.Errorf("solana: payer %s is not the wallet %s", tx.Payer, s.Wallet.PublicKey())
	}
	blockhash, err := s.RPC.LatestBlockhash(ctx)
	if err != nil {
		return solanago.Signature{}, err
	}
	unsigned, err := tx.Transaction(blockhash)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("solana: build transaction: %w", err)
	}
	if err = s.Wallet.SignTransaction(ctx, unsigned); err != nil {
		return solanago.Signature{}, fmt.Errorf("solana: sign transaction: %w", err)
	}
	sig, err := s.RPC.Send(ctx, unsigned)
	if err != nil {
		return solanago.Signature{}, err
	}
	log.WithField("wallet", tx.Payer.String()).Infof("solana: attestation submitted: %s", sig)
	return sig, nil
}
