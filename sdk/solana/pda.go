package solana

import (
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// Seeds of the program derived addresses used by an attestation.
const (
	seedProgramState     = "program_state"
	seedCredentialSigner = "credential_signer"
	seedSessionRegistry  = "session_registry"
	seedSession          = "session"
	seedSolana           = "solana"
	seedCredential       = "credential"
	seedSchema           = "schema"
	seedAttestation      = "attestation"
)

func findPDA(name string, program solanago.PublicKey, seeds ...[]byte) (solanago.PublicKey, error) {
	addr, _, err := solanago.FindProgramAddress(seeds, program)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("solana: derive %s address: %w", name, err)
	}
	return addr, nil
}

// ProgramStatePDA derives the credential signer program's state account.
func ProgramStatePDA(credentialSigner solanago.PublicKey) (solanago.PublicKey, error) {
	return findPDA(seedProgramState, credentialSigner, []byte(seedProgramState))
}

// CredentialSignerPDA derives the account that signs attestations for the credential signer program.
func CredentialSignerPDA(credentialSigner solanago.PublicKey) (solanago.PublicKey, error) {
	return findPDA(seedCredentialSigner, credentialSigner, []byte(seedCredentialSigner))
}

// SessionRegistryPDA derives the registry root account.
func SessionRegistryPDA(registry solanago.PublicKey) (solanago.PublicKey, error) {
	return findPDA(seedSessionRegistry, registry, []byte(seedSessionRegistry))
}

// SessionEntryPDA derives the registry entry of an Alien session. The address is
// seeded with the UTF-8 bytes of sessionAddress, so one session maps to one entry.
func SessionEntryPDA(sessionAddress string, registry solanago.PublicKey) (solanago.PublicKey, error) {
	return findPDA(seedSession, registry, []byte(seedSession), []byte(sessionAddress))
}

// SolanaEntryPDA derives the registry entry of a wallet.
func SolanaEntryPDA(wallet, registry solanago.PublicKey) (solanago.PublicKey, error) {
	return findPDA(seedSolana, registry, []byte(seedSolana), wallet.Bytes())
}

// CredentialPDA derives a SAS credential account.
func CredentialPDA(authority solanago.PublicKey, name string, sas solanago.PublicKey) (solanago.PublicKey, error) {
	return findPDA(seedCredential, sas, []byte(seedCredential), authority.Bytes(), []byte(name))
}

// SchemaPDA derives a SAS schema account.
func SchemaPDA(credential solanago.PublicKey, name string, version uint8, sas solanago.PublicKey) (solanago.PublicKey, error) {
	return findPDA(seedSchema, sas, []byte(seedSchema), credential.Bytes(), []byte(name), []byte{version})
}

// AttestationPDA derives a SAS attestation account. nonce is the attested wallet, which
// makes the attestation unique per credential, schema and wallet.
func AttestationPDA(credential, schema, nonce, sas solanago.PublicKey) (solanago.PublicKey, error) {
	return findPDA(seedAttestation, sas, []byte(seedAttestation), credential.Bytes(), schema.Bytes(), nonce.Bytes())
}
