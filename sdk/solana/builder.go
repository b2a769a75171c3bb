package solana

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
	solanago "github.com/gagliardetto/solana-go"
)

// Default program ids and credential parameters.
const (
	DefaultCredentialSignerProgram = "9cstDz8WWRAFaq1vVpTjfHz6tjgh6SJaqYFeZWi1pFHG"
	DefaultSASProgram              = "22zoJMtdu4tQc2PzL74ZUT7FrwgB1Udec8DdW4yw4BdG"
	// DefaultSessionRegistryProgram is a placeholder that does not decode as base58;
	// deployments must configure the real registry program.
	DefaultSessionRegistryProgram = "SessionRegistryProgramId11111111111111111"

	DefaultCredentialAuthority = "11111111111111111111111111111111"
	DefaultCredentialName      = "default_credential"
	DefaultSchemaName          = "default_schema"
	DefaultSchemaVersion       = 1
)

// BuilderConfig names the on-chain programs and the SAS credential an attestation targets.
// Empty fields select the defaults. A zero SchemaVersion selects DefaultSchemaVersion.
type BuilderConfig struct {
	CredentialSignerProgram string
	SASProgram              string
	SessionRegistryProgram  string
	CredentialAuthority     string
	CredentialName          string
	SchemaName              string
	SchemaVersion           uint8
}

// Builder assembles create-attestation transactions. The credential and schema addresses
// are derived once at construction.
type Builder struct {
	credentialSigner solanago.PublicKey
	sas              solanago.PublicKey
	registry         solanago.PublicKey
	credential       solanago.PublicKey
	schema           solanago.PublicKey
	programState     solanago.PublicKey
	signerPDA        solanago.PublicKey
	registryPDA      solanago.PublicKey
}

// NewBuilder validates cfg and derives the fixed addresses.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	cfg = cfg.withDefaults()
	b := &Builder{}
	var err error
	if b.credentialSigner, err = parseKey("credential_signer_program", cfg.CredentialSignerProgram); err != nil {
		return nil, err
	}
	if b.sas, err = parseKey("sas_program", cfg.SASProgram); err != nil {
		return nil, err
	}
	if b.registry, err = parseKey("session_registry_program", cfg.SessionRegistryProgram); err != nil {
		return nil, err
	}
	authority, err := parseKey("credential_authority", cfg.CredentialAuthority)
	if err != nil {
		return nil, err
	}

	if b.credential, err = CredentialPDA(authority, cfg.CredentialName, b.sas); err != nil {
		return nil, err
	}
	if b.schema, err = SchemaPDA(b.credential, cfg.SchemaName, cfg.SchemaVersion, b.sas); err != nil {
		return nil, err
	}
	if b.programState, err = ProgramStatePDA(b.credentialSigner); err != nil {
		return nil, err
	}
	if b.signerPDA, err = CredentialSignerPDA(b.credentialSigner); err != nil {
		return nil, err
	}
	if b.registryPDA, err = SessionRegistryPDA(b.registry); err != nil {
		return nil, err
	}
	return b, nil
}

func (c BuilderConfig) withDefaults() BuilderConfig {
	if c.CredentialSignerProgram == "" {
		c.CredentialSignerProgram = DefaultCredentialSignerProgram
	}
	if c.SASProgram == "" {
		c.SASProgram = DefaultSASProgram
	}
	if c.SessionRegistryProgram == "" {
		c.SessionRegistryProgram = DefaultSessionRegistryProgram
	}
	if c.CredentialAuthority == "" {
		c.CredentialAuthority = DefaultCredentialAuthority
	}
	if c.CredentialName == "" {
		c.CredentialName = DefaultCredentialName
	}
	if c.SchemaName == "" {
		c.SchemaName = DefaultSchemaName
	}
	if c.SchemaVersion == 0 {
		c.SchemaVersion = DefaultSchemaVersion
	}
	return c
}

func parseKey(field, value string) (solanago.PublicKey, error) {
	key, err := solanago.PublicKeyFromBase58(strings.TrimSpace(value))
	if err != nil {
		return solanago.PublicKey{}, &ssoerr.ValidationError{Op: "solana", Field: field, Message: "not a base58 public key", Err: err}
	}
	return key, nil
}

// Credential returns the derived SAS credential address.
func (b *Builder) Credential() solanago.PublicKey { return b.credential }

// Schema returns the derived SAS schema address.
func (b *Builder) Schema() solanago.PublicKey { return b.schema }

// AttestationParams are the inputs of one attestation, taken from an authorized poll.
type AttestationParams struct {
	Payer              solanago.PublicKey
	SessionAddress     string
	OracleSignatureHex string
	OraclePublicKeyHex string
	Timestamp          int64
	// Expiry of the attestation; 0 means it never expires.
	Expiry int64
}

// AttestationTransaction is the pair of instructions that creates an attestation: the
// oracle signature check followed by create_attestation.
type AttestationTransaction struct {
	Payer        solanago.PublicKey
	Instructions []solanago.Instruction
	Attestation  solanago.PublicKey
}

// Transaction returns the unsigned transaction for recentBlockhash, paid by Payer.
func (t *AttestationTransaction) Transaction(recentBlockhash solanago.Hash) (*solanago.Transaction, error) {
	return solanago.NewTransaction(t.Instructions, recentBlockhash, solanago.TransactionPayer(t.Payer))
}

// Build assembles the instructions for p. Oracle signature and key are hex encoded.
func (b *Builder) Build(p AttestationParams) (*AttestationTransaction, error) {
	if p.Payer.IsZero() {
		return nil, &ssoerr.ValidationError{Op: "solana attestation", Field: "payer", Message: "required"}
	}
	if p.SessionAddress == "" {
		return nil, &ssoerr.ValidationError{Op: "solana attestation", Field: "session_address", Message: "required"}
	}
	sig, err := decodeHex("oracle_signature", p.OracleSignatureHex, ed25519.SignatureSize)
	if err != nil {
		return nil, err
	}
	pub, err := decodeHex("oracle_public_key", p.OraclePublicKeyHex, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}

	sessionEntry, err := SessionEntryPDA(p.SessionAddress, b.registry)
	if err != nil {
		return nil, &ssoerr.ValidationError{Op: "solana attestation", Field: "session_address", Err: err}
	}
	solanaEntry, err := SolanaEntryPDA(p.Payer, b.registry)
	if err != nil {
		return nil, err
	}
	attestation, err := AttestationPDA(b.credential, b.schema, p.Payer, b.sas)
	if err != nil {
		return nil, err
	}

	verify, err := NewEd25519Instruction(pub, OracleMessage(p.SessionAddress, p.Payer, p.Timestamp), sig)
	if err != nil {
		return nil, &ssoerr.ValidationError{Op: "solana attestation", Err: err}
	}

	var sigArr [64]byte
	copy(sigArr[:], sig)
	accounts := solanago.AccountMetaSlice{
		solanago.NewAccountMeta(b.programState, false, false),
		solanago.NewAccountMeta(b.signerPDA, false, false),
		solanago.NewAccountMeta(p.Payer, true, true),
		solanago.NewAccountMeta(b.credential, false, false),
		solanago.NewAccountMeta(b.schema, false, false),
		solanago.NewAccountMeta(attestation, true, false),
		solanago.NewAccountMeta(solanago.SystemProgramID, false, false),
		solanago.NewAccountMeta(b.sas, false, false),
		solanago.NewAccountMeta(solanago.SysVarInstructionsPubkey, false, false),
		solanago.NewAccountMeta(b.registry, false, false),
		solanago.NewAccountMeta(b.registryPDA, true, false),
		solanago.NewAccountMeta(sessionEntry, true, false),
		solanago.NewAccountMeta(solanaEntry, true, false),
	}
	create := solanago.NewInstruction(b.credentialSigner, accounts,
		EncodeAttestationData(p.SessionAddress, sigArr, p.Expiry, p.Timestamp))

	return &AttestationTransaction{
		Payer:        p.Payer,
		Instructions: []solanago.Instruction{verify, create},
		Attestation:  attestation,
	}, nil
}

func decodeHex(field, value string, size int) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return nil, &ssoerr.ValidationError{Op: "solana attestation", Field: field, Message: "not hex", Err: err}
	}
	if len(raw) != size {
		return nil, &ssoerr.ValidationError{Op: "solana attestation", Field: field, Message: "unexpected length"}
	}
	return raw, nil
}
