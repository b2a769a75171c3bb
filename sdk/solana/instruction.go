package solana

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// Ed25519ProgramID is the native signature verification program.
var Ed25519ProgramID = solanago.MustPublicKeyFromBase58("Ed25519SigVerify111111111111111111111111111")

// createAttestationDiscriminator selects the create_attestation instruction of the
// credential signer program.
var createAttestationDiscriminator = [8]byte{0x9b, 0x8f, 0x4c, 0x6a, 0x3f, 0x59, 0x3e, 0x57}

const (
	ed25519HeaderSize       = 16
	ed25519PublicKeyOffset  = ed25519HeaderSize
	ed25519SignatureOffset  = ed25519PublicKeyOffset + ed25519.PublicKeySize
	ed25519MessageOffset    = ed25519SignatureOffset + ed25519.SignatureSize
	currentInstructionIndex = 0xFFFF
)

// EncodeAttestationData serializes the create_attestation instruction:
//
//	discriminator[8] | u32 LE len(session) | session | oracle signature[64] | i64 LE expiry | i64 LE timestamp
func EncodeAttestationData(sessionAddress string, oracleSignature [64]byte, expiry, timestamp int64) []byte {
	buf := make([]byte, 0, 8+4+len(sessionAddress)+64+8+8)
	buf = append(buf, createAttestationDiscriminator[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(sessionAddress)))
	buf = append(buf, sessionAddress...)
	buf = append(buf, oracleSignature[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(expiry))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(timestamp))
	return buf
}

// OracleMessage is the byte string the oracle signs: session || base58(wallet) || i64 LE timestamp.
func OracleMessage(sessionAddress string, wallet solanago.PublicKey, timestamp int64) []byte {
	walletB58 := wallet.String()
	msg := make([]byte, 0, len(sessionAddress)+len(walletB58)+8)
	msg = append(msg, sessionAddress...)
	msg = append(msg, walletB58...)
	return binary.LittleEndian.AppendUint64(msg, uint64(timestamp))
}

// NewEd25519Instruction builds a native Ed25519 verification instruction carrying one
// signature, with public key, signature and message inline in the instruction data.
func NewEd25519Instruction(publicKey ed25519.PublicKey, message, signature []byte) (*solanago.GenericInstruction, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("solana: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	if len(signature) != ed25519.SignatureSize {
		return nil, fmt.Errorf("solana: ed25519 signature must be %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}
	if len(message) > 0xFFFF {
		return nil, fmt.Errorf("solana: ed25519 message too long (%d bytes)", len(message))
	}

	data := make([]byte, ed25519HeaderSize, ed25519MessageOffset+len(message))
	data[0] = 1 // number of signatures
	data[1] = 0 // padding
	le := binary.LittleEndian
	le.PutUint16(data[2:], ed25519SignatureOffset)
	le.PutUint16(data[4:], currentInstructionIndex)
	le.PutUint16(data[6:], ed25519PublicKeyOffset)
	le.PutUint16(data[8:], currentInstructionIndex)
	le.PutUint16(data[10:], ed25519MessageOffset)
	le.PutUint16(data[12:], uint16(len(message)))
	le.PutUint16(data[14:], currentInstructionIndex)
	data = append(data, publicKey...)
	data = append(data, signature...)
	data = append(data, message...)

	return solanago.NewInstruction(Ed25519ProgramID, solanago.AccountMetaSlice{}, data), nil
}
