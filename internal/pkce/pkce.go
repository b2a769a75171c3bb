// Package pkce generates PKCE (Proof Key for Code Exchange) verifier/challenge pairs
// for the Alien SSO flows. The SSO variant encodes the challenge as hex, the OIDC variant
// as unpadded base64url.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"time"
)

// DefaultVerifierLength is the number of random bytes behind a verifier.
const DefaultVerifierLength = 128

// MethodS256 is the only supported challenge method.
const MethodS256 = "S256"

// Capability records which randomness source produced a verifier.
type Capability int

const (
	// Strong means the bytes came from a cryptographically secure source.
	Strong Capability = iota
	// Weak means the secure source was unavailable and a clock-seeded PRNG was used.
	Weak
)

func (c Capability) String() string {
	switch c {
	case Strong:
		return "strong"
	case Weak:
		return "weak"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Encoding selects the challenge representation.
type Encoding int

const (
	// EncodingHex produces 64 lowercase hex characters.
	EncodingHex Encoding = iota
	// EncodingBase64URL produces 43 unpadded base64url characters.
	EncodingBase64URL
)

// Verifier is a generated code verifier together with the capability that produced it.
type Verifier struct {
	Value      string
	Capability Capability
}

// Pair holds a verifier and the challenge derived from it.
type Pair struct {
	Verifier   string
	Challenge  string
	Method     string
	Capability Capability
}

// Generator produces verifiers from a configurable random source.
// The zero value uses crypto/rand.
type Generator struct {
	// Random overrides the secure source, mostly for tests.
	Random io.Reader
}

func (g Generator) source() io.Reader {
	if g.Random != nil {
		return g.Random
	}
	return rand.Reader
}

// DetectCapability reads one byte from the random source to pick a capability.
func (g Generator) DetectCapability() Capability {
	var sample [1]byte
	if _, err := io.ReadFull(g.source(), sample[:]); err != nil {
		return Weak
	}
	return Strong
}

// Verifier returns a base64url (no padding) string built from length random bytes.
// A non-positive length selects DefaultVerifierLength.
func (g Generator) Verifier(length int) Verifier {
	if length <= 0 {
		length = DefaultVerifierLength
	}
	buf := make([]byte, length)
	capability := Strong
	if _, err := io.ReadFull(g.source(), buf); err != nil {
		capability = Weak
		fillWeak(buf)
	}
	return Verifier{
		Value:      base64.RawURLEncoding.EncodeToString(buf),
		Capability: capability,
	}
}

// Pair generates a verifier and its challenge in the requested encoding.
func (g Generator) Pair(length int, enc Encoding) Pair {
	v := g.Verifier(length)
	return Pair{
		Verifier:   v.Value,
		Challenge:  Challenge(v.Value, enc),
		Method:     MethodS256,
		Capability: v.Capability,
	}
}

// GenerateCodeVerifier uses the default Generator.
func GenerateCodeVerifier(length int) Verifier {
	return Generator{}.Verifier(length)
}

// Generate uses the default Generator.
func Generate(length int, enc Encoding) Pair {
	return Generator{}.Pair(length, enc)
}

// Challenge is the SHA-256 digest of verifier in the requested encoding.
func Challenge(verifier string, enc Encoding) string {
	if enc == EncodingBase64URL {
		return ChallengeS256(verifier)
	}
	return ChallengeHex(verifier)
}

// ChallengeHex returns the hex encoded SHA-256 digest of verifier.
func ChallengeHex(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return hex.EncodeToString(sum[:])
}

// ChallengeS256 returns the unpadded base64url SHA-256 digest of verifier (RFC 7636).
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func fillWeak(buf []byte) {
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:8], uint64(time.Now().UnixNano()))
	r := mrand.New(mrand.NewChaCha8(seed))
	for i := 0; i < len(buf); i += 8 {
		v := r.Uint64()
		for j := 0; j < 8 && i+j < len(buf); j++ {
			buf[i+j] = byte(v >> (8 * j))
		}
	}
}
