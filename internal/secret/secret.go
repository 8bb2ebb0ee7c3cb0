// Package secret implements the secret/hashlock commitments the swap protocol
// depends on: 32-byte random secrets, keccak256 one-way commitments, and
// optional at-rest encryption of stored secrets.
package secret

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SecretLength is the byte length of every swap secret.
const SecretLength = 32

// Generate returns a fresh cryptographically random 32-byte secret as 0x hex.
func Generate() (string, error) {
	buf := make([]byte, SecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hexutil.Encode(buf), nil
}

// Hash returns the keccak256 commitment of a hex-encoded secret. Both EVM and
// Move escrows verify revealed secrets against this same commitment.
func Hash(secretHex string) (string, error) {
	raw, err := hexutil.Decode(secretHex)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	if len(raw) != SecretLength {
		return "", fmt.Errorf("secret must be %d bytes, got %d", SecretLength, len(raw))
	}
	return hexutil.Encode(crypto.Keccak256(raw)), nil
}

// Verify reports whether hash(secret) equals the given hashlock. Comparison is
// case-insensitive on the hex encoding. A malformed secret never verifies.
func Verify(secretHex, hashlock string) bool {
	computed, err := Hash(secretHex)
	if err != nil {
		return false
	}
	return strings.EqualFold(computed, hashlock)
}
