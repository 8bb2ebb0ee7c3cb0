package secret

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/chacha20poly1305"
)

// encPrefix tags ciphertext in storage so Open can tell encrypted records from
// plain ones written before encryption was enabled.
const encPrefix = "enc:v1:"

// Keeper seals secrets for storage. With no key configured it passes secrets
// through unchanged, which keeps dev setups working without key management.
type Keeper struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewKeeper builds a Keeper from a hex-encoded 32-byte key. An empty key
// yields a pass-through keeper.
func NewKeeper(keyHex string) (*Keeper, error) {
	if strings.TrimSpace(keyHex) == "" {
		return &Keeper{}, nil
	}
	key, err := hexutil.Decode(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode secret store key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secret store key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init secret cipher: %w", err)
	}
	return &Keeper{aead: aead}, nil
}

// Enabled reports whether secrets will actually be encrypted at rest.
func (k *Keeper) Enabled() bool {
	return k.aead != nil
}

// Seal encrypts a secret for storage. Pass-through keepers return the input.
func (k *Keeper) Seal(plainSecret string) (string, error) {
	if k.aead == nil {
		return plainSecret, nil
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal secret: %w", err)
	}
	sealed := k.aead.Seal(nonce, nonce, []byte(plainSecret), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open recovers a secret from its stored form. Records without the encryption
// prefix are returned as-is, so plain and encrypted rows can coexist. An
// encrypted record with no key configured, or a failed authentication, is a
// hard error, never a silently returned value.
func (k *Keeper) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, encPrefix) {
		return stored, nil
	}
	if k.aead == nil {
		return "", fmt.Errorf("stored secret is encrypted but no secret store key is configured")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", fmt.Errorf("decode stored secret: %w", err)
	}
	if len(raw) < chacha20poly1305.NonceSizeX {
		return "", fmt.Errorf("stored secret is truncated")
	}
	nonce, ciphertext := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plain, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open stored secret: %w", err)
	}
	return string(plain), nil
}
