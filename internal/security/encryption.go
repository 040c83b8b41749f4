// internal/security/encryption.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"custody-service/internal/domain"
)

// KeySize is the symmetric key length for AES-256.
const KeySize = 32

// Encrypt seals plaintext under key with AES-256-GCM.
// Returns base64 encoded ciphertext with nonce prepended and tag appended.
func Encrypt(plaintext, key []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. A wrong key or any
// modification of the ciphertext yields domain.ErrDecryption.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	if ciphertext == "" {
		return nil, fmt.Errorf("%w: ciphertext cannot be empty", domain.ErrDecryption)
	}

	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64: %v", domain.ErrDecryption, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}

	nonceSize := gcm.NonceSize()
	if len(decoded) < nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	nonce, sealed := decoded[:nonceSize], decoded[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", domain.ErrDecryption)
	}

	return plaintext, nil
}

// GenerateKey returns a fresh random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: failed to read entropy: %v", domain.ErrKeyGeneration, err)
	}
	return key, nil
}

// GenerateMasterKey generates a random 32-byte master key for AES-256
func GenerateMasterKey() (string, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", err
	}

	// Encode to base64 for easy storage in config/env
	return base64.StdEncoding.EncodeToString(key), nil
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: must be %d bytes for AES-256, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encryption binds the cipher to the master key. It seals per-wallet data
// keys and file-vault secrets.
type Encryption struct {
	masterKey []byte
	version   string
}

// NewEncryption accepts a base64 encoded or raw 32 byte master key.
func NewEncryption(masterKey string) (*Encryption, error) {
	keyBytes := []byte(masterKey)
	if decoded, err := base64.StdEncoding.DecodeString(masterKey); err == nil {
		keyBytes = decoded
	}

	if len(keyBytes) != KeySize {
		return nil, fmt.Errorf("invalid master key length: must be 32 bytes for AES-256, got %d", len(keyBytes))
	}

	return &Encryption{
		masterKey: keyBytes,
		version:   "v1",
	}, nil
}

func (e *Encryption) EncryptBytes(data []byte) (string, error) {
	return Encrypt(data, e.masterKey)
}

func (e *Encryption) DecryptBytes(ciphertext string) ([]byte, error) {
	return Decrypt(ciphertext, e.masterKey)
}

// GetVersion returns the encryption version
func (e *Encryption) GetVersion() string {
	return e.version
}
