package security

import (
	"context"
	"fmt"

	"custody-service/internal/domain"
)

// KeyWrapper seals per-wallet data keys under the master key, so the
// database never holds a key next to the ciphertext it unlocks.
type KeyWrapper struct {
	enc *Encryption
}

// NewKeyWrapper loads the master key from the vault.
func NewKeyWrapper(ctx context.Context, vault *Vault) (*KeyWrapper, error) {
	masterKey, err := vault.GetMasterKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load master key: %w", err)
	}
	return NewKeyWrapperFromKey(masterKey)
}

func NewKeyWrapperFromKey(masterKey string) (*KeyWrapper, error) {
	enc, err := NewEncryption(masterKey)
	if err != nil {
		return nil, err
	}
	return &KeyWrapper{enc: enc}, nil
}

// Wrap returns the sealed data key and the master key version used.
func (w *KeyWrapper) Wrap(dataKey []byte) (string, string, error) {
	wrapped, err := w.enc.EncryptBytes(dataKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to wrap data key: %w", err)
	}
	return wrapped, w.enc.GetVersion(), nil
}

// Unwrap opens a sealed data key. Callers must Zero the result after use.
func (w *KeyWrapper) Unwrap(wrapped, version string) ([]byte, error) {
	if version != w.enc.GetVersion() {
		return nil, fmt.Errorf("%w: unknown key version %q", domain.ErrDecryption, version)
	}
	dataKey, err := w.enc.DecryptBytes(wrapped)
	if err != nil {
		return nil, err
	}
	if len(dataKey) != KeySize {
		Zero(dataKey)
		return nil, fmt.Errorf("%w: unwrapped key has wrong length", domain.ErrDecryption)
	}
	return dataKey, nil
}
