// internal/security/vault.go
package security

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MasterKeyPath is where the key-wrapping master key lives in the vault.
const MasterKeyPath = "crypto/master-key"

// VaultProvider defines interface for secret storage backends
type VaultProvider interface {
	GetSecret(ctx context.Context, path string) (string, error)
	SetSecret(ctx context.Context, path, value string) error
	DeleteSecret(ctx context.Context, path string) error
}

// Vault loads the master key through a provider. The key is held for ttl
// and re-read after that, so a rotated key reaches long-running callers.
type Vault struct {
	provider VaultProvider
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	key      string
	loadedAt time.Time
}

func NewVault(provider VaultProvider, logger *zap.Logger) *Vault {
	return &Vault{
		provider: provider,
		ttl:      5 * time.Minute,
		logger:   logger,
		now:      time.Now,
	}
}

// GetMasterKey returns the held master key, reading the provider when none
// is held or the held copy is older than the ttl.
func (v *Vault) GetMasterKey(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != "" && v.now().Sub(v.loadedAt) < v.ttl {
		return v.key, nil
	}

	v.logger.Debug("Loading master key", zap.String("path", MasterKeyPath))
	key, err := v.provider.GetSecret(ctx, MasterKeyPath)
	if err != nil {
		return "", fmt.Errorf("failed to load master key from vault: %w", err)
	}
	v.key, v.loadedAt = key, v.now()
	return key, nil
}

// StoreMasterKey validates and writes a new master key, then drops the held
// copy so the next GetMasterKey reads it back.
func (v *Vault) StoreMasterKey(ctx context.Context, key string) error {
	if _, err := NewEncryption(key); err != nil {
		return err
	}
	if err := v.provider.SetSecret(ctx, MasterKeyPath, key); err != nil {
		return fmt.Errorf("failed to store master key: %w", err)
	}
	v.forget()
	v.logger.Info("Master key stored", zap.String("path", MasterKeyPath))
	return nil
}

func (v *Vault) DeleteMasterKey(ctx context.Context) error {
	if err := v.provider.DeleteSecret(ctx, MasterKeyPath); err != nil {
		return fmt.Errorf("failed to delete master key: %w", err)
	}
	v.forget()
	v.logger.Info("Master key deleted", zap.String("path", MasterKeyPath))
	return nil
}

func (v *Vault) forget() {
	v.mu.Lock()
	v.key = ""
	v.loadedAt = time.Time{}
	v.mu.Unlock()
}

// ============================================================================
// VAULT PROVIDERS
// ============================================================================

// EnvVaultProvider reads secrets from environment variables
type EnvVaultProvider struct{}

func NewEnvVaultProvider() *EnvVaultProvider {
	return &EnvVaultProvider{}
}

func (p *EnvVaultProvider) GetSecret(ctx context.Context, path string) (string, error) {
	// "crypto/master-key" -> "CRYPTO_MASTER_KEY"
	envKey := pathToEnvKey(path)

	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("secret not found: %s (env: %s)", path, envKey)
	}
	return value, nil
}

func (p *EnvVaultProvider) SetSecret(ctx context.Context, path, value string) error {
	return os.Setenv(pathToEnvKey(path), value)
}

func (p *EnvVaultProvider) DeleteSecret(ctx context.Context, path string) error {
	return os.Unsetenv(pathToEnvKey(path))
}

// FileVaultProvider stores secrets in files sealed with a file-vault key
type FileVaultProvider struct {
	baseDir    string
	encryption *Encryption
	mutex      sync.RWMutex
}

func NewFileVaultProvider(baseDir, encryptionKey string) (*FileVaultProvider, error) {
	encryption, err := NewEncryption(encryptionKey)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	return &FileVaultProvider{
		baseDir:    baseDir,
		encryption: encryption,
	}, nil
}

func (p *FileVaultProvider) filePath(path string) string {
	return filepath.Join(p.baseDir, filepath.FromSlash(path)+".enc")
}

func (p *FileVaultProvider) GetSecret(ctx context.Context, path string) (string, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	ciphertext, err := os.ReadFile(p.filePath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret not found: %s", path)
		}
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	plaintext, err := p.encryption.DecryptBytes(strings.TrimSpace(string(ciphertext)))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return string(plaintext), nil
}

func (p *FileVaultProvider) SetSecret(ctx context.Context, path, value string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ciphertext, err := p.encryption.EncryptBytes([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	filePath := p.filePath(path)
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(filePath, []byte(ciphertext), 0600); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}
	return nil
}

func (p *FileVaultProvider) DeleteSecret(ctx context.Context, path string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := os.Remove(p.filePath(path)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("secret not found: %s", path)
		}
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
