// internal/chains/tron/wallet.go
package tron

import (
	"context"
	"encoding/hex"
	"fmt"

	"custody-service/internal/chains/hdkeys"
	"custody-service/internal/domain"
	"custody-service/internal/security"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// GenerateWallet derives a key at m/44'/195'/0'/0/0 of a new mnemonic.
func (a *Adapter) GenerateWallet(ctx context.Context, encryptionKey []byte) (*domain.GeneratedWallet, error) {
	mnemonic, priv, err := hdkeys.NewKey(hdkeys.BIP44(hdkeys.CoinTypeTron, 0), &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	privateKey, err := crypto.ToECDSA(priv.Serialize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}
	defer zeroKey(privateKey)

	raw := crypto.FromECDSA(privateKey)
	defer security.Zero(raw)

	encryptedKey, err := security.Encrypt(raw, encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}
	encryptedMnemonic, err := security.Encrypt([]byte(mnemonic), encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt mnemonic: %w", err)
	}

	addr := addressOf(privateKey)
	a.logger.Info("TRON wallet generated", zap.String("address", addr))

	return &domain.GeneratedWallet{
		Address:             addr,
		PublicKey:           hex.EncodeToString(crypto.FromECDSAPub(&privateKey.PublicKey)),
		EncryptedPrivateKey: encryptedKey,
		EncryptedMnemonic:   encryptedMnemonic,
	}, nil
}
