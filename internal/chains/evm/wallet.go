// internal/chains/evm/wallet.go
package evm

import (
	"context"
	"fmt"

	"custody-service/internal/chains/hdkeys"
	"custody-service/internal/domain"
	"custody-service/internal/security"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// GenerateWallet derives a fresh key at m/44'/60'/0'/0/0 of a new mnemonic.
// BSC and Polygon share Ethereum's coin type and address format.
func (a *Adapter) GenerateWallet(ctx context.Context, encryptionKey []byte) (*domain.GeneratedWallet, error) {
	mnemonic, priv, err := hdkeys.NewKey(hdkeys.BIP44(hdkeys.CoinTypeEthereum, 0), &chaincfg.MainNetParams)
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

	return &domain.GeneratedWallet{
		Address:             addressOf(privateKey).Hex(),
		PublicKey:           hexutil.Encode(crypto.FromECDSAPub(&privateKey.PublicKey))[2:],
		EncryptedPrivateKey: encryptedKey,
		EncryptedMnemonic:   encryptedMnemonic,
	}, nil
}
