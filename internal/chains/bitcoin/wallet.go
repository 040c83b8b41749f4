// internal/chains/bitcoin/wallet.go
package bitcoin

import (
	"context"
	"encoding/hex"
	"fmt"

	"custody-service/internal/chains/hdkeys"
	"custody-service/internal/domain"
	"custody-service/internal/security"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"
)

// GenerateWallet derives a P2PKH key at m/44'/0'/0'/0/0 (coin type 1 off mainnet).
func (a *Adapter) GenerateWallet(ctx context.Context, encryptionKey []byte) (*domain.GeneratedWallet, error) {
	coinType := hdkeys.CoinTypeBitcoin
	if a.params.Net != chaincfg.MainNetParams.Net {
		coinType = hdkeys.CoinTypeBitcoinTestnet
	}

	mnemonic, privateKey, err := hdkeys.NewKey(hdkeys.BIP44(coinType, 0), a.params)
	if err != nil {
		return nil, err
	}
	defer privateKey.Zero()

	addr, err := p2pkhAddress(privateKey.PubKey(), a.params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}

	raw := privateKey.Serialize()
	defer security.Zero(raw)

	encryptedKey, err := security.Encrypt(raw, encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}
	encryptedMnemonic, err := security.Encrypt([]byte(mnemonic), encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt mnemonic: %w", err)
	}

	a.logger.Info("Bitcoin wallet generated", zap.String("address", addr.EncodeAddress()))

	return &domain.GeneratedWallet{
		Address:             addr.EncodeAddress(),
		PublicKey:           hex.EncodeToString(privateKey.PubKey().SerializeCompressed()),
		EncryptedPrivateKey: encryptedKey,
		EncryptedMnemonic:   encryptedMnemonic,
	}, nil
}

func decryptKey(encryptedPrivateKey string, encryptionKey []byte) (*btcec.PrivateKey, error) {
	raw, err := security.Decrypt(encryptedPrivateKey, encryptionKey)
	if err != nil {
		return nil, err
	}
	defer security.Zero(raw)

	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: invalid private key material", domain.ErrDecryption)
	}
	privateKey, _ := btcec.PrivKeyFromBytes(raw)
	return privateKey, nil
}

// p2pkhAddress derives the legacy pay-to-pubkey-hash address
func p2pkhAddress(pub *btcec.PublicKey, params *chaincfg.Params) (*btcutil.AddressPubKeyHash, error) {
	pubKeyHash := btcutil.Hash160(pub.SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create address: %w", err)
	}
	return addr, nil
}

// NetworkParams returns chaincfg params for network
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
}
