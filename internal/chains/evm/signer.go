// internal/chains/evm/signer.go
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"custody-service/internal/domain"
	"custody-service/internal/security"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// decryptKey opens the sealed private key. The plaintext scalar is zeroed
// before returning; the caller owns the returned key and must zeroKey it.
func decryptKey(encryptedPrivateKey string, encryptionKey []byte) (*ecdsa.PrivateKey, error) {
	raw, err := security.Decrypt(encryptedPrivateKey, encryptionKey)
	if err != nil {
		return nil, err
	}
	defer security.Zero(raw)

	privateKey, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key material", domain.ErrDecryption)
	}
	return privateKey, nil
}

func zeroKey(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetUint64(0)
	}
}

// signTransaction signs with EIP-155 replay protection
func signTransaction(tx *types.Transaction, privateKey *ecdsa.PrivateKey, chainID *big.Int) (*types.Transaction, error) {
	signer := types.NewEIP155Signer(chainID)
	signedTx, err := types.SignTx(tx, signer, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signedTx, nil
}

// recoverSigner recovers the sender address from a signed transaction
func recoverSigner(tx *types.Transaction, chainID *big.Int) (common.Address, error) {
	sender, err := types.Sender(types.NewEIP155Signer(chainID), tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover sender: %w", err)
	}
	return sender, nil
}

func addressOf(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}
