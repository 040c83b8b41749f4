// internal/chains/tron/signer.go
package tron

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"custody-service/internal/domain"
	"custody-service/internal/security"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"google.golang.org/protobuf/proto"
)

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

func addressOf(privateKey *ecdsa.PrivateKey) string {
	return address.PubkeyToAddress(privateKey.PublicKey).String()
}

func parseAddress(addr string) (address.Address, error) {
	parsed, err := address.Base58ToAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid TRON address %s: %w", addr, err)
	}
	return parsed, nil
}

// signTransaction signs sha256(raw_data) with secp256k1.
func signTransaction(tx *core.Transaction, privateKey *ecdsa.PrivateKey) (*core.Transaction, error) {
	hash, err := rawDataHash(tx)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	tx.Signature = append(tx.Signature, signature)
	return tx, nil
}

// getTxHash returns the transaction id, the hex of sha256(raw_data).
func getTxHash(tx *core.Transaction) (string, error) {
	hash, err := rawDataHash(tx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hash), nil
}

func rawDataHash(tx *core.Transaction) ([]byte, error) {
	rawData, err := proto.Marshal(tx.RawData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw data: %w", err)
	}
	hash := sha256.Sum256(rawData)
	return hash[:], nil
}

// recoverAddressFromSignature recovers the signer address (for verification)
func recoverAddressFromSignature(tx *core.Transaction) (string, error) {
	if len(tx.Signature) == 0 {
		return "", fmt.Errorf("no signature found")
	}

	hash, err := rawDataHash(tx)
	if err != nil {
		return "", err
	}

	pubKey, err := crypto.SigToPub(hash, tx.Signature[0])
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return address.PubkeyToAddress(*pubKey).String(), nil
}
