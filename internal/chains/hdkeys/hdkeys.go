// Package hdkeys derives chain keys from a BIP-39 mnemonic along BIP-44 paths.
package hdkeys

import (
	"fmt"

	"custody-service/internal/domain"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// BIP-44 coin types.
const (
	CoinTypeBitcoin        uint32 = 0
	CoinTypeBitcoinTestnet uint32 = 1
	CoinTypeEthereum       uint32 = 60
	CoinTypeTron           uint32 = 195
)

// Path is a derivation path; hardened levels already include HardenedKeyStart.
type Path []uint32

// BIP44 returns m/44'/coin'/0'/0/index.
func BIP44(coinType, index uint32) Path {
	return Path{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + coinType,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}
}

func (p Path) String() string {
	s := "m"
	for _, level := range p {
		if level >= hdkeychain.HardenedKeyStart {
			s += fmt.Sprintf("/%d'", level-hdkeychain.HardenedKeyStart)
		} else {
			s += fmt.Sprintf("/%d", level)
		}
	}
	return s
}

// NewMnemonic returns a fresh 12-word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("%w: failed to generate entropy: %v", domain.ErrKeyGeneration, err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("%w: failed to generate mnemonic: %v", domain.ErrKeyGeneration, err)
	}
	return mnemonic, nil
}

// DeriveKey walks path from the mnemonic's master key. params only affects
// extended-key version bytes, so EVM and Tron callers may pass MainNetParams.
func DeriveKey(mnemonic string, path Path, params *chaincfg.Params) (*btcec.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: invalid mnemonic", domain.ErrKeyGeneration)
	}

	seed := bip39.NewSeed(mnemonic, "")
	defer zero(seed)

	key, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create master key: %v", domain.ErrKeyGeneration, err)
	}

	for _, level := range path {
		key, err = key.Derive(level)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to derive %s: %v", domain.ErrKeyGeneration, path, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to extract private key: %v", domain.ErrKeyGeneration, err)
	}
	return priv, nil
}

// NewKey generates a mnemonic and derives the key at path in one step.
func NewKey(path Path, params *chaincfg.Params) (string, *btcec.PrivateKey, error) {
	mnemonic, err := NewMnemonic()
	if err != nil {
		return "", nil, err
	}
	priv, err := DeriveKey(mnemonic, path, params)
	if err != nil {
		return "", nil, err
	}
	return mnemonic, priv, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
