// internal/domain/chain.go
package domain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ChainID identifies a supported blockchain network.
type ChainID string

const (
	ChainEthereum ChainID = "ethereum"
	ChainBSC      ChainID = "bsc"
	ChainPolygon  ChainID = "polygon"
	ChainTron     ChainID = "tron"
	ChainBitcoin  ChainID = "bitcoin"
)

// ChainModel is the transaction model a chain follows.
type ChainModel string

const (
	ChainModelAccount ChainModel = "account"
	ChainModelUTXO    ChainModel = "utxo"
)

var SupportedChains = []ChainID{
	ChainEthereum,
	ChainBSC,
	ChainPolygon,
	ChainTron,
	ChainBitcoin,
}

// ParseChain normalizes a chain identifier coming from a caller.
func ParseChain(s string) (ChainID, error) {
	id := ChainID(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range SupportedChains {
		if c == id {
			return id, nil
		}
	}
	return "", NewValidationError("chain", fmt.Sprintf("unsupported chain %q", s))
}

func (c ChainID) String() string {
	return string(c)
}

func (c ChainID) Model() ChainModel {
	if c == ChainBitcoin {
		return ChainModelUTXO
	}
	return ChainModelAccount
}

// IsEVM reports whether the chain is served by the EVM adapter.
func (c ChainID) IsEVM() bool {
	switch c {
	case ChainEthereum, ChainBSC, ChainPolygon:
		return true
	}
	return false
}

// Asset is the unit moved by a transfer: the native coin or a token contract.
type Asset struct {
	Symbol   string
	Contract string // empty for the native coin
	Decimals int32
}

func (a Asset) IsNative() bool {
	return a.Contract == ""
}

// GeneratedWallet is the output of key generation. Key material is
// already sealed under the per-wallet encryption key.
type GeneratedWallet struct {
	Address             string
	PublicKey           string
	EncryptedPrivateKey string
	EncryptedMnemonic   string
}

// FeeHint overrides network fee discovery. Rate is expressed in base
// units per gas (EVM), per vbyte (Bitcoin) or as the fee limit in sun (Tron).
type FeeHint struct {
	Rate  *big.Int
	Limit uint64
}

type FeeRequest struct {
	From   string
	To     string
	Amount decimal.Decimal
	Asset  Asset
}

// FeeEstimate is denominated in the chain's native coin.
type FeeEstimate struct {
	FeeRate        *big.Int
	FeeLimit       uint64
	EstimatedTotal decimal.Decimal
	Currency       string
	Fixed          bool
}

type SendRequest struct {
	From                string
	To                  string
	Amount              decimal.Decimal
	Asset               Asset
	EncryptedPrivateKey string
	EncryptionKey       []byte
	FeeHint             *FeeHint
}

type SendResult struct {
	Hash     string
	Nonce    *uint64
	GasPrice *big.Int
	GasLimit *uint64
	Fee      decimal.Decimal
}

type TxStatusResult struct {
	Status        TxStatus
	BlockNumber   *int64
	BlockHash     string
	GasUsed       *uint64
	FeeUsed       *decimal.Decimal
	Confirmations int64
}

// ChainAdapter presents one contract over account-nonce, fixed-fee and
// UTXO chains. Implementations classify every failure into the error
// taxonomy in errors.go.
type ChainAdapter interface {
	Chain() ChainID
	NativeAsset() Asset
	ValidateAddress(address string) error
	GenerateWallet(ctx context.Context, encryptionKey []byte) (*GeneratedWallet, error)
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	SendTransaction(ctx context.Context, req *SendRequest) (*SendResult, error)
	EstimateFee(ctx context.Context, req *FeeRequest) (*FeeEstimate, error)
	GetTransactionStatus(ctx context.Context, hash string) (*TxStatusResult, error)
}

// TokenBalanceReader is implemented by adapters with token support.
type TokenBalanceReader interface {
	GetTokenBalance(ctx context.Context, address string, asset Asset) (decimal.Decimal, error)
}
