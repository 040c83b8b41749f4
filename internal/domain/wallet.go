// internal/domain/wallet.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a user's custodial wallet on one chain
type Wallet struct {
	ID      int64
	UserID  string
	Chain   ChainID
	Address string

	// Credentials
	PublicKey           string
	EncryptedPrivateKey string
	EncryptedMnemonic   *string
	WrappedDataKey      string // per-wallet key sealed under the master key
	KeyVersion          string

	// Balance (cached)
	Balance    decimal.Decimal
	LastSyncAt *time.Time

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletView is the caller-facing projection; it never carries key material.
type WalletView struct {
	ID         int64      `json:"id"`
	Chain      ChainID    `json:"chain"`
	Address    string     `json:"address"`
	PublicKey  string     `json:"public_key"`
	Balance    string     `json:"balance"`
	Symbol     string     `json:"symbol"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// WalletExport lists public wallet data for backup screens.
type WalletExport struct {
	Chain     ChainID   `json:"chain"`
	Address   string    `json:"address"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

func (w *Wallet) View(symbol string) WalletView {
	return WalletView{
		ID:         w.ID,
		Chain:      w.Chain,
		Address:    w.Address,
		PublicKey:  w.PublicKey,
		Balance:    w.Balance.String(),
		Symbol:     symbol,
		IsActive:   w.IsActive,
		CreatedAt:  w.CreatedAt,
		LastSyncAt: w.LastSyncAt,
	}
}
