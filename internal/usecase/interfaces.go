// internal/usecase/interfaces.go
package usecase

import (
	"context"
	"time"

	"custody-service/internal/domain"

	"github.com/shopspring/decimal"
)

// Stores are satisfied by the pgx repositories.

type WalletStore interface {
	Create(ctx context.Context, w *domain.Wallet) error
	GetByID(ctx context.Context, id int64) (*domain.Wallet, error)
	GetActive(ctx context.Context, userID string, chain domain.ChainID) (*domain.Wallet, error)
	ListActive(ctx context.Context, userID string) ([]*domain.Wallet, error)
	Deactivate(ctx context.Context, userID string, chain domain.ChainID) (bool, error)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal, syncedAt time.Time) error
}

type TransactionStore interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, userID, id string) (*domain.Transaction, error)
	ListByUser(ctx context.Context, userID string, chain *domain.ChainID, limit, offset int) ([]*domain.Transaction, error)
	ListPending(ctx context.Context, limit int) ([]*domain.Transaction, error)
	UpdateStatus(ctx context.Context, id string, u *domain.StatusUpdate) (bool, error)
}

// PinStore.Mutate must run fn under a per-user lock and persist the state
// even when fn returns an error. Mutate returns *domain.PinNotSetError for
// an unknown user; only Upsert creates the user row.
type PinStore interface {
	Get(ctx context.Context, userID string) (*domain.PinState, error)
	Mutate(ctx context.Context, userID string, fn func(s *domain.PinState) error) error
	Upsert(ctx context.Context, userID string, fn func(s *domain.PinState) error) error
}

type TokenStore interface {
	GetBySymbol(ctx context.Context, chain domain.ChainID, symbol string) (*domain.Token, error)
	ListByChain(ctx context.Context, chain domain.ChainID) ([]*domain.Token, error)
}

type AdapterRegistry interface {
	Get(chain domain.ChainID) (domain.ChainAdapter, error)
}

// KeyWrapper seals per-wallet data keys under the master key.
type KeyWrapper interface {
	Wrap(dataKey []byte) (wrapped, version string, err error)
	Unwrap(wrapped, version string) ([]byte, error)
}

type PinHasher interface {
	Hash(pin string) (string, error)
	Compare(hash, pin string) (bool, error)
}
