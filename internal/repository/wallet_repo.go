// internal/repository/wallet_repo.go
package repository

import (
	"context"
	"fmt"
	"time"

	"custody-service/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type WalletRepository struct {
	pool *pgxpool.Pool
}

func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

const walletColumns = `
	id, user_id, chain, address, public_key,
	encrypted_private_key, encrypted_mnemonic, wrapped_data_key, key_version,
	balance::text, is_active, last_sync_at, created_at, updated_at`

// ============================================================================
// CORE CRUD OPERATIONS
// ============================================================================

// Create inserts a wallet. A second active wallet for the same (user, chain)
// violates the partial unique index and yields domain.ErrDuplicateWallet.
func (r *WalletRepository) Create(ctx context.Context, w *domain.Wallet) error {
	query := `
		INSERT INTO wallets (
			user_id, chain, address, public_key,
			encrypted_private_key, encrypted_mnemonic, wrapped_data_key, key_version,
			balance, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(
		ctx, query,
		w.UserID,
		w.Chain,
		w.Address,
		w.PublicKey,
		w.EncryptedPrivateKey,
		w.EncryptedMnemonic,
		w.WrappedDataKey,
		w.KeyVersion,
		w.Balance.String(),
		w.IsActive,
	).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s already has an active %s wallet", domain.ErrDuplicateWallet, w.UserID, w.Chain)
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// GetByID returns a wallet regardless of its active flag.
func (r *WalletRepository) GetByID(ctx context.Context, id int64) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if nf := notFound(err, "wallet"); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// GetActive returns the user's active wallet on chain.
func (r *WalletRepository) GetActive(ctx context.Context, userID string, chain domain.ChainID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + `
		FROM wallets
		WHERE user_id = $1 AND chain = $2 AND is_active`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, userID, chain))
	if err != nil {
		if nf := notFound(err, "wallet"); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// ListActive returns all active wallets of a user ordered by chain
func (r *WalletRepository) ListActive(ctx context.Context, userID string) ([]*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + `
		FROM wallets
		WHERE user_id = $1 AND is_active
		ORDER BY chain`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet rows: %w", err)
	}
	return wallets, nil
}

// Deactivate clears the active flag. It reports whether a row changed.
func (r *WalletRepository) Deactivate(ctx context.Context, userID string, chain domain.ChainID) (bool, error) {
	query := `
		UPDATE wallets
		SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND chain = $2 AND is_active
	`

	tag, err := r.pool.Exec(ctx, query, userID, chain)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate wallet: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ============================================================================
// BALANCE
// ============================================================================

func (r *WalletRepository) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal, syncedAt time.Time) error {
	query := `
		UPDATE wallets
		SET balance = $1, last_sync_at = $2, updated_at = NOW()
		WHERE id = $3
	`

	tag, err := r.pool.Exec(ctx, query, balance.String(), syncedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	var balanceStr string

	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Chain,
		&w.Address,
		&w.PublicKey,
		&w.EncryptedPrivateKey,
		&w.EncryptedMnemonic,
		&w.WrappedDataKey,
		&w.KeyVersion,
		&balanceStr,
		&w.IsActive,
		&w.LastSyncAt,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Balance = parseDecimal(balanceStr)
	return w, nil
}
