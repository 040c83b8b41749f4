// internal/repository/transaction_repo.go
package repository

import (
	"context"
	"fmt"
	"strings"

	"custody-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

const transactionColumns = `
	id::text, user_id, wallet_id, token_id, chain, tx_hash,
	from_address, to_address, amount::text, symbol,
	fee::text, gas_price::text, gas_limit, gas_used, nonce,
	block_number, block_hash, status, is_incoming, memo,
	device_info, ip_address, location, pin_attempts, submission_note,
	created_at, updated_at, confirmed_at`

// ============================================================================
// CORE CRUD OPERATIONS
// ============================================================================

// Create persists a newly submitted transaction.
func (r *TransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, user_id, wallet_id, token_id, chain, tx_hash,
			from_address, to_address, amount, symbol,
			fee, gas_price, gas_limit, nonce,
			status, is_incoming, memo,
			device_info, ip_address, location, pin_attempts, submission_note
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17,
			$18, $19, $20, $21, $22
		)
		RETURNING created_at, updated_at
	`

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	err := r.pool.QueryRow(
		ctx, query,
		tx.ID,
		tx.UserID,
		tx.WalletID,
		tx.TokenID,
		tx.Chain,
		tx.TxHash,
		tx.FromAddress,
		tx.ToAddress,
		tx.Amount.String(),
		tx.Symbol,
		decimalArg(tx.Fee),
		decimalArg(tx.GasPrice),
		tx.GasLimit,
		tx.Nonce,
		tx.Status,
		tx.IsIncoming,
		tx.Memo,
		tx.DeviceInfo,
		tx.IPAddress,
		tx.Location,
		tx.PinAttempts,
		tx.SubmissionNote,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("transaction hash already recorded: %w", err)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetByID returns a transaction owned by userID.
func (r *TransactionRepository) GetByID(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.NewValidationError("id", "invalid transaction id")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND user_id = $2`

	tx, err := scanTransaction(r.pool.QueryRow(ctx, query, id, userID))
	if err != nil {
		if nf := notFound(err, "transaction"); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListByUser returns the user's transactions newest first, optionally
// filtered by chain.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, chain *domain.ChainID, limit, offset int) ([]*domain.Transaction, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`)
	args := []any{userID}
	if chain != nil {
		args = append(args, *chain)
		sb.WriteString(fmt.Sprintf(" AND chain = $%d", len(args)))
	}
	args = append(args, limit, offset)
	sb.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)))

	return r.query(ctx, sb.String(), args...)
}

// ListPending returns the oldest pending transactions that have a hash.
func (r *TransactionRepository) ListPending(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending' AND tx_hash IS NOT NULL
		ORDER BY created_at ASC
		LIMIT $1`

	return r.query(ctx, query, limit)
}

// ============================================================================
// STATUS UPDATES
// ============================================================================

// UpdateStatus applies a reconciliation result. The update only matches a
// pending row, so a terminal status is never overwritten; the return value
// reports whether the row changed.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id string, u *domain.StatusUpdate) (bool, error) {
	query := `
		UPDATE transactions
		SET status = $1,
			block_number = COALESCE($2, block_number),
			block_hash = COALESCE($3, block_hash),
			gas_used = COALESCE($4, gas_used),
			fee = COALESCE($5::numeric, fee),
			confirmed_at = COALESCE(confirmed_at, $6),
			updated_at = NOW()
		WHERE id = $7 AND status = 'pending'
	`

	tag, err := r.pool.Exec(
		ctx, query,
		u.Status,
		u.BlockNumber,
		u.BlockHash,
		u.GasUsed,
		decimalArg(u.Fee),
		u.ConfirmedAt,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransactionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return txs, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	tx := &domain.Transaction{}
	var amountStr string
	var feeStr, gasPriceStr *string

	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.WalletID,
		&tx.TokenID,
		&tx.Chain,
		&tx.TxHash,
		&tx.FromAddress,
		&tx.ToAddress,
		&amountStr,
		&tx.Symbol,
		&feeStr,
		&gasPriceStr,
		&tx.GasLimit,
		&tx.GasUsed,
		&tx.Nonce,
		&tx.BlockNumber,
		&tx.BlockHash,
		&tx.Status,
		&tx.IsIncoming,
		&tx.Memo,
		&tx.DeviceInfo,
		&tx.IPAddress,
		&tx.Location,
		&tx.PinAttempts,
		&tx.SubmissionNote,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&tx.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Amount = parseDecimal(amountStr)
	tx.Fee = parseDecimalPtr(feeStr)
	tx.GasPrice = parseDecimalPtr(gasPriceStr)
	return tx, nil
}
