// internal/usecase/reconciler.go
package usecase

import (
	"context"
	"time"

	"custody-service/internal/domain"

	"go.uber.org/zap"
)

// Reconciler refreshes pending transactions from the chain. Refresh is
// best-effort and never fails a read path.
type Reconciler struct {
	txs    TransactionStore
	chains AdapterRegistry
	logger *zap.Logger
	now    func() time.Time
}

func NewReconciler(txs TransactionStore, chains AdapterRegistry, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		txs:    txs,
		chains: chains,
		logger: logger,
		now:    time.Now,
	}
}

// RefreshStatus returns tx updated from the chain, or tx itself when it is
// terminal, has no hash yet, is still pending, or the lookup failed.
func (r *Reconciler) RefreshStatus(ctx context.Context, tx *domain.Transaction) *domain.Transaction {
	if tx.Status.IsTerminal() || tx.TxHash == nil || *tx.TxHash == "" {
		return tx
	}

	log := r.logger.With(
		zap.String("tx_id", tx.ID),
		zap.String("chain", tx.Chain.String()),
		zap.String("tx_hash", *tx.TxHash))

	adapter, err := r.chains.Get(tx.Chain)
	if err != nil {
		log.Warn("No adapter for pending transaction", zap.Error(err))
		return tx
	}

	res, err := adapter.GetTransactionStatus(ctx, *tx.TxHash)
	if err != nil {
		log.Warn("Status refresh failed", zap.Error(err))
		return tx
	}
	if !tx.Status.CanTransitionTo(res.Status) {
		return tx
	}

	update := &domain.StatusUpdate{
		Status:      res.Status,
		BlockNumber: res.BlockNumber,
		Fee:         res.FeeUsed,
	}
	if res.BlockHash != "" {
		hash := res.BlockHash
		update.BlockHash = &hash
	}
	if res.GasUsed != nil {
		used := int64(*res.GasUsed)
		update.GasUsed = &used
	}
	if res.Status == domain.TxStatusConfirmed {
		now := r.now().UTC()
		update.ConfirmedAt = &now
	}

	changed, err := r.txs.UpdateStatus(ctx, tx.ID, update)
	if err != nil {
		log.Warn("Status update failed", zap.Error(err))
		return tx
	}
	if !changed {
		// finalized concurrently; return the stored row
		if stored, err := r.txs.GetByID(ctx, tx.UserID, tx.ID); err == nil {
			return stored
		}
		return tx
	}

	log.Info("Transaction finalized", zap.String("status", string(res.Status)))

	updated := *tx
	updated.Status = update.Status
	if update.BlockNumber != nil {
		updated.BlockNumber = update.BlockNumber
	}
	if update.BlockHash != nil {
		updated.BlockHash = update.BlockHash
	}
	if update.GasUsed != nil {
		updated.GasUsed = update.GasUsed
	}
	if update.Fee != nil {
		updated.Fee = update.Fee
	}
	if update.ConfirmedAt != nil {
		updated.ConfirmedAt = update.ConfirmedAt
	}
	return &updated
}

// RefreshPending reconciles up to limit pending transactions and returns
// how many reached a terminal status.
func (r *Reconciler) RefreshPending(ctx context.Context, limit int) (int, error) {
	pending, err := r.txs.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, tx := range pending {
		if ctx.Err() != nil {
			return finalized, ctx.Err()
		}
		if r.RefreshStatus(ctx, tx).Status.IsTerminal() {
			finalized++
		}
	}
	return finalized, nil
}
