// internal/usecase/transaction_usecase.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/security"
	"custody-service/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// a listing refreshes at most this many pending rows, within one deadline
	maxListRefresh    = 20
	listRefreshBudget = 10 * time.Second
)

// SendInput is an authorized transfer request.
type SendInput struct {
	UserID      string
	Chain       domain.ChainID
	To          string
	Amount      decimal.Decimal
	TokenSymbol string
	FeeHint     *domain.FeeHint
	Memo        string
	GrantToken  string
	Context     domain.FraudContext
}

// TransactionUsecase orchestrates authorized transfers.
type TransactionUsecase struct {
	txs        TransactionStore
	tokens     TokenStore
	chains     AdapterRegistry
	wallets    *WalletUsecase
	pins       *PinUsecase
	reconciler *Reconciler
	logger     *zap.Logger
}

func NewTransactionUsecase(
	txs TransactionStore,
	tokens TokenStore,
	chains AdapterRegistry,
	wallets *WalletUsecase,
	pins *PinUsecase,
	reconciler *Reconciler,
	logger *zap.Logger,
) *TransactionUsecase {
	return &TransactionUsecase{
		txs:        txs,
		tokens:     tokens,
		chains:     chains,
		wallets:    wallets,
		pins:       pins,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Send submits a transfer. Input is validated first, then the grant is
// redeemed, and only then is the wallet key unlocked. A row is written
// only when the transaction reached the network or may have.
func (uc *TransactionUsecase) Send(ctx context.Context, in *SendInput) (*domain.Transaction, error) {
	adapter, err := uc.chains.Get(in.Chain)
	if err != nil {
		return nil, err
	}
	to := strings.TrimSpace(in.To)
	if to == "" {
		return nil, domain.NewValidationError("to", "destination address is required")
	}
	if err := adapter.ValidateAddress(to); err != nil {
		return nil, err
	}
	if in.Amount.Sign() <= 0 {
		return nil, domain.NewValidationError("amount", "amount must be positive")
	}

	grant, err := uc.pins.ConsumeGrant(ctx, in.GrantToken, in.UserID)
	if err != nil {
		return nil, err
	}

	wallet, err := uc.wallets.GetWallet(ctx, in.UserID, in.Chain)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(wallet.Address, to) {
		return nil, domain.NewValidationError("to", "cannot send to the source wallet")
	}

	asset, token, err := resolveAsset(ctx, uc.tokens, adapter, in.TokenSymbol)
	if err != nil {
		return nil, err
	}
	if _, err := utils.ToBaseUnits(in.Amount, asset.Decimals); err != nil {
		return nil, err
	}

	dataKey, err := uc.wallets.unlockKey(wallet)
	if err != nil {
		return nil, err
	}
	defer security.Zero(dataKey)

	req := &domain.SendRequest{
		From:                wallet.Address,
		To:                  to,
		Amount:              in.Amount,
		Asset:               asset,
		EncryptedPrivateKey: wallet.EncryptedPrivateKey,
		EncryptionKey:       dataKey,
		FeeHint:             in.FeeHint,
	}

	log := uc.logger.With(
		zap.String("user_id", in.UserID),
		zap.Int64("wallet_id", wallet.ID),
		zap.String("chain", in.Chain.String()),
		zap.String("to", to),
		zap.String("amount", in.Amount.String()),
		zap.String("symbol", asset.Symbol))

	result, err := adapter.SendTransaction(ctx, req)
	if err != nil && domain.IsRetryableSubmission(err) {
		log.Warn("Submission rejected, retrying once", zap.Error(err))
		result, err = adapter.SendTransaction(ctx, req)
	}

	tx := &domain.Transaction{
		UserID:       in.UserID,
		WalletID:     wallet.ID,
		Chain:        in.Chain,
		FromAddress:  wallet.Address,
		ToAddress:    to,
		Amount:       in.Amount,
		Symbol:       asset.Symbol,
		Status:       domain.TxStatusPending,
		FraudContext: in.Context,
		PinAttempts:  grant.PinAttempts,
	}
	if token != nil {
		tx.TokenID = &token.ID
	}
	if in.Memo != "" {
		tx.Memo = utils.StringPtr(in.Memo)
	}

	if err != nil {
		var unknown *domain.SubmissionUnknownError
		if !errors.As(err, &unknown) {
			log.Warn("Transfer rejected", zap.Error(err))
			return nil, err
		}
		if unknown.Hash != "" {
			tx.TxHash = utils.StringPtr(unknown.Hash)
		}
		note := "submission outcome unknown"
		if unknown.Err != nil {
			note += ": " + unknown.Err.Error()
		}
		tx.SubmissionNote = utils.StringPtr(note)
		log.Warn("Submission outcome unknown, recording as pending",
			zap.String("tx_hash", unknown.Hash),
			zap.Error(unknown.Err))
	} else {
		applyResult(tx, result)
	}

	// the transfer may be on chain, so the row is written even if the caller went away
	if err := uc.txs.Create(context.WithoutCancel(ctx), tx); err != nil {
		log.Error("Failed to record submitted transaction",
			zap.Stringp("tx_hash", tx.TxHash),
			zap.Error(err))
		return nil, fmt.Errorf("transaction submitted but not recorded: %w", err)
	}

	log.Info("Transaction submitted",
		zap.String("tx_id", tx.ID),
		zap.Stringp("tx_hash", tx.TxHash))

	return tx, nil
}

func applyResult(tx *domain.Transaction, result *domain.SendResult) {
	tx.TxHash = utils.StringPtr(result.Hash)
	tx.Fee = utils.DecimalPtr(result.Fee)
	if result.GasPrice != nil {
		tx.GasPrice = utils.DecimalPtr(decimal.NewFromBigInt(result.GasPrice, 0))
	}
	if result.GasLimit != nil {
		tx.GasLimit = utils.Int64Ptr(int64(*result.GasLimit))
	}
	if result.Nonce != nil {
		tx.Nonce = utils.Int64Ptr(int64(*result.Nonce))
	}
}

// EstimateFee quotes a transfer from the user's wallet. It has no side effects.
func (uc *TransactionUsecase) EstimateFee(ctx context.Context, userID string, chain domain.ChainID, to string, amount decimal.Decimal, tokenSymbol string) (*domain.FeeEstimate, error) {
	adapter, err := uc.chains.Get(chain)
	if err != nil {
		return nil, err
	}
	if to != "" {
		if err := adapter.ValidateAddress(to); err != nil {
			return nil, err
		}
	}

	wallet, err := uc.wallets.GetWallet(ctx, userID, chain)
	if err != nil {
		return nil, err
	}
	asset, _, err := resolveAsset(ctx, uc.tokens, adapter, tokenSymbol)
	if err != nil {
		return nil, err
	}

	return adapter.EstimateFee(ctx, &domain.FeeRequest{
		From:   wallet.Address,
		To:     to,
		Amount: amount,
		Asset:  asset,
	})
}

// GetTransaction returns one of the user's transactions, refreshed if pending.
func (uc *TransactionUsecase) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	tx, err := uc.txs.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return uc.reconciler.RefreshStatus(ctx, tx), nil
}

// ListTransactions pages through the user's transactions, newest first.
func (uc *TransactionUsecase) ListTransactions(ctx context.Context, userID string, chain *domain.ChainID, limit, offset int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	txs, err := uc.txs.ListByUser(ctx, userID, chain, limit, offset)
	if err != nil {
		return nil, err
	}

	refreshCtx, cancel := context.WithTimeout(ctx, listRefreshBudget)
	defer cancel()

	refreshed := 0
	for i, tx := range txs {
		if refreshed >= maxListRefresh || refreshCtx.Err() != nil {
			break
		}
		if tx.Status.IsTerminal() || tx.TxHash == nil {
			continue
		}
		txs[i] = uc.reconciler.RefreshStatus(refreshCtx, tx)
		refreshed++
	}
	return txs, nil
}
