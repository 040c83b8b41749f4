// internal/usecase/wallet_usecase.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/security"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletUsecase owns the wallet lifecycle and is the only path that
// creates or unlocks key material.
type WalletUsecase struct {
	wallets WalletStore
	tokens  TokenStore
	chains  AdapterRegistry
	keys    KeyWrapper
	logger  *zap.Logger
	now     func() time.Time
}

func NewWalletUsecase(
	wallets WalletStore,
	tokens TokenStore,
	chains AdapterRegistry,
	keys KeyWrapper,
	logger *zap.Logger,
) *WalletUsecase {
	return &WalletUsecase{
		wallets: wallets,
		tokens:  tokens,
		chains:  chains,
		keys:    keys,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateWallet generates and stores a wallet for (user, chain).
func (uc *WalletUsecase) CreateWallet(ctx context.Context, userID string, chain domain.ChainID) (*domain.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.NewValidationError("user_id", "user id is required")
	}

	adapter, err := uc.chains.Get(chain)
	if err != nil {
		return nil, err
	}

	existing, err := uc.wallets.GetActive(ctx, userID, chain)
	if err == nil && existing != nil {
		return nil, fmt.Errorf("%w: user already has an active %s wallet", domain.ErrDuplicateWallet, chain)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing wallet: %w", err)
	}

	uc.logger.Info("Creating wallet",
		zap.String("user_id", userID),
		zap.String("chain", chain.String()))

	dataKey, err := security.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer security.Zero(dataKey)

	generated, err := adapter.GenerateWallet(ctx, dataKey)
	if err != nil {
		return nil, err
	}
	if err := adapter.ValidateAddress(generated.Address); err != nil {
		return nil, fmt.Errorf("%w: generated address failed validation: %v", domain.ErrKeyGeneration, err)
	}

	wrapped, version, err := uc.keys.Wrap(dataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap wallet key: %w", err)
	}

	wallet := &domain.Wallet{
		UserID:              userID,
		Chain:               chain,
		Address:             generated.Address,
		PublicKey:           generated.PublicKey,
		EncryptedPrivateKey: generated.EncryptedPrivateKey,
		WrappedDataKey:      wrapped,
		KeyVersion:          version,
		Balance:             decimal.Zero,
		IsActive:            true,
	}
	if generated.EncryptedMnemonic != "" {
		wallet.EncryptedMnemonic = &generated.EncryptedMnemonic
	}

	if err := uc.wallets.Create(ctx, wallet); err != nil {
		return nil, err
	}

	uc.logger.Info("Wallet created",
		zap.Int64("wallet_id", wallet.ID),
		zap.String("chain", chain.String()),
		zap.String("address", wallet.Address))

	return wallet, nil
}

func (uc *WalletUsecase) GetWallet(ctx context.Context, userID string, chain domain.ChainID) (*domain.Wallet, error) {
	return uc.wallets.GetActive(ctx, userID, chain)
}

func (uc *WalletUsecase) ListWallets(ctx context.Context, userID string) ([]*domain.Wallet, error) {
	return uc.wallets.ListActive(ctx, userID)
}

// DeactivateWallet soft-deletes the active wallet. Deactivating a wallet
// that is already inactive or missing is not an error.
func (uc *WalletUsecase) DeactivateWallet(ctx context.Context, userID string, chain domain.ChainID) error {
	changed, err := uc.wallets.Deactivate(ctx, userID, chain)
	if err != nil {
		return err
	}
	if changed {
		uc.logger.Info("Wallet deactivated",
			zap.String("user_id", userID),
			zap.String("chain", chain.String()))
	}
	return nil
}

// RefreshBalance re-reads the native balance. On failure the wallet is
// returned unchanged together with the error so callers can show the
// cached value.
func (uc *WalletUsecase) RefreshBalance(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error) {
	adapter, err := uc.chains.Get(wallet.Chain)
	if err != nil {
		return wallet, err
	}

	balance, err := adapter.GetBalance(ctx, wallet.Address)
	if err != nil {
		uc.logger.Warn("Balance refresh failed",
			zap.Int64("wallet_id", wallet.ID),
			zap.String("chain", wallet.Chain.String()),
			zap.Error(err))
		return wallet, err
	}

	syncedAt := uc.now().UTC()
	if err := uc.wallets.UpdateBalance(ctx, wallet.ID, balance, syncedAt); err != nil {
		return wallet, err
	}

	updated := *wallet
	updated.Balance = balance
	updated.LastSyncAt = &syncedAt
	return &updated, nil
}

// ExportWallets lists public wallet data only.
func (uc *WalletUsecase) ExportWallets(ctx context.Context, userID string) ([]domain.WalletExport, error) {
	wallets, err := uc.wallets.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.WalletExport, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, domain.WalletExport{
			Chain:     w.Chain,
			Address:   w.Address,
			PublicKey: w.PublicKey,
			CreatedAt: w.CreatedAt,
		})
	}
	return out, nil
}

// GetTokenBalance reads a catalog token balance for the user's wallet.
func (uc *WalletUsecase) GetTokenBalance(ctx context.Context, userID string, chain domain.ChainID, symbol string) (decimal.Decimal, error) {
	wallet, err := uc.wallets.GetActive(ctx, userID, chain)
	if err != nil {
		return decimal.Zero, err
	}
	adapter, err := uc.chains.Get(chain)
	if err != nil {
		return decimal.Zero, err
	}

	asset, _, err := resolveAsset(ctx, uc.tokens, adapter, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if asset.IsNative() {
		return adapter.GetBalance(ctx, wallet.Address)
	}

	reader, ok := adapter.(domain.TokenBalanceReader)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s has no token support", domain.ErrUnsupportedToken, chain)
	}
	return reader.GetTokenBalance(ctx, wallet.Address, asset)
}

// NativeSymbol returns the chain's coin symbol, or "" for unknown chains.
func (uc *WalletUsecase) NativeSymbol(chain domain.ChainID) string {
	adapter, err := uc.chains.Get(chain)
	if err != nil {
		return ""
	}
	return adapter.NativeAsset().Symbol
}

// unlockKey unwraps the wallet's data key. Callers must zero it.
func (uc *WalletUsecase) unlockKey(wallet *domain.Wallet) ([]byte, error) {
	dataKey, err := uc.keys.Unwrap(wallet.WrappedDataKey, wallet.KeyVersion)
	if err != nil {
		uc.logger.Error("Wallet key unwrap failed",
			zap.Int64("wallet_id", wallet.ID),
			zap.String("key_version", wallet.KeyVersion),
			zap.Error(err))
		return nil, err
	}
	return dataKey, nil
}

// resolveAsset maps a symbol to the asset to move. An empty symbol or the
// native symbol means the chain's coin; anything else must be an active
// catalog token on the chain.
func resolveAsset(ctx context.Context, tokens TokenStore, adapter domain.ChainAdapter, symbol string) (domain.Asset, *domain.Token, error) {
	native := adapter.NativeAsset()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || symbol == native.Symbol {
		return native, nil, nil
	}

	token, err := tokens.GetBySymbol(ctx, adapter.Chain(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Asset{}, nil, fmt.Errorf("%w: %s on %s", domain.ErrUnsupportedToken, symbol, adapter.Chain())
		}
		return domain.Asset{}, nil, err
	}
	if !token.IsActive {
		return domain.Asset{}, nil, fmt.Errorf("%w: %s on %s is inactive", domain.ErrUnsupportedToken, symbol, adapter.Chain())
	}
	if token.IsNative {
		return native, token, nil
	}
	if token.ContractAddress == nil || *token.ContractAddress == "" {
		return domain.Asset{}, nil, fmt.Errorf("%w: %s has no contract address", domain.ErrUnsupportedToken, symbol)
	}
	return token.Asset(), token, nil
}
