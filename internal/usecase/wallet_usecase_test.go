package usecase

import (
	"context"
	"errors"
	"testing"

	"custody-service/internal/domain"
	"custody-service/internal/security"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w, err := h.walletUC.CreateWallet(ctx, "u1", domain.ChainEthereum)
	require.NoError(t, err)
	assert.True(t, w.IsActive)
	assert.NotEmpty(t, w.WrappedDataKey)
	assert.Equal(t, "v1", w.KeyVersion)
	require.NotNil(t, w.EncryptedMnemonic)

	// the wrapped key opens the stored private key and mnemonic
	dataKey, err := h.walletUC.unlockKey(w)
	require.NoError(t, err)
	defer security.Zero(dataKey)
	_, err = security.Decrypt(w.EncryptedPrivateKey, dataKey)
	require.NoError(t, err)
	_, err = security.Decrypt(*w.EncryptedMnemonic, dataKey)
	require.NoError(t, err)

	_, err = h.walletUC.CreateWallet(ctx, "u1", domain.ChainEthereum)
	assert.ErrorIs(t, err, domain.ErrDuplicateWallet)

	_, err = h.walletUC.CreateWallet(ctx, "u1", domain.ChainBitcoin)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)

	_, err = h.walletUC.CreateWallet(ctx, " ", domain.ChainEthereum)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDeactivateWalletIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.walletUC.CreateWallet(ctx, "u1", domain.ChainEthereum)
	require.NoError(t, err)

	require.NoError(t, h.walletUC.DeactivateWallet(ctx, "u1", domain.ChainEthereum))
	require.NoError(t, h.walletUC.DeactivateWallet(ctx, "u1", domain.ChainEthereum))

	_, err = h.walletUC.GetWallet(ctx, "u1", domain.ChainEthereum)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// the old row stays for history and a new wallet can be created
	old, err := h.wallets.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	second, err := h.walletUC.CreateWallet(ctx, "u1", domain.ChainEthereum)
	require.NoError(t, err)
	assert.NotEqual(t, first.Address, second.Address)
}

func TestRefreshBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := h.walletUC.CreateWallet(ctx, "u1", domain.ChainEthereum)
	require.NoError(t, err)

	h.adapter.balance = decimal.RequireFromString("1.25")
	updated, err := h.walletUC.RefreshBalance(ctx, w)
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(decimal.RequireFromString("1.25")))
	require.NotNil(t, updated.LastSyncAt)

	h.adapter.balanceErr = &domain.ChainError{Kind: domain.ErrNetwork, Chain: domain.ChainEthereum, Op: "get_balance", Err: errors.New("connection refused")}
	stale, err := h.walletUC.RefreshBalance(ctx, updated)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.True(t, stale.Balance.Equal(decimal.RequireFromString("1.25")))

	stored, err := h.wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, stored.Balance.Equal(decimal.RequireFromString("1.25")))
}

func TestExportWalletsHasNoKeyMaterial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := h.walletUC.CreateWallet(ctx, "u1", domain.ChainEthereum)
	require.NoError(t, err)

	out, err := h.walletUC.ExportWallets(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.WalletExport{
		Chain:     domain.ChainEthereum,
		Address:   w.Address,
		PublicKey: w.PublicKey,
		CreatedAt: w.CreatedAt,
	}, out[0])
}

func TestGetTokenBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.walletUC.CreateWallet(ctx, "u1", domain.ChainEthereum)
	require.NoError(t, err)

	h.adapter.tokenBal = decimal.RequireFromString("12.5")
	bal, err := h.walletUC.GetTokenBalance(ctx, "u1", domain.ChainEthereum, "usdt")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, int32(6), h.adapter.lastAsset.Decimals)

	_, err = h.walletUC.GetTokenBalance(ctx, "u1", domain.ChainEthereum, "OLD")
	assert.ErrorIs(t, err, domain.ErrUnsupportedToken)
	_, err = h.walletUC.GetTokenBalance(ctx, "u1", domain.ChainEthereum, "DOGE")
	assert.ErrorIs(t, err, domain.ErrUnsupportedToken)
}
