package usecase

import (
	"context"
	"errors"
	"testing"

	"custody-service/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingTx(t *testing.T, h *harness) *domain.Transaction {
	t.Helper()
	h.ready(t, "u1")
	tx, err := h.txUC.Send(context.Background(), sendInput("u1", h.grant(t, "u1")))
	require.NoError(t, err)
	return tx
}

func TestRefreshStatusConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx := pendingTx(t, h)

	block := int64(100)
	used := uint64(21000)
	fee := decimal.RequireFromString("0.000441")
	h.adapter.setStatus(*tx.TxHash, &domain.TxStatusResult{
		Status:      domain.TxStatusConfirmed,
		BlockNumber: &block,
		BlockHash:   "0xblock",
		GasUsed:     &used,
		FeeUsed:     &fee,
	})

	got := h.recon.RefreshStatus(ctx, tx)
	assert.Equal(t, domain.TxStatusConfirmed, got.Status)
	assert.Equal(t, int64(21000), *got.GasUsed)
	assert.True(t, got.Fee.Equal(fee))
	require.NotNil(t, got.ConfirmedAt)
	assert.Equal(t, h.clock.Now(), *got.ConfirmedAt)
	assert.Equal(t, domain.TxStatusPending, tx.Status, "input is not mutated")

	// terminal rows are left alone and the chain is not asked again
	calls := h.adapter.statusCalls
	again := h.recon.RefreshStatus(ctx, got)
	assert.Equal(t, got, again)
	assert.Equal(t, calls, h.adapter.statusCalls)
	assert.Equal(t, 1, h.txs.updates)
}

func TestRefreshStatusStillPending(t *testing.T) {
	h := newHarness(t)
	tx := pendingTx(t, h)

	got := h.recon.RefreshStatus(context.Background(), tx)
	assert.Same(t, tx, got)
	assert.Zero(t, h.txs.updates)
}

func TestRefreshStatusAdapterErrorIsSwallowed(t *testing.T) {
	h := newHarness(t)
	tx := pendingTx(t, h)
	h.adapter.statusErr = errors.New("connection refused")

	got := h.recon.RefreshStatus(context.Background(), tx)
	assert.Same(t, tx, got)
	assert.Zero(t, h.txs.updates)
}

func TestRefreshStatusNoHash(t *testing.T) {
	h := newHarness(t)
	tx := &domain.Transaction{ID: "x", Chain: domain.ChainEthereum, Status: domain.TxStatusPending}

	got := h.recon.RefreshStatus(context.Background(), tx)
	assert.Same(t, tx, got)
	assert.Zero(t, h.adapter.statusCalls)
}

func TestRefreshPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx := pendingTx(t, h)
	second, err := h.txUC.Send(ctx, sendInput("u1", h.grant(t, "u1")))
	require.NoError(t, err)

	h.adapter.setStatus(*tx.TxHash, &domain.TxStatusResult{Status: domain.TxStatusFailed})

	n, err := h.recon.RefreshPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all := h.txs.all()
	assert.Equal(t, domain.TxStatusFailed, all[0].Status)
	assert.Nil(t, all[0].ConfirmedAt)
	assert.Equal(t, second.ID, all[1].ID)
	assert.Equal(t, domain.TxStatusPending, all[1].Status)
}
