package chains

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"custody-service/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct{ id domain.ChainID }

func (s stubAdapter) Chain() domain.ChainID            { return s.id }
func (s stubAdapter) NativeAsset() domain.Asset         { return domain.Asset{Symbol: "X", Decimals: 18} }
func (s stubAdapter) ValidateAddress(string) error      { return nil }
func (s stubAdapter) GenerateWallet(context.Context, []byte) (*domain.GeneratedWallet, error) {
	return nil, nil
}
func (s stubAdapter) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s stubAdapter) SendTransaction(context.Context, *domain.SendRequest) (*domain.SendResult, error) {
	return nil, nil
}
func (s stubAdapter) EstimateFee(context.Context, *domain.FeeRequest) (*domain.FeeEstimate, error) {
	return nil, nil
}
func (s stubAdapter) GetTransactionStatus(context.Context, string) (*domain.TxStatusResult, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAdapter{id: domain.ChainTron})
	r.Register(stubAdapter{id: domain.ChainBitcoin})

	a, err := r.Get(domain.ChainTron)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainTron, a.Chain())

	_, err = r.Get(domain.ChainEthereum)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)

	assert.Equal(t, []domain.ChainID{domain.ChainBitcoin, domain.ChainTron}, r.List())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		op        string
		err       error
		kind      error
		retryable bool
	}{
		{"funds", OpSend, errors.New("insufficient funds for gas * price + value"), domain.ErrInsufficientFunds, false},
		{"nonce", OpSend, errors.New("nonce too low"), domain.ErrSubmission, true},
		{"underpriced", OpSend, errors.New("replacement transaction underpriced"), domain.ErrSubmission, true},
		{"network", OpBalance, errors.New("dial tcp: connection refused"), domain.ErrNetwork, false},
		{"deadline", OpStatus, fmt.Errorf("call: %w", context.DeadlineExceeded), domain.ErrNetwork, false},
		{"rejected", OpSend, errors.New("execution reverted"), domain.ErrSubmission, false},
		{"address", OpSend, errors.New("invalid address"), domain.ErrInvalidAddress, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(domain.ChainEthereum, tt.op, tt.err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.retryable, domain.IsRetryableSubmission(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	orig := InsufficientFunds(domain.ChainTron, OpSend, errors.New("low"))
	assert.Same(t, orig, Classify(domain.ChainTron, OpSend, orig))
}

func TestClassifyBroadcast(t *testing.T) {
	err := ClassifyBroadcast(domain.ChainBitcoin, "abc", errors.New("read: connection reset by peer"))
	var unknown *domain.SubmissionUnknownError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "abc", unknown.Hash)
	assert.False(t, domain.IsRetryableSubmission(err))

	err = ClassifyBroadcast(domain.ChainBitcoin, "abc", errors.New("bad-txns-inputs-missingorspent"))
	assert.ErrorIs(t, err, domain.ErrSubmission)
	assert.False(t, errors.As(err, &unknown))
}

func TestKeyedMutexSerializes(t *testing.T) {
	km := NewKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("0xabc")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, km.locks)
}
