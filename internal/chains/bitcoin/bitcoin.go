// internal/chains/bitcoin/bitcoin.go
package bitcoin

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/pkg/utils"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	btcDecimals = 8
	symbol      = "BTC"

	defaultConfirmationTarget = 3
	// outputs we spent stay reserved until the explorer stops listing them
	spentReservation = 30 * time.Minute
)

type Config struct {
	Network       string
	Confirmations int64
	Timeout       time.Duration
}

// Adapter implements domain.ChainAdapter for Bitcoin (P2PKH).
type Adapter struct {
	client *Client
	params *chaincfg.Params
	cfg    Config
	locks  *chains.KeyedMutex
	logger *zap.Logger

	mu    sync.Mutex
	spent map[string]time.Time // "txid:vout" -> reserved at
}

func New(client *Client, cfg Config, logger *zap.Logger) (*Adapter, error) {
	params, err := NetworkParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.Network == "mainnet" {
		logger.Warn("BITCOIN MAINNET ACTIVE - TRANSACTIONS USE REAL BTC")
	}
	logger.Info("Bitcoin chain initialized", zap.String("network", cfg.Network))

	return &Adapter{
		client: client,
		params: params,
		cfg:    cfg,
		locks:  chains.NewKeyedMutex(),
		logger: logger.With(zap.String("chain", domain.ChainBitcoin.String())),
		spent:  make(map[string]time.Time),
	}, nil
}

func (a *Adapter) Chain() domain.ChainID {
	return domain.ChainBitcoin
}

func (a *Adapter) NativeAsset() domain.Asset {
	return domain.Asset{Symbol: symbol, Decimals: btcDecimals}
}

// ValidateAddress validates a Bitcoin address for the configured network
func (a *Adapter) ValidateAddress(address string) error {
	addr, err := btcutil.DecodeAddress(address, a.params)
	if err != nil || !addr.IsForNet(a.params) {
		return domain.NewValidationError("address", "invalid Bitcoin address")
	}
	return nil
}

// GetBalance returns the confirmed balance
func (a *Adapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := a.ValidateAddress(address); err != nil {
		return decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	sats, err := a.client.GetBalance(ctx, address)
	if err != nil {
		return decimal.Zero, chains.NetworkError(domain.ChainBitcoin, chains.OpBalance, err)
	}
	return utils.FromBaseUnits(big.NewInt(sats), btcDecimals), nil
}

// EstimateFee quotes a one-input, two-output spend at the current rate
func (a *Adapter) EstimateFee(ctx context.Context, req *domain.FeeRequest) (*domain.FeeEstimate, error) {
	if !req.Asset.IsNative() {
		return nil, fmt.Errorf("%w: bitcoin supports only BTC", domain.ErrUnsupportedToken)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	feeRate := a.client.EstimateFeeRate(ctx, defaultConfirmationTarget)
	size := EstimateSize(1, 2)

	return &domain.FeeEstimate{
		FeeRate:        big.NewInt(feeRate),
		FeeLimit:       uint64(size),
		EstimatedTotal: utils.FromBaseUnits(big.NewInt(feeRate*size), btcDecimals),
		Currency:       symbol,
	}, nil
}

// SendTransaction selects inputs, signs and broadcasts. Spends from one
// address are serialized so two sends never pick the same outputs.
func (a *Adapter) SendTransaction(ctx context.Context, req *domain.SendRequest) (*domain.SendResult, error) {
	if !req.Asset.IsNative() {
		return nil, fmt.Errorf("%w: bitcoin supports only BTC", domain.ErrUnsupportedToken)
	}
	if err := a.ValidateAddress(req.From); err != nil {
		return nil, err
	}
	if err := a.ValidateAddress(req.To); err != nil {
		return nil, err
	}
	if req.Amount.Sign() <= 0 {
		return nil, domain.NewValidationError("amount", "amount must be positive")
	}
	amount, err := utils.ToBaseUnits(req.Amount, btcDecimals)
	if err != nil {
		return nil, err
	}
	if !amount.IsInt64() || amount.Int64() <= DustLimit {
		return nil, domain.NewValidationError("amount", fmt.Sprintf("amount must exceed the %d sat dust limit", DustLimit))
	}
	amountSats := amount.Int64()

	privateKey, err := decryptKey(req.EncryptedPrivateKey, req.EncryptionKey)
	if err != nil {
		return nil, err
	}
	defer privateKey.Zero()

	owner, err := p2pkhAddress(privateKey.PubKey(), a.params)
	if err != nil {
		return nil, err
	}
	if owner.EncodeAddress() != req.From {
		return nil, fmt.Errorf("%w: key does not match wallet address", domain.ErrDecryption)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	unlock := a.locks.Lock(domain.ChainBitcoin.String() + ":" + req.From)
	defer unlock()

	utxos, err := a.client.GetUTXOs(ctx, req.From)
	if err != nil {
		return nil, chains.NetworkError(domain.ChainBitcoin, chains.OpSend, err)
	}
	utxos = a.unreserved(utxos)

	var feeRate int64
	if req.FeeHint != nil && req.FeeHint.Rate != nil && req.FeeHint.Rate.Sign() > 0 {
		feeRate = req.FeeHint.Rate.Int64()
	} else {
		feeRate = a.client.EstimateFeeRate(ctx, defaultConfirmationTarget)
	}

	sel, err := selectUTXOs(utxos, amountSats, feeRate)
	if err != nil {
		return nil, chains.InsufficientFunds(domain.ChainBitcoin, chains.OpSend, err)
	}

	builder, err := NewTransactionBuilder(a.params, privateKey)
	if err != nil {
		return nil, err
	}
	for _, u := range sel.inputs {
		if err := builder.AddInput(u); err != nil {
			return nil, err
		}
	}
	if err := builder.AddOutput(req.To, amountSats); err != nil {
		return nil, err
	}
	if sel.change > 0 {
		if err := builder.AddOutput(req.From, sel.change); err != nil {
			return nil, err
		}
	}
	if err := builder.Sign(); err != nil {
		return nil, err
	}
	rawTx, err := builder.Serialize()
	if err != nil {
		return nil, err
	}
	txHash := builder.TxHash()

	a.logger.Info("Broadcasting transaction",
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.Int64("amount_sats", amountSats),
		zap.Int64("fee_sats", sel.fee),
		zap.Int64("change_sats", sel.change),
		zap.Int("inputs", len(sel.inputs)),
		zap.String("tx_hash", txHash))

	if _, err := a.client.BroadcastTransaction(ctx, rawTx); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			// explorer relayed a node rejection
			return nil, chains.Classify(domain.ChainBitcoin, chains.OpSend, err)
		}
		a.reserve(sel.inputs)
		return nil, &domain.SubmissionUnknownError{Chain: domain.ChainBitcoin, Hash: txHash, Err: err}
	}
	a.reserve(sel.inputs)

	return &domain.SendResult{
		Hash:     txHash,
		GasPrice: big.NewInt(feeRate),
		Fee:      utils.FromBaseUnits(big.NewInt(sel.fee), btcDecimals),
	}, nil
}

// GetTransactionStatus: unknown to the explorer means pending
func (a *Adapter) GetTransactionStatus(ctx context.Context, hash string) (*domain.TxStatusResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	info, err := a.client.GetTransaction(ctx, hash)
	if err != nil {
		if errors.Is(err, errTxNotFound) {
			return &domain.TxStatusResult{Status: domain.TxStatusPending}, nil
		}
		return nil, chains.NetworkError(domain.ChainBitcoin, chains.OpStatus, err)
	}

	result := &domain.TxStatusResult{
		Status:  domain.TxStatusPending,
		FeeUsed: utils.DecimalPtr(utils.FromBaseUnits(big.NewInt(info.Fee), btcDecimals)),
	}
	if !info.Status.Confirmed {
		return result, nil
	}

	result.BlockNumber = utils.Int64Ptr(info.Status.BlockHeight)
	result.BlockHash = info.Status.BlockHash
	result.Confirmations = 1
	if a.cfg.Confirmations > 1 {
		tip, err := a.client.GetTipHeight(ctx)
		if err != nil {
			return nil, chains.NetworkError(domain.ChainBitcoin, chains.OpStatus, err)
		}
		result.Confirmations = tip - info.Status.BlockHeight + 1
	}
	if result.Confirmations >= a.cfg.Confirmations {
		result.Status = domain.TxStatusConfirmed
	}
	return result, nil
}

func outpoint(u UTXO) string {
	return fmt.Sprintf("%s:%d", u.TxID, u.Vout)
}

func (a *Adapter) reserve(inputs []UTXO) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for _, u := range inputs {
		a.spent[outpoint(u)] = now
	}
}

// unreserved drops outputs this process already spent and expires old
// reservations.
func (a *Adapter) unreserved(utxos []UTXO) []UTXO {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	for k, at := range a.spent {
		if now.Sub(at) > spentReservation {
			delete(a.spent, k)
		}
	}

	out := utxos[:0:0]
	for _, u := range utxos {
		if _, ok := a.spent[outpoint(u)]; !ok {
			out = append(out, u)
		}
	}
	return out
}
