// internal/chains/evm/evm.go
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/pkg/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	nativeDecimals       = 18
	defaultGasLimit      = 21000 // plain value transfer
	defaultTokenGasLimit = 65000 // ERC-20 transfer
)

// Config describes one EVM network.
type Config struct {
	Chain           domain.ChainID
	Symbol          string
	RPCURL          string
	ChainID         int64 // 0 means ask the node
	MaxGasPriceGwei int64
	Confirmations   int64
	Timeout         time.Duration
}

// Adapter implements domain.ChainAdapter for Ethereum-compatible chains.
type Adapter struct {
	backend     Backend
	cfg         Config
	chainID     *big.Int
	maxGasPrice *big.Int
	nonces      *nonceManager
	logger      *zap.Logger
}

// Dial connects to the configured RPC endpoint.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Chain, err)
	}

	adapter, err := New(ctx, client, cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return adapter, nil
}

func New(ctx context.Context, backend Backend, cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = 12
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chain ID: %w", err)
		}
		chainID = id
	}

	var maxGasPrice *big.Int
	if cfg.MaxGasPriceGwei > 0 {
		maxGasPrice = new(big.Int).Mul(big.NewInt(cfg.MaxGasPriceGwei), big.NewInt(1e9))
	}

	logger.Info("EVM chain initialized",
		zap.String("chain", cfg.Chain.String()),
		zap.String("chain_id", chainID.String()),
		zap.Int64("confirmations", cfg.Confirmations))

	return &Adapter{
		backend:     backend,
		cfg:         cfg,
		chainID:     chainID,
		maxGasPrice: maxGasPrice,
		nonces:      newNonceManager(),
		logger:      logger.With(zap.String("chain", cfg.Chain.String())),
	}, nil
}

func (a *Adapter) Chain() domain.ChainID {
	return a.cfg.Chain
}

func (a *Adapter) NativeAsset() domain.Asset {
	return domain.Asset{Symbol: a.cfg.Symbol, Decimals: nativeDecimals}
}

// Close releases the RPC connection.
func (a *Adapter) Close() {
	a.backend.Close()
}

// ValidateAddress accepts lowercase, uppercase or correctly checksummed hex.
func (a *Adapter) ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return domain.NewValidationError("address", fmt.Sprintf("invalid %s address format", a.cfg.Chain))
	}

	body := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	mixed := strings.ToLower(body) != body && strings.ToUpper(body) != body
	if mixed && common.HexToAddress(address).Hex() != "0x"+body {
		return domain.NewValidationError("address", "invalid address checksum")
	}
	return nil
}

// GetBalance returns the native balance
func (a *Adapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := a.ValidateAddress(address); err != nil {
		return decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	balance, err := a.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, chains.NetworkError(a.cfg.Chain, chains.OpBalance, err)
	}
	return utils.FromBaseUnits(balance, nativeDecimals), nil
}

// EstimateFee estimates transaction fee
func (a *Adapter) EstimateFee(ctx context.Context, req *domain.FeeRequest) (*domain.FeeEstimate, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	gasPrice, err := a.gasPrice(ctx, nil)
	if err != nil {
		return nil, err
	}

	gasLimit := uint64(defaultGasLimit)
	if !req.Asset.IsNative() {
		gasLimit = a.tokenGasLimit(ctx, req.From, req.To, req.Asset, req.Amount)
	}

	total := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	return &domain.FeeEstimate{
		FeeRate:        gasPrice,
		FeeLimit:       gasLimit,
		EstimatedTotal: utils.FromBaseUnits(total, nativeDecimals),
		Currency:       a.cfg.Symbol,
	}, nil
}

// SendTransaction signs and broadcasts a native or ERC-20 transfer. The
// sender's nonce lock is held from nonce selection through broadcast.
func (a *Adapter) SendTransaction(ctx context.Context, req *domain.SendRequest) (*domain.SendResult, error) {
	if err := a.ValidateAddress(req.To); err != nil {
		return nil, err
	}
	if req.Amount.Sign() <= 0 {
		return nil, domain.NewValidationError("amount", "amount must be positive")
	}
	value, err := utils.ToBaseUnits(req.Amount, req.Asset.Decimals)
	if err != nil {
		return nil, err
	}

	privateKey, err := decryptKey(req.EncryptedPrivateKey, req.EncryptionKey)
	if err != nil {
		return nil, err
	}
	defer zeroKey(privateKey)

	from := addressOf(privateKey)
	if !strings.EqualFold(from.Hex(), req.From) {
		return nil, fmt.Errorf("%w: key does not match wallet address", domain.ErrDecryption)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	unlock := a.nonces.lock(a.cfg.Chain, from)
	defer unlock()

	nonce, err := a.nonces.next(ctx, a.backend, from)
	if err != nil {
		return nil, chains.Classify(a.cfg.Chain, chains.OpSend, err)
	}

	var hintRate *big.Int
	if req.FeeHint != nil {
		hintRate = req.FeeHint.Rate
	}
	gasPrice, err := a.gasPrice(ctx, hintRate)
	if err != nil {
		return nil, err
	}

	var tx *types.Transaction
	var gasLimit uint64
	if req.Asset.IsNative() {
		gasLimit = defaultGasLimit
		if req.FeeHint != nil && req.FeeHint.Limit > 0 {
			gasLimit = req.FeeHint.Limit
		}
		tx = types.NewTransaction(nonce, common.HexToAddress(req.To), value, gasLimit, gasPrice, nil)
	} else {
		data, err := packTransfer(common.HexToAddress(req.To), value)
		if err != nil {
			return nil, err
		}
		gasLimit = a.tokenGasLimit(ctx, req.From, req.To, req.Asset, req.Amount)
		if req.FeeHint != nil && req.FeeHint.Limit > 0 {
			gasLimit = req.FeeHint.Limit
		}
		tx = types.NewTransaction(nonce, common.HexToAddress(req.Asset.Contract), big.NewInt(0), gasLimit, gasPrice, data)
	}

	signedTx, err := signTransaction(tx, privateKey, a.chainID)
	if err != nil {
		return nil, err
	}
	txHash := signedTx.Hash().Hex()

	a.logger.Info("Broadcasting transaction",
		zap.String("from", from.Hex()),
		zap.String("to", req.To),
		zap.String("asset", req.Asset.Symbol),
		zap.String("amount", req.Amount.String()),
		zap.Uint64("nonce", nonce),
		zap.String("tx_hash", txHash))

	if err := a.backend.SendTransaction(ctx, signedTx); err != nil && !isAlreadyKnown(err) {
		classified := chains.ClassifyBroadcast(a.cfg.Chain, txHash, err)
		var unknown *domain.SubmissionUnknownError
		if errors.As(classified, &unknown) || domain.IsRetryableSubmission(classified) {
			// nonce may be taken; never hand it out again
			a.nonces.mark(from, nonce)
		}
		a.logger.Warn("Broadcast failed", zap.String("tx_hash", txHash), zap.Error(classified))
		return nil, classified
	}
	a.nonces.mark(from, nonce)

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	return &domain.SendResult{
		Hash:     txHash,
		Nonce:    utils.Uint64Ptr(nonce),
		GasPrice: gasPrice,
		GasLimit: utils.Uint64Ptr(gasLimit),
		Fee:      utils.FromBaseUnits(fee, nativeDecimals),
	}, nil
}

// GetTransactionStatus reports pending until the receipt is buried under
// the configured number of confirmations.
func (a *Adapter) GetTransactionStatus(ctx context.Context, hash string) (*domain.TxStatusResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	receipt, err := a.backend.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &domain.TxStatusResult{Status: domain.TxStatusPending}, nil
		}
		return nil, chains.NetworkError(a.cfg.Chain, chains.OpStatus, err)
	}

	result := &domain.TxStatusResult{
		Status:    domain.TxStatusPending,
		BlockHash: receipt.BlockHash.Hex(),
		GasUsed:   utils.Uint64Ptr(receipt.GasUsed),
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = utils.Int64Ptr(receipt.BlockNumber.Int64())
	}
	if receipt.EffectiveGasPrice != nil {
		used := new(big.Int).Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
		result.FeeUsed = utils.DecimalPtr(utils.FromBaseUnits(used, nativeDecimals))
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		result.Status = domain.TxStatusFailed
		return result, nil
	}

	current, err := a.backend.BlockNumber(ctx)
	if err != nil {
		return nil, chains.NetworkError(a.cfg.Chain, chains.OpStatus, err)
	}
	if receipt.BlockNumber != nil && current >= receipt.BlockNumber.Uint64() {
		result.Confirmations = int64(current-receipt.BlockNumber.Uint64()) + 1
	}
	if result.Confirmations >= a.cfg.Confirmations {
		result.Status = domain.TxStatusConfirmed
	}
	return result, nil
}

// gasPrice returns the hint if given, otherwise the node suggestion capped
// at the configured maximum.
func (a *Adapter) gasPrice(ctx context.Context, hint *big.Int) (*big.Int, error) {
	if hint != nil && hint.Sign() > 0 {
		return new(big.Int).Set(hint), nil
	}

	gasPrice, err := a.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, chains.NetworkError(a.cfg.Chain, chains.OpEstimate, err)
	}
	if a.maxGasPrice != nil && gasPrice.Cmp(a.maxGasPrice) > 0 {
		a.logger.Debug("Capping gas price",
			zap.String("suggested", gasPrice.String()),
			zap.String("max", a.maxGasPrice.String()))
		gasPrice = new(big.Int).Set(a.maxGasPrice)
	}
	return gasPrice, nil
}

func isAlreadyKnown(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already known")
}
