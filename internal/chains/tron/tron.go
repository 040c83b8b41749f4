// internal/chains/tron/tron.go
package tron

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

	"github.com/fbsobreira/gotron-sdk/pkg/client"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	trxDecimals = 6
	symbol      = "TRX"

	// fixedFeeSun is the flat fee quoted for every transfer (0.1 TRX).
	fixedFeeSun     = 100_000
	defaultFeeLimit = 100_000_000 // 100 TRX ceiling for contract calls
)

// NodeClient is the slice of the gRPC wallet API the adapter uses.
// *client.GrpcClient satisfies it.
type NodeClient interface {
	Transfer(from, toAddress string, amount int64) (*api.TransactionExtention, error)
	TRC20Send(from, to, contract string, amount *big.Int, feeLimit int64) (*api.TransactionExtention, error)
	TRC20ContractBalance(addr, contractAddress string) (*big.Int, error)
	Broadcast(tx *core.Transaction) (*api.Return, error)
	GetTransactionInfoByID(id string) (*core.TransactionInfo, error)
	Stop()
}

var _ NodeClient = (*client.GrpcClient)(nil)

type Config struct {
	Network     string
	APIKey      string
	GRPCURL     string
	HTTPURL     string
	FeeLimitSun int64
	Timeout     time.Duration
}

// Endpoints returns the TronGrid gRPC and HTTP endpoints for a network.
func Endpoints(network string) (grpcURL, httpURL string, err error) {
	switch network {
	case "mainnet":
		return "grpc.trongrid.io:50051", "https://api.trongrid.io", nil
	case "shasta":
		return "grpc.shasta.trongrid.io:50051", "https://api.shasta.trongrid.io", nil
	case "nile":
		return "grpc.nile.trongrid.io:50051", "https://nile.trongrid.io", nil
	default:
		return "", "", fmt.Errorf("unsupported network: %s", network)
	}
}

// Adapter implements domain.ChainAdapter for Tron.
type Adapter struct {
	node   NodeClient
	http   *HTTPClient
	cfg    Config
	logger *zap.Logger
}

// Dial starts the gRPC connection and builds the adapter.
func Dial(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.GRPCURL == "" || cfg.HTTPURL == "" {
		grpcURL, httpURL, err := Endpoints(cfg.Network)
		if err != nil {
			return nil, err
		}
		if cfg.GRPCURL == "" {
			cfg.GRPCURL = grpcURL
		}
		if cfg.HTTPURL == "" {
			cfg.HTTPURL = httpURL
		}
	}

	if cfg.Network == "mainnet" {
		logger.Warn("MAINNET ACTIVE - TRANSACTIONS USE REAL TRX")
	}

	grpcClient := client.NewGrpcClient(cfg.GRPCURL)
	if cfg.APIKey != "" {
		if err := grpcClient.SetAPIKey(cfg.APIKey); err != nil {
			return nil, fmt.Errorf("failed to set TRON API key: %w", err)
		}
	}
	if cfg.Timeout > 0 {
		grpcClient.SetTimeout(cfg.Timeout)
	}
	if err := grpcClient.Start(grpc.WithTransportCredentials(insecure.NewCredentials())); err != nil {
		return nil, fmt.Errorf("failed to start TRON gRPC client: %w", err)
	}

	return New(grpcClient, NewHTTPClient(cfg.HTTPURL, cfg.APIKey, cfg.Timeout, logger), cfg, logger), nil
}

func New(node NodeClient, httpClient *HTTPClient, cfg Config, logger *zap.Logger) *Adapter {
	if cfg.FeeLimitSun <= 0 {
		cfg.FeeLimitSun = defaultFeeLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	logger.Info("TRON chain initialized",
		zap.String("network", cfg.Network),
		zap.String("grpc_url", cfg.GRPCURL),
		zap.String("http_url", cfg.HTTPURL))

	return &Adapter{
		node:   node,
		http:   httpClient,
		cfg:    cfg,
		logger: logger.With(zap.String("chain", domain.ChainTron.String())),
	}
}

// Stop gracefully stops the gRPC client
func (a *Adapter) Stop() {
	a.node.Stop()
	a.logger.Info("TRON gRPC client stopped")
}

func (a *Adapter) Chain() domain.ChainID {
	return domain.ChainTron
}

func (a *Adapter) NativeAsset() domain.Asset {
	return domain.Asset{Symbol: symbol, Decimals: trxDecimals}
}

// ValidateAddress checks prefix, length and base58check encoding.
func (a *Adapter) ValidateAddress(addr string) error {
	if !strings.HasPrefix(addr, "T") || len(addr) != 34 {
		return domain.NewValidationError("address", "invalid TRON address: must be 34 characters starting with 'T'")
	}
	if _, err := parseAddress(addr); err != nil {
		return domain.NewValidationError("address", "invalid TRON address checksum")
	}
	return nil
}

// GetBalance reads the TRX balance from TronGrid. Accounts that were never
// activated have no record and report zero.
func (a *Adapter) GetBalance(ctx context.Context, addr string) (decimal.Decimal, error) {
	if err := a.ValidateAddress(addr); err != nil {
		return decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	account, err := a.http.GetAccount(ctx, addr)
	if err != nil {
		if errors.Is(err, errAccountNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, chains.NetworkError(domain.ChainTron, chains.OpBalance, err)
	}
	return utils.FromBaseUnits(big.NewInt(account.Balance), trxDecimals), nil
}

// EstimateFee returns the flat fee. Contract calls also report the fee limit
// that will be attached to them.
func (a *Adapter) EstimateFee(ctx context.Context, req *domain.FeeRequest) (*domain.FeeEstimate, error) {
	est := &domain.FeeEstimate{
		EstimatedTotal: utils.FromBaseUnits(big.NewInt(fixedFeeSun), trxDecimals),
		Currency:       symbol,
		Fixed:          true,
	}
	if !req.Asset.IsNative() {
		est.FeeLimit = uint64(a.cfg.FeeLimitSun)
	}
	return est, nil
}

// SendTransaction builds the transfer on the node, signs it locally and
// broadcasts it.
func (a *Adapter) SendTransaction(ctx context.Context, req *domain.SendRequest) (*domain.SendResult, error) {
	if err := a.ValidateAddress(req.From); err != nil {
		return nil, err
	}
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

	if addressOf(privateKey) != req.From {
		return nil, fmt.Errorf("%w: key does not match wallet address", domain.ErrDecryption)
	}

	var txExt *api.TransactionExtention
	if req.Asset.IsNative() {
		if !value.IsInt64() {
			return nil, domain.NewValidationError("amount", "amount too large")
		}
		txExt, err = a.node.Transfer(req.From, req.To, value.Int64())
	} else {
		txExt, err = a.node.TRC20Send(req.From, req.To, req.Asset.Contract, value, a.cfg.FeeLimitSun)
	}
	if err != nil {
		return nil, chains.Classify(domain.ChainTron, chains.OpSend, err)
	}
	if txExt == nil || txExt.Transaction == nil || txExt.Transaction.RawData == nil {
		return nil, chains.SubmissionError(domain.ChainTron, errors.New("transaction creation returned empty result"))
	}
	if txExt.Result != nil && txExt.Result.Code != api.Return_SUCCESS {
		return nil, chains.Classify(domain.ChainTron, chains.OpSend, errors.New(string(txExt.Result.Message)))
	}

	signedTx, err := signTransaction(txExt.Transaction, privateKey)
	if err != nil {
		return nil, err
	}
	txHash, err := getTxHash(signedTx)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Broadcasting transaction",
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.String("asset", req.Asset.Symbol),
		zap.String("amount", req.Amount.String()),
		zap.String("tx_hash", txHash))

	result, err := a.node.Broadcast(signedTx)
	if err != nil {
		if result != nil {
			// the node answered and refused the transaction
			return nil, chains.Classify(domain.ChainTron, chains.OpSend, err)
		}
		return nil, chains.ClassifyBroadcast(domain.ChainTron, txHash, err)
	}
	if !result.Result {
		return nil, chains.Classify(domain.ChainTron, chains.OpSend, fmt.Errorf("broadcast failed: %s", string(result.Message)))
	}

	return &domain.SendResult{
		Hash: txHash,
		Fee:  utils.FromBaseUnits(big.NewInt(fixedFeeSun), trxDecimals),
	}, nil
}

// GetTransactionStatus is pending until the node returns transaction info
// for the id.
func (a *Adapter) GetTransactionStatus(ctx context.Context, hash string) (*domain.TxStatusResult, error) {
	info, err := a.node.GetTransactionInfoByID(hash)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return &domain.TxStatusResult{Status: domain.TxStatusPending}, nil
		}
		return nil, chains.NetworkError(domain.ChainTron, chains.OpStatus, err)
	}
	if info == nil || info.BlockNumber == 0 {
		return &domain.TxStatusResult{Status: domain.TxStatusPending}, nil
	}

	result := &domain.TxStatusResult{
		Status:        domain.TxStatusConfirmed,
		BlockNumber:   utils.Int64Ptr(info.BlockNumber),
		FeeUsed:       utils.DecimalPtr(utils.FromBaseUnits(big.NewInt(info.Fee), trxDecimals)),
		Confirmations: 1,
	}
	if info.Receipt != nil {
		result.GasUsed = utils.Uint64Ptr(uint64(info.Receipt.EnergyUsageTotal))
	}

	failed := info.Result == core.TransactionInfo_FAILED
	if info.Receipt != nil &&
		info.Receipt.Result != core.Transaction_Result_DEFAULT &&
		info.Receipt.Result != core.Transaction_Result_SUCCESS {
		failed = true
	}
	if failed {
		result.Status = domain.TxStatusFailed
		a.logger.Info("Transaction failed on chain",
			zap.String("tx_hash", hash),
			zap.String("message", string(info.ResMessage)))
	}
	return result, nil
}
