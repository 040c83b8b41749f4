// internal/chains/bitcoin/client.go
package bitcoin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var errTxNotFound = errors.New("transaction not found")

// StatusError is a non-2xx answer from the explorer API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("explorer error (status %d): %s", e.Code, e.Body)
}

// Client talks to an Esplora-style explorer (Blockstream, mempool.space),
// with an optional Bitcoin Core JSON-RPC endpoint for fee estimation.
type Client struct {
	httpClient *http.Client
	apiURL     string
	feeURL     string
	rpcURL     string
	apiKey     string
	network    string
	logger     *zap.Logger
}

type ClientConfig struct {
	Network string
	APIURL  string // explorer base, e.g. https://blockstream.info/api
	FeeURL  string // mempool.space recommended fees endpoint
	RPCURL  string
	APIKey  string
	Timeout time.Duration
}

func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultExplorerURL(cfg.Network)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			// broadcast must not be replayed through a redirect
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		apiURL:  strings.TrimSuffix(cfg.APIURL, "/"),
		feeURL:  cfg.FeeURL,
		rpcURL:  cfg.RPCURL,
		apiKey:  cfg.APIKey,
		network: cfg.Network,
		logger:  logger,
	}
}

// DefaultExplorerURL returns the Blockstream API for a network
func DefaultExplorerURL(network string) string {
	switch network {
	case "mainnet":
		return "https://blockstream.info/api"
	default:
		return "https://blockstream.info/testnet/api"
	}
}

// DefaultFeeURL returns the mempool.space recommended-fees endpoint
func DefaultFeeURL(network string) string {
	switch network {
	case "mainnet":
		return "https://mempool.space/api/v1/fees/recommended"
	case "testnet":
		return "https://mempool.space/testnet/api/v1/fees/recommended"
	default:
		return ""
	}
}

func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetBalance returns the confirmed balance in satoshis
func (c *Client) GetBalance(ctx context.Context, address string) (int64, error) {
	var info AddressInfo
	if err := c.get(ctx, c.apiURL+"/address/"+address, &info); err != nil {
		return 0, err
	}
	return info.ChainStats.FundedTxoSum - info.ChainStats.SpentTxoSum, nil
}

// GetUTXOs gets unspent transaction outputs for address
func (c *Client) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var utxos []UTXO
	if err := c.get(ctx, c.apiURL+"/address/"+address+"/utxo", &utxos); err != nil {
		return nil, err
	}
	return utxos, nil
}

// GetTransaction gets transaction details. A 404 means the explorer has not
// seen the transaction yet.
func (c *Client) GetTransaction(ctx context.Context, txHash string) (*TransactionInfo, error) {
	var info TransactionInfo
	if err := c.get(ctx, c.apiURL+"/tx/"+txHash, &info); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, errTxNotFound
		}
		return nil, err
	}
	return &info, nil
}

// GetTipHeight returns the current block height
func (c *Client) GetTipHeight(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/blocks/tip/height", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
}

// BroadcastTransaction posts the raw hex and returns the txid the explorer reports
func (c *Client) BroadcastTransaction(ctx context.Context, rawTx string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/tx", strings.NewReader(rawTx))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("Broadcast response", zap.Int("status", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return strings.TrimSpace(string(body)), nil
}

// EstimateFeeRate returns sat/vB for a confirmation target, trying
// mempool.space, then the explorer, then Bitcoin Core, then static defaults.
func (c *Client) EstimateFeeRate(ctx context.Context, confirmationTarget int) int64 {
	if fee, err := c.estimateFeeMempool(ctx, confirmationTarget); err == nil && fee > 0 {
		return ceilRate(fee)
	}
	if fee, err := c.estimateFeeExplorer(ctx, confirmationTarget); err == nil && fee > 0 {
		return ceilRate(fee)
	}
	if c.rpcURL != "" {
		if fee, err := c.estimateFeeRPC(ctx, confirmationTarget); err == nil && fee > 0 {
			return ceilRate(fee)
		}
	}

	c.logger.Warn("Fee estimation unavailable, using defaults",
		zap.Int("target", confirmationTarget))
	return c.defaultFeeRate(confirmationTarget)
}

func ceilRate(fee float64) int64 {
	rate := int64(math.Ceil(fee))
	if rate < 1 {
		rate = 1
	}
	return rate
}

func (c *Client) estimateFeeMempool(ctx context.Context, confirmationTarget int) (float64, error) {
	if c.feeURL == "" {
		return 0, errors.New("mempool fee endpoint not configured")
	}

	var feeRates struct {
		FastestFee  float64 `json:"fastestFee"`
		HalfHourFee float64 `json:"halfHourFee"`
		HourFee     float64 `json:"hourFee"`
		EconomyFee  float64 `json:"economyFee"`
	}
	if err := c.get(ctx, c.feeURL, &feeRates); err != nil {
		return 0, err
	}

	switch {
	case confirmationTarget <= 1:
		return feeRates.FastestFee, nil
	case confirmationTarget <= 3:
		return feeRates.HalfHourFee, nil
	case confirmationTarget <= 6:
		return feeRates.HourFee, nil
	default:
		return feeRates.EconomyFee, nil
	}
}

func (c *Client) estimateFeeExplorer(ctx context.Context, confirmationTarget int) (float64, error) {
	var feeEstimates map[string]float64
	if err := c.get(ctx, c.apiURL+"/fee-estimates", &feeEstimates); err != nil {
		return 0, err
	}

	if fee, ok := feeEstimates[strconv.Itoa(confirmationTarget)]; ok {
		return fee, nil
	}
	for _, target := range []int{3, 6, 1, 2, 12} {
		if fee, ok := feeEstimates[strconv.Itoa(target)]; ok {
			return fee, nil
		}
	}
	return 0, errors.New("no fee estimates available")
}

// RPC request/response structures
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) estimateFeeRPC(ctx context.Context, confirmationTarget int) (float64, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      strconv.FormatInt(time.Now().UnixNano(), 10),
		Method:  "estimatesmartfee",
		Params:  []interface{}{confirmationTarget},
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return 0, err
	}
	if rpcResp.Error != nil {
		return 0, fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var feeResult struct {
		FeeRate float64 `json:"feerate"` // BTC/kvB
	}
	if err := json.Unmarshal(rpcResp.Result, &feeResult); err != nil {
		return 0, err
	}
	if feeResult.FeeRate <= 0 {
		return 0, errors.New("invalid fee rate")
	}
	return feeResult.FeeRate * 1e8 / 1000, nil
}

func (c *Client) defaultFeeRate(confirmationTarget int) int64 {
	defaults := map[int]int64{1: 10, 3: 5, 6: 2, 12: 1}
	if c.network == "mainnet" {
		defaults = map[int]int64{1: 50, 3: 20, 6: 10, 12: 5}
	}
	for _, target := range []int{confirmationTarget, 3, 6, 1, 12} {
		if fee, ok := defaults[target]; ok {
			return fee
		}
	}
	return 5
}

// Response structures
type AddressInfo struct {
	Address    string `json:"address"`
	ChainStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
		TxCount      int64 `json:"tx_count"`
	} `json:"chain_stats"`
}

type UTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
	Value int64 `json:"value"` // satoshis
}

type TransactionInfo struct {
	TxID   string `json:"txid"`
	Fee    int64  `json:"fee"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight int64  `json:"block_height"`
		BlockHash   string `json:"block_hash"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
}
