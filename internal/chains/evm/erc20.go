// internal/chains/evm/erc20.go
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/pkg/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ERC-20 ABI for balanceOf and transfer functions
const erc20ABI = `[
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "balance", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "_to", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

var parsedERC20 = mustParseABI(erc20ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ERC-20 ABI: %v", err))
	}
	return parsed
}

func packTransfer(to common.Address, value *big.Int) ([]byte, error) {
	data, err := parsedERC20.Pack("transfer", to, value)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer: %w", err)
	}
	return data, nil
}

// GetTokenBalance reads balanceOf on the token contract.
func (a *Adapter) GetTokenBalance(ctx context.Context, address string, asset domain.Asset) (decimal.Decimal, error) {
	if err := a.ValidateAddress(address); err != nil {
		return decimal.Zero, err
	}
	if asset.IsNative() {
		return a.GetBalance(ctx, address)
	}

	data, err := parsedERC20.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	contract := common.HexToAddress(asset.Contract)
	result, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return decimal.Zero, chains.NetworkError(a.cfg.Chain, chains.OpBalance, err)
	}

	// Empty result: address never interacted with the token
	if len(result) == 0 {
		return decimal.Zero, nil
	}

	var balance *big.Int
	if err := parsedERC20.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to unpack balance: %w", err)
	}
	return utils.FromBaseUnits(balance, asset.Decimals), nil
}

// tokenGasLimit asks the node for an estimate and falls back to the
// standard ERC-20 transfer limit.
func (a *Adapter) tokenGasLimit(ctx context.Context, from, to string, asset domain.Asset, amount decimal.Decimal) uint64 {
	value, err := utils.ToBaseUnits(amount, asset.Decimals)
	if err != nil {
		return defaultTokenGasLimit
	}
	data, err := packTransfer(common.HexToAddress(to), value)
	if err != nil {
		return defaultTokenGasLimit
	}

	fromAddr := common.HexToAddress(from)
	contract := common.HexToAddress(asset.Contract)
	gas, err := a.backend.EstimateGas(ctx, ethereum.CallMsg{From: fromAddr, To: &contract, Data: data})
	if err != nil || gas == 0 {
		a.logger.Debug("Gas estimation failed, using default",
			zap.String("token", asset.Symbol), zap.Error(err))
		return defaultTokenGasLimit
	}
	return gas
}
