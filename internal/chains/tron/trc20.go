// internal/chains/tron/trc20.go
package tron

import (
	"context"

	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Well-known USDT contracts
const (
	USDTContractMainnet = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	USDTContractShasta  = "TG3XXyExBkPp9nzdajDZsozEu4BkaSJozs"
	USDTContractNile    = "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf"
)

// USDTContract returns the USDT contract for a network
func USDTContract(network string) string {
	switch network {
	case "shasta":
		return USDTContractShasta
	case "nile":
		return USDTContractNile
	default:
		return USDTContractMainnet
	}
}

// GetTokenBalance calls balanceOf on a TRC-20 contract.
func (a *Adapter) GetTokenBalance(ctx context.Context, addr string, asset domain.Asset) (decimal.Decimal, error) {
	if err := a.ValidateAddress(addr); err != nil {
		return decimal.Zero, err
	}
	if asset.IsNative() {
		return a.GetBalance(ctx, addr)
	}

	balance, err := a.node.TRC20ContractBalance(addr, asset.Contract)
	if err != nil {
		a.logger.Warn("Failed to get token balance",
			zap.String("address", addr),
			zap.String("token", asset.Symbol),
			zap.Error(err))
		return decimal.Zero, chains.NetworkError(domain.ChainTron, chains.OpBalance, err)
	}
	return utils.FromBaseUnits(balance, asset.Decimals), nil
}
