package collateral

import (
	"math/big"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

// Engine registry names. The manager's collateral registry and the state
// manager's loan key space are both partitioned by these.
const (
	NameEth   = "CollateralEth"
	NameErc20 = "CollateralErc20"
	NameShort = "CollateralShort"
)

// ETH is the collateral key for the native-ether engine.
const ETH = types.CurrencyKey("ETH")

func defaultPenalty() *big.Int {
	p, _ := fixed.FromDecimal("0.1")
	return p
}

// NewEthEngine builds the ether-collateralised long engine: 1.3 minimum
// ratio, 2 ETH minimum position.
func NewEthEngine(state engineState, manager *Manager) *Engine {
	minCratio, _ := fixed.FromDecimal("1.3")
	return NewEngine(state, manager, Config{
		Name:               NameEth,
		CollateralKey:      ETH,
		MinCratio:          minCratio,
		MinCollateral:      fixed.FromUnits(2),
		LiquidationPenalty: defaultPenalty(),
	})
}

// NewErc20Engine builds a token-collateralised long engine for one token.
func NewErc20Engine(state engineState, manager *Manager, token types.CurrencyKey, minCollateral *big.Int) *Engine {
	minCratio, _ := fixed.FromDecimal("1.3")
	return NewEngine(state, manager, Config{
		Name:               NameErc20,
		CollateralKey:      token,
		MinCratio:          minCratio,
		MinCollateral:      fixed.Set(minCollateral),
		LiquidationPenalty: defaultPenalty(),
	})
}

// NewShortEngine builds the pUSD-collateralised short engine: shorts carry a
// tighter 1.2 minimum ratio and a 1000 pUSD minimum position.
func NewShortEngine(state engineState, manager *Manager) *Engine {
	minCratio, _ := fixed.FromDecimal("1.2")
	return NewEngine(state, manager, Config{
		Name:               NameShort,
		CollateralKey:      types.PUSD,
		MinCratio:          minCratio,
		MinCollateral:      fixed.FromUnits(1000),
		LiquidationPenalty: defaultPenalty(),
		Short:              true,
	})
}
