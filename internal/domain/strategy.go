package domain

import "fmt"

// Direction is the side of a signal or fill.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Sign returns +1 for buys and -1 for sells. It panics on an unknown value.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionBuy:
		return 1
	case DirectionSell:
		return -1
	default:
		panic(fmt.Sprintf("domain: unknown direction %q", string(d)))
	}
}

// Opposite returns the direction that offsets d.
func (d Direction) Opposite() Direction {
	if d.Sign() > 0 {
		return DirectionSell
	}
	return DirectionBuy
}

// Strategy is the tag of the engine that produced a signal.
type Strategy string

const (
	StrategyScalping      Strategy = "scalping"
	StrategyMomentum      Strategy = "momentum"
	StrategySwing         Strategy = "swing"
	StrategyMeanReversion Strategy = "mean_reversion"
	StrategyBreakout      Strategy = "breakout"
	StrategyArbitrage     Strategy = "arbitrage"
)

// KnownStrategies lists every built-in strategy tag.
func KnownStrategies() []Strategy {
	return []Strategy{
		StrategyScalping,
		StrategyMomentum,
		StrategySwing,
		StrategyMeanReversion,
		StrategyBreakout,
		StrategyArbitrage,
	}
}

// AssetClass selects the slippage, commission and lot tables for a symbol.
type AssetClass string

const (
	AssetClassCrypto AssetClass = "crypto"
	AssetClassEquity AssetClass = "equity"
)
