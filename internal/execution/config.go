package execution

import (
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// Tier holds a value per order-size bucket.
type Tier struct {
	Small  float64
	Medium float64
	Large  float64
}

// ClassParams are the slippage, commission and lot parameters of one
// asset class.
type ClassParams struct {
	SlippageBps    Tier
	CommissionRate float64
	MinCommission  float64
	LotStep        float64
}

// Exit holds stop-loss and take-profit distances as fractions of the fill
// price.
type Exit struct {
	StopLoss   float64
	TakeProfit float64
}

// Config parameterises a Simulator.
type Config struct {
	PriceTimeout           time.Duration
	NoiseFraction          float64 // max relative perturbation of slippage
	SmallOrderMax          float64
	MediumOrderMax         float64
	Crypto                 ClassParams
	Equity                 ClassParams
	Multipliers            map[domain.Strategy]float64
	Exits                  map[domain.Strategy]Exit
	ExpectedReturnMultiple float64
	CryptoSymbols          []string
	CryptoQuoteSuffixes    []string
}

// DefaultConfig returns the built-in tables.
func DefaultConfig() Config {
	return Config{
		PriceTimeout:   2 * time.Second,
		NoiseFraction:  0.25,
		SmallOrderMax:  5_000,
		MediumOrderMax: 20_000,
		Crypto: ClassParams{
			SlippageBps:    Tier{Small: 5, Medium: 10, Large: 20},
			CommissionRate: 0.001,
			MinCommission:  0.10,
			LotStep:        0.00001,
		},
		Equity: ClassParams{
			SlippageBps:    Tier{Small: 2, Medium: 5, Large: 10},
			CommissionRate: 0.0003,
			MinCommission:  1.0,
			LotStep:        1,
		},
		Multipliers: map[domain.Strategy]float64{
			domain.StrategyScalping:      1.2,
			domain.StrategyMomentum:      1.0,
			domain.StrategySwing:         0.8,
			domain.StrategyMeanReversion: 1.0,
			domain.StrategyBreakout:      1.1,
			domain.StrategyArbitrage:     2.0,
		},
		Exits: map[domain.Strategy]Exit{
			domain.StrategyScalping:      {StopLoss: 0.005, TakeProfit: 0.01},
			domain.StrategyMomentum:      {StopLoss: 0.02, TakeProfit: 0.04},
			domain.StrategySwing:         {StopLoss: 0.05, TakeProfit: 0.10},
			domain.StrategyMeanReversion: {StopLoss: 0.015, TakeProfit: 0.03},
			domain.StrategyBreakout:      {StopLoss: 0.02, TakeProfit: 0.05},
			domain.StrategyArbitrage:     {StopLoss: 0.003, TakeProfit: 0.006},
		},
		ExpectedReturnMultiple: 1.5,
		CryptoSymbols:          []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT"},
		CryptoQuoteSuffixes:    []string{"USDT", "USDC", "BUSD"},
	}
}

// Known reports whether the simulator has tables for strategy st.
func (c Config) Known(st domain.Strategy) bool {
	_, ok := c.Multipliers[st]
	return ok
}
