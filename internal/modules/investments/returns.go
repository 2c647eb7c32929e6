// Package investments simulates company investment portfolios: returns, the
// CFO's noisy view of the portfolio, and forced liquidations.
package investments

import (
	"math"
	"math/rand/v2"

	"github.com/insuresim/underwriter/internal/domain"
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat/distuv"
)

const weeksPerYear = 52

// Weights of the risk premium components. They sum to 1, so a portfolio at
// the top of every scale earns the full MaxRiskPremium.
const (
	riskWeight     = 0.55
	durationWeight = 0.15
	creditWeight   = 0.20
	illiquidWeight = 0.10
)

// Synthetic market index parameters (weekly).
const (
	indexDrift       = 0.0015
	indexVolatility  = 0.02
	trendSensitivity = 5.0
)

// ReturnParams configures the return model.
type ReturnParams struct {
	RiskFreeRate   float64 // annual
	MaxRiskPremium float64 // annual
	ShockStdDev    float64 // weekly
}

// ExpectedReturn is the annual expected return of a portfolio. It is
// non-decreasing in risk and duration, non-increasing in credit quality and
// liquidity, and never below the risk-free rate.
func ExpectedReturn(c domain.Characteristics, p ReturnParams) float64 {
	c = c.Clamp()
	premium := riskWeight*c.Risk/100 +
		durationWeight*c.Duration/100 +
		creditWeight*(100-c.CreditQuality)/100 +
		illiquidWeight*(100-c.Liquidity)/100
	return p.RiskFreeRate + p.MaxRiskPremium*premium
}

// Volatility is the weekly standard deviation of the return shock. Risk
// raises it and diversification dampens it.
func Volatility(c domain.Characteristics, p ReturnParams) float64 {
	c = c.Clamp()
	return p.ShockStdDev * (0.5 + c.Risk/100) * (1.25 - 0.5*c.Diversification/100)
}

// RealizedReturn is the weekly rate actually earned: the weekly share of the
// expected return scaled by the market multiplier, plus a random shock.
func RealizedReturn(c domain.Characteristics, p ReturnParams, marketMultiplier float64, src rand.Source) float64 {
	shock := distuv.Normal{Mu: 0, Sigma: Volatility(c, p), Src: src}.Rand()
	return ExpectedReturn(c, p)/weeksPerYear*marketMultiplier + shock
}

// MarketIndex is the synthetic weekly market index of a semester up to and
// including week. The series is a seeded random walk, so a semester sees the
// same history on every run.
func MarketIndex(semesterID int64, week, historyWeeks int) []float64 {
	if week < 1 {
		week = 1
	}
	steps := distuv.Normal{Mu: indexDrift, Sigma: indexVolatility, Src: rand.NewPCG(uint64(semesterID), 0x1d3c)}

	total := week + historyWeeks
	series := make([]float64, total)
	level := 100.0
	for i := range series {
		level *= 1 + steps.Rand()
		series[i] = level
	}
	return series[total-historyWeeks-1:]
}

// MarketMultiplier compares the latest index level to its EMA. A market above
// trend boosts returns, one below trend cuts them. Bounded to [0.5, 1.5].
func MarketMultiplier(index []float64, period int) float64 {
	if len(index) == 0 || period <= 1 || len(index) < period {
		return 1.0
	}
	ema := talib.Ema(index, period)
	last := ema[len(ema)-1]
	if last <= 0 || math.IsNaN(last) {
		return 1.0
	}
	deviation := index[len(index)-1]/last - 1
	return math.Max(0.5, math.Min(1.5, 1+deviation*trendSensitivity))
}
