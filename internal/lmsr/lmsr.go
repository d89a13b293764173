// Package lmsr implements the logarithmic market scoring rule maker used
// by every market: price and cost as closed forms over cumulative signed
// demand (qYes, qNo) and a liquidity parameter b. Pure functions, no I/O.
package lmsr

import "math"

const (
	// Opening probabilities are clamped away from 0/1: the inverse trade
	// functions are undefined at the boundary.
	openingProbabilityFloor = 0.05
	openingProbabilityCeil  = 0.95

	// Beyond |qNo-qYes|/b = 40 the logistic saturates past float64
	// resolution; return the exact bound instead of computing exp.
	priceSaturationZ = 40

	// Bisection steps for the proceeds-constrained sale. 56 halvings of
	// the share interval reach float64 precision.
	saleSolverIters = 56

	proceedsTolerance = 1e-9
)

// State is the market maker state: cumulative signed quantities per side
// and the liquidity parameter.
type State struct {
	QYes float64
	QNo  float64
	B    float64 // > 0
}

// Trade is the effect of one buy or sell on the maker state.
type Trade struct {
	QYes        float64 // state after
	QNo         float64
	Shares      float64 // shares bought or sold, always >= 0
	USD         float64 // cash spent (buy) or proceeds received (sell)
	PriceBefore float64
	PriceAfter  float64
}

// logSumExp computes ln(e^a + e^b) with the max subtracted first so large
// |q|/b never overflows.
func logSumExp(a, b float64) float64 {
	m := math.Max(a, b)
	return m + math.Log(math.Exp(a-m)+math.Exp(b-m))
}

// logSubExp computes ln(e^x - e^y) for x > y using log1p for stability.
func logSubExp(x, y float64) float64 {
	return x + math.Log1p(-math.Exp(y-x))
}

// PriceYes quotes the YES price in [0, 1] for the given state.
func PriceYes(s State) float64 {
	z := (s.QNo - s.QYes) / s.B
	if z > priceSaturationZ {
		return 0
	}
	if z < -priceSaturationZ {
		return 1
	}
	return 1 / (1 + math.Exp(z))
}

// Cost is the LMSR cost function b*ln(e^(qYes/b) + e^(qNo/b)). The cost of
// any trade is Cost(after) - Cost(before).
func Cost(s State) float64 {
	return s.B * logSumExp(s.QYes/s.B, s.QNo/s.B)
}

// ClampProbability pulls a probability into the open interval the inverse
// functions are defined on. Non-finite input collapses to 0.5.
func ClampProbability(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0.5
	}
	return math.Max(openingProbabilityFloor, math.Min(openingProbabilityCeil, p))
}

// Open builds the initial state for a market at the given opening
// probability: centered at zero with qYes - qNo = b*ln(p/(1-p)), so the
// first quoted price equals p (after clamping) to floating tolerance.
func Open(openingProbability, b float64) State {
	p := ClampProbability(openingProbability)
	delta := b * math.Log(p/(1-p))
	return State{QYes: delta / 2, QNo: -delta / 2, B: b}
}

// Buy spends budgetUSD on one side and returns the resulting trade. The
// closed-form inverse: spending c moves ln(e^(qYes/b)+e^(qNo/b)) up by c/b,
// and the bought side's new q follows from subtracting the untouched side
// back out. A non-positive budget is a no-op at the current price.
func Buy(s State, buyYes bool, budgetUSD float64) Trade {
	priceBefore := PriceYes(s)
	if budgetUSD <= 0 {
		return Trade{QYes: s.QYes, QNo: s.QNo, PriceBefore: priceBefore, PriceAfter: priceBefore}
	}

	baseLog := logSumExp(s.QYes/s.B, s.QNo/s.B)
	targetLog := baseLog + budgetUSD/s.B

	next := s
	var shares float64
	if buyYes {
		next.QYes = s.B * logSubExp(targetLog, s.QNo/s.B)
		shares = next.QYes - s.QYes
	} else {
		next.QNo = s.B * logSubExp(targetLog, s.QYes/s.B)
		shares = next.QNo - s.QNo
	}

	return Trade{
		QYes:        next.QYes,
		QNo:         next.QNo,
		Shares:      shares,
		USD:         budgetUSD,
		PriceBefore: priceBefore,
		PriceAfter:  PriceYes(next),
	}
}

// SellShares sells an exact share count on one side. Proceeds are the cost
// released by the trade, clamped at zero against rounding.
func SellShares(s State, sellYes bool, shares float64) Trade {
	priceBefore := PriceYes(s)
	if shares <= 0 {
		return Trade{QYes: s.QYes, QNo: s.QNo, PriceBefore: priceBefore, PriceAfter: priceBefore}
	}

	next := s
	if sellYes {
		next.QYes -= shares
	} else {
		next.QNo -= shares
	}

	proceeds := math.Max(0, Cost(s)-Cost(next))
	return Trade{
		QYes:        next.QYes,
		QNo:         next.QNo,
		Shares:      shares,
		USD:         proceeds,
		PriceBefore: priceBefore,
		PriceAfter:  PriceYes(next),
	}
}

// SellForProceeds solves for the sale on one side whose proceeds are as
// close to targetUSD as possible without exceeding it, never selling more
// than heldShares. Proceeds are monotonic in sold shares, so a bisection
// over the share count converges; asking for at least the full liquidation
// value returns the full liquidation.
func SellForProceeds(s State, sellYes bool, heldShares, targetUSD float64) Trade {
	zero := SellShares(s, sellYes, 0)
	if heldShares <= 0 || targetUSD <= 0 {
		return zero
	}

	maxSale := SellShares(s, sellYes, heldShares)
	if maxSale.USD <= 0 {
		return zero
	}
	if targetUSD >= maxSale.USD-proceedsTolerance {
		return maxSale
	}

	low, high := 0.0, heldShares
	best := zero
	for i := 0; i < saleSolverIters; i++ {
		mid := (low + high) / 2
		sale := SellShares(s, sellYes, mid)
		if sale.USD <= targetUSD {
			low, best = mid, sale
		} else {
			high = mid
		}
	}
	return best
}
