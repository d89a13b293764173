package run

import (
	"fmt"
	"math"

	"github.com/golang-sql/civil"

	"github.com/alejandrodnm/fdamarket/internal/domain"
)

// warmupCap is what applyWarmupCap decided for one trade request.
type warmupCap struct {
	AmountUSD  float64
	CapApplied bool
	Note       string
}

// applyWarmupCap limits trade sizes while a market is young, so the thin
// early order flow cannot be swung by one oversized bet. Buys are capped to
// min(warmupMaxTradeUsd, cash * warmupBuyCashFraction), sells to
// warmupMaxTradeUsd. The window is per market: age in runs since it opened.
func applyWarmupCap(action domain.ActionType, requestedUSD, accountCash float64, market *domain.Market, runDate civil.Date, cfg *domain.RuntimeConfig) warmupCap {
	requested := math.Max(0, requestedUSD)
	if requested <= 0 || action == domain.ActionHold {
		return warmupCap{}
	}
	if cfg.WarmupRunCount <= 0 {
		return warmupCap{AmountUSD: requested}
	}

	age := market.AgeInRuns(runDate)
	if age < 0 || age >= cfg.WarmupRunCount {
		return warmupCap{AmountUSD: requested}
	}

	limit := cfg.WarmupMaxTradeUSD
	if action.IsBuy() {
		limit = math.Min(limit, math.Max(0, accountCash*cfg.WarmupBuyCashFraction))
	}

	capped := math.Max(0, math.Min(requested, limit))
	if capped >= requested-1e-9 {
		return warmupCap{AmountUSD: requested}
	}
	return warmupCap{
		AmountUSD:  capped,
		CapApplied: true,
		Note:       fmt.Sprintf("Warm-up cap reduced request to $%.2f.", capped),
	}
}
