package run

import (
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/fdamarket/internal/domain"
)

func warmupFixture(openedDaysAgo int, runDate civil.Date) *domain.Market {
	opened := time.Date(runDate.Year, runDate.Month, runDate.Day, 12, 0, 0, 0, time.UTC).
		AddDate(0, 0, -openedDaysAgo)
	return &domain.Market{OpenedAt: opened}
}

func TestApplyWarmupCap_BuyDuringWarmup(t *testing.T) {
	cfg := domain.DefaultRuntimeConfig()
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	// Cash cap binds: 10000 * 0.02 = 200 < 1000 max trade.
	c := applyWarmupCap(domain.ActionBuyYes, 5_000, 10_000, warmupFixture(0, runDate), runDate, &cfg)
	assert.True(t, c.CapApplied)
	assert.InDelta(t, 200, c.AmountUSD, 1e-9)
	assert.Equal(t, "Warm-up cap reduced request to $200.00.", c.Note)

	// Max trade binds: 100000 * 0.02 = 2000 > 1000.
	c = applyWarmupCap(domain.ActionBuyYes, 5_000, 100_000, warmupFixture(1, runDate), runDate, &cfg)
	assert.True(t, c.CapApplied)
	assert.InDelta(t, 1_000, c.AmountUSD, 1e-9)
}

func TestApplyWarmupCap_SellUsesFlatCap(t *testing.T) {
	cfg := domain.DefaultRuntimeConfig()
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	// Sells ignore the cash fraction.
	c := applyWarmupCap(domain.ActionSellYes, 5_000, 10, warmupFixture(0, runDate), runDate, &cfg)
	assert.True(t, c.CapApplied)
	assert.InDelta(t, 1_000, c.AmountUSD, 1e-9)
}

func TestApplyWarmupCap_OutsideWindow(t *testing.T) {
	cfg := domain.DefaultRuntimeConfig()
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	// Age 3 with warmupRunCount 3 is past the window.
	c := applyWarmupCap(domain.ActionBuyYes, 5_000, 10_000, warmupFixture(3, runDate), runDate, &cfg)
	assert.False(t, c.CapApplied)
	assert.InDelta(t, 5_000, c.AmountUSD, 1e-9)
}

func TestApplyWarmupCap_DisabledAndEdgeCases(t *testing.T) {
	cfg := domain.DefaultRuntimeConfig()
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	// Warm-up disabled entirely.
	off := cfg
	off.WarmupRunCount = 0
	c := applyWarmupCap(domain.ActionBuyYes, 5_000, 10_000, warmupFixture(0, runDate), runDate, &off)
	assert.False(t, c.CapApplied)
	assert.InDelta(t, 5_000, c.AmountUSD, 1e-9)

	// HOLD and non-positive requests are never capped.
	c = applyWarmupCap(domain.ActionHold, 5_000, 10_000, warmupFixture(0, runDate), runDate, &cfg)
	assert.Zero(t, c.AmountUSD)
	assert.False(t, c.CapApplied)

	c = applyWarmupCap(domain.ActionBuyYes, -50, 10_000, warmupFixture(0, runDate), runDate, &cfg)
	assert.Zero(t, c.AmountUSD)

	// A request already under the cap passes through untouched.
	c = applyWarmupCap(domain.ActionBuyYes, 150, 10_000, warmupFixture(0, runDate), runDate, &cfg)
	assert.False(t, c.CapApplied)
	assert.InDelta(t, 150, c.AmountUSD, 1e-9)
}
