package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// RuntimeConfig is the mutable singleton of market tuning parameters.
// It lives in the ledger (not the YAML config) so an admin can change it
// between runs without a redeploy; readers always fetch the latest
// committed row.
type RuntimeConfig struct {
	WarmupRunCount        int     // daily runs per market with tighter trade caps
	WarmupMaxTradeUSD     float64 // hard per-trade cap during warm-up
	WarmupBuyCashFraction float64 // buys also capped to this fraction of cash
	OpeningLMSRB          float64 // liquidity parameter for newly opened markets
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// DefaultRuntimeConfig mirrors the seeded singleton row.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		WarmupRunCount:        3,
		WarmupMaxTradeUSD:     1000,
		WarmupBuyCashFraction: 0.02,
		OpeningLMSRB:          100_000,
	}
}

// RuntimeConfigPatch is a partial update to the runtime config. Nil fields
// are left untouched. Bounds match the schema CHECK constraints so an
// invalid patch is rejected before it can reach a future run.
type RuntimeConfigPatch struct {
	WarmupRunCount        *int     `validate:"omitempty,min=0,max=365"`
	WarmupMaxTradeUSD     *float64 `validate:"omitempty,min=0,max=10000000"`
	WarmupBuyCashFraction *float64 `validate:"omitempty,min=0,max=1"`
	OpeningLMSRB          *float64 `validate:"omitempty,gt=0,max=10000000"`
}

var patchValidator = validator.New()

// Validate rejects empty or out-of-bounds patches.
func (p RuntimeConfigPatch) Validate() error {
	if p.WarmupRunCount == nil && p.WarmupMaxTradeUSD == nil &&
		p.WarmupBuyCashFraction == nil && p.OpeningLMSRB == nil {
		return &ValidationError{Msg: "provide at least one runtime config field to update"}
	}
	if err := patchValidator.Struct(p); err != nil {
		return &ValidationError{Msg: fmt.Sprintf("invalid runtime config patch: %v", err)}
	}
	return nil
}

// Apply returns a copy of cfg with the patch's non-nil fields set.
func (p RuntimeConfigPatch) Apply(cfg RuntimeConfig) RuntimeConfig {
	if p.WarmupRunCount != nil {
		cfg.WarmupRunCount = *p.WarmupRunCount
	}
	if p.WarmupMaxTradeUSD != nil {
		cfg.WarmupMaxTradeUSD = *p.WarmupMaxTradeUSD
	}
	if p.WarmupBuyCashFraction != nil {
		cfg.WarmupBuyCashFraction = *p.WarmupBuyCashFraction
	}
	if p.OpeningLMSRB != nil {
		cfg.OpeningLMSRB = *p.OpeningLMSRB
	}
	return cfg
}
