package domain

import "time"

// DefaultStartingCash is the play-money bankroll every model account
// starts with.
const DefaultStartingCash = 100_000

// ModelIDs are the AI models competing in the market, in canonical order.
// The daily run rotates this order by day (see RotateModelOrder).
var ModelIDs = []string{"claude-opus", "gpt-5.2", "grok-4", "gemini-2.5"}

// Account is one model's cash ledger. There is exactly one per model id,
// created lazily the first time the model participates.
type Account struct {
	ID           string
	ModelID      string
	StartingCash float64
	CashBalance  float64 // never negative, enforced by the schema
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Position is one model's share holdings in one market. Share counts are
// never negative; sells are clamped to the held amount.
type Position struct {
	ID        string
	MarketID  string
	ModelID   string
	YesShares float64
	NoShares  float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Value marks the position to market at the given YES price.
func (p Position) Value(priceYes float64) float64 {
	return p.YesShares*priceYes + p.NoShares*(1-priceYes)
}
