package domain

import (
	"time"

	"github.com/golang-sql/civil"
)

// ActionType is what a model decided to do with a market on a given day.
type ActionType string

const (
	ActionBuyYes  ActionType = "BUY_YES"
	ActionBuyNo   ActionType = "BUY_NO"
	ActionSellYes ActionType = "SELL_YES"
	ActionSellNo  ActionType = "SELL_NO"
	ActionHold    ActionType = "HOLD"
)

// IsBuy reports whether the action spends cash to acquire shares.
func (a ActionType) IsBuy() bool { return a == ActionBuyYes || a == ActionBuyNo }

// IsSell reports whether the action sells shares back to the maker.
func (a ActionType) IsSell() bool { return a == ActionSellYes || a == ActionSellNo }

// Valid reports whether the value is one of the five known actions.
func (a ActionType) Valid() bool {
	switch a {
	case ActionBuyYes, ActionBuyNo, ActionSellYes, ActionSellNo, ActionHold:
		return true
	}
	return false
}

// ActionStatus classifies how a (market, model, day) slot was filled.
type ActionStatus string

const (
	ActionOK      ActionStatus = "ok"
	ActionError   ActionStatus = "error"
	ActionSkipped ActionStatus = "skipped"
)

// Error codes recorded on failed actions so reruns and audits can group
// failures without parsing free text.
const (
	ErrCodeAPIKeyMissing = "API_KEY_MISSING"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeParse         = "PARSE_ERROR"
	ErrCodeMissingState  = "MISSING_MARKET_STATE"
	ErrCodeUnhandled     = "UNHANDLED_ERROR"
)

// Action is the audit row for one (market, model, run date) slot. The
// triple is unique in the ledger: it is the idempotency key that makes
// daily runs safely rerunnable.
type Action struct {
	ID          string
	RunID       string // may be empty for admin-initiated actions
	MarketID    string
	EventID     string
	ModelID     string
	RunDate     civil.Date
	Action      ActionType
	USDAmount   float64 // cash spent (BUY) or proceeds received (SELL), >= 0
	SharesDelta float64 // >= 0 for BUY, <= 0 for SELL, 0 for HOLD
	PriceBefore float64
	PriceAfter  float64
	Explanation string
	Status      ActionStatus
	ErrorCode   string
	ErrorDetail string
	CreatedAt   time.Time
}

// TradeResult is what the ledger reports back after applying a trade.
type TradeResult struct {
	Action      ActionType // HOLD when the trade clamped down to nothing
	USDAmount   float64
	SharesDelta float64
	PriceBefore float64
	PriceAfter  float64
}
