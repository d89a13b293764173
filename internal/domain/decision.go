package domain

// MarketBrief is the compact view of another open market that gives the
// deciding model breadth context for capital allocation.
type MarketBrief struct {
	MarketID     string
	EventID      string
	DrugName     string
	CompanyName  string
	DecisionDate string // ISO date of the regulatory decision
	PriceYes     float64
}

// DecisionContext is everything a decision adapter gets to see for one
// (market, model) pair. It is assembled by the orchestrator from current
// ledger state; adapters must treat it as read-only.
type DecisionContext struct {
	RunDate          string // ISO day, e.g. "2026-03-14"
	ModelID          string
	Event            Event
	PriceYes         float64
	PriceNo          float64
	CashBalance      float64
	YesShares        float64
	NoShares         float64
	TotalOpenMarkets int
	MarketsRemaining int // markets still to be decided after this one, this run
	OtherMarkets     []MarketBrief
}

// Decision is the sanitized output of a decision adapter. By the time the
// orchestrator sees it, Action is one of the five known values, AmountUSD
// is finite and non-negative (zero for HOLD), and Explanation is bounded.
type Decision struct {
	Action      ActionType
	AmountUSD   float64
	Explanation string
}
