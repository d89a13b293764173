package domain

import (
	"time"

	"github.com/golang-sql/civil"
)

// MarketStatus is the lifecycle state of a prediction market.
type MarketStatus string

const (
	MarketOpen     MarketStatus = "OPEN"
	MarketResolved MarketStatus = "RESOLVED"
)

// Outcome is the regulatory decision for a tracked event.
type Outcome string

const (
	OutcomePending  Outcome = "Pending"
	OutcomeApproved Outcome = "Approved"
	OutcomeRejected Outcome = "Rejected"
)

// Market is one binary LMSR market tracking a single drug-approval event.
// qYes/qNo are cumulative signed demand; PriceYes is derived from them and
// cached so readers never recompute it.
type Market struct {
	ID                 string
	EventID            string
	Status             MarketStatus
	OpeningProbability float64
	B                  float64 // LMSR liquidity parameter, > 0
	QYes               float64
	QNo                float64
	PriceYes           float64
	OpenedAt           time.Time
	ResolvedAt         *time.Time // set iff Status == RESOLVED
	ResolvedOutcome    Outcome    // Approved/Rejected iff Status == RESOLVED, "" otherwise
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PriceNo is the complement price of the NO side.
func (m Market) PriceNo() float64 {
	return 1 - m.PriceYes
}

// AgeInRuns returns how many whole daily runs have elapsed since the market
// opened, relative to runDate. Used for the warm-up window.
func (m Market) AgeInRuns(runDate civil.Date) int {
	opened := RunDateOf(m.OpenedAt)
	return runDate.DaysSince(opened)
}

// Event is a tracked regulatory decision (one PDUFA date for one drug).
// Markets reference events; the event's outcome drives resolve/reopen.
type Event struct {
	ID              string
	DrugName        string
	CompanyName     string
	Symbols         string // comma-separated stock tickers, may be empty
	ApplicationType string // NDA, BLA, sNDA, ...
	DecisionDate    civil.Date
	Description     string
	TherapeuticArea string
	Outcome         Outcome
	CreatedAt       time.Time
}

// RunDateOf normalizes a timestamp to its UTC calendar day. Every run-date
// key in the ledger goes through this so repeated invocations on the same
// day collide on the same row.
func RunDateOf(t time.Time) civil.Date {
	return civil.DateOf(t.UTC())
}

// RotateModelOrder returns the model ids rotated by the run date's day
// number, so no model permanently trades first and soaks up the daily
// price impact ahead of the others.
func RotateModelOrder(runDate civil.Date, models []string) []string {
	if len(models) == 0 {
		return nil
	}
	day := runDate.DaysSince(civil.Date{Year: 1970, Month: time.January, Day: 1})
	offset := ((day % len(models)) + len(models)) % len(models)
	out := make([]string, len(models))
	for i := range models {
		out[i] = models[(i+offset)%len(models)]
	}
	return out
}
