package domain

import (
	"time"

	"github.com/golang-sql/civil"
)

// RunStatus is the lifecycle state of a daily run record.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the bookkeeping row for one daily cycle, unique per run date.
// The counters satisfy ok+error+skipped <= processed <= total at all
// times; the schema enforces it.
type Run struct {
	ID            string
	RunDate       civil.Date
	Status        RunStatus
	OpenMarkets   int
	TotalActions  int
	Processed     int
	OKCount       int
	ErrorCount    int
	SkippedCount  int
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// PairResult is the outcome of one (market, model) decision within a run.
type PairResult struct {
	MarketID  string
	EventID   string
	ModelID   string
	Action    ActionType
	AmountUSD float64
	Status    ActionStatus
	Detail    string
}

// RunSummary aggregates pair results by status.
type RunSummary struct {
	OK      int
	Error   int
	Skipped int
}

// Add counts one result into the summary.
func (s *RunSummary) Add(r PairResult) {
	switch r.Status {
	case ActionOK:
		s.OK++
	case ActionError:
		s.Error++
	case ActionSkipped:
		s.Skipped++
	}
}

// RunReport is the full result of a daily run, returned to the caller and
// replayed verbatim when a completed run is re-requested for the same date.
type RunReport struct {
	RunID       string
	RunDate     civil.Date
	ModelOrder  []string
	OpenMarkets int
	Total       int
	Processed   int
	Summary     RunSummary
	Results     []PairResult
	Resumed     bool // true when a completed run was returned without reprocessing
}

// PriceSnapshot is the append-only once-per-day price record for a market.
type PriceSnapshot struct {
	MarketID     string
	SnapshotDate civil.Date
	PriceYes     float64
	QYes         float64
	QNo          float64
}

// EquitySnapshot is the append-only once-per-day equity record for a model:
// cash plus mark-to-market value of open positions.
type EquitySnapshot struct {
	ModelID        string
	SnapshotDate   civil.Date
	CashBalance    float64
	PositionsValue float64
	TotalEquity    float64
}
