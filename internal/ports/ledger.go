package ports

import (
	"context"

	"github.com/alejandrodnm/fdamarket/internal/domain"
	"github.com/golang-sql/civil"
)

// Ledger is the durable store for markets, accounts, positions, actions,
// runs and snapshots. Every mutating call is atomic: fully applied or not
// applied at all.
type Ledger interface {
	// Events. Outcome changes go through ResolveMarket/ReopenMarket so the
	// event row and its market move in one transaction.
	CreateEvent(ctx context.Context, e *domain.Event) error
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)

	// Accounts and positions.
	EnsureAccounts(ctx context.Context, modelIDs []string, startingCash float64) error
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	GetAccount(ctx context.Context, modelID string) (*domain.Account, error)
	GetPosition(ctx context.Context, marketID, modelID string) (*domain.Position, error)
	ListPositionsByMarket(ctx context.Context, marketID string) ([]domain.Position, error)
	ListPositionsByModel(ctx context.Context, modelID string) ([]domain.Position, error)

	// Market lifecycle.
	OpenMarket(ctx context.Context, eventID string, openingProbability, b float64) (*domain.Market, error)
	GetMarket(ctx context.Context, marketID string) (*domain.Market, error)
	GetMarketByEvent(ctx context.Context, eventID string) (*domain.Market, error)
	ListOpenMarkets(ctx context.Context) ([]domain.Market, error)
	ResolveMarket(ctx context.Context, eventID string, outcome domain.Outcome) error
	ReopenMarket(ctx context.Context, eventID string) error

	// Trading. The returned result reflects what was actually applied after
	// clamping; a trade that clamps to nothing comes back as HOLD.
	ApplyTrade(ctx context.Context, marketID, modelID string, action domain.ActionType, usdAmount float64) (*domain.TradeResult, error)

	// ApplyTradeAndRecord applies the trade and claims the audit slot named
	// by a's (MarketID, ModelID, RunDate) in one atomic step: the trade and
	// its ok row commit together or not at all. claimed=false means the slot
	// was already owned and the trade was rolled back.
	ApplyTradeAndRecord(ctx context.Context, a *domain.Action, action domain.ActionType, usdAmount float64) (result *domain.TradeResult, claimed bool, err error)

	// Audit rows. RecordAction claims the (market, model, runDate) slot and
	// reports whether this caller won it; a lost claim is the idempotency
	// signal, not an error.
	RecordAction(ctx context.Context, a *domain.Action) (claimed bool, err error)
	GetAction(ctx context.Context, marketID, modelID string, runDate civil.Date) (*domain.Action, error)
	DeleteAction(ctx context.Context, actionID string) error

	// Runs.
	StartRun(ctx context.Context, runDate civil.Date, openMarkets, totalActions int) (*domain.Run, error)
	GetRunByDate(ctx context.Context, runDate civil.Date) (*domain.Run, error)
	HeartbeatRun(ctx context.Context, runID string, processed int, summary domain.RunSummary) error
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, processed int, summary domain.RunSummary, failureReason string) error

	// Daily snapshots, append-only and unique per (entity, date).
	UpsertPriceSnapshot(ctx context.Context, s domain.PriceSnapshot) error
	UpsertEquitySnapshot(ctx context.Context, s domain.EquitySnapshot) error

	// Runtime configuration singleton. Reads always hit storage so a run
	// sees the latest committed values.
	GetRuntimeConfig(ctx context.Context) (*domain.RuntimeConfig, error)
	UpdateRuntimeConfig(ctx context.Context, patch domain.RuntimeConfigPatch) (*domain.RuntimeConfig, error)

	Close() error
}
