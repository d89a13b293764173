package storage_test

import (
	"context"
	"testing"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/fdamarket/internal/adapters/storage"
	"github.com/alejandrodnm/fdamarket/internal/domain"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func makeEvent(drug string) *domain.Event {
	return &domain.Event{
		DrugName:        drug,
		CompanyName:     "Acme Pharma",
		Symbols:         "ACME",
		ApplicationType: "NDA",
		DecisionDate:    civil.Date{Year: 2026, Month: 12, Day: 15},
		TherapeuticArea: "Oncology",
	}
}

// openMarketWithAccounts seeds the four model accounts, creates an event and
// opens its market at the given probability.
func openMarketWithAccounts(t *testing.T, db *storage.Store, p float64) (*domain.Event, *domain.Market) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, db.EnsureAccounts(ctx, domain.ModelIDs, domain.DefaultStartingCash))

	e := makeEvent("Zolpira")
	require.NoError(t, db.CreateEvent(ctx, e))

	m, err := db.OpenMarket(ctx, e.ID, p, 10_000)
	require.NoError(t, err)
	return e, m
}

func TestStore_EnsureAccounts_Idempotent(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureAccounts(ctx, domain.ModelIDs, domain.DefaultStartingCash))

	// Spend some cash, then ensure again: balances must survive.
	_, m := openMarketWithAccounts(t, db, 0.5)
	_, err := db.ApplyTrade(ctx, m.ID, "grok-4", domain.ActionBuyYes, 500)
	require.NoError(t, err)

	require.NoError(t, db.EnsureAccounts(ctx, domain.ModelIDs, domain.DefaultStartingCash))

	acct, err := db.GetAccount(ctx, "grok-4")
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultStartingCash-500, acct.CashBalance, 1e-6)
}

func TestStore_OpenMarket(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	_, m := openMarketWithAccounts(t, db, 0.8109)

	assert.Equal(t, domain.MarketOpen, m.Status)
	assert.InDelta(t, 0.8109, m.PriceYes, 1e-9)

	// Zero positions seeded for every account.
	positions, err := db.ListPositionsByMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, positions, len(domain.ModelIDs))
	for _, p := range positions {
		assert.Zero(t, p.YesShares)
		assert.Zero(t, p.NoShares)
	}
}

func TestStore_OpenMarket_Conflicts(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	e, _ := openMarketWithAccounts(t, db, 0.5)

	// Second market for the same event.
	_, err := db.OpenMarket(ctx, e.ID, 0.5, 10_000)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	// Event already decided.
	e2 := makeEvent("Cortexa")
	e2.Outcome = domain.OutcomeApproved
	require.NoError(t, db.CreateEvent(ctx, e2))
	_, err = db.OpenMarket(ctx, e2.ID, 0.5, 10_000)
	require.ErrorAs(t, err, &conflict)

	// Unknown event.
	_, err = db.OpenMarket(ctx, "nope", 0.5, 10_000)
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestStore_ApplyTrade_BuyMovesEverything(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	_, m := openMarketWithAccounts(t, db, 0.5)

	res, err := db.ApplyTrade(ctx, m.ID, "claude-opus", domain.ActionBuyYes, 1_000)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuyYes, res.Action)
	assert.InDelta(t, 1_000, res.USDAmount, 1e-9)
	assert.Greater(t, res.SharesDelta, 0.0)
	assert.Greater(t, res.PriceAfter, res.PriceBefore)

	acct, err := db.GetAccount(ctx, "claude-opus")
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultStartingCash-1_000, acct.CashBalance, 1e-9)

	pos, err := db.GetPosition(ctx, m.ID, "claude-opus")
	require.NoError(t, err)
	assert.InDelta(t, res.SharesDelta, pos.YesShares, 1e-9)

	got, err := db.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.InDelta(t, res.PriceAfter, got.PriceYes, 1e-9)
}

func TestStore_ApplyTrade_BuyClampsToCash(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	_, m := openMarketWithAccounts(t, db, 0.5)

	res, err := db.ApplyTrade(ctx, m.ID, "gpt-5.2", domain.ActionBuyNo, 10*domain.DefaultStartingCash)
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultStartingCash, res.USDAmount, 1e-6)

	acct, err := db.GetAccount(ctx, "gpt-5.2")
	require.NoError(t, err)
	assert.InDelta(t, 0, acct.CashBalance, 1e-6)
}

func TestStore_ApplyTrade_SellRoundTrip(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	_, m := openMarketWithAccounts(t, db, 0.5)

	buy, err := db.ApplyTrade(ctx, m.ID, "gemini-2.5", domain.ActionBuyYes, 2_000)
	require.NoError(t, err)

	// Ask for far more than the position is worth: clamps to the full stake.
	sell, err := db.ApplyTrade(ctx, m.ID, "gemini-2.5", domain.ActionSellYes, 1e9)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSellYes, sell.Action)
	assert.InDelta(t, -buy.SharesDelta, sell.SharesDelta, 1e-6)
	assert.InDelta(t, 2_000, sell.USDAmount, 1e-6)

	pos, err := db.GetPosition(ctx, m.ID, "gemini-2.5")
	require.NoError(t, err)
	assert.InDelta(t, 0, pos.YesShares, 1e-6)

	acct, err := db.GetAccount(ctx, "gemini-2.5")
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultStartingCash, acct.CashBalance, 1e-6)
}

func TestStore_ApplyTrade_SellWithoutShares(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	_, m := openMarketWithAccounts(t, db, 0.5)

	_, err := db.ApplyTrade(ctx, m.ID, "grok-4", domain.ActionSellNo, 100)
	var insufficient *domain.InsufficientSharesError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "grok-4", insufficient.ModelID)
}

func TestStore_ApplyTrade_HoldIsNoOp(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	_, m := openMarketWithAccounts(t, db, 0.7)

	res, err := db.ApplyTrade(ctx, m.ID, "claude-opus", domain.ActionHold, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, res.Action)
	assert.InDelta(t, res.PriceBefore, res.PriceAfter, 1e-12)

	got, err := db.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.InDelta(t, m.PriceYes, got.PriceYes, 1e-12)
}

func TestStore_ApplyTradeAndRecord_CommitsTogether(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	e, m := openMarketWithAccounts(t, db, 0.5)
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	res, claimed, err := db.ApplyTradeAndRecord(ctx, &domain.Action{
		MarketID:    m.ID,
		EventID:     e.ID,
		ModelID:     "claude-opus",
		RunDate:     runDate,
		Explanation: "Approval odds look underpriced.",
	}, domain.ActionBuyYes, 500)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, domain.ActionBuyYes, res.Action)

	// The audit row and the trade are one commit: the row reports exactly
	// what was applied.
	row, err := db.GetAction(ctx, m.ID, "claude-opus", runDate)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionOK, row.Status)
	assert.Equal(t, domain.ActionBuyYes, row.Action)
	assert.InDelta(t, 500, row.USDAmount, 1e-9)
	assert.InDelta(t, res.SharesDelta, row.SharesDelta, 1e-9)
	assert.InDelta(t, res.PriceAfter, row.PriceAfter, 1e-12)

	acct, err := db.GetAccount(ctx, "claude-opus")
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultStartingCash-500, acct.CashBalance, 1e-6)
}

func TestStore_ApplyTradeAndRecord_LostClaimRollsTradeBack(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	e, m := openMarketWithAccounts(t, db, 0.5)
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	_, claimed, err := db.ApplyTradeAndRecord(ctx, &domain.Action{
		MarketID: m.ID, EventID: e.ID, ModelID: "claude-opus", RunDate: runDate,
	}, domain.ActionBuyYes, 500)
	require.NoError(t, err)
	require.True(t, claimed)

	afterFirst, err := db.GetMarket(ctx, m.ID)
	require.NoError(t, err)

	// Same slot again: the claim is lost and the second trade must roll
	// back with it, leaving a single $500 debit on the books.
	res, claimed, err := db.ApplyTradeAndRecord(ctx, &domain.Action{
		MarketID: m.ID, EventID: e.ID, ModelID: "claude-opus", RunDate: runDate,
	}, domain.ActionBuyYes, 2_000)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Nil(t, res)

	acct, err := db.GetAccount(ctx, "claude-opus")
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultStartingCash-500, acct.CashBalance, 1e-6)

	got, err := db.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.InDelta(t, afterFirst.PriceYes, got.PriceYes, 1e-12)
	assert.InDelta(t, afterFirst.QYes, got.QYes, 1e-9)

	row, err := db.GetAction(ctx, m.ID, "claude-opus", runDate)
	require.NoError(t, err)
	assert.InDelta(t, 500, row.USDAmount, 1e-9)
}

func TestStore_ResolveMarket_PaysWinnersAndZerosPositions(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	e, m := openMarketWithAccounts(t, db, 0.5)

	yesBuy, err := db.ApplyTrade(ctx, m.ID, "claude-opus", domain.ActionBuyYes, 1_000)
	require.NoError(t, err)
	_, err = db.ApplyTrade(ctx, m.ID, "gpt-5.2", domain.ActionBuyNo, 1_000)
	require.NoError(t, err)

	require.NoError(t, db.ResolveMarket(ctx, e.ID, domain.OutcomeApproved))

	// YES holder gets $1 per share, NO holder gets nothing back.
	winner, err := db.GetAccount(ctx, "claude-opus")
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultStartingCash-1_000+yesBuy.SharesDelta, winner.CashBalance, 1e-6)

	loser, err := db.GetAccount(ctx, "gpt-5.2")
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultStartingCash-1_000, loser.CashBalance, 1e-6)

	for _, modelID := range []string{"claude-opus", "gpt-5.2"} {
		pos, err := db.GetPosition(ctx, m.ID, modelID)
		require.NoError(t, err)
		assert.Zero(t, pos.YesShares)
		assert.Zero(t, pos.NoShares)
	}

	got, err := db.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketResolved, got.Status)
	assert.Equal(t, domain.OutcomeApproved, got.ResolvedOutcome)
	require.NotNil(t, got.ResolvedAt)

	// The event outcome moved in the same transaction.
	gotEvent, err := db.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, gotEvent.Outcome)

	// Resolving again is an invalid transition.
	err = db.ResolveMarket(ctx, e.ID, domain.OutcomeApproved)
	var invalid *domain.InvalidStateError
	require.ErrorAs(t, err, &invalid)

	// Resolved market rejects trades.
	_, err = db.ApplyTrade(ctx, m.ID, "grok-4", domain.ActionBuyYes, 100)
	require.ErrorAs(t, err, &invalid)
}

func TestStore_ReopenMarket(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	e, m := openMarketWithAccounts(t, db, 0.6)

	// Reopening an open market is invalid.
	err := db.ReopenMarket(ctx, e.ID)
	var invalid *domain.InvalidStateError
	require.ErrorAs(t, err, &invalid)

	require.NoError(t, db.ResolveMarket(ctx, e.ID, domain.OutcomeRejected))
	require.NoError(t, db.ReopenMarket(ctx, e.ID))

	got, err := db.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketOpen, got.Status)
	assert.Empty(t, got.ResolvedOutcome)
	assert.Nil(t, got.ResolvedAt)

	// The event moved back to Pending in the same transaction.
	gotEvent, err := db.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, gotEvent.Outcome)

	// Trading works again from the preserved price.
	_, err = db.ApplyTrade(ctx, m.ID, "grok-4", domain.ActionBuyYes, 100)
	require.NoError(t, err)
}

func TestStore_ListOpenMarkets_OrderedByDecisionDate(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureAccounts(ctx, domain.ModelIDs, domain.DefaultStartingCash))

	later := makeEvent("Laterol")
	later.DecisionDate = civil.Date{Year: 2027, Month: 3, Day: 1}
	require.NoError(t, db.CreateEvent(ctx, later))
	mLater, err := db.OpenMarket(ctx, later.ID, 0.5, 10_000)
	require.NoError(t, err)

	sooner := makeEvent("Soonra")
	sooner.DecisionDate = civil.Date{Year: 2026, Month: 10, Day: 1}
	require.NoError(t, db.CreateEvent(ctx, sooner))
	mSooner, err := db.OpenMarket(ctx, sooner.ID, 0.5, 10_000)
	require.NoError(t, err)

	markets, err := db.ListOpenMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, mSooner.ID, markets[0].ID)
	assert.Equal(t, mLater.ID, markets[1].ID)

	// Resolved markets drop out of the list.
	require.NoError(t, db.ResolveMarket(ctx, sooner.ID, domain.OutcomeApproved))
	markets, err = db.ListOpenMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, mLater.ID, markets[0].ID)
}

func TestStore_RecordAction_ClaimsSlotOnce(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	e, m := openMarketWithAccounts(t, db, 0.5)
	date := civil.Date{Year: 2026, Month: 8, Day: 29}

	action := &domain.Action{
		MarketID:    m.ID,
		EventID:     e.ID,
		ModelID:     "claude-opus",
		RunDate:     date,
		Action:      domain.ActionHold,
		PriceBefore: 0.5,
		PriceAfter:  0.5,
		Explanation: "No edge today.",
		Status:      domain.ActionOK,
	}
	claimed, err := db.RecordAction(ctx, action)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Same slot again: lost claim, no error.
	dup := *action
	dup.ID = ""
	claimed, err = db.RecordAction(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, claimed)

	// Different day is a fresh slot.
	next := *action
	next.ID = ""
	next.RunDate = date.AddDays(1)
	claimed, err = db.RecordAction(ctx, &next)
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := db.GetAction(ctx, m.ID, "claude-opus", date)
	require.NoError(t, err)
	assert.Equal(t, action.ID, got.ID)
	assert.Equal(t, domain.ActionHold, got.Action)
}

func TestStore_DeleteAction_FreesSlotForRetry(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	e, m := openMarketWithAccounts(t, db, 0.5)
	date := civil.Date{Year: 2026, Month: 8, Day: 29}

	failed := &domain.Action{
		MarketID:    m.ID,
		EventID:     e.ID,
		ModelID:     "grok-4",
		RunDate:     date,
		Action:      domain.ActionHold,
		PriceBefore: 0.5,
		PriceAfter:  0.5,
		Explanation: "",
		Status:      domain.ActionError,
		ErrorCode:   domain.ErrCodeTimeout,
		ErrorDetail: "deadline exceeded",
	}
	claimed, err := db.RecordAction(ctx, failed)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, db.DeleteAction(ctx, failed.ID))

	retry := *failed
	retry.ID = ""
	retry.Status = domain.ActionOK
	retry.ErrorCode, retry.ErrorDetail = "", ""
	claimed, err = db.RecordAction(ctx, &retry)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestStore_Runs_LifecycleAndConflict(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	date := civil.Date{Year: 2026, Month: 8, Day: 29}
	run, err := db.StartRun(ctx, date, 2, 8)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, run.Status)
	assert.Equal(t, 8, run.TotalActions)
	assert.Zero(t, run.Processed)

	// A second run while the first is alive conflicts, even for another date.
	_, err = db.StartRun(ctx, date.AddDays(1), 2, 8)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, db.HeartbeatRun(ctx, run.ID, 3, domain.RunSummary{OK: 2, Error: 1}))
	got, err := db.GetRunByDate(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Processed)
	assert.Equal(t, 2, got.OKCount)
	assert.Equal(t, 1, got.ErrorCount)

	require.NoError(t, db.FinishRun(ctx, run.ID, domain.RunCompleted, 8, domain.RunSummary{OK: 7, Error: 1}, ""))
	got, err = db.GetRunByDate(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// With the first run finished, a new date can start.
	run2, err := db.StartRun(ctx, date.AddDays(1), 1, 4)
	require.NoError(t, err)
	assert.NotEqual(t, run.ID, run2.ID)
}

func TestStore_StartRun_ResetsSameDateRow(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	date := civil.Date{Year: 2026, Month: 8, Day: 29}
	run, err := db.StartRun(ctx, date, 2, 8)
	require.NoError(t, err)
	require.NoError(t, db.FinishRun(ctx, run.ID, domain.RunFailed, 3, domain.RunSummary{OK: 1, Error: 2}, "provider outage"))

	// Rerunning the same date reuses the row with zeroed counters.
	rerun, err := db.StartRun(ctx, date, 3, 12)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, rerun.Status)
	assert.Equal(t, 12, rerun.TotalActions)
	assert.Zero(t, rerun.Processed)
	assert.Empty(t, rerun.FailureReason)
	assert.Nil(t, rerun.CompletedAt)
}

func TestStore_GetRunByDate_NotFound(t *testing.T) {
	db := newStore(t)

	_, err := db.GetRunByDate(context.Background(), civil.Date{Year: 2026, Month: 1, Day: 1})
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestStore_Snapshots_UpsertPerDay(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	_, m := openMarketWithAccounts(t, db, 0.5)
	date := civil.Date{Year: 2026, Month: 8, Day: 29}

	require.NoError(t, db.UpsertPriceSnapshot(ctx, domain.PriceSnapshot{
		MarketID: m.ID, SnapshotDate: date, PriceYes: 0.55, QYes: 10, QNo: 0,
	}))
	// Second write same day overwrites, no unique violation.
	require.NoError(t, db.UpsertPriceSnapshot(ctx, domain.PriceSnapshot{
		MarketID: m.ID, SnapshotDate: date, PriceYes: 0.60, QYes: 20, QNo: 0,
	}))

	require.NoError(t, db.UpsertEquitySnapshot(ctx, domain.EquitySnapshot{
		ModelID: "claude-opus", SnapshotDate: date,
		CashBalance: 99_000, PositionsValue: 1_200, TotalEquity: 100_200,
	}))
	require.NoError(t, db.UpsertEquitySnapshot(ctx, domain.EquitySnapshot{
		ModelID: "claude-opus", SnapshotDate: date,
		CashBalance: 98_000, PositionsValue: 2_400, TotalEquity: 100_400,
	}))
}

func TestStore_RuntimeConfig(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	cfg, err := db.GetRuntimeConfig(ctx)
	require.NoError(t, err)
	defaults := domain.DefaultRuntimeConfig()
	assert.Equal(t, defaults.WarmupRunCount, cfg.WarmupRunCount)
	assert.InDelta(t, defaults.WarmupMaxTradeUSD, cfg.WarmupMaxTradeUSD, 1e-9)
	assert.InDelta(t, defaults.WarmupBuyCashFraction, cfg.WarmupBuyCashFraction, 1e-9)
	assert.InDelta(t, defaults.OpeningLMSRB, cfg.OpeningLMSRB, 1e-9)

	runs := 5
	b := 50_000.0
	updated, err := db.UpdateRuntimeConfig(ctx, domain.RuntimeConfigPatch{
		WarmupRunCount: &runs,
		OpeningLMSRB:   &b,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.WarmupRunCount)
	assert.InDelta(t, 50_000, updated.OpeningLMSRB, 1e-9)
	// Untouched fields keep their values.
	assert.InDelta(t, defaults.WarmupMaxTradeUSD, updated.WarmupMaxTradeUSD, 1e-9)

	// The update persisted.
	cfg, err = db.GetRuntimeConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.WarmupRunCount)

	// Empty and out-of-bounds patches are rejected.
	_, err = db.UpdateRuntimeConfig(ctx, domain.RuntimeConfigPatch{})
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)

	badRuns := 400
	_, err = db.UpdateRuntimeConfig(ctx, domain.RuntimeConfigPatch{WarmupRunCount: &badRuns})
	require.ErrorAs(t, err, &validation)
}
