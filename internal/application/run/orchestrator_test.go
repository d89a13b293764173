package run_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/fdamarket/internal/adapters/storage"
	"github.com/alejandrodnm/fdamarket/internal/application/run"
	"github.com/alejandrodnm/fdamarket/internal/domain"
	"github.com/alejandrodnm/fdamarket/internal/ports"
)

// fakeDecider scripts decisions per model for orchestrator tests.
type fakeDecider struct {
	id      string
	enabled bool
	decide  func(domain.DecisionContext) (*domain.Decision, error)
	calls   int
}

func (f *fakeDecider) ModelID() string { return f.id }
func (f *fakeDecider) Enabled() bool   { return f.enabled }
func (f *fakeDecider) Decide(_ context.Context, dc domain.DecisionContext) (*domain.Decision, error) {
	f.calls++
	return f.decide(dc)
}

func holdDecider(id string) *fakeDecider {
	return &fakeDecider{id: id, enabled: true, decide: func(domain.DecisionContext) (*domain.Decision, error) {
		return &domain.Decision{Action: domain.ActionHold, Explanation: "Waiting for more data."}, nil
	}}
}

func allHoldDeciders() []ports.Decider {
	out := make([]ports.Decider, 0, len(domain.ModelIDs))
	for _, id := range domain.ModelIDs {
		out = append(out, holdDecider(id))
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupMarkets(t *testing.T, db *storage.Store, n int) []domain.Market {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.EnsureAccounts(ctx, domain.ModelIDs, domain.DefaultStartingCash))

	for i := 0; i < n; i++ {
		e := &domain.Event{
			DrugName:     fmt.Sprintf("Drug-%d", i),
			CompanyName:  "Acme Pharma",
			DecisionDate: civil.Date{Year: 2026, Month: 12, Day: 1 + i},
		}
		require.NoError(t, db.CreateEvent(ctx, e))
		_, err := db.OpenMarket(ctx, e.ID, 0.5, 10_000)
		require.NoError(t, err)
	}

	markets, err := db.ListOpenMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, n)
	return markets
}

// stateHash summarizes the mutable ledger state that trades touch.
func stateHash(t *testing.T, db *storage.Store) string {
	t.Helper()
	ctx := context.Background()

	var out string
	markets, err := db.ListOpenMarkets(ctx)
	require.NoError(t, err)
	for _, m := range markets {
		out += fmt.Sprintf("m:%s:%.9f:%.9f:%.9f|", m.ID, m.QYes, m.QNo, m.PriceYes)
	}
	accounts, err := db.ListAccounts(ctx)
	require.NoError(t, err)
	for _, a := range accounts {
		out += fmt.Sprintf("a:%s:%.9f|", a.ModelID, a.CashBalance)
		positions, err := db.ListPositionsByModel(ctx, a.ModelID)
		require.NoError(t, err)
		for _, p := range positions {
			out += fmt.Sprintf("p:%s:%.9f:%.9f|", p.MarketID, p.YesShares, p.NoShares)
		}
	}
	return out
}

func TestExecuteDailyRun_HappyPath(t *testing.T) {
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	markets := setupMarkets(t, db, 2)

	deciders := []ports.Decider{
		&fakeDecider{id: "claude-opus", enabled: true, decide: func(dc domain.DecisionContext) (*domain.Decision, error) {
			return &domain.Decision{Action: domain.ActionBuyYes, AmountUSD: 5_000, Explanation: "Approval looks likely."}, nil
		}},
		holdDecider("gpt-5.2"),
		holdDecider("grok-4"),
		holdDecider("gemini-2.5"),
	}

	o := run.NewOrchestrator(db, deciders, nil, testLogger())
	report, err := o.ExecuteDailyRun(ctx, runDate)
	require.NoError(t, err)

	assert.Equal(t, 8, report.Total)
	assert.Equal(t, 8, report.Processed)
	assert.Equal(t, domain.RunSummary{OK: 8}, report.Summary)
	assert.False(t, report.Resumed)
	assert.Len(t, report.Results, 8)

	// Buys went through on both markets, reduced by the warm-up cap.
	acct, err := db.GetAccount(ctx, "claude-opus")
	require.NoError(t, err)
	assert.Less(t, acct.CashBalance, float64(domain.DefaultStartingCash))

	a, err := db.GetAction(ctx, markets[0].ID, "claude-opus", runDate)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuyYes, a.Action)
	assert.Equal(t, domain.ActionOK, a.Status)
	assert.InDelta(t, 1_000, a.USDAmount, 1e-6) // min(1000, 100000 * 0.02)
	assert.Contains(t, a.Explanation, "Warm-up cap reduced request to $1000.00.")

	// Every pair has its audit row and the run record is completed.
	for _, m := range markets {
		for _, modelID := range domain.ModelIDs {
			_, err := db.GetAction(ctx, m.ID, modelID, runDate)
			require.NoError(t, err)
		}
	}
	r, err := db.GetRunByDate(ctx, runDate)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, r.Status)
	assert.Equal(t, 8, r.Processed)
	assert.Equal(t, 8, r.OKCount)
}

func TestExecuteDailyRun_CompletedRunIsResumed(t *testing.T) {
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	setupMarkets(t, db, 1)
	deciders := allHoldDeciders()
	o := run.NewOrchestrator(db, deciders, nil, testLogger())

	first, err := o.ExecuteDailyRun(ctx, runDate)
	require.NoError(t, err)

	hash := stateHash(t, db)
	second, err := o.ExecuteDailyRun(ctx, runDate)
	require.NoError(t, err)

	assert.True(t, second.Resumed)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Processed, second.Processed)
	assert.Equal(t, hash, stateHash(t, db), "a resumed run must not touch market state")

	// The deciders were not called again.
	for _, d := range deciders {
		assert.Equal(t, 1, d.(*fakeDecider).calls)
	}
}

func TestExecuteDailyRun_ClaimedSlotsSkipOnRerun(t *testing.T) {
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	setupMarkets(t, db, 1)
	o := run.NewOrchestrator(db, allHoldDeciders(), nil, testLogger())

	first, err := o.ExecuteDailyRun(ctx, runDate)
	require.NoError(t, err)
	require.Equal(t, 4, first.Summary.OK)

	// Force the run row back to failed: the rerun reprocesses pairs but
	// every slot is already claimed.
	require.NoError(t, db.FinishRun(ctx, first.RunID, domain.RunFailed, first.Processed, first.Summary, "interrupted"))

	hash := stateHash(t, db)
	second, err := o.ExecuteDailyRun(ctx, runDate)
	require.NoError(t, err)

	assert.False(t, second.Resumed)
	assert.Equal(t, domain.RunSummary{Skipped: 4}, second.Summary)
	assert.Equal(t, hash, stateHash(t, db))
}

func TestExecuteDailyRun_SingleFailureIsContained(t *testing.T) {
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	markets := setupMarkets(t, db, 1)

	deciders := []ports.Decider{
		holdDecider("claude-opus"),
		&fakeDecider{id: "gpt-5.2", enabled: true, decide: func(domain.DecisionContext) (*domain.Decision, error) {
			return nil, &domain.AdapterError{ModelID: "gpt-5.2", Code: domain.ErrCodeRateLimited, Msg: "decision call failed", Err: errors.New("429")}
		}},
		holdDecider("grok-4"),
		holdDecider("gemini-2.5"),
	}

	o := run.NewOrchestrator(db, deciders, nil, testLogger())
	report, err := o.ExecuteDailyRun(ctx, runDate)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, domain.RunSummary{OK: 3, Error: 1}, report.Summary)

	a, err := db.GetAction(ctx, markets[0].ID, "gpt-5.2", runDate)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionError, a.Status)
	assert.Equal(t, domain.ErrCodeRateLimited, a.ErrorCode)
}

func TestExecuteDailyRun_ErroredSlotIsRetried(t *testing.T) {
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	markets := setupMarkets(t, db, 1)

	failing := &fakeDecider{id: "gpt-5.2", enabled: true, decide: func(domain.DecisionContext) (*domain.Decision, error) {
		return nil, &domain.AdapterError{ModelID: "gpt-5.2", Code: domain.ErrCodeTimeout, Msg: "decision call failed"}
	}}
	deciders := []ports.Decider{holdDecider("claude-opus"), failing, holdDecider("grok-4"), holdDecider("gemini-2.5")}
	o := run.NewOrchestrator(db, deciders, nil, testLogger())

	first, err := o.ExecuteDailyRun(ctx, runDate)
	require.NoError(t, err)
	require.Equal(t, 1, first.Summary.Error)

	// Heal the decider and rerun the same date: the errored slot is retried,
	// the ok slots are skipped.
	require.NoError(t, db.FinishRun(ctx, first.RunID, domain.RunFailed, first.Processed, first.Summary, "partial"))
	failing.decide = func(domain.DecisionContext) (*domain.Decision, error) {
		return &domain.Decision{Action: domain.ActionBuyNo, AmountUSD: 100, Explanation: "Rejection risk underpriced."}, nil
	}

	second, err := o.ExecuteDailyRun(ctx, runDate)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSummary{OK: 1, Skipped: 3}, second.Summary)

	a, err := db.GetAction(ctx, markets[0].ID, "gpt-5.2", runDate)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionOK, a.Status)
	assert.Equal(t, domain.ActionBuyNo, a.Action)
}

func TestExecuteDailyRun_DisabledDeciderRecordsAPIKeyMissing(t *testing.T) {
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	markets := setupMarkets(t, db, 1)

	deciders := allHoldDeciders()
	deciders[2].(*fakeDecider).enabled = false // grok-4
	o := run.NewOrchestrator(db, deciders, nil, testLogger())

	report, err := o.ExecuteDailyRun(ctx, runDate)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSummary{OK: 3, Error: 1}, report.Summary)

	a, err := db.GetAction(ctx, markets[0].ID, "grok-4", runDate)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrCodeAPIKeyMissing, a.ErrorCode)
}

func TestExecuteDailyRun_SnapshotsWritten(t *testing.T) {
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	runDate := civil.Date{Year: 2026, Month: 8, Day: 29}

	setupMarkets(t, db, 2)
	o := run.NewOrchestrator(db, allHoldDeciders(), nil, testLogger())

	_, err = o.ExecuteDailyRun(ctx, runDate)
	require.NoError(t, err)

	// Snapshot upserts for the same (entity, date) must not conflict when
	// the date is rerun, which the lifecycle and orchestrator both rely on.
	require.NoError(t, db.UpsertEquitySnapshot(ctx, domain.EquitySnapshot{
		ModelID: "claude-opus", SnapshotDate: runDate,
		CashBalance: 1, PositionsValue: 0, TotalEquity: 1,
	}))
}

func TestExecuteDailyRun_ModelOrderRotates(t *testing.T) {
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	setupMarkets(t, db, 1)
	o := run.NewOrchestrator(db, allHoldDeciders(), nil, testLogger())

	d1 := civil.Date{Year: 2026, Month: 8, Day: 29}
	d2 := d1.AddDays(1)

	r1, err := o.ExecuteDailyRun(ctx, d1)
	require.NoError(t, err)
	r2, err := o.ExecuteDailyRun(ctx, d2)
	require.NoError(t, err)

	assert.NotEqual(t, r1.ModelOrder, r2.ModelOrder)
	assert.ElementsMatch(t, r1.ModelOrder, r2.ModelOrder)
	assert.Equal(t, r1.ModelOrder[1], r2.ModelOrder[0], "order advances by one each day")
}
