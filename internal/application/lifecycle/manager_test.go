package lifecycle_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/fdamarket/internal/adapters/storage"
	"github.com/alejandrodnm/fdamarket/internal/application/lifecycle"
	"github.com/alejandrodnm/fdamarket/internal/domain"
)

func newManager(t *testing.T) (*lifecycle.Manager, *storage.Store) {
	t.Helper()
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return lifecycle.NewManager(db, log), db
}

func createEvent(t *testing.T, db *storage.Store) *domain.Event {
	t.Helper()
	e := &domain.Event{
		DrugName:        "Zolpira",
		CompanyName:     "Acme Pharma",
		ApplicationType: "NDA",
		DecisionDate:    civil.Date{Year: 2026, Month: 12, Day: 15},
	}
	require.NoError(t, db.CreateEvent(context.Background(), e))
	return e
}

func TestManager_OpenMarket_DefaultProbability(t *testing.T) {
	mgr, db := newManager(t)
	ctx := context.Background()
	e := createEvent(t, db)

	m, err := mgr.OpenMarket(ctx, e.ID, 0)
	require.NoError(t, err)
	assert.InDelta(t, lifecycle.DefaultOpeningProbability, m.PriceYes, 1e-9)
	assert.InDelta(t, domain.DefaultRuntimeConfig().OpeningLMSRB, m.B, 1e-9)

	// Accounts were created as a side effect.
	accounts, err := db.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, len(domain.ModelIDs))
}

func TestManager_OpenMarket_ExplicitProbabilityAndConfiguredB(t *testing.T) {
	mgr, db := newManager(t)
	ctx := context.Background()
	e := createEvent(t, db)

	b := 25_000.0
	_, err := db.UpdateRuntimeConfig(ctx, domain.RuntimeConfigPatch{OpeningLMSRB: &b})
	require.NoError(t, err)

	m, err := mgr.OpenMarket(ctx, e.ID, 0.42)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, m.PriceYes, 1e-9)
	assert.InDelta(t, 25_000, m.B, 1e-9)
}

func TestManager_SetEventOutcome_ResolveAndReopen(t *testing.T) {
	mgr, db := newManager(t)
	ctx := context.Background()
	e := createEvent(t, db)

	_, err := mgr.OpenMarket(ctx, e.ID, 0.5)
	require.NoError(t, err)

	m, err := db.GetMarketByEvent(ctx, e.ID)
	require.NoError(t, err)
	_, err = db.ApplyTrade(ctx, m.ID, "claude-opus", domain.ActionBuyYes, 1_000)
	require.NoError(t, err)

	require.NoError(t, mgr.SetEventOutcome(ctx, e.ID, domain.OutcomeApproved))

	got, err := db.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, got.Outcome)

	m, err = db.GetMarketByEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketResolved, m.Status)

	// Payout landed in cash before the equity snapshot was taken.
	acct, err := db.GetAccount(ctx, "claude-opus")
	require.NoError(t, err)
	assert.Greater(t, acct.CashBalance, float64(domain.DefaultStartingCash)-1_000)

	// Walking the outcome back reopens the market.
	require.NoError(t, mgr.SetEventOutcome(ctx, e.ID, domain.OutcomePending))

	m, err = db.GetMarketByEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketOpen, m.Status)
	assert.Empty(t, m.ResolvedOutcome)

	got, err = db.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, got.Outcome)
}

func TestManager_SetEventOutcome_InvalidTransitions(t *testing.T) {
	mgr, db := newManager(t)
	ctx := context.Background()
	e := createEvent(t, db)

	_, err := mgr.OpenMarket(ctx, e.ID, 0.5)
	require.NoError(t, err)

	// Pending on an open market has nothing to reopen.
	err = mgr.SetEventOutcome(ctx, e.ID, domain.OutcomePending)
	var invalid *domain.InvalidStateError
	require.ErrorAs(t, err, &invalid)

	// Event outcome must be untouched after the failed transition.
	got, err := db.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, got.Outcome)

	require.NoError(t, mgr.SetEventOutcome(ctx, e.ID, domain.OutcomeApproved))
	err = mgr.SetEventOutcome(ctx, e.ID, domain.OutcomeRejected)
	require.ErrorAs(t, err, &invalid)

	err = mgr.SetEventOutcome(ctx, e.ID, "Maybe")
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
}
