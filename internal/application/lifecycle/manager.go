// Package lifecycle drives market state transitions from upstream
// regulatory outcomes: opening, resolving on a decision, and reopening
// when a decision is walked back to pending.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/fdamarket/internal/domain"
	"github.com/alejandrodnm/fdamarket/internal/ports"
)

// DefaultOpeningProbability is the historical PDUFA approval base rate
// (193 approvals out of 238 decisions), used when the admin opens a market
// without an explicit prior.
const DefaultOpeningProbability = 193.0 / 238.0

// Manager implements admin-facing market lifecycle operations on the ledger.
type Manager struct {
	ledger ports.Ledger
	log    *slog.Logger
}

func NewManager(ledger ports.Ledger, log *slog.Logger) *Manager {
	return &Manager{ledger: ledger, log: log}
}

// OpenMarket opens a market for a pending event. A probability <= 0 falls
// back to the historical approval baseline; the liquidity parameter always
// comes from the runtime config.
func (m *Manager) OpenMarket(ctx context.Context, eventID string, probability float64) (*domain.Market, error) {
	cfg, err := m.ledger.GetRuntimeConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.OpenMarket: %w", err)
	}
	if probability <= 0 {
		probability = DefaultOpeningProbability
	}

	if err := m.ledger.EnsureAccounts(ctx, domain.ModelIDs, domain.DefaultStartingCash); err != nil {
		return nil, fmt.Errorf("lifecycle.OpenMarket: %w", err)
	}

	market, err := m.ledger.OpenMarket(ctx, eventID, probability, cfg.OpeningLMSRB)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.OpenMarket: %w", err)
	}

	m.log.Info("market opened",
		"market_id", market.ID,
		"event_id", eventID,
		"opening_probability", market.OpeningProbability,
		"b", market.B)
	return market, nil
}

// SetEventOutcome records the upstream decision and applies its market
// consequence: Approved/Rejected resolves the market, Pending reopens a
// resolved one. The ledger writes the market transition and the event
// outcome in one transaction, so the two can never end up out of step.
func (m *Manager) SetEventOutcome(ctx context.Context, eventID string, outcome domain.Outcome) error {
	switch outcome {
	case domain.OutcomeApproved, domain.OutcomeRejected:
		if err := m.ledger.ResolveMarket(ctx, eventID, outcome); err != nil {
			return fmt.Errorf("lifecycle.SetEventOutcome: %w", err)
		}
	case domain.OutcomePending:
		if err := m.ledger.ReopenMarket(ctx, eventID); err != nil {
			return fmt.Errorf("lifecycle.SetEventOutcome: %w", err)
		}
	default:
		return &domain.ValidationError{Msg: fmt.Sprintf("unknown outcome %q", outcome)}
	}

	m.log.Info("event outcome set", "event_id", eventID, "outcome", outcome)

	if err := m.refreshSnapshots(ctx, eventID); err != nil {
		return fmt.Errorf("lifecycle.SetEventOutcome: %w", err)
	}
	return nil
}

// refreshSnapshots rewrites today's price snapshot for the transitioned
// market and today's equity snapshot for every model, so a resolution that
// moves cash is visible in the daily series immediately.
func (m *Manager) refreshSnapshots(ctx context.Context, eventID string) error {
	today := domain.RunDateOf(time.Now())

	market, err := m.ledger.GetMarketByEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if err := m.ledger.UpsertPriceSnapshot(ctx, domain.PriceSnapshot{
		MarketID:     market.ID,
		SnapshotDate: today,
		PriceYes:     market.PriceYes,
		QYes:         market.QYes,
		QNo:          market.QNo,
	}); err != nil {
		return err
	}

	accounts, err := m.ledger.ListAccounts(ctx)
	if err != nil {
		return err
	}
	openMarkets, err := m.ledger.ListOpenMarkets(ctx)
	if err != nil {
		return err
	}
	prices := make(map[string]float64, len(openMarkets))
	for _, om := range openMarkets {
		prices[om.ID] = om.PriceYes
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, acct := range accounts {
		g.Go(func() error {
			positions, err := m.ledger.ListPositionsByModel(gctx, acct.ModelID)
			if err != nil {
				return err
			}
			var value float64
			for _, pos := range positions {
				if p, ok := prices[pos.MarketID]; ok {
					value += pos.Value(p)
				}
			}
			return m.ledger.UpsertEquitySnapshot(gctx, domain.EquitySnapshot{
				ModelID:        acct.ModelID,
				SnapshotDate:   today,
				CashBalance:    acct.CashBalance,
				PositionsValue: value,
				TotalEquity:    acct.CashBalance + value,
			})
		})
	}
	return g.Wait()
}
