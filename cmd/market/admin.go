package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"

	"github.com/alejandrodnm/fdamarket/internal/adapters/notify"
	"github.com/alejandrodnm/fdamarket/internal/application/lifecycle"
	"github.com/alejandrodnm/fdamarket/internal/domain"
	"github.com/alejandrodnm/fdamarket/internal/ports"
)

// cmdAddEvent registers a tracked event from a pipe-separated spec:
// drug|company|symbols|applicationType|decisionDate|therapeuticArea[|description]
func cmdAddEvent(ctx context.Context, ledger ports.Ledger, spec string) error {
	parts := strings.Split(spec, "|")
	if len(parts) < 6 {
		return fmt.Errorf("expected drug|company|symbols|type|YYYY-MM-DD|area[|description], got %d fields", len(parts))
	}
	decisionDate, err := civil.ParseDate(strings.TrimSpace(parts[4]))
	if err != nil {
		return fmt.Errorf("invalid decision date %q: %w", parts[4], err)
	}

	event := &domain.Event{
		ID:              uuid.NewString(),
		DrugName:        strings.TrimSpace(parts[0]),
		CompanyName:     strings.TrimSpace(parts[1]),
		Symbols:         strings.TrimSpace(parts[2]),
		ApplicationType: strings.TrimSpace(parts[3]),
		DecisionDate:    decisionDate,
		TherapeuticArea: strings.TrimSpace(parts[5]),
		Outcome:         domain.OutcomePending,
	}
	if len(parts) > 6 {
		event.Description = strings.TrimSpace(parts[6])
	}
	if event.DrugName == "" || event.CompanyName == "" {
		return fmt.Errorf("drug and company are required")
	}

	if err := ledger.CreateEvent(ctx, event); err != nil {
		return err
	}
	fmt.Printf("event %s created: %s (%s), decision %s\n",
		event.ID, event.DrugName, event.CompanyName, event.DecisionDate)
	return nil
}

func cmdOpenMarket(ctx context.Context, manager *lifecycle.Manager, eventID string, probability float64) error {
	market, err := manager.OpenMarket(ctx, eventID, probability)
	if err != nil {
		return err
	}
	fmt.Printf("market %s opened for event %s at YES %.2f%% (b=%.0f)\n",
		market.ID, market.EventID, market.PriceYes*100, market.B)
	return nil
}

func cmdSetOutcome(ctx context.Context, manager *lifecycle.Manager, eventID, outcome string) error {
	var o domain.Outcome
	switch strings.ToLower(strings.TrimSpace(outcome)) {
	case "approved":
		o = domain.OutcomeApproved
	case "rejected":
		o = domain.OutcomeRejected
	case "pending":
		o = domain.OutcomePending
	default:
		return fmt.Errorf("invalid -outcome %q: want Approved, Rejected or Pending", outcome)
	}

	if err := manager.SetEventOutcome(ctx, eventID, o); err != nil {
		return err
	}
	fmt.Printf("event %s outcome set to %s\n", eventID, o)
	return nil
}

func cmdShowConfig(ctx context.Context, ledger ports.Ledger) error {
	cfg, err := ledger.GetRuntimeConfig(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("warmup_run_count         %d\n", cfg.WarmupRunCount)
	fmt.Printf("warmup_max_trade_usd     %.2f\n", cfg.WarmupMaxTradeUSD)
	fmt.Printf("warmup_buy_cash_fraction %.4f\n", cfg.WarmupBuyCashFraction)
	fmt.Printf("opening_lmsr_b           %.2f\n", cfg.OpeningLMSRB)
	fmt.Printf("updated_at               %s\n", cfg.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func cmdSetConfig(ctx context.Context, ledger ports.Ledger, pairs string) error {
	patch, err := parseConfigPatch(pairs)
	if err != nil {
		return err
	}
	cfg, err := ledger.UpdateRuntimeConfig(ctx, patch)
	if err != nil {
		return err
	}
	fmt.Println("runtime config updated")
	fmt.Printf("warmup_run_count         %d\n", cfg.WarmupRunCount)
	fmt.Printf("warmup_max_trade_usd     %.2f\n", cfg.WarmupMaxTradeUSD)
	fmt.Printf("warmup_buy_cash_fraction %.4f\n", cfg.WarmupBuyCashFraction)
	fmt.Printf("opening_lmsr_b           %.2f\n", cfg.OpeningLMSRB)
	return nil
}

// parseConfigPatch turns "key=value,key=value" into a runtime config patch.
func parseConfigPatch(pairs string) (domain.RuntimeConfigPatch, error) {
	var patch domain.RuntimeConfigPatch
	for _, pair := range strings.Split(pairs, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return patch, fmt.Errorf("invalid pair %q: want key=value", pair)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "warmup_run_count":
			n, err := strconv.Atoi(value)
			if err != nil {
				return patch, fmt.Errorf("invalid %s: %w", key, err)
			}
			patch.WarmupRunCount = &n
		case "warmup_max_trade_usd", "warmup_buy_cash_fraction", "opening_lmsr_b":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return patch, fmt.Errorf("invalid %s: %w", key, err)
			}
			switch key {
			case "warmup_max_trade_usd":
				patch.WarmupMaxTradeUSD = &f
			case "warmup_buy_cash_fraction":
				patch.WarmupBuyCashFraction = &f
			case "opening_lmsr_b":
				patch.OpeningLMSRB = &f
			}
		default:
			return patch, fmt.Errorf("unknown config key %q", key)
		}
	}
	return patch, nil
}

// cmdLeaderboard values every model's open positions at current prices and
// ranks by total equity.
func cmdLeaderboard(ctx context.Context, ledger ports.Ledger, console *notify.Console) error {
	accounts, err := ledger.ListAccounts(ctx)
	if err != nil {
		return err
	}
	markets, err := ledger.ListOpenMarkets(ctx)
	if err != nil {
		return err
	}
	priceByMarket := make(map[string]float64, len(markets))
	for _, m := range markets {
		priceByMarket[m.ID] = m.PriceYes
	}

	rows := make([]notify.LeaderboardRow, 0, len(accounts))
	for _, acct := range accounts {
		positions, err := ledger.ListPositionsByModel(ctx, acct.ModelID)
		if err != nil {
			return err
		}
		var positionsValue float64
		for _, p := range positions {
			price, open := priceByMarket[p.MarketID]
			if !open {
				continue
			}
			positionsValue += p.Value(price)
		}
		equity := acct.CashBalance + positionsValue
		rows = append(rows, notify.LeaderboardRow{
			ModelID:        acct.ModelID,
			CashBalance:    acct.CashBalance,
			PositionsValue: positionsValue,
			TotalEquity:    equity,
			ProfitLoss:     equity - acct.StartingCash,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TotalEquity > rows[j].TotalEquity })

	console.PrintLeaderboard(rows)
	return nil
}
