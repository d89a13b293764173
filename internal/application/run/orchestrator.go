// Package run executes the daily decision cycle: every competing model
// decides on every open market exactly once per day, with full audit rows
// and end-of-day snapshots.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-sql/civil"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/fdamarket/internal/domain"
	"github.com/alejandrodnm/fdamarket/internal/ports"
)

// Orchestrator runs the daily cycle against the ledger. Pairs are processed
// sequentially so every decision sees the prices the previous ones moved.
type Orchestrator struct {
	ledger   ports.Ledger
	deciders map[string]ports.Decider
	notifier ports.RunNotifier
	log      *slog.Logger
}

func NewOrchestrator(ledger ports.Ledger, deciders []ports.Decider, notifier ports.RunNotifier, log *slog.Logger) *Orchestrator {
	byModel := make(map[string]ports.Decider, len(deciders))
	for _, d := range deciders {
		byModel[d.ModelID()] = d
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Orchestrator{ledger: ledger, deciders: byModel, notifier: notifier, log: log}
}

// ExecuteDailyRun runs the cycle for runDate. Calling it again for a date
// whose run already completed returns the stored counts without touching
// any market. A failing pair is contained to its action row; only
// scaffolding failures (listing, snapshots, run bookkeeping) fail the run.
func (o *Orchestrator) ExecuteDailyRun(ctx context.Context, runDate civil.Date) (*domain.RunReport, error) {
	if existing, err := o.ledger.GetRunByDate(ctx, runDate); err == nil && existing.Status == domain.RunCompleted {
		report := &domain.RunReport{
			RunID:       existing.ID,
			RunDate:     runDate,
			ModelOrder:  domain.RotateModelOrder(runDate, domain.ModelIDs),
			OpenMarkets: existing.OpenMarkets,
			Total:       existing.TotalActions,
			Processed:   existing.Processed,
			Summary: domain.RunSummary{
				OK:      existing.OKCount,
				Error:   existing.ErrorCount,
				Skipped: existing.SkippedCount,
			},
			Resumed: true,
		}
		o.notifier.RunFinished(report, nil)
		return report, nil
	}

	if err := o.ledger.EnsureAccounts(ctx, domain.ModelIDs, domain.DefaultStartingCash); err != nil {
		return nil, fmt.Errorf("run.ExecuteDailyRun: %w", err)
	}

	cfg, err := o.ledger.GetRuntimeConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("run.ExecuteDailyRun: %w", err)
	}

	markets, err := o.ledger.ListOpenMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("run.ExecuteDailyRun: %w", err)
	}
	events := make(map[string]*domain.Event, len(markets))
	for _, m := range markets {
		if _, ok := events[m.EventID]; ok {
			continue
		}
		event, err := o.ledger.GetEvent(ctx, m.EventID)
		if err != nil {
			return nil, fmt.Errorf("run.ExecuteDailyRun: %w", err)
		}
		events[m.EventID] = event
	}

	modelOrder := domain.RotateModelOrder(runDate, domain.ModelIDs)
	total := len(markets) * len(modelOrder)

	runRecord, err := o.ledger.StartRun(ctx, runDate, len(markets), total)
	if err != nil {
		o.notifier.RunFinished(nil, err)
		return nil, fmt.Errorf("run.ExecuteDailyRun: %w", err)
	}

	o.notifier.RunStarted(runDate.String(), modelOrder, len(markets), total)
	o.log.Info("daily run started",
		"run_date", runDate.String(), "open_markets", len(markets), "total_actions", total)

	// Breadth context shared across pairs; prices are kept current as trades
	// move them during the run.
	briefs := make([]domain.MarketBrief, len(markets))
	briefByID := make(map[string]*domain.MarketBrief, len(markets))
	for i, m := range markets {
		event := events[m.EventID]
		briefs[i] = domain.MarketBrief{
			MarketID:     m.ID,
			EventID:      m.EventID,
			DrugName:     event.DrugName,
			CompanyName:  event.CompanyName,
			DecisionDate: event.DecisionDate.String(),
			PriceYes:     m.PriceYes,
		}
		briefByID[m.ID] = &briefs[i]
	}

	report := &domain.RunReport{
		RunID:       runRecord.ID,
		RunDate:     runDate,
		ModelOrder:  modelOrder,
		OpenMarkets: len(markets),
		Total:       total,
	}

	for mi, market := range markets {
		for _, modelID := range modelOrder {
			result := o.processPair(ctx, pairInput{
				runID:      runRecord.ID,
				runDate:    runDate,
				cfg:        cfg,
				marketID:   market.ID,
				event:      events[market.EventID],
				modelID:    modelID,
				briefs:     briefs,
				briefByID:  briefByID,
				total:      len(markets),
				remaining:  len(markets) - (mi + 1),
			})

			report.Results = append(report.Results, result)
			report.Summary.Add(result)
			report.Processed++
			o.notifier.PairProcessed(report.Processed, total, result)

			if err := o.ledger.HeartbeatRun(ctx, runRecord.ID, report.Processed, report.Summary); err != nil {
				o.log.Warn("run heartbeat failed", "error", err)
			}
			if err := ctx.Err(); err != nil {
				return nil, o.failRun(ctx, runRecord.ID, report, err)
			}
		}
	}

	if err := o.writeDailySnapshots(ctx, runDate); err != nil {
		return nil, o.failRun(ctx, runRecord.ID, report, err)
	}

	if err := o.ledger.FinishRun(ctx, runRecord.ID, domain.RunCompleted, report.Processed, report.Summary, ""); err != nil {
		return nil, o.failRun(ctx, runRecord.ID, report, err)
	}

	o.notifier.RunFinished(report, nil)
	o.log.Info("daily run completed",
		"run_date", runDate.String(),
		"ok", report.Summary.OK, "error", report.Summary.Error, "skipped", report.Summary.Skipped)
	return report, nil
}

func (o *Orchestrator) failRun(ctx context.Context, runID string, report *domain.RunReport, cause error) error {
	err := fmt.Errorf("run.ExecuteDailyRun: %w", cause)
	if ferr := o.ledger.FinishRun(ctx, runID, domain.RunFailed, report.Processed, report.Summary, cause.Error()); ferr != nil {
		o.log.Error("failed to mark run as failed", "error", ferr)
	}
	o.notifier.RunFinished(nil, cause)
	return err
}

type pairInput struct {
	runID     string
	runDate   civil.Date
	cfg       *domain.RuntimeConfig
	marketID  string
	event     *domain.Event
	modelID   string
	briefs    []domain.MarketBrief
	briefByID map[string]*domain.MarketBrief
	total     int
	remaining int
}

// processPair decides and settles one (market, model) slot. It never
// returns an error: every failure mode becomes an error-status result with
// an audit row, and the run moves on.
func (o *Orchestrator) processPair(ctx context.Context, in pairInput) domain.PairResult {
	base := domain.PairResult{
		MarketID: in.marketID,
		EventID:  in.event.ID,
		ModelID:  in.modelID,
		Action:   domain.ActionHold,
	}

	// Idempotency: a slot already decided this run date stays decided.
	// Prior error rows are cleared and retried.
	existing, err := o.ledger.GetAction(ctx, in.marketID, in.modelID, in.runDate)
	switch {
	case err == nil && existing.Status == domain.ActionError:
		if err := o.ledger.DeleteAction(ctx, existing.ID); err != nil {
			return o.errorResult(ctx, in, base, err)
		}
	case err == nil:
		base.Action = existing.Action
		base.AmountUSD = existing.USDAmount
		base.Status = domain.ActionSkipped
		base.Detail = "action already exists for this model/date"
		return base
	default:
		var notFound *domain.NotFoundError
		if !errors.As(err, &notFound) {
			return o.errorResult(ctx, in, base, err)
		}
	}

	// Re-read everything: earlier pairs this run have moved the state.
	market, err := o.ledger.GetMarket(ctx, in.marketID)
	if err != nil {
		return o.errorResult(ctx, in, base, err)
	}
	if market.Status != domain.MarketOpen {
		base.Status = domain.ActionSkipped
		base.Detail = "market is no longer open"
		return base
	}

	account, err := o.ledger.GetAccount(ctx, in.modelID)
	if err != nil {
		return o.errorResultCoded(ctx, in, base, market.PriceYes,
			domain.ErrCodeMissingState, "missing account or position state")
	}
	position, err := o.ledger.GetPosition(ctx, in.marketID, in.modelID)
	if err != nil {
		return o.errorResultCoded(ctx, in, base, market.PriceYes,
			domain.ErrCodeMissingState, "missing account or position state")
	}

	decider, ok := o.deciders[in.modelID]
	if !ok || !decider.Enabled() {
		return o.errorResultCoded(ctx, in, base, market.PriceYes,
			domain.ErrCodeAPIKeyMissing,
			fmt.Sprintf("%s decider is disabled because its API key is not configured", in.modelID))
	}

	var others []domain.MarketBrief
	for _, b := range in.briefs {
		if b.MarketID != in.marketID {
			others = append(others, b)
		}
	}

	decision, err := decider.Decide(ctx, domain.DecisionContext{
		RunDate:          in.runDate.String(),
		ModelID:          in.modelID,
		Event:            *in.event,
		PriceYes:         market.PriceYes,
		PriceNo:          market.PriceNo(),
		CashBalance:      account.CashBalance,
		YesShares:        position.YesShares,
		NoShares:         position.NoShares,
		TotalOpenMarkets: in.total,
		MarketsRemaining: in.remaining,
		OtherMarkets:     others,
	})
	if err != nil {
		return o.errorResultCoded(ctx, in, base, market.PriceYes, errorCode(err), err.Error())
	}

	capped := applyWarmupCap(decision.Action, decision.AmountUSD, account.CashBalance, market, in.runDate, in.cfg)
	explanation := decision.Explanation
	if capped.CapApplied {
		explanation = strings.TrimSpace(explanation + " " + capped.Note)
	}

	if decision.Action == domain.ActionHold || capped.AmountUSD <= 0 {
		return o.settle(ctx, in, base, &domain.TradeResult{
			Action:      domain.ActionHold,
			PriceBefore: market.PriceYes,
			PriceAfter:  market.PriceYes,
		}, explanation)
	}

	// The trade and its audit row commit in one transaction: the ledger can
	// never hold an applied trade without its ok row, so a rerun that clears
	// an errored slot cannot double-apply the same decision.
	trade, claimed, err := o.ledger.ApplyTradeAndRecord(ctx, &domain.Action{
		RunID:       in.runID,
		MarketID:    in.marketID,
		EventID:     in.event.ID,
		ModelID:     in.modelID,
		RunDate:     in.runDate,
		Explanation: explanation,
	}, decision.Action, capped.AmountUSD)
	if err != nil {
		// A trade that cannot move anything at all settles as a HOLD rather
		// than an error: the model made a valid decision against an empty
		// wallet or an empty position.
		var noFunds *domain.InsufficientFundsError
		var noShares *domain.InsufficientSharesError
		if errors.As(err, &noFunds) || errors.As(err, &noShares) {
			return o.settle(ctx, in, base, &domain.TradeResult{
				Action:      domain.ActionHold,
				PriceBefore: market.PriceYes,
				PriceAfter:  market.PriceYes,
			}, explanation)
		}
		return o.errorResultCoded(ctx, in, base, market.PriceYes, errorCode(err), err.Error())
	}
	if !claimed {
		base.Status = domain.ActionSkipped
		base.Detail = "action already exists for this model/date"
		return base
	}

	if brief, ok := in.briefByID[in.marketID]; ok {
		brief.PriceYes = trade.PriceAfter
	}
	base.Action = trade.Action
	base.AmountUSD = trade.USDAmount
	base.Status = domain.ActionOK
	base.Detail = explanation
	return base
}

// settle writes the ok audit row for a no-op outcome (a HOLD decision or a
// trade that clamped to nothing) and builds the pair result. Applied trades
// go through ApplyTradeAndRecord instead so the row commits with the trade.
// A lost claim means another attempt already owns the slot; the pair
// reports skipped and nothing else is touched.
func (o *Orchestrator) settle(ctx context.Context, in pairInput, base domain.PairResult, trade *domain.TradeResult, explanation string) domain.PairResult {
	claimed, err := o.ledger.RecordAction(ctx, &domain.Action{
		RunID:       in.runID,
		MarketID:    in.marketID,
		EventID:     in.event.ID,
		ModelID:     in.modelID,
		RunDate:     in.runDate,
		Action:      trade.Action,
		USDAmount:   trade.USDAmount,
		SharesDelta: trade.SharesDelta,
		PriceBefore: trade.PriceBefore,
		PriceAfter:  trade.PriceAfter,
		Explanation: explanation,
		Status:      domain.ActionOK,
	})
	if err != nil {
		return o.errorResult(ctx, in, base, err)
	}
	if !claimed {
		base.Status = domain.ActionSkipped
		base.Detail = "action already exists for this model/date"
		return base
	}

	base.Action = trade.Action
	base.AmountUSD = trade.USDAmount
	base.Status = domain.ActionOK
	base.Detail = explanation
	return base
}

func (o *Orchestrator) errorResult(ctx context.Context, in pairInput, base domain.PairResult, cause error) domain.PairResult {
	price := 0.5
	if m, err := o.ledger.GetMarket(ctx, in.marketID); err == nil {
		price = m.PriceYes
	}
	return o.errorResultCoded(ctx, in, base, price, errorCode(cause), cause.Error())
}

// errorResultCoded records the failed slot so reruns can find and retry it,
// then reports the pair as errored without failing the run.
func (o *Orchestrator) errorResultCoded(ctx context.Context, in pairInput, base domain.PairResult, price float64, code, detail string) domain.PairResult {
	if _, err := o.ledger.RecordAction(ctx, &domain.Action{
		RunID:       in.runID,
		MarketID:    in.marketID,
		EventID:     in.event.ID,
		ModelID:     in.modelID,
		RunDate:     in.runDate,
		Action:      domain.ActionHold,
		PriceBefore: price,
		PriceAfter:  price,
		Explanation: "",
		Status:      domain.ActionError,
		ErrorCode:   code,
		ErrorDetail: detail,
	}); err != nil {
		o.log.Error("failed to record error action", "market_id", in.marketID, "model_id", in.modelID, "error", err)
	}

	o.log.Warn("pair failed",
		"market_id", in.marketID, "model_id", in.modelID, "code", code, "detail", detail)

	base.Status = domain.ActionError
	base.Detail = detail
	return base
}

// writeDailySnapshots records the end-of-run price per open market and the
// mark-to-market equity per model. Writes are independent rows, so they run
// in parallel.
func (o *Orchestrator) writeDailySnapshots(ctx context.Context, runDate civil.Date) error {
	markets, err := o.ledger.ListOpenMarkets(ctx)
	if err != nil {
		return err
	}
	accounts, err := o.ledger.ListAccounts(ctx)
	if err != nil {
		return err
	}

	prices := make(map[string]float64, len(markets))
	for _, m := range markets {
		prices[m.ID] = m.PriceYes
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range markets {
		g.Go(func() error {
			return o.ledger.UpsertPriceSnapshot(gctx, domain.PriceSnapshot{
				MarketID:     m.ID,
				SnapshotDate: runDate,
				PriceYes:     m.PriceYes,
				QYes:         m.QYes,
				QNo:          m.QNo,
			})
		})
	}
	for _, acct := range accounts {
		g.Go(func() error {
			positions, err := o.ledger.ListPositionsByModel(gctx, acct.ModelID)
			if err != nil {
				return err
			}
			var value float64
			for _, pos := range positions {
				if p, ok := prices[pos.MarketID]; ok {
					value += pos.Value(p)
				}
			}
			return o.ledger.UpsertEquitySnapshot(gctx, domain.EquitySnapshot{
				ModelID:        acct.ModelID,
				SnapshotDate:   runDate,
				CashBalance:    acct.CashBalance,
				PositionsValue: value,
				TotalEquity:    acct.CashBalance + value,
			})
		})
	}
	return g.Wait()
}

// errorCode classifies a pair failure for the audit row. Adapter errors
// carry their code; anything else falls back to message heuristics.
func errorCode(err error) string {
	var aerr *domain.AdapterError
	if errors.As(err, &aerr) {
		return aerr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrCodeTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"):
		return domain.ErrCodeAPIKeyMissing
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return domain.ErrCodeRateLimited
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return domain.ErrCodeTimeout
	case strings.Contains(msg, "json") || strings.Contains(msg, "parse"):
		return domain.ErrCodeParse
	default:
		return domain.ErrCodeUnhandled
	}
}

type nopNotifier struct{}

func (nopNotifier) RunStarted(string, []string, int, int)     {}
func (nopNotifier) PairProcessed(int, int, domain.PairResult) {}
func (nopNotifier) RunFinished(*domain.RunReport, error)      {}
