package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/alejandrodnm/fdamarket/internal/domain"
	"github.com/alejandrodnm/fdamarket/internal/lmsr"
)

// errSlotTaken aborts the trade transaction when the audit slot is already
// owned, rolling the trade back with it.
var errSlotTaken = errors.New("action slot already claimed")

// ApplyTrade executes one model's trade against one market. Market q's and
// cached price, account cash and position shares all move in the same
// transaction so a crash can never leave them out of step. Buys clamp to
// the available cash; sells clamp to the held shares. A trade that clamps
// all the way to nothing is reported as HOLD at the unchanged price so the
// caller can still write a truthful audit row.
func (s *Store) ApplyTrade(ctx context.Context, marketID, modelID string, action domain.ActionType, usdAmount float64) (*domain.TradeResult, error) {
	if err := validateTradeInput(action, usdAmount); err != nil {
		return nil, err
	}

	var result *domain.TradeResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		r, err := s.applyTradeTx(ctx, tx, marketID, modelID, action, usdAmount)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage.ApplyTrade: %w", err)
	}
	return result, nil
}

// ApplyTradeAndRecord applies one trade and claims its (market, model,
// run date) audit slot in the same transaction. The trade and its ok row
// commit together or not at all, so the actions table is always an exact
// record of the trades that were applied and a rerun never double-applies
// a slot. A lost claim rolls the trade back and returns claimed=false with
// the ledger untouched.
func (s *Store) ApplyTradeAndRecord(ctx context.Context, a *domain.Action, action domain.ActionType, usdAmount float64) (*domain.TradeResult, bool, error) {
	if err := validateTradeInput(action, usdAmount); err != nil {
		return nil, false, err
	}
	if a.ID == "" {
		a.ID = newID()
	}

	var result *domain.TradeResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		r, err := s.applyTradeTx(ctx, tx, a.MarketID, a.ModelID, action, usdAmount)
		if err != nil {
			return err
		}

		// The audit row reports what was actually applied, which may be a
		// HOLD when the trade clamped to nothing.
		a.Action = r.Action
		a.USDAmount = r.USDAmount
		a.SharesDelta = r.SharesDelta
		a.PriceBefore = r.PriceBefore
		a.PriceAfter = r.PriceAfter
		a.Status = domain.ActionOK

		claimed, err := insertAction(ctx, tx, a)
		if err != nil {
			return err
		}
		if !claimed {
			return errSlotTaken
		}
		result = r
		return nil
	})
	if errors.Is(err, errSlotTaken) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage.ApplyTradeAndRecord: %w", err)
	}
	return result, true, nil
}

func validateTradeInput(action domain.ActionType, usdAmount float64) error {
	if !action.Valid() {
		return &domain.ValidationError{Msg: fmt.Sprintf("unknown action %q", action)}
	}
	if math.IsNaN(usdAmount) || math.IsInf(usdAmount, 0) || usdAmount < 0 {
		return &domain.ValidationError{Msg: fmt.Sprintf("usd amount must be finite and non-negative, got %v", usdAmount)}
	}
	return nil
}

// applyTradeTx runs the trade math and mutations inside the caller's
// transaction. It re-reads everything through tx: trade math must never run
// on state a previous pair already moved.
func (s *Store) applyTradeTx(ctx context.Context, tx *sql.Tx, marketID, modelID string, action domain.ActionType, usdAmount float64) (*domain.TradeResult, error) {
	m, err := scanMarket(tx.QueryRowContext(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = ?`, marketID), marketID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MarketOpen {
		return nil, &domain.InvalidStateError{Msg: fmt.Sprintf("market %s is not open for trading", marketID)}
	}

	var accountID string
	var cash float64
	err = tx.QueryRowContext(ctx,
		`SELECT id, cash_balance FROM accounts WHERE model_id = ?`, modelID).
		Scan(&accountID, &cash)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Entity: "account", ID: modelID}
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	var positionID string
	var yesShares, noShares float64
	err = tx.QueryRowContext(ctx,
		`SELECT id, yes_shares, no_shares FROM positions WHERE market_id = ? AND model_id = ?`,
		marketID, modelID).
		Scan(&positionID, &yesShares, &noShares)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Entity: "position", ID: marketID + "/" + modelID}
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}

	state := lmsr.State{QYes: m.QYes, QNo: m.QNo, B: m.B}

	switch {
	case action == domain.ActionHold:
		return &domain.TradeResult{
			Action:      domain.ActionHold,
			PriceBefore: m.PriceYes,
			PriceAfter:  m.PriceYes,
		}, nil

	case action.IsBuy():
		spend := math.Min(usdAmount, cash)
		if spend <= 0 {
			return nil, &domain.InsufficientFundsError{ModelID: modelID, Requested: usdAmount, Available: cash}
		}

		trade := lmsr.Buy(state, action == domain.ActionBuyYes, spend)
		newYes, newNo := yesShares, noShares
		if action == domain.ActionBuyYes {
			newYes += trade.Shares
		} else {
			newNo += trade.Shares
		}

		if err := s.writeTrade(ctx, tx, m.ID, accountID, positionID, trade, cash-spend, newYes, newNo); err != nil {
			return nil, err
		}
		return &domain.TradeResult{
			Action:      action,
			USDAmount:   spend,
			SharesDelta: trade.Shares,
			PriceBefore: trade.PriceBefore,
			PriceAfter:  trade.PriceAfter,
		}, nil

	default: // SELL_YES / SELL_NO
		sellYes := action == domain.ActionSellYes
		held := noShares
		if sellYes {
			held = yesShares
		}
		if held <= 0 {
			return nil, &domain.InsufficientSharesError{ModelID: modelID, Side: action, Held: held}
		}

		sale := lmsr.SellForProceeds(state, sellYes, held, usdAmount)
		if sale.Shares <= 0 || sale.USD <= 0 {
			// Requested proceeds round to nothing sellable; truthful no-op.
			return &domain.TradeResult{
				Action:      domain.ActionHold,
				PriceBefore: m.PriceYes,
				PriceAfter:  m.PriceYes,
			}, nil
		}

		newYes, newNo := yesShares, noShares
		if sellYes {
			newYes = math.Max(0, yesShares-sale.Shares)
		} else {
			newNo = math.Max(0, noShares-sale.Shares)
		}

		if err := s.writeTrade(ctx, tx, m.ID, accountID, positionID, sale, cash+sale.USD, newYes, newNo); err != nil {
			return nil, err
		}
		return &domain.TradeResult{
			Action:      action,
			USDAmount:   sale.USD,
			SharesDelta: -sale.Shares,
			PriceBefore: sale.PriceBefore,
			PriceAfter:  sale.PriceAfter,
		}, nil
	}
}

// writeTrade persists the three-way mutation of one applied trade.
func (s *Store) writeTrade(ctx context.Context, tx *sql.Tx, marketID, accountID, positionID string, trade lmsr.Trade, newCash, newYes, newNo float64) error {
	now := nowText()

	if _, err := tx.ExecContext(ctx, `
		UPDATE markets SET q_yes = ?, q_no = ?, price_yes = ?, updated_at = ?
		WHERE id = ?`, trade.QYes, trade.QNo, trade.PriceAfter, now, marketID); err != nil {
		return fmt.Errorf("update market: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET cash_balance = ?, updated_at = ?
		WHERE id = ?`, newCash, now, accountID); err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE positions SET yes_shares = ?, no_shares = ?, updated_at = ?
		WHERE id = ?`, newYes, newNo, now, positionID); err != nil {
		return fmt.Errorf("update position: %w", err)
	}

	return nil
}
