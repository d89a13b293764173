package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/alejandrodnm/fdamarket/internal/domain"
	"github.com/golang-sql/civil"
)

// RecordAction claims the (market, model, runDate) audit slot. The unique
// index does the arbitration: claimed=false means another attempt already
// filled the slot and this caller should treat the pair as done. This is
// the idempotency guard that makes reruns safe.
func (s *Store) RecordAction(ctx context.Context, a *domain.Action) (bool, error) {
	if !a.Action.Valid() {
		return false, &domain.ValidationError{Msg: fmt.Sprintf("unknown action %q", a.Action)}
	}
	if math.IsNaN(a.USDAmount) || a.USDAmount < 0 {
		return false, &domain.ValidationError{Msg: "action usd amount must be non-negative"}
	}
	if a.ID == "" {
		a.ID = newID()
	}

	claimed, err := insertAction(ctx, s.db, a)
	if err != nil {
		return false, fmt.Errorf("storage.RecordAction: %w", err)
	}
	return claimed, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertAction writes the audit row, claiming the slot via the unique
// index. It runs against the plain connection or a caller's transaction so
// a trade and its row can commit atomically.
func insertAction(ctx context.Context, ex execer, a *domain.Action) (bool, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO actions
			(id, run_id, market_id, event_id, model_id, run_date, action,
			 usd_amount, shares_delta, price_before, price_after,
			 explanation, status, error_code, error_detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id, model_id, run_date) DO NOTHING`,
		a.ID, textOrNull(a.RunID), a.MarketID, a.EventID, a.ModelID, a.RunDate.String(),
		string(a.Action), a.USDAmount, a.SharesDelta, a.PriceBefore, a.PriceAfter,
		a.Explanation, string(a.Status), textOrNull(a.ErrorCode), textOrNull(a.ErrorDetail), nowText(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// GetAction loads the audit row for one slot, or NotFoundError.
func (s *Store) GetAction(ctx context.Context, marketID, modelID string, runDate civil.Date) (*domain.Action, error) {
	var a domain.Action
	var runID, errCode, errDetail sql.NullString
	var date, actionType, status, created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, market_id, event_id, model_id, run_date, action,
		       usd_amount, shares_delta, price_before, price_after,
		       explanation, status, error_code, error_detail, created_at
		FROM actions WHERE market_id = ? AND model_id = ? AND run_date = ?`,
		marketID, modelID, runDate.String()).
		Scan(&a.ID, &runID, &a.MarketID, &a.EventID, &a.ModelID, &date, &actionType,
			&a.USDAmount, &a.SharesDelta, &a.PriceBefore, &a.PriceAfter,
			&a.Explanation, &status, &errCode, &errDetail, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "action", ID: marketID + "/" + modelID + "/" + runDate.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetAction: %w", err)
	}
	a.RunID = runID.String
	a.RunDate = parseDate(date)
	a.Action = domain.ActionType(actionType)
	a.Status = domain.ActionStatus(status)
	a.ErrorCode = errCode.String
	a.ErrorDetail = errDetail.String
	a.CreatedAt = parseTime(created)
	return &a, nil
}

// DeleteAction removes one audit row by id. Reruns use it to clear an
// errored slot before retrying; ok/skipped rows are never deleted.
func (s *Store) DeleteAction(ctx context.Context, actionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, actionID); err != nil {
		return fmt.Errorf("storage.DeleteAction: %w", err)
	}
	return nil
}
