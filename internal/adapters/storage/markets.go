package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/fdamarket/internal/domain"
	"github.com/alejandrodnm/fdamarket/internal/lmsr"
)

const marketColumns = `id, event_id, status, opening_probability, b, q_yes, q_no,
	price_yes, opened_at, resolved_at, resolved_outcome, created_at, updated_at`

// OpenMarket creates the market for a pending event, seeds a zero position
// for every known account and writes the day's opening price snapshot, all
// in one transaction. Conflicts if the event already has a market.
func (s *Store) OpenMarket(ctx context.Context, eventID string, openingProbability, b float64) (*domain.Market, error) {
	if b <= 0 {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("liquidity parameter must be positive, got %v", b)}
	}

	var market *domain.Market
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		event, err := scanEvent(tx.QueryRowContext(ctx, `
			SELECT id, drug_name, company_name, symbols, application_type,
			       decision_date, description, therapeutic_area, outcome, created_at
			FROM events WHERE id = ?`, eventID), eventID)
		if err != nil {
			return err
		}
		if event.Outcome != domain.OutcomePending {
			return &domain.ConflictError{Msg: fmt.Sprintf(
				"event %s already has outcome %s; markets only open for pending events", eventID, event.Outcome)}
		}

		var existing string
		err = tx.QueryRowContext(ctx, `SELECT id FROM markets WHERE event_id = ?`, eventID).Scan(&existing)
		if err == nil {
			return &domain.ConflictError{Msg: fmt.Sprintf("market %s already exists for event %s", existing, eventID)}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check existing market: %w", err)
		}

		state := lmsr.Open(openingProbability, b)
		now := time.Now().UTC()
		nowS := timeText(now)
		m := &domain.Market{
			ID:                 newID(),
			EventID:            eventID,
			Status:             domain.MarketOpen,
			OpeningProbability: lmsr.ClampProbability(openingProbability),
			B:                  b,
			QYes:               state.QYes,
			QNo:                state.QNo,
			PriceYes:           lmsr.PriceYes(state),
			OpenedAt:           now,
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO markets
				(id, event_id, status, opening_probability, b, q_yes, q_no,
				 price_yes, opened_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.EventID, string(m.Status), m.OpeningProbability, m.B, m.QYes, m.QNo,
			m.PriceYes, nowS, nowS, nowS,
		)
		if err != nil {
			return fmt.Errorf("insert market: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `SELECT model_id FROM accounts`)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		var modelIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan account: %w", err)
			}
			modelIDs = append(modelIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, modelID := range modelIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO positions (id, market_id, model_id, yes_shares, no_shares, created_at, updated_at)
				VALUES (?, ?, ?, 0, 0, ?, ?)
				ON CONFLICT(market_id, model_id) DO NOTHING`,
				newID(), m.ID, modelID, nowS, nowS,
			)
			if err != nil {
				return fmt.Errorf("seed position %s: %w", modelID, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO price_snapshots (id, market_id, snapshot_date, price_yes, q_yes, q_no, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(market_id, snapshot_date) DO NOTHING`,
			newID(), m.ID, domain.RunDateOf(now).String(), m.PriceYes, m.QYes, m.QNo, nowS,
		)
		if err != nil {
			return fmt.Errorf("opening price snapshot: %w", err)
		}

		market = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage.OpenMarket: %w", err)
	}
	return market, nil
}

// GetMarket loads one market by id.
func (s *Store) GetMarket(ctx context.Context, marketID string) (*domain.Market, error) {
	m, err := scanMarket(s.db.QueryRowContext(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = ?`, marketID), marketID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetMarket: %w", err)
	}
	return m, nil
}

// GetMarketByEvent loads the market tracking one event.
func (s *Store) GetMarketByEvent(ctx context.Context, eventID string) (*domain.Market, error) {
	m, err := scanMarket(s.db.QueryRowContext(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE event_id = ?`, eventID), eventID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetMarketByEvent: %w", err)
	}
	return m, nil
}

// ListOpenMarkets returns every OPEN market ordered by the linked event's
// decision date, then opened-at, then id. Stable ordering keeps run output
// and prompts reproducible.
func (s *Store) ListOpenMarkets(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.event_id, m.status, m.opening_probability, m.b, m.q_yes, m.q_no,
		       m.price_yes, m.opened_at, m.resolved_at, m.resolved_outcome, m.created_at, m.updated_at
		FROM markets m
		JOIN events e ON e.id = m.event_id
		WHERE m.status = 'OPEN'
		ORDER BY e.decision_date, m.opened_at, m.id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListOpenMarkets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListOpenMarkets: %w", err)
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

// ResolveMarket settles the event's market: the winning side pays out at
// $1 per share into cash, both share counts drop to zero, the market flips
// to RESOLVED and the event records the outcome, all in one transaction so
// a RESOLVED market can never reference a still-pending event. Resolving
// an already-resolved market is an invalid transition.
func (s *Store) ResolveMarket(ctx context.Context, eventID string, outcome domain.Outcome) error {
	if outcome != domain.OutcomeApproved && outcome != domain.OutcomeRejected {
		return &domain.ValidationError{Msg: fmt.Sprintf("cannot resolve to outcome %q", outcome)}
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMarket(tx.QueryRowContext(ctx,
			`SELECT `+marketColumns+` FROM markets WHERE event_id = ?`, eventID), eventID)
		if err != nil {
			return err
		}
		if m.Status == domain.MarketResolved {
			return &domain.InvalidStateError{Msg: fmt.Sprintf("market %s is already resolved", m.ID)}
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT id, model_id, yes_shares, no_shares FROM positions WHERE market_id = ?`, m.ID)
		if err != nil {
			return fmt.Errorf("list positions: %w", err)
		}
		type payoutRow struct {
			positionID string
			modelID    string
			payout     float64
		}
		var payouts []payoutRow
		for rows.Next() {
			var id, modelID string
			var yes, no float64
			if err := rows.Scan(&id, &modelID, &yes, &no); err != nil {
				rows.Close()
				return fmt.Errorf("scan position: %w", err)
			}
			payout := no
			if outcome == domain.OutcomeApproved {
				payout = yes
			}
			payouts = append(payouts, payoutRow{positionID: id, modelID: modelID, payout: payout})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := nowText()
		for _, p := range payouts {
			if p.payout > 0 {
				_, err := tx.ExecContext(ctx, `
					UPDATE accounts SET cash_balance = cash_balance + ?, updated_at = ?
					WHERE model_id = ?`, p.payout, now, p.modelID)
				if err != nil {
					return fmt.Errorf("pay out %s: %w", p.modelID, err)
				}
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE positions SET yes_shares = 0, no_shares = 0, updated_at = ?
				WHERE id = ?`, now, p.positionID)
			if err != nil {
				return fmt.Errorf("zero position %s: %w", p.positionID, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE markets
			SET status = 'RESOLVED', resolved_outcome = ?, resolved_at = ?, updated_at = ?
			WHERE id = ?`, string(outcome), now, now, m.ID)
		if err != nil {
			return fmt.Errorf("mark resolved: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET outcome = ? WHERE id = ?`, string(outcome), eventID); err != nil {
			return fmt.Errorf("set event outcome: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage.ResolveMarket: %w", err)
	}
	return nil
}

// ReopenMarket reverses a resolution, moving the event back to Pending in
// the same transaction. Zero-reset policy: positions were zeroed at
// resolution and stay zero; only the market's resolved state is cleared,
// so trading resumes from scratch at the current price.
func (s *Store) ReopenMarket(ctx context.Context, eventID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMarket(tx.QueryRowContext(ctx,
			`SELECT `+marketColumns+` FROM markets WHERE event_id = ?`, eventID), eventID)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketResolved {
			return &domain.InvalidStateError{Msg: fmt.Sprintf("market %s is not resolved; nothing to reopen", m.ID)}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE markets
			SET status = 'OPEN', resolved_outcome = NULL, resolved_at = NULL, updated_at = ?
			WHERE id = ?`, nowText(), m.ID)
		if err != nil {
			return fmt.Errorf("mark open: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET outcome = ? WHERE id = ?`, string(domain.OutcomePending), eventID); err != nil {
			return fmt.Errorf("set event outcome: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage.ReopenMarket: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row *sql.Row, id string) (*domain.Market, error) {
	m, err := scanMarketFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "market", ID: id}
	}
	return m, err
}

func scanMarketRow(rows *sql.Rows) (*domain.Market, error) {
	return scanMarketFrom(rows)
}

func scanMarketFrom(r rowScanner) (*domain.Market, error) {
	var m domain.Market
	var status, opened, created, updated string
	var resolvedAt, resolvedOutcome sql.NullString
	err := r.Scan(&m.ID, &m.EventID, &status, &m.OpeningProbability, &m.B, &m.QYes, &m.QNo,
		&m.PriceYes, &opened, &resolvedAt, &resolvedOutcome, &created, &updated)
	if err != nil {
		return nil, err
	}
	m.Status = domain.MarketStatus(status)
	m.OpenedAt = parseTime(opened)
	m.ResolvedAt = parseTimePtr(resolvedAt)
	if resolvedOutcome.Valid {
		m.ResolvedOutcome = domain.Outcome(resolvedOutcome.String)
	}
	m.CreatedAt, m.UpdatedAt = parseTime(created), parseTime(updated)
	return &m, nil
}
