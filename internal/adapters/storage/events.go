package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alejandrodnm/fdamarket/internal/domain"
)

// CreateEvent inserts a tracked regulatory event. The id may be empty, in
// which case one is generated.
func (s *Store) CreateEvent(ctx context.Context, e *domain.Event) error {
	if e.DrugName == "" || e.CompanyName == "" {
		return &domain.ValidationError{Msg: "event needs a drug name and a company name"}
	}
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Outcome == "" {
		e.Outcome = domain.OutcomePending
	}
	now := nowText()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events
			(id, drug_name, company_name, symbols, application_type,
			 decision_date, description, therapeutic_area, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DrugName, e.CompanyName, e.Symbols, e.ApplicationType,
		e.DecisionDate.String(), e.Description, e.TherapeuticArea, string(e.Outcome), now,
	)
	if err != nil {
		return fmt.Errorf("storage.CreateEvent: %w", err)
	}
	e.CreatedAt = parseTime(now)
	return nil
}

// GetEvent loads one event by id.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	return scanEvent(s.db.QueryRowContext(ctx, `
		SELECT id, drug_name, company_name, symbols, application_type,
		       decision_date, description, therapeutic_area, outcome, created_at
		FROM events WHERE id = ?`, eventID), eventID)
}

// EnsureAccounts lazily creates one account per model id. Existing
// accounts are left untouched, including their balances.
func (s *Store) EnsureAccounts(ctx context.Context, modelIDs []string, startingCash float64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := nowText()
		for _, modelID := range modelIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO accounts (id, model_id, starting_cash, cash_balance, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(model_id) DO NOTHING`,
				newID(), modelID, startingCash, startingCash, now, now,
			)
			if err != nil {
				return fmt.Errorf("storage.EnsureAccounts: %s: %w", modelID, err)
			}
		}
		return nil
	})
}

// ListAccounts returns every account ordered by model id.
func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_id, starting_cash, cash_balance, created_at, updated_at
		FROM accounts ORDER BY model_id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListAccounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		var created, updated string
		if err := rows.Scan(&a.ID, &a.ModelID, &a.StartingCash, &a.CashBalance, &created, &updated); err != nil {
			return nil, fmt.Errorf("storage.ListAccounts: scan: %w", err)
		}
		a.CreatedAt, a.UpdatedAt = parseTime(created), parseTime(updated)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetAccount loads one model's account.
func (s *Store) GetAccount(ctx context.Context, modelID string) (*domain.Account, error) {
	var a domain.Account
	var created, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, model_id, starting_cash, cash_balance, created_at, updated_at
		FROM accounts WHERE model_id = ?`, modelID).
		Scan(&a.ID, &a.ModelID, &a.StartingCash, &a.CashBalance, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "account", ID: modelID}
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetAccount: %w", err)
	}
	a.CreatedAt, a.UpdatedAt = parseTime(created), parseTime(updated)
	return &a, nil
}

// GetPosition loads one (market, model) position.
func (s *Store) GetPosition(ctx context.Context, marketID, modelID string) (*domain.Position, error) {
	var p domain.Position
	var created, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, market_id, model_id, yes_shares, no_shares, created_at, updated_at
		FROM positions WHERE market_id = ? AND model_id = ?`, marketID, modelID).
		Scan(&p.ID, &p.MarketID, &p.ModelID, &p.YesShares, &p.NoShares, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "position", ID: marketID + "/" + modelID}
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetPosition: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = parseTime(created), parseTime(updated)
	return &p, nil
}

// ListPositionsByMarket returns every model's position in one market.
func (s *Store) ListPositionsByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	return s.listPositions(ctx, `market_id = ?`, marketID)
}

// ListPositionsByModel returns one model's positions across all markets.
func (s *Store) ListPositionsByModel(ctx context.Context, modelID string) ([]domain.Position, error) {
	return s.listPositions(ctx, `model_id = ?`, modelID)
}

func (s *Store) listPositions(ctx context.Context, where string, arg any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, model_id, yes_shares, no_shares, created_at, updated_at
		FROM positions WHERE `+where+` ORDER BY market_id, model_id`, arg)
	if err != nil {
		return nil, fmt.Errorf("storage.listPositions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var created, updated string
		if err := rows.Scan(&p.ID, &p.MarketID, &p.ModelID, &p.YesShares, &p.NoShares, &created, &updated); err != nil {
			return nil, fmt.Errorf("storage.listPositions: scan: %w", err)
		}
		p.CreatedAt, p.UpdatedAt = parseTime(created), parseTime(updated)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func scanEvent(row *sql.Row, eventID string) (*domain.Event, error) {
	var e domain.Event
	var decisionDate, outcome, created string
	err := row.Scan(&e.ID, &e.DrugName, &e.CompanyName, &e.Symbols, &e.ApplicationType,
		&decisionDate, &e.Description, &e.TherapeuticArea, &outcome, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "event", ID: eventID}
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan event: %w", err)
	}
	e.DecisionDate = parseDate(decisionDate)
	e.Outcome = domain.Outcome(outcome)
	e.CreatedAt = parseTime(created)
	return &e, nil
}
