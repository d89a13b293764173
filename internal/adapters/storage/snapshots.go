package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alejandrodnm/fdamarket/internal/domain"
)

// UpsertPriceSnapshot writes the market's price record for one date,
// overwriting an earlier record from the same day so the last write of a
// retried run wins.
func (s *Store) UpsertPriceSnapshot(ctx context.Context, snap domain.PriceSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_snapshots (id, market_id, snapshot_date, price_yes, q_yes, q_no, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id, snapshot_date) DO UPDATE SET
			price_yes = excluded.price_yes,
			q_yes = excluded.q_yes,
			q_no = excluded.q_no`,
		newID(), snap.MarketID, snap.SnapshotDate.String(),
		snap.PriceYes, snap.QYes, snap.QNo, nowText(),
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertPriceSnapshot: %w", err)
	}
	return nil
}

// UpsertEquitySnapshot writes the model's equity record for one date.
func (s *Store) UpsertEquitySnapshot(ctx context.Context, snap domain.EquitySnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO equity_snapshots
			(id, model_id, snapshot_date, cash_balance, positions_value, total_equity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id, snapshot_date) DO UPDATE SET
			cash_balance = excluded.cash_balance,
			positions_value = excluded.positions_value,
			total_equity = excluded.total_equity`,
		newID(), snap.ModelID, snap.SnapshotDate.String(),
		snap.CashBalance, snap.PositionsValue, snap.TotalEquity, nowText(),
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertEquitySnapshot: %w", err)
	}
	return nil
}

// GetRuntimeConfig reads the singleton tuning row. Always a fresh read so
// callers observe updates committed between runs.
func (s *Store) GetRuntimeConfig(ctx context.Context) (*domain.RuntimeConfig, error) {
	cfg, err := scanRuntimeConfig(s.db.QueryRowContext(ctx, `
		SELECT warmup_run_count, warmup_max_trade_usd, warmup_buy_cash_fraction,
		       opening_lmsr_b, created_at, updated_at
		FROM runtime_config WHERE id = 'default'`))
	if err != nil {
		return nil, fmt.Errorf("storage.GetRuntimeConfig: %w", err)
	}
	return cfg, nil
}

// UpdateRuntimeConfig validates and applies a partial update, returning the
// resulting config.
func (s *Store) UpdateRuntimeConfig(ctx context.Context, patch domain.RuntimeConfigPatch) (*domain.RuntimeConfig, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var updated *domain.RuntimeConfig
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanRuntimeConfig(tx.QueryRowContext(ctx, `
			SELECT warmup_run_count, warmup_max_trade_usd, warmup_buy_cash_fraction,
			       opening_lmsr_b, created_at, updated_at
			FROM runtime_config WHERE id = 'default'`))
		if err != nil {
			return err
		}

		next := patch.Apply(*current)
		_, err = tx.ExecContext(ctx, `
			UPDATE runtime_config
			SET warmup_run_count = ?, warmup_max_trade_usd = ?,
			    warmup_buy_cash_fraction = ?, opening_lmsr_b = ?, updated_at = ?
			WHERE id = 'default'`,
			next.WarmupRunCount, next.WarmupMaxTradeUSD,
			next.WarmupBuyCashFraction, next.OpeningLMSRB, nowText(),
		)
		if err != nil {
			return fmt.Errorf("update runtime config: %w", err)
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage.UpdateRuntimeConfig: %w", err)
	}
	return updated, nil
}

func scanRuntimeConfig(row *sql.Row) (*domain.RuntimeConfig, error) {
	var cfg domain.RuntimeConfig
	var created, updated string
	err := row.Scan(&cfg.WarmupRunCount, &cfg.WarmupMaxTradeUSD,
		&cfg.WarmupBuyCashFraction, &cfg.OpeningLMSRB, &created, &updated)
	if err != nil {
		return nil, err
	}
	cfg.CreatedAt, cfg.UpdatedAt = parseTime(created), parseTime(updated)
	return &cfg, nil
}
