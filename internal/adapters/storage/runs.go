package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/fdamarket/internal/domain"
	"github.com/golang-sql/civil"
)

// staleRunAfter is how long a run may go without heartbeat updates before
// a new attempt is allowed to declare it dead and take over.
const staleRunAfter = 2 * time.Hour

const runColumns = `id, run_date, status, open_markets, total_actions, processed,
	ok_count, error_count, skipped_count, failure_reason, created_at, updated_at, completed_at`

// StartRun creates or resumes the run row for a date. A live run (status
// running with a recent heartbeat) conflicts; a stale one is auto-failed
// first so an interrupted run never blocks the next attempt forever.
// The row for the requested date is reset to running with zeroed counters.
func (s *Store) StartRun(ctx context.Context, runDate civil.Date, openMarkets, totalActions int) (*domain.Run, error) {
	var run *domain.Run
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		active, err := scanRunFrom(tx.QueryRowContext(ctx,
			`SELECT `+runColumns+` FROM runs WHERE status = 'running' LIMIT 1`))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find active run: %w", err)
		}

		now := time.Now().UTC()
		if active != nil {
			heartbeatAge := now.Sub(active.UpdatedAt)
			if heartbeatAge < staleRunAfter {
				return &domain.ConflictError{Msg: fmt.Sprintf(
					"a daily run is already in progress (date %s, heartbeat %s ago)",
					active.RunDate, heartbeatAge.Round(time.Second))}
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE runs SET status = 'failed', failure_reason = ?, completed_at = ?, updated_at = ?
				WHERE id = ?`,
				fmt.Sprintf("auto-failed stale run after %dm without heartbeat", int(heartbeatAge.Minutes())),
				timeText(now), timeText(now), active.ID)
			if err != nil {
				return fmt.Errorf("fail stale run: %w", err)
			}
		}

		nowS := timeText(now)
		id := newID()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO runs
				(id, run_date, status, open_markets, total_actions, processed,
				 ok_count, error_count, skipped_count, failure_reason, created_at, updated_at)
			VALUES (?, ?, 'running', ?, ?, 0, 0, 0, 0, NULL, ?, ?)
			ON CONFLICT(run_date) DO UPDATE SET
				status = 'running',
				open_markets = excluded.open_markets,
				total_actions = excluded.total_actions,
				processed = 0, ok_count = 0, error_count = 0, skipped_count = 0,
				failure_reason = NULL, completed_at = NULL,
				updated_at = excluded.updated_at`,
			id, runDate.String(), openMarkets, totalActions, nowS, nowS,
		)
		if err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}

		run, err = scanRunFrom(tx.QueryRowContext(ctx,
			`SELECT `+runColumns+` FROM runs WHERE run_date = ?`, runDate.String()))
		if err != nil {
			return fmt.Errorf("reload run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage.StartRun: %w", err)
	}
	return run, nil
}

// GetRunByDate loads the run row for a date, or NotFoundError.
func (s *Store) GetRunByDate(ctx context.Context, runDate civil.Date) (*domain.Run, error) {
	run, err := scanRunFrom(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_date = ?`, runDate.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "run", ID: runDate.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetRunByDate: %w", err)
	}
	return run, nil
}

// HeartbeatRun advances the run's counters mid-flight. Doubles as the
// liveness signal StartRun checks for.
func (s *Store) HeartbeatRun(ctx context.Context, runID string, processed int, summary domain.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET processed = ?, ok_count = ?, error_count = ?, skipped_count = ?, updated_at = ?
		WHERE id = ?`,
		processed, summary.OK, summary.Error, summary.Skipped, nowText(), runID)
	if err != nil {
		return fmt.Errorf("storage.HeartbeatRun: %w", err)
	}
	return nil
}

// FinishRun finalizes the run row as completed or failed.
func (s *Store) FinishRun(ctx context.Context, runID string, status domain.RunStatus, processed int, summary domain.RunSummary, failureReason string) error {
	if status != domain.RunCompleted && status != domain.RunFailed {
		return &domain.ValidationError{Msg: fmt.Sprintf("cannot finish a run as %q", status)}
	}
	now := nowText()
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, processed = ?, ok_count = ?, error_count = ?, skipped_count = ?,
		    failure_reason = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(status), processed, summary.OK, summary.Error, summary.Skipped,
		textOrNull(failureReason), now, now, runID)
	if err != nil {
		return fmt.Errorf("storage.FinishRun: %w", err)
	}
	return nil
}

func scanRunFrom(row *sql.Row) (*domain.Run, error) {
	var r domain.Run
	var date, status, created, updated string
	var failureReason, completedAt sql.NullString
	err := row.Scan(&r.ID, &date, &status, &r.OpenMarkets, &r.TotalActions, &r.Processed,
		&r.OKCount, &r.ErrorCount, &r.SkippedCount, &failureReason, &created, &updated, &completedAt)
	if err != nil {
		return nil, err
	}
	r.RunDate = parseDate(date)
	r.Status = domain.RunStatus(status)
	r.FailureReason = failureReason.String
	r.CreatedAt, r.UpdatedAt = parseTime(created), parseTime(updated)
	r.CompletedAt = parseTimePtr(completedAt)
	return &r, nil
}
