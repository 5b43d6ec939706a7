package wakeup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/teranos/wakeup/errors"
)

// AttemptResult is the final outcome of one execution attempt
type AttemptResult struct {
	CallID        string
	LogID         string
	Outcome       Outcome // OutcomeCompleted or OutcomeFailed
	TransactionID string
	ErrorMessage  string
	ExecutedAt    time.Time
}

// FinishAttempt closes the attempt's log entry and moves the call to its
// terminal status in one transaction. last_executed_at is always written.
//
// A cancel that lands while the attempt runs is overwritten: the last write
// on status wins. A call rescheduled during the run keeps its new schedule.
// Returns the status the call ends up in.
func (s *Store) FinishAttempt(ctx context.Context, r AttemptResult) (Status, error) {
	target := StatusCompleted
	if r.Outcome != OutcomeCompleted {
		target = StatusFailed
	}
	ts := formatTime(r.ExecutedAt)

	var final Status
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE call_logs
			SET outcome_status = ?, provider_transaction_id = ?, error_message = ?
			WHERE id = ? AND call_id = ?`,
			string(r.Outcome), nullString(r.TransactionID), nullString(r.ErrorMessage), r.LogID, r.CallID,
		); err != nil {
			return errors.Wrap(err, "failed to close call log")
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE wakeup_calls
			SET status = ?, last_executed_at = ?, updated_at = ?,
			    next_execution_at = NULL, claimed_at = NULL, lease_expires_at = NULL
			WHERE id = ? AND status IN ('active', 'cancelled')`,
			string(target), ts, ts, r.CallID,
		)
		if err != nil {
			return errors.Wrap(err, "failed to finish wake-up call")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to read finish result")
		}
		if n == 1 {
			final = target
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE wakeup_calls SET last_executed_at = ?, updated_at = ? WHERE id = ?`,
			ts, ts, r.CallID,
		); err != nil {
			return errors.Wrap(err, "failed to record execution time")
		}
		var status string
		if err := tx.GetContext(ctx, &status, `SELECT status FROM wakeup_calls WHERE id = ?`, r.CallID); err != nil {
			return errors.Wrap(err, "failed to read wake-up call status")
		}
		final = Status(status)
		return nil
	})
	if err != nil {
		return "", errors.WithDetail(err, "Call ID: "+r.CallID)
	}
	return final, nil
}

// ExpireStale fails an active call whose lease ran out long ago. The
// interrupted attempt's initiated entry is closed as failed, or a failed
// entry is written if the attempt never logged. Returns false if the call
// was no longer stale.
func (s *Store) ExpireStale(ctx context.Context, callID string, now time.Time, reason string) (bool, error) {
	ts := formatTime(now)
	return s.failCall(ctx, callID, ts, reason, `
		UPDATE wakeup_calls
		SET status = 'failed', last_executed_at = ?, updated_at = ?,
		    next_execution_at = NULL, claimed_at = NULL, lease_expires_at = NULL
		WHERE id = ? AND status = 'active'
		  AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		ts, ts, callID, ts,
	)
}

// FailAttempt fails a claimed call whose attempt broke down before it could
// be finished normally, with the same log handling as ExpireStale. Like
// FinishAttempt it overrides a concurrent cancel. Returns false if the call
// was not active or cancelled.
func (s *Store) FailAttempt(ctx context.Context, callID string, now time.Time, reason string) (bool, error) {
	ts := formatTime(now)
	return s.failCall(ctx, callID, ts, reason, `
		UPDATE wakeup_calls
		SET status = 'failed', last_executed_at = ?, updated_at = ?,
		    next_execution_at = NULL, claimed_at = NULL, lease_expires_at = NULL
		WHERE id = ? AND status IN ('active', 'cancelled')`,
		ts, ts, callID,
	)
}

// failCall runs the status update and, when it applied, closes or writes the
// attempt's failed log entry in the same transaction
func (s *Store) failCall(ctx context.Context, callID, ts, reason, update string, args ...interface{}) (bool, error) {
	failed := false

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, update, args...)
		if err != nil {
			return errors.Wrap(err, "failed to fail wake-up call")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to read fail result")
		}
		if n == 0 {
			return nil
		}
		failed = true

		res, err = tx.ExecContext(ctx, `
			UPDATE call_logs SET outcome_status = 'failed', error_message = ?
			WHERE call_id = ? AND outcome_status = 'initiated' AND provider_transaction_id IS NULL`,
			reason, callID,
		)
		if err != nil {
			return errors.Wrap(err, "failed to close interrupted call log")
		}
		if n, err = res.RowsAffected(); err != nil {
			return errors.Wrap(err, "failed to read log close result")
		}
		if n > 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO call_logs (id, call_id, outcome_status, error_message, context_snapshot, created_at)
			VALUES (?, ?, 'failed', ?, '{}', ?)`,
			uuid.New().String(), callID, reason, ts,
		)
		return errors.Wrap(err, "failed to record failed attempt")
	})
	if err != nil {
		return false, errors.WithDetail(err, "Call ID: "+callID)
	}
	return failed, nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}
