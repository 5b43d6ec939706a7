package wakeup

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/teranos/wakeup/errors"
)

const logColumns = `id, call_id, outcome_status, provider_transaction_id, duration_seconds,
	error_message, context_snapshot, created_at`

type logRow struct {
	ID                    string         `db:"id"`
	CallID                string         `db:"call_id"`
	OutcomeStatus         string         `db:"outcome_status"`
	ProviderTransactionID sql.NullString `db:"provider_transaction_id"`
	DurationSeconds       sql.NullInt64  `db:"duration_seconds"`
	ErrorMessage          sql.NullString `db:"error_message"`
	ContextSnapshot       string         `db:"context_snapshot"`
	CreatedAt             string         `db:"created_at"`
}

func (r logRow) toLog() (*CallLog, error) {
	l := &CallLog{
		ID:                    r.ID,
		CallID:                r.CallID,
		OutcomeStatus:         Outcome(r.OutcomeStatus),
		ProviderTransactionID: r.ProviderTransactionID.String,
		ErrorMessage:          r.ErrorMessage.String,
		ContextSnapshot:       json.RawMessage(r.ContextSnapshot),
	}
	if r.DurationSeconds.Valid {
		d := int(r.DurationSeconds.Int64)
		l.DurationSeconds = &d
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid created_at for call log %s", r.ID)
	}
	l.CreatedAt = created
	return l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// LogStore persists call log entries
type LogStore struct {
	db *sqlx.DB
}

// NewLogStore creates a new call log store
func NewLogStore(db *sqlx.DB) *LogStore {
	return &LogStore{db: db}
}

// Create appends an initiated-or-later log entry. ID and CreatedAt are
// filled in when empty.
func (s *LogStore) Create(ctx context.Context, l *CallLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	snapshot := string(l.ContextSnapshot)
	if snapshot == "" {
		snapshot = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CallID, string(l.OutcomeStatus), nullString(l.ProviderTransactionID),
		nullInt(l.DurationSeconds), nullString(l.ErrorMessage), snapshot, formatTime(l.CreatedAt),
	)
	if err != nil {
		return errors.WithDetail(
			errors.Wrap(err, "failed to create call log"),
			"Call ID: "+l.CallID,
		)
	}
	return nil
}

// ListByCall returns a call's log entries, newest first
func (s *LogStore) ListByCall(ctx context.Context, callID string) ([]*CallLog, error) {
	var rows []logRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+logColumns+` FROM call_logs WHERE call_id = ? ORDER BY created_at DESC, rowid DESC`, callID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list logs for wake-up call %s", callID)
	}
	logs := make([]*CallLog, 0, len(rows))
	for _, r := range rows {
		l, err := r.toLog()
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// GetByTransaction finds the log entry correlated with a provider transaction id
func (s *LogStore) GetByTransaction(ctx context.Context, transactionID string) (*CallLog, error) {
	var row logRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+logColumns+` FROM call_logs WHERE provider_transaction_id = ?`, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("call log for transaction", transactionID)
		}
		return nil, errors.Wrapf(err, "failed to get call log for transaction %s", transactionID)
	}
	return row.toLog()
}

// ApplyCallback records a provider-reported outcome on the entry with the
// given transaction id. Repeating the same callback leaves the same row.
// duration may be nil to keep the stored value.
func (s *LogStore) ApplyCallback(ctx context.Context, transactionID string, outcome Outcome, duration *int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_logs
		SET outcome_status = ?, duration_seconds = COALESCE(?, duration_seconds)
		WHERE provider_transaction_id = ?`,
		string(outcome), nullInt(duration), transactionID,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to apply callback for transaction %s", transactionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read callback result")
	}
	return n > 0, nil
}

// ApplyDuration updates only the duration, for progress-only callbacks
func (s *LogStore) ApplyDuration(ctx context.Context, transactionID string, duration *int) (bool, error) {
	if duration == nil {
		var exists bool
		err := s.db.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM call_logs WHERE provider_transaction_id = ?)`, transactionID)
		if err != nil {
			return false, errors.Wrapf(err, "failed to look up transaction %s", transactionID)
		}
		return exists, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE call_logs SET duration_seconds = ? WHERE provider_transaction_id = ?`,
		*duration, transactionID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to apply duration for transaction %s", transactionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read duration result")
	}
	return n > 0, nil
}

// AbandonInitiated fails entries left initiated by an interrupted attempt of
// the call. Entries already correlated with a provider transaction are kept.
func (s *LogStore) AbandonInitiated(ctx context.Context, callID, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_logs SET outcome_status = 'failed', error_message = ?
		WHERE call_id = ? AND outcome_status = 'initiated' AND provider_transaction_id IS NULL`,
		reason, callID)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to abandon initiated logs for wake-up call %s", callID)
	}
	return res.RowsAffected()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
