package wakeup

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/teranos/wakeup/errors"
)

type inboundRow struct {
	ID              string         `db:"id"`
	TransactionID   string         `db:"transaction_id"`
	From            string         `db:"from_address"`
	To              string         `db:"to_address"`
	OwnerID         sql.NullString `db:"owner_id"`
	Status          string         `db:"status"`
	DurationSeconds sql.NullInt64  `db:"duration_seconds"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
}

// InboundStore persists inbound calls
type InboundStore struct {
	db *sqlx.DB
}

// NewInboundStore creates a new inbound call store
func NewInboundStore(db *sqlx.DB) *InboundStore {
	return &InboundStore{db: db}
}

// Record stores an inbound call keyed by transaction id. A repeated
// delivery of the same call updates owner and status instead of inserting.
func (s *InboundStore) Record(ctx context.Context, ic *InboundCall, now time.Time) error {
	if ic.ID == "" {
		ic.ID = uuid.New().String()
	}
	ts := formatTime(now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbound_calls (id, transaction_id, from_address, to_address, owner_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		ic.ID, ic.TransactionID, ic.From, ic.To, nullString(ic.OwnerID), ic.Status, ts, ts,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record inbound call %s", ic.TransactionID)
	}
	return nil
}

// ApplyCallback sets the provider-reported status and duration
func (s *InboundStore) ApplyCallback(ctx context.Context, transactionID, status string, duration *int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inbound_calls
		SET status = ?, duration_seconds = COALESCE(?, duration_seconds), updated_at = ?
		WHERE transaction_id = ?`,
		status, nullInt(duration), formatTime(now), transactionID,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to apply callback to inbound call %s", transactionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read callback result")
	}
	return n > 0, nil
}

// GetByTransaction retrieves an inbound call by transaction id
func (s *InboundStore) GetByTransaction(ctx context.Context, transactionID string) (*InboundCall, error) {
	var row inboundRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, transaction_id, from_address, to_address, owner_id, status, duration_seconds, created_at, updated_at
		FROM inbound_calls WHERE transaction_id = ?`, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("inbound call", transactionID)
		}
		return nil, errors.Wrapf(err, "failed to get inbound call %s", transactionID)
	}

	ic := &InboundCall{
		ID:            row.ID,
		TransactionID: row.TransactionID,
		From:          row.From,
		To:            row.To,
		OwnerID:       row.OwnerID.String,
		Status:        row.Status,
	}
	if row.DurationSeconds.Valid {
		d := int(row.DurationSeconds.Int64)
		ic.DurationSeconds = &d
	}
	if ic.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "invalid created_at for inbound call")
	}
	if ic.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return nil, errors.Wrap(err, "invalid updated_at for inbound call")
	}
	return ic, nil
}
