package schedule

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/wakeup"
)

// Trigger is the durable one-shot trigger of a scheduled call
type Trigger struct {
	CallID       string
	FireAt       time.Time
	RegisteredAt time.Time
}

type triggerRow struct {
	CallID       string `db:"call_id"`
	FireAt       string `db:"fire_at"`
	RegisteredAt string `db:"registered_at"`
}

// TriggerStore persists triggers in wakeup_triggers
type TriggerStore struct {
	db *sqlx.DB
}

// NewTriggerStore creates a trigger store
func NewTriggerStore(db *sqlx.DB) *TriggerStore {
	return &TriggerStore{db: db}
}

// Upsert writes the trigger for callID, replacing any earlier fire time
func (s *TriggerStore) Upsert(ctx context.Context, callID string, fireAt, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wakeup_triggers (call_id, fire_at, registered_at)
		VALUES (?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET fire_at = excluded.fire_at, registered_at = excluded.registered_at`,
		callID, fireAt.UTC().Format(wakeup.TimeLayout), now.UTC().Format(wakeup.TimeLayout),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to register trigger for wake-up call %s", callID)
	}
	return nil
}

// Delete removes the trigger for callID. Missing triggers are not an error.
func (s *TriggerStore) Delete(ctx context.Context, callID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM wakeup_triggers WHERE call_id = ?`, callID); err != nil {
		return errors.Wrapf(err, "failed to remove trigger for wake-up call %s", callID)
	}
	return nil
}

// List returns every trigger ordered by fire time
func (s *TriggerStore) List(ctx context.Context) ([]Trigger, error) {
	var rows []triggerRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT call_id, fire_at, registered_at FROM wakeup_triggers ORDER BY fire_at ASC`); err != nil {
		return nil, errors.Wrap(err, "failed to list triggers")
	}

	out := make([]Trigger, 0, len(rows))
	for _, r := range rows {
		fireAt, err := time.Parse(wakeup.TimeLayout, r.FireAt)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid fire_at for trigger %s", r.CallID)
		}
		registered, err := time.Parse(wakeup.TimeLayout, r.RegisteredAt)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid registered_at for trigger %s", r.CallID)
		}
		out = append(out, Trigger{CallID: r.CallID, FireAt: fireAt, RegisteredAt: registered})
	}
	return out, nil
}
