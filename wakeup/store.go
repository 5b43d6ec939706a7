package wakeup

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/teranos/wakeup/errors"
)

// TimeLayout is the stored timestamp format. It is fixed width so stored
// UTC timestamps compare correctly as text.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const callColumns = `id, owner_id, scheduled_time, destination, channel, region, status,
	is_simulated, created_at, updated_at, last_executed_at, next_execution_at,
	claimed_at, lease_expires_at`

type callRow struct {
	ID              string         `db:"id"`
	OwnerID         string         `db:"owner_id"`
	ScheduledTime   string         `db:"scheduled_time"`
	Destination     string         `db:"destination"`
	Channel         string         `db:"channel"`
	Region          string         `db:"region"`
	Status          string         `db:"status"`
	IsSimulated     bool           `db:"is_simulated"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
	LastExecutedAt  sql.NullString `db:"last_executed_at"`
	NextExecutionAt sql.NullString `db:"next_execution_at"`
	ClaimedAt       sql.NullString `db:"claimed_at"`
	LeaseExpiresAt  sql.NullString `db:"lease_expires_at"`
}

func (r callRow) toCall() (*Call, error) {
	c := &Call{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Destination: r.Destination,
		Channel:     Channel(r.Channel),
		Region:      r.Region,
		Status:      Status(r.Status),
		IsSimulated: r.IsSimulated,
	}

	var err error
	if c.ScheduledTime, err = parseTime(r.ScheduledTime); err != nil {
		return nil, errors.Wrapf(err, "invalid scheduled_time for call %s", r.ID)
	}
	if c.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, errors.Wrapf(err, "invalid created_at for call %s", r.ID)
	}
	if c.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, errors.Wrapf(err, "invalid updated_at for call %s", r.ID)
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&c.LastExecutedAt, r.LastExecutedAt},
		{&c.NextExecutionAt, r.NextExecutionAt},
		{&c.ClaimedAt, r.ClaimedAt},
		{&c.LeaseExpiresAt, r.LeaseExpiresAt},
	} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return nil, errors.Wrapf(err, "invalid timestamp for call %s", r.ID)
		}
	}
	return c, nil
}

func toCalls(rows []callRow) ([]*Call, error) {
	calls := make([]*Call, 0, len(rows))
	for _, r := range rows {
		c, err := r.toCall()
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, nil
}

// Store persists wake-up calls. Every status change is a conditional
// update on the expected source status.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new call store
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for stores sharing transactions
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Create inserts a new call
func (s *Store) Create(ctx context.Context, c *Call) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wakeup_calls (`+callColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, formatTime(c.ScheduledTime), c.Destination, string(c.Channel), c.Region,
		string(c.Status), c.IsSimulated, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
		nullTime(c.LastExecutedAt), nullTime(c.NextExecutionAt), nullTime(c.ClaimedAt), nullTime(c.LeaseExpiresAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create wake-up call %s", c.ID)
	}
	return nil
}

// Get retrieves a call by ID
func (s *Store) Get(ctx context.Context, id string) (*Call, error) {
	var row callRow
	err := s.db.GetContext(ctx, &row, `SELECT `+callColumns+` FROM wakeup_calls WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("wake-up call", id)
		}
		return nil, errors.Wrapf(err, "failed to get wake-up call %s", id)
	}
	return row.toCall()
}

// ListByOwner returns an owner's calls, soonest first. Empty statuses means all.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, statuses ...Status) ([]*Call, error) {
	query := `SELECT ` + callColumns + ` FROM wakeup_calls WHERE owner_id = ?`
	args := []interface{}{ownerID}
	if len(statuses) > 0 {
		in, inArgs := statusIn(statuses)
		query += ` AND status IN ` + in
		args = append(args, inArgs...)
	}
	query += ` ORDER BY scheduled_time ASC`

	var rows []callRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "failed to list wake-up calls for owner %s", ownerID)
	}
	return toCalls(rows)
}

// List returns calls filtered by status, soonest first
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Call, error) {
	query := `SELECT ` + callColumns + ` FROM wakeup_calls`
	var args []interface{}
	if len(statuses) > 0 {
		in, inArgs := statusIn(statuses)
		query += ` WHERE status IN ` + in
		args = inArgs
	}
	query += ` ORDER BY scheduled_time ASC LIMIT ?`
	args = append(args, limit)

	var rows []callRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list wake-up calls")
	}
	return toCalls(rows)
}

// ListDue returns claimable calls: scheduled calls whose scheduled time
// falls in [from, to], and active calls whose lease expired before now and
// whose scheduled time falls in [reclaimFrom, to].
func (s *Store) ListDue(ctx context.Context, from, to, reclaimFrom, now time.Time, limit int) ([]*Call, error) {
	var rows []callRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+callColumns+` FROM wakeup_calls
		WHERE scheduled_time <= ?
		  AND ((status = 'scheduled' AND scheduled_time >= ?)
		       OR (status = 'active' AND scheduled_time >= ?
		           AND lease_expires_at IS NOT NULL AND lease_expires_at < ?))
		ORDER BY scheduled_time ASC
		LIMIT ?`,
		formatTime(to), formatTime(from), formatTime(reclaimFrom), formatTime(now), limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due wake-up calls")
	}
	return toCalls(rows)
}

// Claim marks a call active with a lease ending at now+lease. It succeeds for
// scheduled calls and for active calls whose lease has expired. Returns false
// when another claimant got there first.
func (s *Store) Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE wakeup_calls
		SET status = 'active', claimed_at = ?, lease_expires_at = ?, updated_at = ?
		WHERE id = ?
		  AND (status = 'scheduled'
		       OR (status = 'active' AND lease_expires_at IS NOT NULL AND lease_expires_at < ?))`,
		ts, formatTime(now.Add(lease)), ts, id, ts,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim wake-up call %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read claim result")
	}
	return n == 1, nil
}

// ReleaseClaim returns an active call to scheduled when its claim was taken
// but no attempt ran. The update is conditional on the claim read here, so a
// claim taken over in between is left alone. Returns false when nothing
// changed.
func (s *Store) ReleaseClaim(ctx context.Context, id string, now time.Time) (bool, error) {
	var claimedAt sql.NullString
	err := s.db.GetContext(ctx, &claimedAt, `
		SELECT claimed_at FROM wakeup_calls WHERE id = ? AND status = 'active'`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to read claim of wake-up call %s", id)
	}
	if !claimedAt.Valid {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE wakeup_calls
		SET status = 'scheduled', claimed_at = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'active' AND claimed_at = ?`,
		formatTime(now), id, claimedAt.String,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to release wake-up call %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read release result")
	}
	return n == 1, nil
}

// Transition moves a call to the target status if its current status is one
// the state machine allows. Returns ErrInvalidTransition otherwise.
func (s *Store) Transition(ctx context.Context, id string, to Status, now time.Time) error {
	from := sourcesOf(to)
	if len(from) == 0 {
		return errors.NewTransitionError("any", string(to))
	}
	in, inArgs := statusIn(from)
	args := append([]interface{}{string(to), formatTime(now), id}, inArgs...)

	res, err := s.db.ExecContext(ctx, `
		UPDATE wakeup_calls
		SET status = ?, updated_at = ?, claimed_at = NULL, lease_expires_at = NULL
		WHERE id = ? AND status IN `+in, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update wake-up call %s", id)
	}
	return s.checkApplied(ctx, res, id, to)
}

// Reschedule sets a new scheduled time. Terminal calls return to scheduled;
// scheduled calls keep their status and move in time.
func (s *Store) Reschedule(ctx context.Context, id string, at, now time.Time) error {
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE wakeup_calls
		SET status = 'scheduled', scheduled_time = ?, next_execution_at = ?, updated_at = ?,
		    claimed_at = NULL, lease_expires_at = NULL
		WHERE id = ? AND status IN ('scheduled', 'completed', 'failed', 'cancelled')`,
		formatTime(at), formatTime(at), ts, id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to reschedule wake-up call %s", id)
	}
	return s.checkApplied(ctx, res, id, StatusScheduled)
}

// SetChannel changes the delivery channel without touching status
func (s *Store) SetChannel(ctx context.Context, id string, ch Channel, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE wakeup_calls SET channel = ?, updated_at = ? WHERE id = ?`,
		string(ch), formatTime(now), id)
	if err != nil {
		return errors.Wrapf(err, "failed to change channel of wake-up call %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if n == 0 {
		return errors.NewNotFoundError("wake-up call", id)
	}
	return nil
}

// ListStaleActive returns active calls whose lease expired before leaseCutoff
// and whose scheduled time is before scheduledCutoff. These are too late to
// be reclaimed by a scan.
func (s *Store) ListStaleActive(ctx context.Context, leaseCutoff, scheduledCutoff time.Time, limit int) ([]*Call, error) {
	var rows []callRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+callColumns+` FROM wakeup_calls
		WHERE status = 'active'
		  AND lease_expires_at IS NOT NULL AND lease_expires_at < ?
		  AND scheduled_time < ?
		ORDER BY scheduled_time ASC
		LIMIT ?`,
		formatTime(leaseCutoff), formatTime(scheduledCutoff), limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale active wake-up calls")
	}
	return toCalls(rows)
}

// CountByStatus returns the number of calls in each status
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM wakeup_calls GROUP BY status`); err != nil {
		return nil, errors.Wrap(err, "failed to count wake-up calls")
	}
	out := make(map[Status]int, len(rows))
	for _, r := range rows {
		out[Status(r.Status)] = r.N
	}
	return out, nil
}

// checkApplied turns a zero-row conditional update into NotFound or
// ErrInvalidTransition depending on whether the call exists.
func (s *Store) checkApplied(ctx context.Context, res sql.Result, id string, to Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if n > 0 {
		return nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return errors.NewTransitionError(string(current.Status), string(to))
}

func statusIn(statuses []Status) (string, []interface{}) {
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return "(" + strings.Join(placeholders, ", ") + ")", args
}
