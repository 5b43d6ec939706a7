package wakeup

import (
	"context"
	"database/sql"
	"time"
	_ "time/tzdata" // owner timezones resolve without a system zoneinfo

	"github.com/jmoiron/sqlx"

	"github.com/teranos/wakeup/errors"
)

// DefaultTimezone is used for owners without a stored zone
const DefaultTimezone = "America/New_York"

// Profile is an owner's contact preferences
type Profile struct {
	OwnerID          string    `json:"owner_id" db:"owner_id"`
	Phone            string    `json:"phone" db:"phone"`
	PreferredChannel Channel   `json:"preferred_channel" db:"preferred_channel"`
	Timezone         string    `json:"timezone" db:"timezone"`
	Verified         bool      `json:"verified" db:"verified"`
	CreatedAt        time.Time `json:"created_at" db:"-"`
	UpdatedAt        time.Time `json:"updated_at" db:"-"`
}

// Location resolves the profile's timezone, falling back to UTC
func (p *Profile) Location() *time.Location {
	if p == nil || p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type profileRow struct {
	OwnerID          string `db:"owner_id"`
	Phone            string `db:"phone"`
	PreferredChannel string `db:"preferred_channel"`
	Timezone         string `db:"timezone"`
	Verified         bool   `db:"verified"`
	CreatedAt        string `db:"created_at"`
	UpdatedAt        string `db:"updated_at"`
}

// ProfileStore persists owner profiles
type ProfileStore struct {
	db *sqlx.DB
}

// NewProfileStore creates a new profile store
func NewProfileStore(db *sqlx.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Upsert creates or replaces the profile for p.OwnerID
func (s *ProfileStore) Upsert(ctx context.Context, p *Profile, now time.Time) error {
	if p.PreferredChannel == "" {
		p.PreferredChannel = ChannelCall
	}
	if p.Timezone == "" {
		p.Timezone = DefaultTimezone
	}
	ts := formatTime(now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owner_profiles (owner_id, phone, preferred_channel, timezone, verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			phone = excluded.phone,
			preferred_channel = excluded.preferred_channel,
			timezone = excluded.timezone,
			verified = excluded.verified,
			updated_at = excluded.updated_at`,
		p.OwnerID, p.Phone, string(p.PreferredChannel), p.Timezone, p.Verified, ts, ts,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save profile for owner %s", p.OwnerID)
	}
	return nil
}

// Get retrieves the profile of an owner
func (s *ProfileStore) Get(ctx context.Context, ownerID string) (*Profile, error) {
	return s.getBy(ctx, "owner_id", ownerID)
}

// GetByPhone retrieves the profile registered for a phone number
func (s *ProfileStore) GetByPhone(ctx context.Context, phone string) (*Profile, error) {
	return s.getBy(ctx, "phone", phone)
}

func (s *ProfileStore) getBy(ctx context.Context, column, value string) (*Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, `
		SELECT owner_id, phone, preferred_channel, timezone, verified, created_at, updated_at
		FROM owner_profiles WHERE `+column+` = ?`, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("profile", value)
		}
		return nil, errors.Wrapf(err, "failed to get profile by %s", column)
	}

	p := &Profile{
		OwnerID:          row.OwnerID,
		Phone:            row.Phone,
		PreferredChannel: Channel(row.PreferredChannel),
		Timezone:         row.Timezone,
		Verified:         row.Verified,
	}
	if p.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "invalid created_at for profile")
	}
	if p.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return nil, errors.Wrap(err, "invalid updated_at for profile")
	}
	return p, nil
}

// SetPreferredChannel changes an owner's preferred channel
func (s *ProfileStore) SetPreferredChannel(ctx context.Context, ownerID string, ch Channel, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE owner_profiles SET preferred_channel = ?, updated_at = ? WHERE owner_id = ?`,
		string(ch), formatTime(now), ownerID)
	if err != nil {
		return errors.Wrapf(err, "failed to update preferred channel for owner %s", ownerID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if n == 0 {
		return errors.NewNotFoundError("profile", ownerID)
	}
	return nil
}
