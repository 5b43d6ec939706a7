package wakeup

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/logger"
)

// Destination and region limits
const (
	MaxDestinationLength = 17
	MaxRegionLength      = 10
)

var destinationPattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)

// TriggerRegistrar arms and disarms the one-shot trigger of a call
type TriggerRegistrar interface {
	Register(ctx context.Context, callID string, at time.Time) error
	Unregister(ctx context.Context, callID string) error
}

type noopTriggers struct{}

func (noopTriggers) Register(context.Context, string, time.Time) error { return nil }
func (noopTriggers) Unregister(context.Context, string) error          { return nil }

// Authorization proves the holder acts for one owner. Only Service hands
// them out.
type Authorization struct {
	ownerID string
	profile *Profile
}

// OwnerID returns the authorized owner
func (a Authorization) OwnerID() string { return a.ownerID }

// Profile returns the owner's profile, nil when none is registered
func (a Authorization) Profile() *Profile { return a.profile }

// Valid reports whether the authorization was issued by a Service
func (a Authorization) Valid() bool { return a.ownerID != "" }

// CreateRequest is the input to Service.Create
type CreateRequest struct {
	OwnerID       string
	ScheduledTime time.Time
	Destination   string
	Channel       Channel // empty uses the owner's preferred channel
	Region        string
	IsSimulated   bool
}

// Service applies owner-facing operations to wake-up calls
type Service struct {
	calls    *Store
	profiles *ProfileStore
	triggers TriggerRegistrar
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// ServiceOption customises a Service
type ServiceOption func(*Service)

// WithClock replaces time.Now
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithTriggers registers one-shot triggers on create and reschedule
func WithTriggers(t TriggerRegistrar) ServiceOption {
	return func(s *Service) { s.triggers = t }
}

// NewService creates a service over the given stores
func NewService(calls *Store, profiles *ProfileStore, logger *zap.SugaredLogger, opts ...ServiceOption) *Service {
	s := &Service{
		calls:    calls,
		profiles: profiles,
		triggers: noopTriggers{},
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTriggers wires the trigger registrar after construction
func (s *Service) SetTriggers(t TriggerRegistrar) {
	s.triggers = t
}

// Create validates and stores a new scheduled call
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Call, error) {
	now := s.now()

	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, errors.NewValidationError("owner id is required")
	}
	if !req.ScheduledTime.After(now) {
		return nil, errors.NewValidationError("scheduled time %s is not in the future", req.ScheduledTime.Format(time.RFC3339))
	}
	if err := ValidateDestination(req.Destination); err != nil {
		return nil, err
	}
	if len(req.Region) > MaxRegionLength {
		return nil, errors.NewValidationError("region must be at most %d characters", MaxRegionLength)
	}

	channel := req.Channel
	if channel == "" {
		p, err := s.profiles.Get(ctx, req.OwnerID)
		if err != nil {
			if errors.IsNotFoundError(err) {
				return nil, errors.NewValidationError("channel is required for owners without a profile")
			}
			return nil, err
		}
		channel = p.PreferredChannel
	}
	parsed, ok := ParseChannel(string(channel))
	if !ok {
		return nil, errors.NewValidationError("invalid channel %q", channel)
	}
	channel = parsed

	at := req.ScheduledTime
	c := &Call{
		ID:              uuid.New().String(),
		OwnerID:         req.OwnerID,
		ScheduledTime:   at,
		Destination:     req.Destination,
		Channel:         channel,
		Region:          req.Region,
		Status:          StatusScheduled,
		IsSimulated:     req.IsSimulated,
		CreatedAt:       now,
		UpdatedAt:       now,
		NextExecutionAt: &at,
	}
	if err := s.calls.Create(ctx, c); err != nil {
		return nil, err
	}

	s.register(ctx, c.ID, at)
	s.logger.Infow("Wake-up call scheduled",
		logger.FieldCallID, c.ID,
		logger.FieldOwnerID, c.OwnerID,
		logger.FieldChannel, c.Channel,
		logger.FieldScheduledTime, at.UTC().Format(time.RFC3339),
		logger.FieldSimulated, c.IsSimulated,
	)
	return c, nil
}

// Get returns a call by ID
func (s *Service) Get(ctx context.Context, id string) (*Call, error) {
	return s.calls.Get(ctx, id)
}

// Cancel moves a scheduled or active call to cancelled
func (s *Service) Cancel(ctx context.Context, id string) error {
	if err := s.calls.Transition(ctx, id, StatusCancelled, s.now()); err != nil {
		return err
	}
	s.unregister(ctx, id)
	s.logger.Infow("Wake-up call cancelled", logger.FieldCallID, id)
	return nil
}

// Reschedule sets a new future time and returns the call to scheduled
func (s *Service) Reschedule(ctx context.Context, id string, at time.Time) error {
	now := s.now()
	if !at.After(now) {
		return errors.NewValidationError("scheduled time %s is not in the future", at.Format(time.RFC3339))
	}
	if err := s.calls.Reschedule(ctx, id, at, now); err != nil {
		return err
	}
	s.register(ctx, id, at)
	s.logger.Infow("Wake-up call rescheduled",
		logger.FieldCallID, id,
		logger.FieldScheduledTime, at.UTC().Format(time.RFC3339),
	)
	return nil
}

// ChangeChannel switches the delivery channel. Status is untouched.
func (s *Service) ChangeChannel(ctx context.Context, id string, ch Channel) error {
	parsed, ok := ParseChannel(string(ch))
	if !ok {
		return errors.NewValidationError("invalid channel %q", ch)
	}
	if err := s.calls.SetChannel(ctx, id, parsed, s.now()); err != nil {
		return err
	}
	s.logger.Infow("Wake-up call channel changed", logger.FieldCallID, id, logger.FieldChannel, parsed)
	return nil
}

// ToggleChannel flips a call between call and SMS and returns the new channel
func (s *Service) ToggleChannel(ctx context.Context, id string) (Channel, error) {
	c, err := s.calls.Get(ctx, id)
	if err != nil {
		return "", err
	}
	next := c.Channel.Toggle()
	if err := s.ChangeChannel(ctx, id, next); err != nil {
		return "", err
	}
	return next, nil
}

// Authorize issues an authorization for ownerID. The profile is attached
// when one exists.
func (s *Service) Authorize(ctx context.Context, ownerID string) (Authorization, error) {
	if ownerID == "" {
		return Authorization{}, errors.Mark(errors.New("owner id is required"), errors.ErrUnauthorized)
	}
	p, err := s.profiles.Get(ctx, ownerID)
	if err != nil && !errors.IsNotFoundError(err) {
		return Authorization{}, err
	}
	return Authorization{ownerID: ownerID, profile: p}, nil
}

// AuthorizeByAddress resolves the owner registered for a phone number.
// Unknown numbers return NotFound.
func (s *Service) AuthorizeByAddress(ctx context.Context, phone string) (Authorization, error) {
	p, err := s.profiles.GetByPhone(ctx, phone)
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{ownerID: p.OwnerID, profile: p}, nil
}

// CancelAllScheduled cancels every scheduled call of the owner and returns
// how many were cancelled. Calls claimed meanwhile are skipped.
func (s *Service) CancelAllScheduled(ctx context.Context, auth Authorization) (int, error) {
	if !auth.Valid() {
		return 0, errors.ErrUnauthorized
	}
	calls, err := s.calls.ListByOwner(ctx, auth.ownerID, StatusScheduled)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, c := range calls {
		if err := s.calls.Transition(ctx, c.ID, StatusCancelled, s.now()); err != nil {
			if errors.IsTransitionError(err) || errors.IsNotFoundError(err) {
				continue
			}
			return cancelled, err
		}
		s.unregister(ctx, c.ID)
		cancelled++
	}

	s.logger.Infow("Cancelled scheduled wake-up calls",
		logger.FieldOwnerID, auth.ownerID,
		logger.FieldCount, cancelled,
	)
	return cancelled, nil
}

// TogglePreferredChannel flips the owner's preferred channel
func (s *Service) TogglePreferredChannel(ctx context.Context, auth Authorization) (Channel, error) {
	if !auth.Valid() {
		return "", errors.ErrUnauthorized
	}
	if auth.profile == nil {
		return "", errors.NewNotFoundError("profile", auth.ownerID)
	}
	next := auth.profile.PreferredChannel.Toggle()
	if err := s.SetPreferredChannel(ctx, auth, next); err != nil {
		return "", err
	}
	return next, nil
}

// SetPreferredChannel stores ch as the owner's preferred channel
func (s *Service) SetPreferredChannel(ctx context.Context, auth Authorization, ch Channel) error {
	if !auth.Valid() {
		return errors.ErrUnauthorized
	}
	if auth.profile == nil {
		return errors.NewNotFoundError("profile", auth.ownerID)
	}
	if err := s.profiles.SetPreferredChannel(ctx, auth.ownerID, ch, s.now()); err != nil {
		return err
	}
	auth.profile.PreferredChannel = ch
	s.logger.Infow("Preferred channel changed", logger.FieldOwnerID, auth.ownerID, logger.FieldChannel, ch)
	return nil
}

// SwitchScheduledChannel moves every scheduled call of the owner to ch and
// returns how many changed. Status is untouched.
func (s *Service) SwitchScheduledChannel(ctx context.Context, auth Authorization, ch Channel) (int, error) {
	if !auth.Valid() {
		return 0, errors.ErrUnauthorized
	}
	calls, err := s.calls.ListByOwner(ctx, auth.ownerID, StatusScheduled)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, c := range calls {
		if c.Channel == ch {
			continue
		}
		if err := s.calls.SetChannel(ctx, c.ID, ch, s.now()); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// NextScheduled returns the owner's soonest scheduled call, or nil
func (s *Service) NextScheduled(ctx context.Context, auth Authorization) (*Call, error) {
	if !auth.Valid() {
		return nil, errors.ErrUnauthorized
	}
	calls, err := s.calls.ListByOwner(ctx, auth.ownerID, StatusScheduled)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, c := range calls {
		if c.ScheduledTime.After(now) {
			return c, nil
		}
	}
	return nil, nil
}

// ListByOwner returns all calls of an owner
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*Call, error) {
	return s.calls.ListByOwner(ctx, ownerID)
}

func (s *Service) register(ctx context.Context, id string, at time.Time) {
	if err := s.triggers.Register(ctx, id, at); err != nil {
		// the reconciliation scan still picks the call up
		s.logger.Warnw("Failed to register trigger", logger.FieldCallID, id, logger.FieldError, err)
	}
}

func (s *Service) unregister(ctx context.Context, id string) {
	if err := s.triggers.Unregister(ctx, id); err != nil {
		s.logger.Warnw("Failed to unregister trigger", logger.FieldCallID, id, logger.FieldError, err)
	}
}

// ValidateDestination checks a phone-shaped delivery address
func ValidateDestination(d string) error {
	if len(d) > MaxDestinationLength || !destinationPattern.MatchString(d) {
		return errors.NewValidationError("destination %q must be a phone number like +15551234567", d)
	}
	return nil
}
