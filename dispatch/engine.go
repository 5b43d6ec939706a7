// Package dispatch executes claimed wake-up calls: it gathers weather
// context, composes the message, hands it to the delivery provider and
// records the attempt.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/wakeup/compose"
	"github.com/teranos/wakeup/enrich"
	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/logger"
	"github.com/teranos/wakeup/provider"
	"github.com/teranos/wakeup/wakeup"
)

// Defaults for external call deadlines and the claim taken by direct runs
const (
	DefaultEnrichTimeout   = 10 * time.Second
	DefaultProviderTimeout = 10 * time.Second
	DefaultLease           = 2 * time.Minute
	finishTimeout          = 5 * time.Second
)

// VoicePath is where the provider fetches the wake-up script of a call
const VoicePath = "/calls/voice/"

// Result describes one execution
type Result struct {
	CallID        string         `json:"call_id"`
	OwnerID       string         `json:"owner_id,omitempty"`
	LogID         string         `json:"log_id,omitempty"`
	Channel       wakeup.Channel `json:"channel,omitempty"`
	Status        wakeup.Status  `json:"status"`
	Outcome       wakeup.Outcome `json:"outcome,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Error         string         `json:"error,omitempty"`
	Simulated     bool           `json:"simulated"`
	Skipped       bool           `json:"skipped"`
	ExecutedAt    time.Time      `json:"executed_at"`
	Duration      time.Duration  `json:"duration_ns"`
}

// Failed reports whether the delivery attempt failed
func (r Result) Failed() bool { return r.Outcome == wakeup.OutcomeFailed }

// EventSink receives every execution result
type EventSink interface {
	Publish(Result)
}

type nopSink struct{}

func (nopSink) Publish(Result) {}

// Config holds engine settings
type Config struct {
	PublicURL       string // base URL for provider callbacks
	EnrichTimeout   time.Duration
	ProviderTimeout time.Duration
	Lease           time.Duration // claim taken when executing a still-scheduled call
	SMSLimit        int
}

// Engine runs wake-up calls
type Engine struct {
	calls    *wakeup.Store
	logs     *wakeup.LogStore
	profiles *wakeup.ProfileStore
	provider provider.DeliveryProvider
	enricher enrich.ContextEnrichment
	cfg      Config
	now      func() time.Time
	sink     EventSink
	logger   *zap.SugaredLogger
}

// Option customises an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSink publishes results to sink
func WithSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// NewEngine creates an engine
func NewEngine(calls *wakeup.Store, logs *wakeup.LogStore, profiles *wakeup.ProfileStore,
	p provider.DeliveryProvider, enricher enrich.ContextEnrichment, cfg Config,
	log *zap.SugaredLogger, opts ...Option) *Engine {

	if cfg.EnrichTimeout <= 0 {
		cfg.EnrichTimeout = DefaultEnrichTimeout
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.SMSLimit <= 0 {
		cfg.SMSLimit = compose.DefaultSMSLimit
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if enricher == nil {
		enricher = enrich.Disabled{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	e := &Engine{
		calls:    calls,
		logs:     logs,
		profiles: profiles,
		provider: p,
		enricher: enricher,
		cfg:      cfg,
		now:      time.Now,
		sink:     nopSink{},
		logger:   log.Named("dispatch"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CallbackURL is the voice script URL handed to the provider for a call
func (e *Engine) CallbackURL(callID string) string {
	return e.cfg.PublicURL + VoicePath + callID
}

// Execute delivers one wake-up call. A missing call is an error. Calls that
// are no longer scheduled or active are skipped without a log entry.
// Delivery failures are recorded on the call and returned in the Result,
// not as an error.
func (e *Engine) Execute(ctx context.Context, callID string) (Result, error) {
	start := e.now()
	log := logger.FromContext(ctx, e.logger).With(logger.FieldCallID, callID)

	call, err := e.calls.Get(ctx, callID)
	if err != nil {
		return Result{CallID: callID}, err
	}
	res := Result{
		CallID:    call.ID,
		OwnerID:   call.OwnerID,
		Channel:   call.Channel,
		Status:    call.Status,
		Simulated: call.IsSimulated,
	}

	switch call.Status {
	case wakeup.StatusActive:
	case wakeup.StatusScheduled:
		claimed, err := e.calls.Claim(ctx, call.ID, start, e.cfg.Lease)
		if err != nil {
			return res, err
		}
		if !claimed {
			res.Skipped = true
			log.Infow("Skipping wake-up call claimed elsewhere")
			return res, nil
		}
	default:
		res.Skipped = true
		log.Infow("Skipping wake-up call", logger.FieldStatus, call.Status)
		return res, nil
	}

	if n, err := e.logs.AbandonInitiated(ctx, call.ID, "superseded by a new attempt"); err != nil {
		return e.abort(ctx, res, start, err)
	} else if n > 0 {
		log.Warnw("Closed interrupted attempts", logger.FieldCount, n)
	}

	wx := e.fetchContext(ctx, call.Region)

	entry := &wakeup.CallLog{
		CallID:          call.ID,
		OutcomeStatus:   wakeup.OutcomeInitiated,
		ContextSnapshot: wx.Snapshot(),
		CreatedAt:       start,
	}
	if err := e.logs.Create(ctx, entry); err != nil {
		return e.abort(ctx, res, start, err)
	}
	res.LogID = entry.ID

	txID, deliverErr := e.deliver(ctx, call, wx)

	attempt := wakeup.AttemptResult{
		CallID:        call.ID,
		LogID:         entry.ID,
		Outcome:       wakeup.OutcomeCompleted,
		TransactionID: txID,
		ExecutedAt:    e.now(),
	}
	if deliverErr != nil {
		attempt.Outcome = wakeup.OutcomeFailed
		attempt.ErrorMessage = deliverErr.Error()
	}

	// the attempt is recorded even when ctx has been cancelled
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	status, err := e.calls.FinishAttempt(finishCtx, attempt)
	if err != nil {
		return res, err
	}

	res.Status = status
	res.Outcome = attempt.Outcome
	res.TransactionID = txID
	res.Error = attempt.ErrorMessage
	res.ExecutedAt = attempt.ExecutedAt
	res.Duration = attempt.ExecutedAt.Sub(start)

	fields := []interface{}{
		logger.FieldChannel, call.Channel,
		logger.FieldOutcome, attempt.Outcome,
		logger.FieldStatus, status,
		logger.FieldSimulated, call.IsSimulated,
		logger.FieldDurationMS, res.Duration.Milliseconds(),
	}
	if deliverErr != nil {
		log.Errorw("Wake-up call failed", append(fields, logger.FieldError, deliverErr)...)
	} else {
		log.Infow("Wake-up call delivered", append(fields, logger.FieldTransactionID, txID)...)
	}

	e.sink.Publish(res)
	return res, nil
}

// abort fails a claimed call whose attempt could not be logged, so it is not
// left active until the lease runs out. cause is returned unchanged.
func (e *Engine) abort(ctx context.Context, res Result, start time.Time, cause error) (Result, error) {
	log := logger.FromContext(ctx, e.logger).With(logger.FieldCallID, res.CallID)

	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	now := e.now()
	failed, err := e.calls.FailAttempt(failCtx, res.CallID, now, "attempt could not be recorded: "+cause.Error())
	if err != nil {
		log.Errorw("Failed to fail unrecorded attempt", logger.FieldError, err, "cause", cause)
		return res, cause
	}
	if !failed {
		return res, cause
	}

	res.Status = wakeup.StatusFailed
	res.Outcome = wakeup.OutcomeFailed
	res.Error = cause.Error()
	res.ExecutedAt = now
	res.Duration = now.Sub(start)
	log.Errorw("Wake-up call failed before delivery", logger.FieldError, cause)

	e.sink.Publish(res)
	return res, cause
}

func (e *Engine) fetchContext(ctx context.Context, region string) enrich.Context {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EnrichTimeout)
	defer cancel()

	done := make(chan enrich.Context, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Warnw("Weather lookup panicked", logger.FieldRegion, region, "panic", r)
				done <- enrich.Unavailable()
			}
		}()
		done <- e.enricher.Fetch(ctx, region)
	}()

	select {
	case wx := <-done:
		return wx
	case <-ctx.Done():
		e.logger.Warnw("Weather lookup timed out", logger.FieldRegion, region, "timeout", e.cfg.EnrichTimeout)
		return enrich.Unavailable()
	}
}

// deliver hands the message to the provider. Panics become errors.
func (e *Engine) deliver(ctx context.Context, call *wakeup.Call, wx enrich.Context) (txID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			txID = ""
			err = errors.Newf("panic during delivery: %v", r)
		}
	}()

	if call.IsSimulated {
		return "", nil
	}
	if e.provider == nil {
		return "", errors.ErrProviderUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()

	switch call.Channel {
	case wakeup.ChannelCall:
		txID, err = e.provider.PlaceCall(ctx, call.Destination, e.CallbackURL(call.ID))
	case wakeup.ChannelSMS:
		body := compose.SMSBody(call.ScheduledTime, e.location(ctx, call.OwnerID), wx, e.cfg.SMSLimit)
		txID, err = e.provider.SendText(ctx, call.Destination, body)
	default:
		return "", errors.NewValidationError("unsupported channel %q", call.Channel)
	}
	if err == nil && txID == "" {
		err = errors.Mark(errors.New("provider returned no transaction id"), errors.ErrProvider)
	}
	if err != nil && ctx.Err() != nil {
		err = errors.WithMessage(err, fmt.Sprintf("no response within %s", e.cfg.ProviderTimeout))
	}
	return txID, err
}

// location is the owner's timezone, UTC without a profile
func (e *Engine) location(ctx context.Context, ownerID string) *time.Location {
	if e.profiles == nil {
		return time.UTC
	}
	p, err := e.profiles.Get(ctx, ownerID)
	if err != nil {
		return time.UTC
	}
	return p.Location()
}

// Script renders the voice script served to the provider for a call
func (e *Engine) Script(ctx context.Context, callID string) (compose.VoiceResponse, error) {
	call, err := e.calls.Get(ctx, callID)
	if err != nil {
		return compose.VoiceResponse{}, err
	}
	wx := e.fetchContext(ctx, call.Region)
	return compose.WakeUpScript(call.ScheduledTime, e.location(ctx, call.OwnerID), wx,
		e.cfg.PublicURL+compose.VoiceInputPath), nil
}
