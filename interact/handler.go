// Package interact answers inbound events from the telephony provider:
// keypad input during a call, text replies, delivery status callbacks and
// calls placed to the service number.
//
// Every entry point returns something the provider can be answered with.
// Internal errors are logged and turned into a benign reply.
package interact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/wakeup/compose"
	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/logger"
	"github.com/teranos/wakeup/provider"
	"github.com/teranos/wakeup/pulse/budget"
	"github.com/teranos/wakeup/wakeup"
)

// DefaultReplyTimeout bounds the provider call that sends a text reply
const DefaultReplyTimeout = 10 * time.Second

// Keypad options of the voice menu
const (
	DigitChangeInfo = "1"
	DigitCancelAll  = "2"
	DigitSwitch     = "3"
	DigitGoodbye    = "0"
)

// Text reply keywords, matched case-insensitively
const (
	KeywordStop   = "STOP"
	KeywordChange = "CHANGE"
	KeywordMethod = "METHOD"
)

// Config holds handler settings
type Config struct {
	PublicURL           string
	ReplyTimeout        time.Duration
	ReplyLimitPerMinute int // text replies per sender, 0 = unlimited
}

// Handler applies inbound interactions to wake-up calls
type Handler struct {
	svc      *wakeup.Service
	calls    *wakeup.Store
	logs     *wakeup.LogStore
	inbound  *wakeup.InboundStore
	provider provider.DeliveryProvider
	replies  *budget.Limiter
	cfg      Config
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// Option customises a Handler
type Option func(*Handler)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler creates an interaction handler. p sends text replies.
func NewHandler(svc *wakeup.Service, calls *wakeup.Store, logs *wakeup.LogStore, inbound *wakeup.InboundStore,
	p provider.DeliveryProvider, cfg Config, log *zap.SugaredLogger, opts ...Option) *Handler {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &Handler{
		svc:      svc,
		calls:    calls,
		logs:     logs,
		inbound:  inbound,
		provider: p,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.Named("interact"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.replies = budget.NewLimiterWithClock(cfg.ReplyLimitPerMinute, budget.DefaultWindow, h.now)
	return h
}

func (h *Handler) actionURL() string {
	return h.cfg.PublicURL + compose.VoiceInputPath
}

// party is who a provider transaction belongs to: an outbound wake-up call
// or an inbound call from a known owner
type party struct {
	call *wakeup.Call // nil for inbound calls
	auth wakeup.Authorization
}

// resolve finds the party of a transaction. Returns NotFound when neither
// an execution log entry nor an inbound call from a known owner carries it.
func (h *Handler) resolve(ctx context.Context, transactionID string) (party, error) {
	entry, err := h.logs.GetByTransaction(ctx, transactionID)
	if err == nil {
		call, err := h.calls.Get(ctx, entry.CallID)
		if err != nil {
			return party{}, err
		}
		auth, err := h.svc.Authorize(ctx, call.OwnerID)
		if err != nil {
			return party{}, err
		}
		return party{call: call, auth: auth}, nil
	}
	if !errors.IsNotFoundError(err) {
		return party{}, err
	}

	ic, err := h.inbound.GetByTransaction(ctx, transactionID)
	if err != nil {
		return party{}, err
	}
	if ic.OwnerID == "" {
		return party{}, errors.NewNotFoundError("owner for transaction", transactionID)
	}
	auth, err := h.svc.Authorize(ctx, ic.OwnerID)
	if err != nil {
		return party{}, err
	}
	return party{auth: auth}, nil
}

// VoiceInput answers a keypad digit pressed during a call
func (h *Handler) VoiceInput(ctx context.Context, transactionID, digit string) compose.VoiceResponse {
	log := h.logger.With(logger.FieldTransactionID, transactionID, "digit", digit)

	p, err := h.resolve(ctx, transactionID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			log.Warnw("Voice input for unknown transaction")
			return compose.Final(compose.MsgCallNotFound)
		}
		log.Errorw("Failed to resolve voice input", logger.FieldError, err)
		return compose.Final(compose.MsgError)
	}
	log = log.With(logger.FieldOwnerID, p.auth.OwnerID())

	switch strings.TrimSpace(digit) {
	case DigitChangeInfo:
		return compose.Reply(compose.MsgChangeInfo, h.actionURL())

	case DigitCancelAll:
		n, err := h.svc.CancelAllScheduled(ctx, p.auth)
		if err != nil {
			log.Errorw("Failed to cancel wake-up calls from keypad", logger.FieldError, err)
			return compose.Final(compose.MsgError)
		}
		log.Infow("Wake-up calls cancelled from keypad", logger.FieldCount, n)
		return compose.Reply(compose.MsgCallsCancelled, h.actionURL())

	case DigitSwitch:
		next, err := h.switchChannel(ctx, p)
		if err != nil {
			log.Errorw("Failed to switch contact method from keypad", logger.FieldError, err)
			return compose.Final(compose.MsgError)
		}
		return compose.Reply(fmt.Sprintf(compose.MsgMethodChanged, compose.MethodName(string(next))), h.actionURL())

	case DigitGoodbye:
		return compose.Final(compose.MsgGoodbye)
	}

	log.Debugw("Invalid keypad option")
	return compose.Reply(compose.MsgInvalidOption, h.actionURL())
}

// switchChannel flips the correlated call's channel and makes it the owner's
// preferred channel. Inbound callers have no correlated call, so their
// preferred channel flips and their scheduled calls follow it.
func (h *Handler) switchChannel(ctx context.Context, p party) (wakeup.Channel, error) {
	if p.call != nil {
		next, err := h.svc.ToggleChannel(ctx, p.call.ID)
		if err != nil {
			return "", err
		}
		if p.auth.Profile() != nil {
			if err := h.svc.SetPreferredChannel(ctx, p.auth, next); err != nil {
				return "", err
			}
		}
		return next, nil
	}

	next, err := h.svc.TogglePreferredChannel(ctx, p.auth)
	if err != nil {
		return "", err
	}
	if _, err := h.svc.SwitchScheduledChannel(ctx, p.auth, next); err != nil {
		return "", err
	}
	return next, nil
}

// TextReply answers an inbound text with exactly one text back, unless the
// sender is over the reply limit. Returns the reply body.
func (h *Handler) TextReply(ctx context.Context, from, body string) string {
	log := h.logger.With(logger.FieldFrom, from)
	reply := h.textReply(ctx, from, body, log)

	if err := h.replies.Allow(from); err != nil {
		log.Warnw("Text reply suppressed", logger.FieldError, err)
		return reply
	}
	if h.provider == nil {
		log.Warnw("No delivery provider, text reply not sent")
		return reply
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.cfg.ReplyTimeout)
	defer cancel()
	txID, err := h.provider.SendText(sendCtx, from, reply)
	if err != nil {
		log.Errorw("Failed to send text reply", logger.FieldError, err)
		return reply
	}
	log.Infow("Text reply sent", logger.FieldTransactionID, txID)
	return reply
}

func (h *Handler) textReply(ctx context.Context, from, body string, log *zap.SugaredLogger) string {
	auth, err := h.svc.AuthorizeByAddress(ctx, from)
	if err != nil {
		if errors.IsNotFoundError(err) {
			log.Infow("Text from unknown address")
			return compose.SMSProfileNotFound
		}
		log.Errorw("Failed to resolve text sender", logger.FieldError, err)
		return compose.SMSError
	}
	log = log.With(logger.FieldOwnerID, auth.OwnerID())

	switch strings.ToUpper(strings.TrimSpace(body)) {
	case KeywordStop:
		n, err := h.svc.CancelAllScheduled(ctx, auth)
		if err != nil {
			log.Errorw("Failed to cancel wake-up calls by text", logger.FieldError, err)
			return compose.SMSError
		}
		log.Infow("Wake-up calls cancelled by text", logger.FieldCount, n)
		return compose.SMSAllCancelled

	case KeywordChange:
		return compose.SMSChangeInfo

	case KeywordMethod:
		next, err := h.svc.TogglePreferredChannel(ctx, auth)
		if err != nil {
			if errors.IsNotFoundError(err) {
				return compose.SMSProfileNotFound
			}
			log.Errorw("Failed to switch contact method by text", logger.FieldError, err)
			return compose.SMSError
		}
		if _, err := h.svc.SwitchScheduledChannel(ctx, auth, next); err != nil {
			log.Errorw("Failed to switch scheduled calls", logger.FieldError, err)
			return compose.SMSError
		}
		return fmt.Sprintf(compose.SMSMethodChanged, compose.MethodName(string(next)))
	}
	return compose.SMSHelp
}

// StatusCallback records a provider status report on the execution log
// entry and the inbound call carrying transactionID. Replays leave the same
// rows. Returns false when no record knows the transaction yet.
func (h *Handler) StatusCallback(ctx context.Context, transactionID, status string, duration *int) bool {
	log := h.logger.With(logger.FieldTransactionID, transactionID, logger.FieldStatus, status)

	outcome, final := wakeup.NormalizeOutcome(status)
	if outcome == "" {
		log.Warnw("Unrecognised provider status, ignored")
		return false
	}

	var knownLog bool
	var err error
	if final {
		knownLog, err = h.logs.ApplyCallback(ctx, transactionID, outcome, duration)
	} else {
		knownLog, err = h.logs.ApplyDuration(ctx, transactionID, duration)
	}
	if err != nil {
		log.Errorw("Failed to apply status callback to call log", logger.FieldError, err)
	}

	knownInbound, err := h.inbound.ApplyCallback(ctx, transactionID, inboundStatus(status, outcome), duration, h.now())
	if err != nil {
		log.Errorw("Failed to apply status callback to inbound call", logger.FieldError, err)
	}

	if !knownLog && !knownInbound {
		log.Infow("Status callback for transaction not yet known")
		return false
	}
	log.Debugw("Status callback applied", logger.FieldOutcome, outcome)
	return true
}

// inboundStatus maps a provider status onto the inbound call vocabulary
func inboundStatus(status string, outcome wakeup.Outcome) string {
	if outcome.IsFinal() {
		return string(outcome)
	}
	if strings.EqualFold(strings.TrimSpace(status), "in-progress") {
		return wakeup.InboundActive
	}
	return wakeup.InboundInitiated
}

// InboundCall records a call to the service number and greets the caller
func (h *Handler) InboundCall(ctx context.Context, transactionID, from, to string) compose.VoiceResponse {
	log := h.logger.With(logger.FieldTransactionID, transactionID, logger.FieldFrom, from)

	ic := &wakeup.InboundCall{
		TransactionID: transactionID,
		From:          from,
		To:            to,
		Status:        wakeup.InboundActive,
	}

	auth, err := h.svc.AuthorizeByAddress(ctx, from)
	if err != nil && !errors.IsNotFoundError(err) {
		log.Errorw("Failed to resolve caller", logger.FieldError, err)
		h.record(ctx, ic, log)
		return compose.Final(compose.MsgError)
	}
	if err != nil {
		h.record(ctx, ic, log)
		log.Infow("Inbound call from unregistered number")
		return compose.UnknownCaller()
	}

	ic.OwnerID = auth.OwnerID()
	h.record(ctx, ic, log)

	next, err := h.svc.NextScheduled(ctx, auth)
	if err != nil {
		log.Errorw("Failed to look up next wake-up call", logger.FieldError, err)
		return compose.Final(compose.MsgError)
	}
	var at *time.Time
	if next != nil {
		at = &next.ScheduledTime
	}
	log.Infow("Inbound call from owner", logger.FieldOwnerID, auth.OwnerID())
	return compose.InboundGreeting(at, auth.Profile().Location(), h.actionURL())
}

func (h *Handler) record(ctx context.Context, ic *wakeup.InboundCall, log *zap.SugaredLogger) {
	if err := h.inbound.Record(ctx, ic, h.now()); err != nil {
		log.Errorw("Failed to record inbound call", logger.FieldError, err)
	}
}
