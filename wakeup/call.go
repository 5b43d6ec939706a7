// Package wakeup holds the wake-up call records, their execution log, the
// status state machine and the owner-facing operations on them.
package wakeup

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a wake-up call
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active" // claimed for execution
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no execution can follow without a reschedule
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusActive, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Channel is the delivery medium
type Channel string

const (
	ChannelCall Channel = "call"
	ChannelSMS  Channel = "sms"
)

// ParseChannel accepts "call" or "sms" in any case
func ParseChannel(s string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelCall:
		return ChannelCall, true
	case ChannelSMS:
		return ChannelSMS, true
	}
	return "", false
}

// Toggle returns the other channel
func (c Channel) Toggle() Channel {
	if c == ChannelCall {
		return ChannelSMS
	}
	return ChannelCall
}

// Call is one scheduled wake-up notification
type Call struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	ScheduledTime   time.Time  `json:"scheduled_time"`
	Destination     string     `json:"destination"`
	Channel         Channel    `json:"channel"`
	Region          string     `json:"region"`
	Status          Status     `json:"status"`
	IsSimulated     bool       `json:"is_simulated"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastExecutedAt  *time.Time `json:"last_executed_at,omitempty"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	LeaseExpiresAt  *time.Time `json:"lease_expires_at,omitempty"`
}

// Outcome is the result recorded on a call log entry
type Outcome string

const (
	OutcomeInitiated Outcome = "initiated"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoAnswer  Outcome = "no-answer"
	OutcomeBusy      Outcome = "busy"
)

// IsFinal reports whether the outcome closes the attempt
func (o Outcome) IsFinal() bool {
	return o != OutcomeInitiated
}

// NormalizeOutcome maps provider status vocabulary onto Outcome.
// Returns false for statuses that only report progress.
func NormalizeOutcome(providerStatus string) (Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "completed", "delivered", "sent":
		return OutcomeCompleted, true
	case "failed", "canceled", "cancelled", "undelivered":
		return OutcomeFailed, true
	case "no-answer":
		return OutcomeNoAnswer, true
	case "busy":
		return OutcomeBusy, true
	case "initiated", "queued", "ringing", "in-progress", "accepted", "sending":
		return OutcomeInitiated, false
	}
	return "", false
}

// CallLog is one execution attempt of a Call
type CallLog struct {
	ID                    string          `json:"id"`
	CallID                string          `json:"call_id"`
	OutcomeStatus         Outcome         `json:"outcome_status"`
	ProviderTransactionID string          `json:"provider_transaction_id,omitempty"`
	DurationSeconds       *int            `json:"duration_seconds,omitempty"`
	ErrorMessage          string          `json:"error_message,omitempty"`
	ContextSnapshot       json.RawMessage `json:"context_snapshot"`
	CreatedAt             time.Time       `json:"created_at"`
}

// InboundCall is a call placed to the service's number
type InboundCall struct {
	ID              string    `json:"id"`
	TransactionID   string    `json:"transaction_id"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	OwnerID         string    `json:"owner_id,omitempty"`
	Status          string    `json:"status"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Inbound call statuses
const (
	InboundInitiated = "initiated"
	InboundActive    = "active"
)
