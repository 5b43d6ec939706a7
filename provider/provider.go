// Package provider defines the delivery gateway used to place wake-up
// calls and send text messages.
package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/wakeup/am"
	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/provider/sandbox"
	"github.com/teranos/wakeup/provider/twilio"
)

// DeliveryProvider places voice calls and sends texts.
//
// PlaceCall and SendText return the provider transaction id. A disabled
// provider returns errors.ErrProviderUnavailable; gateway rejections are
// marked errors.ErrProvider. Verification never errors, it reports success.
type DeliveryProvider interface {
	PlaceCall(ctx context.Context, destination, callbackURL string) (string, error)
	SendText(ctx context.Context, destination, body string) (string, error)
	SendVerificationCode(ctx context.Context, destination string) bool
	CheckVerificationCode(ctx context.Context, destination, code string) bool
	Enabled() bool
}

// Kind names a provider implementation
type Kind string

const (
	KindTwilio   Kind = "twilio"
	KindSandbox  Kind = "sandbox"
	KindDisabled Kind = "disabled"
)

// New selects the provider for cfg. An enabled config yields the Twilio
// adapter. A disabled one yields the sandbox when useSandbox is set and a
// provider that refuses every delivery otherwise.
func New(cfg am.ProviderConfig, statusCallbackURL string, useSandbox bool, logger *zap.SugaredLogger) (DeliveryProvider, Kind) {
	if cfg.Enabled {
		return twilio.New(twilio.Config{
			AccountSID:        cfg.AccountSID,
			AuthToken:         cfg.AuthToken,
			FromNumber:        cfg.FromNumber,
			VerifyServiceSID:  cfg.VerifyServiceSID,
			BaseURL:           cfg.BaseURL,
			VerifyBaseURL:     cfg.VerifyBaseURL,
			StatusCallbackURL: statusCallbackURL,
			Record:            cfg.RecordCalls,
			Timeout:           cfg.Timeout(),
			Logger:            logger,
		}), KindTwilio
	}
	if useSandbox {
		return sandbox.New(), KindSandbox
	}
	return Disabled{}, KindDisabled
}

// Disabled refuses every delivery
type Disabled struct{}

func (Disabled) PlaceCall(context.Context, string, string) (string, error) {
	return "", errors.WithHint(errors.ErrProviderUnavailable, "set provider.enabled and the TWILIO_* credentials")
}

func (Disabled) SendText(context.Context, string, string) (string, error) {
	return "", errors.WithHint(errors.ErrProviderUnavailable, "set provider.enabled and the TWILIO_* credentials")
}

func (Disabled) SendVerificationCode(context.Context, string) bool        { return false }
func (Disabled) CheckVerificationCode(context.Context, string, string) bool { return false }
func (Disabled) Enabled() bool                                               { return false }
