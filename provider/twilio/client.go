// Package twilio adapts the Twilio voice, messaging and verify APIs to the
// delivery provider used by the engine.
package twilio

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	sdk "github.com/twilio/twilio-go"
	sdkclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
	"go.uber.org/zap"

	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/internal/httpclient"
	"github.com/teranos/wakeup/logger"
)

const (
	DefaultBaseURL       = "https://api.twilio.com"
	DefaultVerifyBaseURL = "https://verify.twilio.com"
	defaultTimeout       = 10 * time.Second
)

var callEvents = []string{"initiated", "ringing", "answered", "completed"}

// Config holds Twilio credentials and endpoints
type Config struct {
	AccountSID        string
	AuthToken         string
	FromNumber        string
	VerifyServiceSID  string
	BaseURL           string // origin replacing api.twilio.com. Default: DefaultBaseURL
	VerifyBaseURL     string // origin replacing verify.twilio.com. Default: DefaultVerifyBaseURL
	StatusCallbackURL string // optional, receives delivery status updates
	Record            bool
	Timeout           time.Duration
	Logger            *zap.SugaredLogger
	HTTPOptions       httpclient.Options
}

// Client talks to Twilio through the twilio-go REST client
type Client struct {
	cfg    Config
	rest   *sdk.RestClient
	logger *zap.SugaredLogger
}

// New creates a Twilio client. Missing credentials leave it disabled.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.VerifyBaseURL == "" {
		cfg.VerifyBaseURL = DefaultVerifyBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("twilio")

	httpClient := httpclient.New(cfg.Timeout, cfg.HTTPOptions).Standard()
	httpClient.Transport = newOriginRewriter(httpClient.Transport, map[string]string{
		"api.twilio.com":    cfg.BaseURL,
		"verify.twilio.com": cfg.VerifyBaseURL,
	}, log)

	base := &sdkclient.Client{
		Credentials: sdkclient.NewCredentials(cfg.AccountSID, cfg.AuthToken),
		HTTPClient:  httpClient,
	}
	base.SetAccountSid(cfg.AccountSID)

	return &Client{
		cfg:    cfg,
		rest:   sdk.NewRestClientWithParams(sdk.ClientParams{Client: base}),
		logger: log,
	}
}

// Enabled reports whether credentials and a sender number are configured
func (c *Client) Enabled() bool {
	return c.cfg.AccountSID != "" && c.cfg.AuthToken != "" && c.cfg.FromNumber != ""
}

// PlaceCall starts an outbound call whose TwiML is fetched from callbackURL
func (c *Client) PlaceCall(ctx context.Context, destination, callbackURL string) (string, error) {
	if !c.Enabled() {
		return "", errors.ErrProviderUnavailable
	}
	params := &api.CreateCallParams{}
	params.SetTo(destination)
	params.SetFrom(c.cfg.FromNumber)
	params.SetUrl(callbackURL)
	params.SetRecord(c.cfg.Record)
	if c.cfg.StatusCallbackURL != "" {
		params.SetStatusCallback(c.cfg.StatusCallbackURL)
		params.SetStatusCallbackEvent(callEvents)
	}

	call, err := within(ctx, func() (*api.ApiV2010Call, error) {
		return c.rest.Api.CreateCall(params)
	})
	if err != nil {
		return "", errors.Wrapf(providerError(err), "failed to place call to %s", destination)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return "", errors.Mark(errors.New("call response has no sid"), errors.ErrProvider)
	}
	c.logger.Infow("Call placed", logger.FieldTransactionID, *call.Sid, logger.FieldDestination, destination)
	return *call.Sid, nil
}

// SendText sends an SMS
func (c *Client) SendText(ctx context.Context, destination, text string) (string, error) {
	if !c.Enabled() {
		return "", errors.ErrProviderUnavailable
	}
	params := &api.CreateMessageParams{}
	params.SetTo(destination)
	params.SetFrom(c.cfg.FromNumber)
	params.SetBody(text)
	if c.cfg.StatusCallbackURL != "" {
		params.SetStatusCallback(c.cfg.StatusCallbackURL)
	}

	msg, err := within(ctx, func() (*api.ApiV2010Message, error) {
		return c.rest.Api.CreateMessage(params)
	})
	if err != nil {
		return "", errors.Wrapf(providerError(err), "failed to send text to %s", destination)
	}
	if msg == nil || msg.Sid == nil || *msg.Sid == "" {
		return "", errors.Mark(errors.New("message response has no sid"), errors.ErrProvider)
	}
	c.logger.Infow("Text sent", logger.FieldTransactionID, *msg.Sid, logger.FieldDestination, destination)
	return *msg.Sid, nil
}

// SendVerificationCode starts an SMS verification. True when Twilio
// reports the verification pending.
func (c *Client) SendVerificationCode(ctx context.Context, destination string) bool {
	if !c.Enabled() || c.cfg.VerifyServiceSID == "" {
		return false
	}
	params := &verify.CreateVerificationParams{}
	params.SetTo(destination)
	params.SetChannel("sms")

	v, err := within(ctx, func() (*verify.VerifyV2Verification, error) {
		return c.rest.VerifyV2.CreateVerification(c.cfg.VerifyServiceSID, params)
	})
	if err != nil {
		c.logger.Warnw("Verification send failed", logger.FieldDestination, destination, logger.FieldError, providerError(err))
		return false
	}
	return v != nil && v.Status != nil && *v.Status == "pending"
}

// CheckVerificationCode checks a code. True when Twilio approves it.
func (c *Client) CheckVerificationCode(ctx context.Context, destination, code string) bool {
	if !c.Enabled() || c.cfg.VerifyServiceSID == "" {
		return false
	}
	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(destination)
	params.SetCode(code)

	check, err := within(ctx, func() (*verify.VerifyV2VerificationCheck, error) {
		return c.rest.VerifyV2.CreateVerificationCheck(c.cfg.VerifyServiceSID, params)
	})
	if err != nil {
		c.logger.Warnw("Verification check failed", logger.FieldDestination, destination, logger.FieldError, providerError(err))
		return false
	}
	return check != nil && check.Status != nil && *check.Status == "approved"
}

// within runs fn on its own goroutine and gives up when ctx ends. The SDK
// calls take no context; the HTTP client timeout bounds the goroutine.
func within[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// providerError marks err as a gateway failure, carrying Twilio's error
// code and message as details when the API rejected the request
func providerError(err error) error {
	var rest *sdkclient.TwilioRestError
	if errors.As(err, &rest) {
		out := errors.New("twilio rejected the request")
		if rest.Status != 0 {
			out = errors.WithDetail(out, "HTTP status: "+strconv.Itoa(rest.Status))
		}
		if rest.Message != "" {
			out = errors.WithDetail(out, rest.Message)
		}
		if rest.Code != 0 {
			out = errors.WithDetailf(out, "Twilio error code: %d", rest.Code)
		}
		return errors.Mark(out, errors.ErrProvider)
	}
	return errors.Mark(errors.Wrap(err, "request failed"), errors.ErrProvider)
}

// originRewriter sends requests for the SDK's fixed Twilio hosts to
// configured origins
type originRewriter struct {
	next    http.RoundTripper
	origins map[string]*url.URL
}

func newOriginRewriter(next http.RoundTripper, origins map[string]string, log *zap.SugaredLogger) http.RoundTripper {
	r := originRewriter{next: next, origins: make(map[string]*url.URL)}
	for host, raw := range origins {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			log.Warnw("Ignoring invalid Twilio base URL", "url", raw, logger.FieldError, err)
			continue
		}
		if u.Host != host || u.Scheme != "https" {
			r.origins[host] = u
		}
	}
	if len(r.origins) == 0 {
		return next
	}
	return r
}

func (r originRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	to, ok := r.origins[req.URL.Host]
	if !ok {
		return r.next.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	out.URL.Scheme = to.Scheme
	out.URL.Host = to.Host
	out.Host = to.Host
	return r.next.RoundTrip(out)
}
