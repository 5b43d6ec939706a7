// Package weather looks up current conditions from OpenWeatherMap by
// postal code.
package weather

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/teranos/wakeup/enrich"
	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/internal/httpclient"
	"github.com/teranos/wakeup/logger"
)

const (
	DefaultBaseURL = "http://api.openweathermap.org/data/2.5/weather"
	defaultTimeout = 10 * time.Second
	defaultCountry = "US"
	maxBodyBytes   = 256 << 10
)

// Config configures the OpenWeatherMap client
type Config struct {
	APIKey      string
	BaseURL     string // Default: DefaultBaseURL
	Timeout     time.Duration
	Logger      *zap.SugaredLogger
	HTTPOptions httpclient.Options
}

// Client implements enrich.ContextEnrichment
type Client struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *httpclient.Client
	logger     *zap.SugaredLogger
}

// New creates a weather client
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		timeout:    cfg.Timeout,
		httpClient: httpclient.New(cfg.Timeout, cfg.HTTPOptions),
		logger:     log.Named("weather"),
	}
}

// Fetch returns current conditions for a postal code, or the unavailable
// context on any failure
func (c *Client) Fetch(ctx context.Context, region string) enrich.Context {
	region = strings.TrimSpace(region)
	if region == "" || c.apiKey == "" {
		return enrich.Unavailable()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.fetch(ctx, region)
	if err != nil {
		c.logger.Warnw("Weather lookup failed", logger.FieldRegion, region, logger.FieldError, err)
		return enrich.Unavailable()
	}
	return out
}

func (c *Client) fetch(ctx context.Context, region string) (enrich.Context, error) {
	q := url.Values{
		"zip":   {region + "," + defaultCountry},
		"appid": {c.apiKey},
		"units": {"imperial"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return enrich.Context{}, errors.Wrap(err, "failed to build weather request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return enrich.Context{}, errors.Wrap(err, "weather request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return enrich.Context{}, errors.Wrap(err, "failed to read weather response")
	}
	if resp.StatusCode != http.StatusOK {
		return enrich.Context{}, errors.WithDetail(
			errors.Newf("weather API returned status %d", resp.StatusCode),
			gjson.GetBytes(body, "message").String(),
		)
	}
	return parse(body)
}

// parse extracts the fields used in messages. Temperatures are rounded to
// whole degrees.
func parse(body []byte) (enrich.Context, error) {
	if !gjson.ValidBytes(body) {
		return enrich.Context{}, errors.New("weather response is not JSON")
	}
	r := gjson.ParseBytes(body)

	temp := r.Get("main.temp")
	desc := r.Get("weather.0.description")
	if !temp.Exists() || !desc.Exists() {
		return enrich.Context{}, errors.New("weather response missing main.temp or weather.0.description")
	}

	out := enrich.Context{
		Temperature: degrees(temp),
		Description: desc.String(),
		Humidity:    enrich.NotAvailable,
		FeelsLike:   enrich.NotAvailable,
		Location:    enrich.UnknownLocation,
	}
	if h := r.Get("main.humidity"); h.Exists() {
		out.Humidity = strconv.FormatInt(h.Int(), 10)
	}
	if fl := r.Get("main.feels_like"); fl.Exists() {
		out.FeelsLike = degrees(fl)
	}
	if name := r.Get("name").String(); name != "" {
		out.Location = name
	}
	return out, nil
}

func degrees(v gjson.Result) string {
	return strconv.FormatFloat(math.Round(v.Float()), 'f', 0, 64)
}
