package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/wakeup/enrich"
	"github.com/teranos/wakeup/internal/httpclient"
)

const sampleResponse = `{
  "weather": [{"id": 800, "main": "Clear", "description": "clear sky"}],
  "main": {"temp": 71.6, "feels_like": 70.2, "humidity": 48},
  "name": "New York"
}`

func newClient(t *testing.T, h http.HandlerFunc, log *zap.SugaredLogger) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:      "key-1",
		BaseURL:     srv.URL,
		Timeout:     time.Second,
		Logger:      log,
		HTTPOptions: httpclient.SameHost(),
	})
}

func TestFetch(t *testing.T) {
	var query map[string][]string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_, _ = w.Write([]byte(sampleResponse))
	}, nil)

	got := c.Fetch(context.Background(), "10001")

	assert.Equal(t, enrich.Context{
		Temperature: "72",
		Description: "clear sky",
		Humidity:    "48",
		FeelsLike:   "70",
		Location:    "New York",
	}, got)
	assert.Equal(t, []string{"10001,US"}, query["zip"])
	assert.Equal(t, []string{"key-1"}, query["appid"])
	assert.Equal(t, []string{"imperial"}, query["units"])
}

func TestFetch_Fallbacks(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"cod":401,"message":"Invalid API key"}`))
		}},
		{"malformed", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
		{"missing fields", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"main":{}}`))
		}},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(3 * time.Second):
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			c := newClient(t, tt.handler, zap.New(core).Sugar())

			got := c.Fetch(context.Background(), "10001")

			assert.Equal(t, enrich.Unavailable(), got)
			assert.True(t, got.IsUnavailable())
			require.Equal(t, 1, logs.FilterMessage("Weather lookup failed").Len())
		})
	}
}

func TestFetch_NoRegionOrKey(t *testing.T) {
	called := false
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) { called = true }, nil)
	assert.True(t, c.Fetch(context.Background(), "  ").IsUnavailable())

	noKey := New(Config{})
	assert.True(t, noKey.Fetch(context.Background(), "10001").IsUnavailable())
	assert.False(t, called)
}

func TestParse_OptionalFields(t *testing.T) {
	got, err := parse([]byte(`{"weather":[{"description":"light rain"}],"main":{"temp":40.4}}`))
	require.NoError(t, err)
	assert.Equal(t, "40", got.Temperature)
	assert.Equal(t, enrich.NotAvailable, got.Humidity)
	assert.Equal(t, enrich.NotAvailable, got.FeelsLike)
	assert.Equal(t, enrich.UnknownLocation, got.Location)
}
