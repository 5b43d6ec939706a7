package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/internal/httpclient"
)

type capturedRequest struct {
	path string
	user string
	pass string
	form map[string][]string
}

type fakeTwilio struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	body     string
}

func (f *fakeTwilio) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	user, pass, _ := r.BasicAuth()
	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{path: r.URL.Path, user: user, pass: pass, form: r.PostForm})
	status, body := f.status, f.body
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newTestClient(t *testing.T, fake *fakeTwilio) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Config{
		AccountSID:        "AC123",
		AuthToken:         "secret",
		FromNumber:        "+15550000000",
		VerifyServiceSID:  "VA123",
		BaseURL:           srv.URL,
		VerifyBaseURL:     srv.URL,
		StatusCallbackURL: "https://example.com/calls/status/",
		Record:            true,
		Timeout:           2 * time.Second,
		HTTPOptions:       httpclient.SameHost(),
	})
}

func TestPlaceCall(t *testing.T) {
	fake := &fakeTwilio{status: http.StatusCreated, body: `{"sid":"CA42","status":"queued"}`}
	c := newTestClient(t, fake)

	sid, err := c.PlaceCall(context.Background(), "+15551234567", "https://example.com/calls/voice/abc")
	require.NoError(t, err)
	assert.Equal(t, "CA42", sid)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Calls.json", req.path)
	assert.Equal(t, "AC123", req.user)
	assert.Equal(t, "secret", req.pass)
	assert.Equal(t, []string{"+15551234567"}, req.form["To"])
	assert.Equal(t, []string{"+15550000000"}, req.form["From"])
	assert.Equal(t, []string{"https://example.com/calls/voice/abc"}, req.form["Url"])
	assert.Equal(t, []string{"true"}, req.form["Record"])
	assert.Contains(t, req.form["StatusCallbackEvent"], "completed")
}

func TestSendText(t *testing.T) {
	fake := &fakeTwilio{status: http.StatusCreated, body: `{"sid":"SM123"}`}
	c := newTestClient(t, fake)

	sid, err := c.SendText(context.Background(), "+15551234567", "Good morning!")
	require.NoError(t, err)
	assert.Equal(t, "SM123", sid)
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", fake.requests[0].path)
	assert.Equal(t, []string{"Good morning!"}, fake.requests[0].form["Body"])
}

func TestProviderRejection(t *testing.T) {
	fake := &fakeTwilio{status: http.StatusBadRequest, body: `{"code":21211,"message":"The 'To' number is not a valid phone number."}`}
	c := newTestClient(t, fake)

	_, err := c.SendText(context.Background(), "+15551234567", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProvider))
	assert.Contains(t, errors.FlattenDetails(err), "not a valid phone number")
	assert.Contains(t, errors.FlattenDetails(err), "21211")
}

func TestMissingSID(t *testing.T) {
	fake := &fakeTwilio{status: http.StatusOK, body: `{}`}
	c := newTestClient(t, fake)

	_, err := c.PlaceCall(context.Background(), "+15551234567", "https://example.com/x")
	assert.True(t, errors.Is(err, errors.ErrProvider))
}

func TestDisabledWithoutCredentials(t *testing.T) {
	c := New(Config{AccountSID: "AC123"})
	assert.False(t, c.Enabled())

	_, err := c.PlaceCall(context.Background(), "+15551234567", "https://example.com/x")
	assert.True(t, errors.Is(err, errors.ErrProviderUnavailable))
	_, err = c.SendText(context.Background(), "+15551234567", "hi")
	assert.True(t, errors.Is(err, errors.ErrProviderUnavailable))
	assert.False(t, c.SendVerificationCode(context.Background(), "+15551234567"))
}

func TestVerification(t *testing.T) {
	t.Run("send pending", func(t *testing.T) {
		fake := &fakeTwilio{status: http.StatusCreated, body: `{"status":"pending"}`}
		c := newTestClient(t, fake)
		assert.True(t, c.SendVerificationCode(context.Background(), "+15551234567"))
		assert.Equal(t, "/v2/Services/VA123/Verifications", fake.requests[0].path)
		assert.Equal(t, []string{"sms"}, fake.requests[0].form["Channel"])
	})

	t.Run("check approved", func(t *testing.T) {
		fake := &fakeTwilio{status: http.StatusOK, body: `{"status":"approved"}`}
		c := newTestClient(t, fake)
		assert.True(t, c.CheckVerificationCode(context.Background(), "+15551234567", "123456"))
		assert.Equal(t, "/v2/Services/VA123/VerificationCheck", fake.requests[0].path)
	})

	t.Run("check rejected", func(t *testing.T) {
		fake := &fakeTwilio{status: http.StatusOK, body: `{"status":"pending"}`}
		c := newTestClient(t, fake)
		assert.False(t, c.CheckVerificationCode(context.Background(), "+15551234567", "000000"))
	})

	t.Run("gateway error", func(t *testing.T) {
		fake := &fakeTwilio{status: http.StatusInternalServerError, body: `oops`}
		c := newTestClient(t, fake)
		assert.False(t, c.SendVerificationCode(context.Background(), "+15551234567"))
	})
}

func TestTimeoutHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{
		AccountSID: "AC1", AuthToken: "t", FromNumber: "+15550000000",
		BaseURL:     srv.URL,
		HTTPOptions: httpclient.SameHost(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.PlaceCall(ctx, "+15551234567", "https://example.com/x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestOriginRewriter_LeavesDefaults(t *testing.T) {
	next := http.DefaultTransport
	rt := newOriginRewriter(next, map[string]string{
		"api.twilio.com":    DefaultBaseURL,
		"verify.twilio.com": "::bad",
	}, zap.NewNop().Sugar())
	assert.Equal(t, next, rt, "default origins need no rewriting")
}
