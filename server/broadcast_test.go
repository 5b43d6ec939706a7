package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/wakeup/dispatch"
	"github.com/teranos/wakeup/wakeup"
)

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/executions"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_StreamsExecutions(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()
	hub := f.server.Hub()

	a := dialStream(t, ts)
	b := dialStream(t, ts)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Publish(dispatch.Result{
		CallID:  "call-1",
		Status:  wakeup.StatusCompleted,
		Outcome: wakeup.OutcomeCompleted,
	})

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev ExecutionEvent
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, "execution", ev.Type)
		assert.Equal(t, "call-1", ev.Result.CallID)
		assert.Equal(t, wakeup.StatusCompleted, ev.Result.Status)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestHub_EngineResultsReachClients(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()
	conn := dialStream(t, ts)
	require.Eventually(t, func() bool { return f.server.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	engine := dispatch.NewEngine(f.calls, f.logs, nil, f.sandbox, nil,
		dispatch.Config{PublicURL: publicURL}, nil,
		dispatch.WithClock(func() time.Time { return epoch }),
		dispatch.WithSink(f.server.Hub()))
	c := f.create(t, time.Minute)
	_, err := engine.Execute(t.Context(), c.ID)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev ExecutionEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, c.ID, ev.Result.CallID)
	assert.Equal(t, wakeup.OutcomeCompleted, ev.Result.Outcome)
	assert.NotEmpty(t, ev.Result.TransactionID)
}

func TestHub_ClientDisconnect(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()
	hub := f.server.Hub()

	conn := dialStream(t, ts)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	hub.Publish(dispatch.Result{CallID: "after-close"})
}

func TestHub_DropsForSlowClients(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	c := &Client{id: "slow", hub: hub, send: make(chan ExecutionEvent, 1)}
	require.True(t, hub.register(c))

	hub.Publish(dispatch.Result{CallID: "one"})
	hub.Publish(dispatch.Result{CallID: "two"})

	assert.Equal(t, int64(1), hub.Dropped())
	assert.Equal(t, "one", (<-c.send).Result.CallID)
}

func TestHub_CloseRefusesClients(t *testing.T) {
	hub := NewHub(nil)
	c := &Client{id: "c", hub: hub, send: make(chan ExecutionEvent, 1)}
	require.True(t, hub.register(c))

	hub.Close()
	_, open := <-c.send
	assert.False(t, open, "close ends client send loops")
	assert.Zero(t, hub.ClientCount())
	assert.False(t, hub.register(&Client{id: "late", hub: hub, send: make(chan ExecutionEvent, 1)}))
	hub.Close()

	rec := httptest.NewRecorder()
	hub.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws/executions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
