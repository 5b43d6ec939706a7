package wakeup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	testdb "github.com/teranos/wakeup/internal/testing"
)

// fakeClock is a settable clock for tests
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingTriggers struct {
	mu           sync.Mutex
	registered   map[string]time.Time
	unregistered []string
}

func newRecordingTriggers() *recordingTriggers {
	return &recordingTriggers{registered: make(map[string]time.Time)}
}

func (r *recordingTriggers) Register(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[id] = at
	return nil
}

func (r *recordingTriggers) Unregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, id)
	r.unregistered = append(r.unregistered, id)
	return nil
}

func bg() context.Context { return context.Background() }

var epoch = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

type fixture struct {
	db       *sqlx.DB
	calls    *Store
	logs     *LogStore
	profiles *ProfileStore
	inbound  *InboundStore
	clock    *fakeClock
	triggers *recordingTriggers
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.CreateTestDBx(t)
	f := &fixture{
		db:       db,
		calls:    NewStore(db),
		logs:     NewLogStore(db),
		profiles: NewProfileStore(db),
		inbound:  NewInboundStore(db),
		clock:    newFakeClock(epoch),
		triggers: newRecordingTriggers(),
	}
	f.svc = NewService(f.calls, f.profiles, zap.NewNop().Sugar(),
		WithClock(f.clock.Now),
		WithTriggers(f.triggers),
	)
	return f
}

func (f *fixture) create(t *testing.T, ownerID string, in time.Duration, ch Channel) *Call {
	t.Helper()
	c, err := f.svc.Create(bg(), CreateRequest{
		OwnerID:       ownerID,
		ScheduledTime: f.clock.Now().Add(in),
		Destination:   "+15551234567",
		Channel:       ch,
		Region:        "10001",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}
