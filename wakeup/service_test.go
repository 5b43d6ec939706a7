package wakeup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/wakeup/errors"
)

func TestCreate_FutureTime(t *testing.T) {
	f := newFixture(t)

	c := f.create(t, "owner-1", time.Minute, ChannelSMS)

	assert.True(t, c.ScheduledTime.After(c.CreatedAt))
	assert.Equal(t, StatusScheduled, c.Status)
	require.NotNil(t, c.NextExecutionAt)
	assert.True(t, c.NextExecutionAt.Equal(c.ScheduledTime))
	assert.Contains(t, f.triggers.registered, c.ID, "one-shot trigger registered")

	stored, err := f.calls.Get(bg(), c.ID)
	require.NoError(t, err)
	assert.True(t, stored.ScheduledTime.Equal(c.ScheduledTime))
	assert.Equal(t, ChannelSMS, stored.Channel)
}

func TestCreate_RejectsPastAndPresent(t *testing.T) {
	f := newFixture(t)

	for _, offset := range []time.Duration{-time.Hour, 0} {
		_, err := f.svc.Create(bg(), CreateRequest{
			OwnerID:       "owner-1",
			ScheduledTime: f.clock.Now().Add(offset),
			Destination:   "+15551234567",
			Channel:       ChannelCall,
		})
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	}

	calls, err := f.calls.ListByOwner(bg(), "owner-1")
	require.NoError(t, err)
	assert.Empty(t, calls, "rejected creates leave no record")
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	future := f.clock.Now().Add(time.Hour)

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"missing owner", CreateRequest{ScheduledTime: future, Destination: "+15551234567", Channel: ChannelCall}},
		{"bad destination", CreateRequest{OwnerID: "o", ScheduledTime: future, Destination: "call me", Channel: ChannelCall}},
		{"long destination", CreateRequest{OwnerID: "o", ScheduledTime: future, Destination: "+155512345678901234", Channel: ChannelCall}},
		{"bad channel", CreateRequest{OwnerID: "o", ScheduledTime: future, Destination: "+15551234567", Channel: "pigeon"}},
		{"long region", CreateRequest{OwnerID: "o", ScheduledTime: future, Destination: "+15551234567", Channel: ChannelSMS, Region: "12345678901"}},
		{"no channel and no profile", CreateRequest{OwnerID: "o", ScheduledTime: future, Destination: "+15551234567"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(bg(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err), "got %v", err)
		})
	}
}

func TestCreate_NormalisesChannel(t *testing.T) {
	f := newFixture(t)

	for raw, want := range map[Channel]Channel{"SMS": ChannelSMS, " Call ": ChannelCall} {
		c, err := f.svc.Create(bg(), CreateRequest{
			OwnerID:       "o",
			ScheduledTime: f.clock.Now().Add(time.Hour),
			Destination:   "+15551234567",
			Channel:       raw,
		})
		require.NoError(t, err, "channel %q", raw)

		stored, err := f.calls.Get(bg(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, want, c.Channel)
		assert.Equal(t, want, stored.Channel)
	}
}

func TestCreate_DefaultsToPreferredChannel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.profiles.Upsert(bg(), &Profile{OwnerID: "o", Phone: "+15551234567", PreferredChannel: ChannelSMS}, f.clock.Now()))

	c, err := f.svc.Create(bg(), CreateRequest{
		OwnerID:       "o",
		ScheduledTime: f.clock.Now().Add(time.Hour),
		Destination:   "+15551234567",
	})
	require.NoError(t, err)
	assert.Equal(t, ChannelSMS, c.Channel)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	t.Run("scheduled and active calls cancel", func(t *testing.T) {
		scheduled := f.create(t, "o", time.Hour, ChannelCall)
		require.NoError(t, f.svc.Cancel(bg(), scheduled.ID))
		got, err := f.calls.Get(bg(), scheduled.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Contains(t, f.triggers.unregistered, scheduled.ID)

		active := f.create(t, "o", time.Hour, ChannelCall)
		ok, err := f.calls.Claim(bg(), active.ID, f.clock.Now(), time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, f.svc.Cancel(bg(), active.ID))
		got, err = f.calls.Get(bg(), active.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Nil(t, got.LeaseExpiresAt)
	})

	t.Run("terminal calls reject cancel", func(t *testing.T) {
		for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
			c := f.create(t, "o", time.Hour, ChannelCall)
			_, err := f.db.Exec(`UPDATE wakeup_calls SET status = ? WHERE id = ?`, string(terminal), c.ID)
			require.NoError(t, err)

			err = f.svc.Cancel(bg(), c.ID)
			require.Error(t, err)
			assert.True(t, errors.IsTransitionError(err), "cancel from %s", terminal)

			got, err := f.calls.Get(bg(), c.ID)
			require.NoError(t, err)
			assert.Equal(t, terminal, got.Status, "record unchanged")
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		err := f.svc.Cancel(bg(), "missing")
		assert.True(t, errors.IsNotFoundError(err))
	})
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)

	t.Run("terminal call returns to scheduled", func(t *testing.T) {
		c := f.create(t, "o", time.Hour, ChannelSMS)
		require.NoError(t, f.svc.Cancel(bg(), c.ID))

		at := f.clock.Now().Add(24 * time.Hour)
		require.NoError(t, f.svc.Reschedule(bg(), c.ID, at))

		got, err := f.calls.Get(bg(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, got.Status)
		assert.True(t, got.ScheduledTime.Equal(at))
		assert.Equal(t, at, f.triggers.registered[c.ID])
	})

	t.Run("past time rejected", func(t *testing.T) {
		c := f.create(t, "o", time.Hour, ChannelSMS)
		require.NoError(t, f.svc.Cancel(bg(), c.ID))

		err := f.svc.Reschedule(bg(), c.ID, f.clock.Now().Add(-time.Minute))
		assert.True(t, errors.IsValidationError(err))

		got, err := f.calls.Get(bg(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
	})

	t.Run("active call rejected", func(t *testing.T) {
		c := f.create(t, "o", time.Hour, ChannelSMS)
		_, err := f.calls.Claim(bg(), c.ID, f.clock.Now(), time.Minute)
		require.NoError(t, err)

		err = f.svc.Reschedule(bg(), c.ID, f.clock.Now().Add(2*time.Hour))
		assert.True(t, errors.IsTransitionError(err))
	})

	t.Run("scheduled call moves in time", func(t *testing.T) {
		c := f.create(t, "o", time.Hour, ChannelSMS)
		at := f.clock.Now().Add(3 * time.Hour)
		require.NoError(t, f.svc.Reschedule(bg(), c.ID, at))

		got, err := f.calls.Get(bg(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, got.Status)
		assert.True(t, got.ScheduledTime.Equal(at))
	})
}

func TestChangeChannel(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, "o", time.Hour, ChannelCall)

	require.NoError(t, f.svc.ChangeChannel(bg(), c.ID, ChannelSMS))
	got, err := f.calls.Get(bg(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, ChannelSMS, got.Channel)
	assert.Equal(t, StatusScheduled, got.Status)

	err = f.svc.ChangeChannel(bg(), c.ID, "carrier-pigeon")
	assert.True(t, errors.IsValidationError(err))

	err = f.svc.ChangeChannel(bg(), "missing", ChannelSMS)
	assert.True(t, errors.IsNotFoundError(err))

	next, err := f.svc.ToggleChannel(bg(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, ChannelCall, next)
}

func TestCancelAllScheduled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.profiles.Upsert(bg(), &Profile{OwnerID: "o", Phone: "+15550001111"}, f.clock.Now()))

	a := f.create(t, "o", time.Hour, ChannelCall)
	b := f.create(t, "o", 2*time.Hour, ChannelSMS)
	done := f.create(t, "o", 3*time.Hour, ChannelSMS)
	_, err := f.db.Exec(`UPDATE wakeup_calls SET status = 'completed' WHERE id = ?`, done.ID)
	require.NoError(t, err)
	other := f.create(t, "someone-else", time.Hour, ChannelSMS)

	auth, err := f.svc.AuthorizeByAddress(bg(), "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, "o", auth.OwnerID())

	n, err := f.svc.CancelAllScheduled(bg(), auth)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]Status{a.ID: StatusCancelled, b.ID: StatusCancelled, done.ID: StatusCompleted, other.ID: StatusScheduled} {
		got, err := f.calls.Get(bg(), id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CancelAllScheduled(bg(), Authorization{})
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))

	_, err = f.svc.AuthorizeByAddress(bg(), "+19999999999")
	assert.True(t, errors.IsNotFoundError(err))

	auth, err := f.svc.Authorize(bg(), "no-profile")
	require.NoError(t, err)
	assert.True(t, auth.Valid())
	assert.Nil(t, auth.Profile())

	_, err = f.svc.TogglePreferredChannel(bg(), auth)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTogglePreferredChannel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.profiles.Upsert(bg(), &Profile{OwnerID: "o", Phone: "+15550001111"}, f.clock.Now()))

	auth, err := f.svc.Authorize(bg(), "o")
	require.NoError(t, err)

	next, err := f.svc.TogglePreferredChannel(bg(), auth)
	require.NoError(t, err)
	assert.Equal(t, ChannelSMS, next)

	p, err := f.profiles.Get(bg(), "o")
	require.NoError(t, err)
	assert.Equal(t, ChannelSMS, p.PreferredChannel)
	assert.Equal(t, DefaultTimezone, p.Timezone)
}

func TestNextScheduled(t *testing.T) {
	f := newFixture(t)
	later := f.create(t, "o", 2*time.Hour, ChannelCall)
	sooner := f.create(t, "o", time.Hour, ChannelCall)

	auth, err := f.svc.Authorize(bg(), "o")
	require.NoError(t, err)

	next, err := f.svc.NextScheduled(bg(), auth)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, sooner.ID, next.ID)
	assert.NotEqual(t, later.ID, next.ID)

	empty, err := f.svc.Authorize(bg(), "nobody")
	require.NoError(t, err)
	next, err = f.svc.NextScheduled(bg(), empty)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestSwitchScheduledChannel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.profiles.Upsert(bg(), &Profile{OwnerID: "o", Phone: "+15550001111"}, f.clock.Now()))

	a := f.create(t, "o", time.Hour, ChannelCall)
	b := f.create(t, "o", 2*time.Hour, ChannelSMS)
	done := f.create(t, "o", 3*time.Hour, ChannelCall)
	_, err := f.db.Exec(`UPDATE wakeup_calls SET status = 'completed' WHERE id = ?`, done.ID)
	require.NoError(t, err)

	auth, err := f.svc.Authorize(bg(), "o")
	require.NoError(t, err)
	require.NoError(t, f.svc.SetPreferredChannel(bg(), auth, ChannelSMS))
	assert.Equal(t, ChannelSMS, auth.Profile().PreferredChannel)

	n, err := f.svc.SwitchScheduledChannel(bg(), auth, ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the scheduled call on another channel changes")

	for id, want := range map[string]Channel{a.ID: ChannelSMS, b.ID: ChannelSMS, done.ID: ChannelCall} {
		got, err := f.calls.Get(bg(), id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Channel)
		assert.NotEqual(t, StatusCancelled, got.Status)
	}

	_, err = f.svc.SwitchScheduledChannel(bg(), Authorization{}, ChannelSMS)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
}
