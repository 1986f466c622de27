package availability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBusy struct {
	windows []BusyWindow
	err     error
	linked  error
	delay   time.Duration
	calls   atomic.Int32
	gotCal  string
	gotTZ   string
}

func (f *fakeBusy) FetchBusy(ctx context.Context, identity, calendarID string, r TimeRange, tz string) ([]BusyWindow, error) {
	f.calls.Add(1)
	f.gotCal, f.gotTZ = calendarID, tz
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.windows, f.err
}

type linkedFakeBusy struct {
	*fakeBusy
}

func (f linkedFakeBusy) CheckLinked(ctx context.Context, identity string) error {
	return f.linked
}

type fakeSchedules struct {
	schedules []Schedule
	err       error
	block     bool
	calls     atomic.Int32
	gotEmails []string
	gotIntvl  int
}

func (f *fakeSchedules) FetchSchedules(ctx context.Context, emails []string, r TimeRange, interval int, tz string) ([]Schedule, error) {
	f.calls.Add(1)
	f.gotEmails, f.gotIntvl = emails, interval
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.schedules, f.err
}

func TestEngine_UnionOfBothProviders(t *testing.T) {
	busy := &fakeBusy{windows: []BusyWindow{window("10:00", "10:30")}}
	schedules := &fakeSchedules{schedules: []Schedule{
		{Email: "a@example.com", Busy: []BusyWindow{window("11:00", "11:30")}},
		{Email: "b@example.com"},
	}}
	engine := NewEngine(busy, schedules)

	slots, err := engine.GetAvailability(context.Background(), Request{
		Identity:        "auth0|1",
		Participants:    []string{"a@example.com", " ", "b@example.com"},
		Range:           span("10:00", "12:00"),
		IntervalMinutes: 30,
		TimeZone:        "Europe/Berlin",
	})
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"10:30", "11:00"}, {"11:30", "12:00"}}, slotBounds(slots))
	assert.Equal(t, "Europe/Berlin", slots[0].TimeZone)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, schedules.gotEmails)
	assert.Equal(t, 30, schedules.gotIntvl)
	assert.Equal(t, DefaultCalendarID, busy.gotCal)
}

func TestEngine_Defaults(t *testing.T) {
	busy := &fakeBusy{}
	engine := NewEngine(busy, nil, WithDefaultTimeZone("UTC"))

	slots, err := engine.GetAvailability(context.Background(), Request{
		Identity: "auth0|1",
		Range:    span("09:00", "10:00"),
	})
	require.NoError(t, err)

	assert.Len(t, slots, 2, "interval should default to 30 minutes")
	assert.Equal(t, "UTC", slots[0].TimeZone)
	assert.Equal(t, "UTC", busy.gotTZ)
}

func TestEngine_SkipsProvidersWithNothingToAsk(t *testing.T) {
	busy := &fakeBusy{}
	schedules := &fakeSchedules{}
	engine := NewEngine(busy, schedules)

	_, err := engine.GetAvailability(context.Background(), Request{
		Participants: []string{"a@example.com"},
		Range:        span("09:00", "10:00"),
	})
	require.NoError(t, err)
	assert.Zero(t, busy.calls.Load(), "delegated provider needs an identity")
	assert.Equal(t, int32(1), schedules.calls.Load())

	_, err = engine.GetAvailability(context.Background(), Request{
		Identity: "auth0|1",
		Range:    span("09:00", "10:00"),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), schedules.calls.Load(), "app provider needs participants")
}

func TestEngine_NotLinked(t *testing.T) {
	t.Run("reported by fetch", func(t *testing.T) {
		engine := NewEngine(&fakeBusy{err: ErrNotLinked}, &fakeSchedules{})

		slots, err := engine.GetAvailability(context.Background(), Request{
			Identity:     "auth0|1",
			Participants: []string{"a@example.com"},
			Range:        span("09:00", "10:00"),
		})
		assert.ErrorIs(t, err, ErrNotLinked)
		assert.Nil(t, slots)
	})

	t.Run("checked before any fetch", func(t *testing.T) {
		busy := linkedFakeBusy{&fakeBusy{linked: ErrNotLinked}}
		schedules := &fakeSchedules{err: NewProviderError(ProviderMicrosoft, ReasonUpstream, 500, nil)}
		engine := NewEngine(busy, schedules)

		_, err := engine.GetAvailability(context.Background(), Request{
			Identity:     "auth0|1",
			Participants: []string{"a@example.com"},
			Range:        span("09:00", "10:00"),
		})
		assert.ErrorIs(t, err, ErrNotLinked)
		assert.Zero(t, busy.calls.Load())
		assert.Zero(t, schedules.calls.Load())
	})
}

func TestEngine_AppProviderTimeout(t *testing.T) {
	busy := &fakeBusy{windows: []BusyWindow{window("09:00", "09:30")}}
	schedules := &fakeSchedules{block: true}
	engine := NewEngine(busy, schedules, WithProviderTimeout(50*time.Millisecond))

	start := time.Now()
	slots, err := engine.GetAvailability(context.Background(), Request{
		Identity:     "auth0|1",
		Participants: []string{"a@example.com"},
		Range:        span("09:00", "10:00"),
	})

	require.Error(t, err)
	assert.Nil(t, slots)
	assert.Less(t, time.Since(start), 5*time.Second)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ProviderMicrosoft, pe.Provider)
	assert.True(t, pe.Timeout())
	assert.True(t, IsTimeout(err))
}

func TestEngine_FailFastCancelsOtherProvider(t *testing.T) {
	busy := &fakeBusy{delay: time.Minute}
	schedules := &fakeSchedules{err: NewProviderError(ProviderMicrosoft, ReasonRateLimited, 429, nil)}
	engine := NewEngine(busy, schedules, WithProviderTimeout(time.Minute))

	done := make(chan error, 1)
	go func() {
		_, err := engine.GetAvailability(context.Background(), Request{
			Identity:     "auth0|1",
			Participants: []string{"a@example.com"},
			Range:        span("09:00", "10:00"),
		})
		done <- err
	}()

	select {
	case err := <-done:
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, ReasonRateLimited, pe.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not cancel the slower provider")
	}
}

func TestEngine_RefreshFailurePropagates(t *testing.T) {
	refreshErr := NewProviderError(ProviderGoogle, ReasonRefreshFailed, 400, errors.New("invalid_grant"))
	engine := NewEngine(&fakeBusy{err: refreshErr}, nil)

	_, err := engine.GetAvailability(context.Background(), Request{
		Identity: "auth0|1",
		Range:    span("09:00", "10:00"),
	})
	assert.True(t, IsRefreshFailure(err))
}

func TestEngine_UnclassifiedErrorBecomesProviderError(t *testing.T) {
	engine := NewEngine(&fakeBusy{err: errors.New("connection reset")}, nil)

	_, err := engine.GetAvailability(context.Background(), Request{
		Identity: "auth0|1",
		Range:    span("09:00", "10:00"),
	})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ProviderGoogle, pe.Provider)
	assert.Equal(t, ReasonUpstream, pe.Reason)
}

func TestEngine_InvalidRequests(t *testing.T) {
	engine := NewEngine(&fakeBusy{}, &fakeSchedules{}, WithMaxRange(24*time.Hour))

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"inverted range", Request{Identity: "x", Range: span("10:00", "09:00")}, ErrInvalidRange},
		{"empty range", Request{Identity: "x", Range: span("10:00", "10:00")}, ErrInvalidRange},
		{"zero range", Request{Identity: "x"}, ErrInvalidRange},
		{"range too long", Request{Identity: "x", Range: TimeRange{Start: day, End: day.Add(25 * time.Hour)}}, ErrInvalidRange},
		{"nothing to look up", Request{Participants: []string{" "}, Range: span("09:00", "10:00")}, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.GetAvailability(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEngine_ProviderNotConfigured(t *testing.T) {
	engine := NewEngine(nil, nil)

	_, err := engine.GetAvailability(context.Background(), Request{
		Participants: []string{"a@example.com"},
		Range:        span("09:00", "10:00"),
	})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestClassifyError(t *testing.T) {
	assert.NoError(t, ClassifyError(ProviderGoogle, nil))
	assert.ErrorIs(t, ClassifyError(ProviderGoogle, ErrNotLinked), ErrNotLinked)

	timeout := ClassifyError(ProviderGoogle, context.DeadlineExceeded)
	assert.True(t, IsTimeout(timeout))

	var pe *ProviderError
	require.ErrorAs(t, ClassifyError(ProviderMicrosoft, context.Canceled), &pe)
	assert.Equal(t, ReasonCanceled, pe.Reason)
}

func TestReasonForStatus(t *testing.T) {
	assert.Equal(t, ReasonUnauthorized, ReasonForStatus(401))
	assert.Equal(t, ReasonUnauthorized, ReasonForStatus(403))
	assert.Equal(t, ReasonRateLimited, ReasonForStatus(429))
	assert.Equal(t, ReasonTimeout, ReasonForStatus(504))
	assert.Equal(t, ReasonUpstream, ReasonForStatus(500))
}

func TestProviderError_Message(t *testing.T) {
	err := NewProviderError(ProviderMicrosoft, ReasonUnauthorized, 401, errors.New("inner")).WithDetail("InvalidAuthenticationToken")
	assert.Equal(t, "microsoft provider error (unauthorized) status 401: InvalidAuthenticationToken: inner", err.Error())
	assert.EqualError(t, errors.Unwrap(err), "inner")
}
