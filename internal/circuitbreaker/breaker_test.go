package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	b := New(threshold, time.Minute)
	b.now = clk.now
	return b, clk
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("history")
	b.RecordFailure("history")
	assert.True(t, b.Allow("history"))

	b.RecordFailure("history")
	assert.False(t, b.Allow("history"))
	assert.Equal(t, StateOpen, b.State("history"))

	// other collaborators are unaffected
	assert.True(t, b.Allow("profiles"))
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	b, clk := newTestBreaker(1)

	b.RecordFailure("sanctions")
	require.False(t, b.Allow("sanctions"))

	clk.t = clk.t.Add(time.Minute)
	assert.True(t, b.Allow("sanctions"), "one trial after cooldown")
	assert.Equal(t, StateHalfOpen, b.State("sanctions"))
	assert.False(t, b.Allow("sanctions"), "only one trial at a time")

	b.RecordSuccess("sanctions")
	assert.Equal(t, StateClosed, b.State("sanctions"))
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, clk := newTestBreaker(1)

	b.RecordFailure("history")
	clk.t = clk.t.Add(2 * time.Minute)
	require.True(t, b.Allow("history"))

	b.RecordFailure("history")
	assert.Equal(t, StateOpen, b.State("history"))
	assert.False(t, b.Allow("history"))
}

func TestBreaker_Execute(t *testing.T) {
	b, _ := newTestBreaker(2)
	ctx := context.Background()
	boom := errors.New("boom")

	assert.ErrorIs(t, b.Execute(ctx, "history", func(context.Context) error { return boom }), boom)
	assert.ErrorIs(t, b.Execute(ctx, "history", func(context.Context) error { return boom }), boom)

	called := false
	err := b.Execute(ctx, "history", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_ExecuteIgnoresCancellation(t *testing.T) {
	b, _ := newTestBreaker(1)

	err := b.Execute(context.Background(), "history", func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State("history"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
