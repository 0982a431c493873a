package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEmpty(t *testing.T) {
	healthy, statuses := NewRegistry(0).CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestRegistry_OneUnhealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("profiles", PingChecker("profiles", func(context.Context) error { return nil }))
	r.Register("history", PingChecker("history", func(context.Context) error { return errors.New("redis: connection refused") }))

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "profiles", statuses[0].Name)
	assert.True(t, statuses[0].Healthy)
	assert.Equal(t, "history", statuses[1].Name)
	assert.Contains(t, statuses[1].Detail, "connection refused")
}

func TestRegistry_CheckTimesOut(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("slow", PingChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Contains(t, statuses[0].Detail, "deadline exceeded")
}

func TestRegistry_FillsMissingName(t *testing.T) {
	r := NewRegistry(0)
	r.Register("alerts", func(context.Context) Status { return Status{Healthy: true} })

	_, statuses := r.CheckAll(context.Background())
	assert.Equal(t, "alerts", statuses[0].Name)
}
