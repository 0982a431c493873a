package alerts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskgate/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()
	seedAlerts(t, s)

	all, total, err := s.List(ctx, Filter{AccountID: "acct-1"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, "alert_4", all[0].ID)

	page, total, err := s.List(ctx, Filter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "alert_2", page[0].ID)

	a, err := s.Get(ctx, "alert_0")
	require.NoError(t, err)
	a.Status = StatusResolved
	a.ResolvedBy = "analyst-1"
	a.ActionsTaken = []string{"closed"}
	require.NoError(t, s.Update(ctx, a))

	got, err := s.Get(ctx, "alert_0")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, "analyst-1", got.ResolvedBy)
	assert.Equal(t, []string{"closed"}, got.ActionsTaken)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)
	assert.ErrorIs(t, s.Update(ctx, &Alert{ID: "missing"}), ErrAlertNotFound)
}
