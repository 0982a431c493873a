package txn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskgate/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	record(t, s, "acct", OpTrade, 100, StatusCompleted, base.Add(-48*time.Hour))
	record(t, s, "acct", OpTrade, 200, StatusCompleted, base.Add(-30*time.Minute))
	record(t, s, "acct", OpTrade, 900, StatusProcessing, base.Add(-10*time.Minute))
	record(t, s, "acct", OpTrade, 50, StatusFailed, base.Add(-5*time.Minute))
	record(t, s, "acct", OpDeposit, 10, StatusCompleted, base.Add(-time.Minute))

	n, err := s.CountRecent(ctx, "acct", OpTrade, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountSince(ctx, "acct", base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	amounts, err := s.RecentAmounts(ctx, "acct", OpTrade, base.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	assert.Equal(t, "100", amounts[0].String())
	assert.Equal(t, "200", amounts[1].String())
}
