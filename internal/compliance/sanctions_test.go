package compliance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "doe john", normalizeName("John  DOE"))
	assert.Equal(t, "doe john", normalizeName("Doe, John."))
	assert.Equal(t, "", normalizeName("  ...  "))
}

func TestListScreener(t *testing.T) {
	s := NewListScreener([]string{"Ivan Petrovich Sidorov", "Acme Shell Holdings"}, 0.9)
	ctx := context.Background()

	m, err := s.Screen(ctx, "IVAN PETROVICH SIDOROV")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1.0, m.Similarity)

	// one-letter typo still matches
	m, err = s.Screen(ctx, "Ivan Petrovich Sidorow")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Ivan Petrovich Sidorov", m.ListedName)
	assert.GreaterOrEqual(t, m.Similarity, 0.9)

	m, err = s.Screen(ctx, "Jane Roe")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = s.Screen(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestListScreener_CancelledContext(t *testing.T) {
	s := NewListScreener([]string{"Someone"}, 0.9)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Screen(ctx, "someone")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewListScreener_DefaultThreshold(t *testing.T) {
	s := NewListScreener(nil, 0)
	assert.Equal(t, 0.9, s.threshold)
}
