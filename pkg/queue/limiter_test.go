package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iagenerativa/hlcs/pkg/models"
)

func TestLimiterAdmitsUpToCap(t *testing.T) {
	l := NewLimiter(2)

	require.NoError(t, l.Admit("a", nil))
	require.NoError(t, l.Admit("b", nil))
	assert.Equal(t, 2, l.Depth())

	err := l.Admit("c", nil)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindBackendUnavailable))

	l.Release("a")
	assert.NoError(t, l.Admit("c", nil))
}

func TestLimiterRejectsDuplicateID(t *testing.T) {
	l := NewLimiter(4)
	require.NoError(t, l.Admit("a", nil))
	err := l.Admit("a", nil)
	assert.True(t, models.IsKind(err, models.KindInvalidInput))
}

func TestLimiterCancel(t *testing.T) {
	l := NewLimiter(1)

	cancelled := false
	require.NoError(t, l.Admit("a", func() { cancelled = true }))

	assert.False(t, l.Cancel("missing"))
	assert.True(t, l.Cancel("a"))
	assert.True(t, cancelled)
}

func TestLimiterStats(t *testing.T) {
	l := NewLimiter(1)

	require.NoError(t, l.Admit("a", nil))
	_ = l.Admit("b", nil)
	l.Release("a")

	s := l.Stats()
	assert.Equal(t, 0, s.InFlight)
	assert.Equal(t, 1, s.MaxConcurrent)
	assert.Equal(t, int64(1), s.Admitted)
	assert.Equal(t, int64(1), s.Rejected)
}
