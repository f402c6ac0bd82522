package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolAcquireRelease(t *testing.T) {
	pool := NewPool("browser", 2, zap.NewNop())

	first, err := pool.Acquire()
	require.NoError(t, err)
	second, err := pool.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 2, pool.InUse())

	pool.Release(first)
	assert.Equal(t, 1, pool.InUse())

	third, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, first.ID(), third.ID())
}

func TestPoolFailsFastWhenExhausted(t *testing.T) {
	pool := NewPool("file", 1, zap.NewNop())

	_, err := pool.Acquire()
	require.NoError(t, err)

	// No queuing: the second caller is rejected immediately.
	_, err = pool.Acquire()
	assert.ErrorIs(t, err, ErrNoSlot)
}

func TestPoolReleaseNilIsNoop(t *testing.T) {
	pool := NewPool("browser", 1, zap.NewNop())
	pool.Release(nil)
	assert.Equal(t, 0, pool.InUse())
}

func TestPoolCapacity(t *testing.T) {
	pool := NewPool("browser", 4, zap.NewNop())
	assert.Equal(t, 4, pool.Capacity())
	assert.Equal(t, 0, pool.InUse())
}
