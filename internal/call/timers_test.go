package call

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerFires(t *testing.T) {
	s := newTimerService()
	var fired atomic.Int32
	s.Arm("c", 20*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestTimerCancelBeforeFire(t *testing.T) {
	s := newTimerService()
	var fired atomic.Int32
	s.Arm("c", 30*time.Millisecond, func() { fired.Add(1) })
	s.Cancel("c")

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestTimerRearmReplacesPrevious(t *testing.T) {
	s := newTimerService()
	var first, second atomic.Int32
	s.Arm("c", 30*time.Millisecond, func() { first.Add(1) })
	s.Arm("c", 30*time.Millisecond, func() { second.Add(1) })

	require.Eventually(t, func() bool { return second.Load() == 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestTimerKeysAreIndependent(t *testing.T) {
	s := newTimerService()
	var a, b atomic.Int32
	s.Arm("a", 20*time.Millisecond, func() { a.Add(1) })
	s.Arm("b", 20*time.Millisecond, func() { b.Add(1) })
	s.Cancel("a")

	require.Eventually(t, func() bool { return b.Load() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Zero(t, a.Load())
}
