package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runUntil drives the dispatch loop with DispatchOnce until deadline
// fires or cond reports true.
func runUntil(t *testing.T, r *Reactor, deadline time.Duration, cond func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return
		}
		code, err := r.Dispatch(DispatchOnce)
		require.NoError(t, err)
		if code == 1 {
			time.Sleep(time.Millisecond)
		}
	}
	require.True(t, cond(), "condition did not become true before deadline")
}

func TestTimerFiresInDurationOrder(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	var fired []string
	mk := func(name string, d time.Duration) *Event {
		var e *Event
		e = NewEvent(r, -1, EvTimeout, func(fd int, res Mask, arg any) {
			fired = append(fired, name)
		}, nil)
		return e
	}

	third := mk("third", 30*time.Millisecond)
	first := mk("first", 5*time.Millisecond)
	second := mk("second", 15*time.Millisecond)

	d1, d2, d3 := 5*time.Millisecond, 15*time.Millisecond, 30*time.Millisecond
	require.NoError(t, second.Add(&d2))
	require.NoError(t, third.Add(&d3))
	require.NoError(t, first.Add(&d1))

	runUntil(t, r, time.Second, func() bool { return len(fired) == 3 })
	assert.Equal(t, []string{"first", "second", "third"}, fired)
}

func TestTimerOneShotDoesNotRefire(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	count := 0
	e := NewEvent(r, -1, EvTimeout, func(fd int, res Mask, arg any) { count++ }, nil)
	d := 5 * time.Millisecond
	require.NoError(t, e.Add(&d))

	runUntil(t, r, time.Second, func() bool { return count == 1 })
	time.Sleep(30 * time.Millisecond)
	_, err = r.Dispatch(DispatchNonBlocking)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTimerPersistentRefires(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	count := 0
	e := NewEvent(r, -1, EvTimeout|EvPersist, func(fd int, res Mask, arg any) { count++ }, nil)
	d := 5 * time.Millisecond
	require.NoError(t, e.Add(&d))

	runUntil(t, r, time.Second, func() bool { return count >= 3 })
	require.NoError(t, e.Del())
}

// Many events sharing one registered common-timeout duration occupy a
// single timer-heap slot: only the FIFO head is ever pushed onto
// r.timers, regardless of how many events share the class.
func TestCommonTimeoutSharesOneHeapSlot(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	idx := r.RegisterCommonTimeout(20 * time.Millisecond)

	const n = 1000
	events := make([]*Event, n)
	fired := 0
	for i := 0; i < n; i++ {
		events[i] = NewEvent(r, -1, EvTimeout, func(fd int, res Mask, arg any) { fired++ }, nil)
	}

	for _, e := range events[:n-1] {
		require.NoError(t, r.AddWithCommonTimeout(e, idx))
	}
	assert.LessOrEqual(t, r.timers.Len(), 1, "heap must carry at most one slot per common-timeout class before the last add")

	require.NoError(t, r.AddWithCommonTimeout(events[n-1], idx))
	assert.LessOrEqual(t, r.timers.Len(), 1)

	runUntil(t, r, 2*time.Second, func() bool { return fired == n })
}

func TestCommonTimeoutRemoveReArmsFromNewHead(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	idx := r.RegisterCommonTimeout(20 * time.Millisecond)
	var fired []int
	mk := func(id int) *Event {
		return NewEvent(r, -1, EvTimeout, func(fd int, res Mask, arg any) { fired = append(fired, id) }, nil)
	}

	a, b, c := mk(1), mk(2), mk(3)
	require.NoError(t, r.AddWithCommonTimeout(a, idx))
	require.NoError(t, r.AddWithCommonTimeout(b, idx))
	require.NoError(t, r.AddWithCommonTimeout(c, idx))

	require.NoError(t, a.Del()) // removes the FIFO head before it fires

	runUntil(t, r, time.Second, func() bool { return len(fired) == 2 })
	assert.ElementsMatch(t, []int{2, 3}, fired)
}
