package receiver

import (
	"fmt"
	"testing"
	"time"

	"ashare-quote-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushN(r *Ring, n int) {
	for i := 0; i < n; i++ {
		r.Push(models.RawFrame{Data: []byte(fmt.Sprintf("frame-%d", i)), RecvTS: int64(i)})
	}
}

func TestRingDropsOldestOnOverflow(t *testing.T) {
	r := NewRing(10)
	pushN(r, 25)

	assert.Equal(t, 10, r.Len())
	assert.Equal(t, int64(15), r.Dropped())

	// The survivors are the newest 10, in arrival order.
	stop := make(chan struct{})
	frame, ok := r.Pop(stop)
	require.True(t, ok)
	assert.Equal(t, "frame-15", string(frame.Data))
}

// Feeding far more frames than capacity must never block the producer
// and must keep the ring at or below capacity.
func TestRingBackpressure(t *testing.T) {
	const total = 200_000
	r := NewRing(50_000)

	done := make(chan struct{})
	go func() {
		pushN(r, total)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("producer blocked on a full ring")
	}

	assert.LessOrEqual(t, r.Len(), 50_000)
	assert.Greater(t, r.Dropped(), int64(0))
	// drops plus staged frames account for everything pushed
	assert.Equal(t, int64(total), r.Dropped()+int64(r.Len()))
}

func TestRingPopBlocksUntilPush(t *testing.T) {
	r := NewRing(4)
	stop := make(chan struct{})

	got := make(chan models.RawFrame, 1)
	go func() {
		frame, ok := r.Pop(stop)
		if ok {
			got <- frame
		}
	}()

	time.Sleep(20 * time.Millisecond)
	r.Push(models.RawFrame{Data: []byte("late"), RecvTS: 1})

	select {
	case frame := <-got:
		assert.Equal(t, "late", string(frame.Data))
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up on Push")
	}
}

func TestRingPopReturnsOnStop(t *testing.T) {
	r := NewRing(4)
	stop := make(chan struct{})

	done := make(chan bool, 1)
	go func() {
		_, ok := r.Pop(stop)
		done <- ok
	}()

	close(stop)
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after stop")
	}
}

func TestRingDropHalfAndClear(t *testing.T) {
	r := NewRing(100)
	pushN(r, 80)

	dropped := r.DropHalf()
	assert.Equal(t, 40, dropped)
	assert.Equal(t, 40, r.Len())

	// The kept half is the newer half.
	stop := make(chan struct{})
	frame, ok := r.Pop(stop)
	require.True(t, ok)
	assert.Equal(t, "frame-40", string(frame.Data))

	cleared := r.Clear()
	assert.Equal(t, 39, cleared)
	assert.Equal(t, 0, r.Len())
}

func TestRingDrainsAfterClose(t *testing.T) {
	r := NewRing(8)
	pushN(r, 3)
	r.Close()

	stop := make(chan struct{})
	for i := 0; i < 3; i++ {
		_, ok := r.Pop(stop)
		require.True(t, ok)
	}
	_, ok := r.Pop(stop)
	assert.False(t, ok)
}
