package framesource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func testFrame(seq int64) *Frame {
	gray := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC1)
	return NewFrame(gray, seq)
}

func TestFrameColorLifecycle(t *testing.T) {
	f := testFrame(1)
	defer f.Close()

	assert.False(t, f.HasColor(), "a fresh frame carries an empty color plane")
	assert.Equal(t, 160, f.Width)
	assert.Equal(t, 120, f.Height)

	color := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	f.WithColor(color)
	assert.True(t, f.HasColor())
}

func TestMailboxDelivers(t *testing.T) {
	m := NewMailbox()
	defer m.Close()

	require.NoError(t, m.Put(testFrame(1)))

	f, ok := m.TakeLatest()
	require.True(t, ok)
	assert.Equal(t, int64(1), f.Sequence)
	f.Close()

	assert.Zero(t, m.Dropped())
}

func TestMailboxLatestWins(t *testing.T) {
	m := NewMailbox()
	defer m.Close()

	require.NoError(t, m.Put(testFrame(1)))
	require.NoError(t, m.Put(testFrame(2)))
	require.NoError(t, m.Put(testFrame(3)))

	f, ok := m.TakeLatest()
	require.True(t, ok)
	assert.Equal(t, int64(3), f.Sequence, "undelivered frames are displaced")
	f.Close()

	assert.Equal(t, int64(2), m.Dropped())
}

func TestMailboxCloseUnblocksTaker(t *testing.T) {
	m := NewMailbox()

	done := make(chan bool, 1)
	go func() {
		_, ok := m.TakeLatest()
		done <- ok
	}()

	// Give the taker a moment to block on the empty slot.
	time.Sleep(20 * time.Millisecond)
	m.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("TakeLatest did not return after Close")
	}
}

func TestMailboxPutAfterClose(t *testing.T) {
	m := NewMailbox()
	m.Close()

	f := testFrame(1)
	defer f.Close()
	assert.Error(t, m.Put(f), "caller keeps ownership when the mailbox is closed")
}

func TestMailboxCloseIdempotent(t *testing.T) {
	m := NewMailbox()
	require.NoError(t, m.Put(testFrame(1)))
	m.Close()
	m.Close()

	_, ok := m.TakeLatest()
	assert.False(t, ok, "close releases the pending frame")
}
