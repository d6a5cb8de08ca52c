package ipcbuf

import (
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Segments are system-global, so every test gets its own key, seeded so
// leftovers from a crashed run do not collide.
var keySeq atomic.Uint32

func init() {
	keySeq.Store((uint32(os.Getpid()) << 16) | (uint32(time.Now().UnixNano()) & 0xffff) | 1)
}

func nextKey() uint32 {
	return keySeq.Add(2)
}

// createBuffer creates a segment and schedules its teardown.
func createBuffer(t *testing.T, nbufs, bufsz uint64) *Buffer {
	t.Helper()
	buf, err := Create(nextKey(), nbufs, bufsz)
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Destroy() })
	return buf
}

func TestCreateConnectGeometry(t *testing.T) {
	t.Parallel()

	buf := createBuffer(t, 4, 4096)
	require.Equal(t, uint64(4), buf.NumBufs())
	require.Equal(t, uint64(4096), buf.BufSize())

	peer, err := Connect(buf.Key())
	require.NoError(t, err)
	require.Equal(t, uint64(4), peer.NumBufs())
	require.Equal(t, uint64(4096), peer.BufSize())
	require.NoError(t, peer.Close())
}

func TestConnectMissing(t *testing.T) {
	t.Parallel()

	_, err := Connect(nextKey())
	require.ErrorIs(t, err, ErrNotExist)
}

func TestCreateExisting(t *testing.T) {
	t.Parallel()

	buf := createBuffer(t, 2, 256)
	_, err := Create(buf.Key(), 2, 256)
	require.ErrorIs(t, err, ErrExists)
}

func TestCreateRejectsZeroGeometry(t *testing.T) {
	t.Parallel()

	_, err := Create(nextKey(), 0, 256)
	require.Error(t, err)
	_, err = Create(nextKey(), 2, 0)
	require.Error(t, err)
}

func TestLocksFailFast(t *testing.T) {
	t.Parallel()

	buf := createBuffer(t, 2, 256)
	peer, err := Connect(buf.Key())
	require.NoError(t, err)
	defer peer.Close()

	require.NoError(t, buf.LockWrite())
	require.ErrorIs(t, buf.LockWrite(), ErrLockHeld)
	require.ErrorIs(t, peer.LockWrite(), ErrLockHeld)

	// The read lock is independent of the write lock.
	require.NoError(t, peer.LockRead())
	require.ErrorIs(t, buf.LockRead(), ErrLockHeld)

	require.NoError(t, buf.UnlockWrite())
	require.NoError(t, peer.UnlockRead())
	require.NoError(t, peer.LockWrite())
	require.NoError(t, peer.UnlockWrite())
}

func TestSlotOpsRequireLocks(t *testing.T) {
	t.Parallel()

	buf := createBuffer(t, 2, 256)

	_, err := buf.TryNextWriteSlot()
	require.ErrorIs(t, err, ErrNotLocked)
	require.ErrorIs(t, buf.MarkFilled(0), ErrNotLocked)
	require.ErrorIs(t, buf.EnableEOD(), ErrNotLocked)
	require.ErrorIs(t, buf.Reset(), ErrNotLocked)
	require.ErrorIs(t, buf.UnlockWrite(), ErrNotLocked)

	_, _, err = buf.TryNextReadSlot()
	require.ErrorIs(t, err, ErrNotLocked)
	require.ErrorIs(t, buf.MarkCleared(), ErrNotLocked)
	_, err = buf.EOD()
	require.ErrorIs(t, err, ErrNotLocked)
	require.ErrorIs(t, buf.UnlockRead(), ErrNotLocked)
}

func TestSlotAccounting(t *testing.T) {
	t.Parallel()

	buf := createBuffer(t, 2, 256)
	peer, err := Connect(buf.Key())
	require.NoError(t, err)
	defer peer.Close()

	require.NoError(t, buf.LockWrite())
	require.NoError(t, peer.LockRead())

	// Empty ring: nothing to read.
	_, _, err = peer.TryNextReadSlot()
	require.ErrorIs(t, err, ErrWouldBlock)

	// Fill both slots; the third acquisition finds the ring full.
	for i := 0; i < 2; i++ {
		slot, err := buf.TryNextWriteSlot()
		require.NoError(t, err)
		require.Len(t, slot, 256)
		slot[0] = byte('a' + i)
		require.NoError(t, buf.MarkFilled(1))
	}
	_, err = buf.TryNextWriteSlot()
	require.ErrorIs(t, err, ErrWouldBlock)

	// Slots come back out in fill order, sliced to their filled length.
	payload, eod, err := peer.TryNextReadSlot()
	require.NoError(t, err)
	require.False(t, eod)
	require.Equal(t, []byte("a"), payload)
	require.NoError(t, peer.MarkCleared())

	// Clearing one slot hands it back to the writer.
	_, err = buf.TryNextWriteSlot()
	require.NoError(t, err)

	payload, eod, err = peer.TryNextReadSlot()
	require.NoError(t, err)
	require.False(t, eod)
	require.Equal(t, []byte("b"), payload)
	require.NoError(t, peer.MarkCleared())
}

func TestMarkFilledBounds(t *testing.T) {
	t.Parallel()

	buf := createBuffer(t, 2, 64)
	require.NoError(t, buf.LockWrite())
	_, err := buf.TryNextWriteSlot()
	require.NoError(t, err)
	require.Error(t, buf.MarkFilled(65))
	require.NoError(t, buf.MarkFilled(64))
}

func TestEndOfDataOrdering(t *testing.T) {
	t.Parallel()

	buf := createBuffer(t, 4, 64)
	peer, err := Connect(buf.Key())
	require.NoError(t, err)
	defer peer.Close()

	require.NoError(t, buf.LockWrite())
	require.NoError(t, peer.LockRead())

	// Two filled slots, then the flag.
	for i := 0; i < 2; i++ {
		_, err := buf.TryNextWriteSlot()
		require.NoError(t, err)
		require.NoError(t, buf.MarkFilled(8))
	}
	require.NoError(t, buf.EnableEOD())

	// Data written before the flag still drains first.
	for i := 0; i < 2; i++ {
		eod, err := peer.EOD()
		require.NoError(t, err)
		require.False(t, eod)
		_, eodSlot, err := peer.TryNextReadSlot()
		require.NoError(t, err)
		require.False(t, eodSlot)
		require.NoError(t, peer.MarkCleared())
	}

	// Everything before the flag is cleared: the stream is over.
	eod, err := peer.EOD()
	require.NoError(t, err)
	require.True(t, eod)
	_, eodSlot, err := peer.TryNextReadSlot()
	require.NoError(t, err)
	require.True(t, eodSlot)
}

func TestResetRewindsAccounting(t *testing.T) {
	t.Parallel()

	buf := createBuffer(t, 2, 64)
	require.NoError(t, buf.LockWrite())
	_, err := buf.TryNextWriteSlot()
	require.NoError(t, err)
	require.NoError(t, buf.MarkFilled(8))
	require.NoError(t, buf.EnableEOD())

	require.NoError(t, buf.Reset())
	require.NoError(t, buf.UnlockWrite())

	require.NoError(t, buf.LockRead())
	_, _, err = buf.TryNextReadSlot()
	require.ErrorIs(t, err, ErrWouldBlock)
	eod, err := buf.EOD()
	require.NoError(t, err)
	require.False(t, eod)
}

func TestDestroyRefusesWhileAttached(t *testing.T) {
	t.Parallel()

	buf, err := Create(nextKey(), 2, 64)
	require.NoError(t, err)
	peer, err := Connect(buf.Key())
	require.NoError(t, err)

	require.ErrorIs(t, buf.Destroy(), ErrBusy)
	require.NoError(t, peer.Close())
	require.NoError(t, buf.Destroy())

	_, err = Connect(buf.Key())
	require.ErrorIs(t, err, ErrNotExist)
}

func TestCloseReleasesHeldLocks(t *testing.T) {
	t.Parallel()

	buf := createBuffer(t, 2, 64)
	peer, err := Connect(buf.Key())
	require.NoError(t, err)

	require.NoError(t, peer.LockWrite())
	require.NoError(t, peer.LockRead())
	require.NoError(t, peer.Close())

	// A tidy detach must not wedge the segment.
	require.NoError(t, buf.LockWrite())
	require.NoError(t, buf.LockRead())
}

func TestDetachedBufferRefusesEverything(t *testing.T) {
	t.Parallel()

	buf, err := Create(nextKey(), 2, 64)
	require.NoError(t, err)
	require.NoError(t, buf.Destroy())

	require.ErrorIs(t, buf.LockWrite(), ErrDetached)
	require.ErrorIs(t, buf.Destroy(), ErrDetached)
	require.Equal(t, uint64(0), buf.NumBufs())
	require.Equal(t, StateDisconnected, buf.State())
}

func TestStateSnapshot(t *testing.T) {
	t.Parallel()

	buf := createBuffer(t, 2, 64)
	require.Equal(t, StateConnected, buf.State())
	require.Equal(t, "StateConnected", buf.State().String())

	require.NoError(t, buf.LockWrite())
	require.Equal(t, StateWriter, buf.State())
	require.NoError(t, buf.UnlockWrite())

	require.NoError(t, buf.LockRead())
	require.Equal(t, StateReader, buf.State())

	require.NoError(t, buf.UnlockRead())
	require.NoError(t, buf.LockWrite())
	require.NoError(t, buf.EnableEOD())
	require.NoError(t, buf.UnlockWrite())
	require.NoError(t, buf.LockRead())
	require.Equal(t, StateReadStop, buf.State())
}

// TestBlockingHandoff exercises the futex paths: a reader parked on an empty
// ring is woken by a fill, and a writer parked on a full ring is woken by a
// clear.
func TestBlockingHandoff(t *testing.T) {
	t.Parallel()

	buf := createBuffer(t, 1, 64)
	peer, err := Connect(buf.Key())
	require.NoError(t, err)
	defer peer.Close()

	require.NoError(t, buf.LockWrite())
	require.NoError(t, peer.LockRead())

	fillErr := make(chan error, 1)
	go func() {
		fillErr <- func() error {
			time.Sleep(20 * time.Millisecond)
			slot, err := buf.NextWriteSlot()
			if err != nil {
				return err
			}
			copy(slot, "abc")
			return buf.MarkFilled(3)
		}()
	}()

	payload, eod, err := peer.NextReadSlot()
	require.NoError(t, err)
	require.False(t, eod)
	require.Equal(t, []byte("abc"), payload)
	require.NoError(t, <-fillErr)

	// The single slot is still uncleared, so the writer parks until the
	// reader hands it back.
	clearErr := make(chan error, 1)
	go func() {
		clearErr <- func() error {
			time.Sleep(20 * time.Millisecond)
			return peer.MarkCleared()
		}()
	}()

	_, err = buf.NextWriteSlot()
	require.NoError(t, err)
	require.NoError(t, <-clearErr)
}
