// Package ipcbuf implements the shared-memory ring buffer underneath the
// psrdada client API: a fixed number of fixed-capacity slots in one mapped
// segment, with single-writer/single-reader lock words, slot fill/clear
// accounting, and an advisory end-of-data flag.
//
// Each exported operation corresponds to one call of the native ring-buffer
// protocol; the caller (package psrdada) is responsible for sequencing them
// correctly. Lock acquisition never blocks; slot acquisition blocks in the
// kernel (futex) until the peer process fills or clears a slot.
package ipcbuf

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrExists is returned by Create when a segment with the key exists.
	ErrExists = errors.New("segment already exists")

	// ErrNotExist is returned by Connect when no segment has the key.
	ErrNotExist = errors.New("segment does not exist")

	// ErrBusy is returned by Destroy while other processes are attached.
	ErrBusy = errors.New("segment still attached by another process")

	// ErrLockHeld is returned when the requested direction lock is held,
	// by this process or another.
	ErrLockHeld = errors.New("buffer lock already held")

	// ErrNotLocked is returned when a slot operation is attempted without
	// holding the corresponding direction lock.
	ErrNotLocked = errors.New("buffer not locked for this operation")

	// ErrWouldBlock is returned by the try variants when no slot is ready.
	ErrWouldBlock = errors.New("no slot available")

	// ErrDetached is returned after Close or Destroy.
	ErrDetached = errors.New("segment detached")
)

// Buffer is one process's attachment to a ring-buffer segment.
//
// The holdsWrite/holdsRead flags mirror the shared lock words for this
// attachment only; they exist so misordered calls fail here instead of
// corrupting the shared accounting.
type Buffer struct {
	key        uint32
	mem        []byte
	owned      bool // created (vs connected); Close of an owned buffer destroys
	holdsWrite bool
	holdsRead  bool
}

// Create allocates and initializes a new segment for key, failing with
// ErrExists if one is already present.
func Create(key uint32, nbufs, bufsz uint64) (*Buffer, error) {
	_, _, total, err := segmentLayout(nbufs, bufsz)
	if err != nil {
		return nil, err
	}
	mem, err := shmCreate(key, total)
	if err != nil {
		return nil, err
	}
	hdr := header(mem)
	hdr.setMagic()
	hdr.SetVersion(segmentVersion)
	hdr.SetNumBufs(nbufs)
	hdr.SetBufSize(bufsz)
	hdr.addRef()
	slog.Debug("created ring buffer segment", "key", fmt.Sprintf("%#x", key), "nbufs", nbufs, "bufsz", bufsz)
	return &Buffer{key: key, mem: mem, owned: true}, nil
}

// Connect attaches to an existing segment, failing with ErrNotExist if no
// segment has the key.
func Connect(key uint32) (*Buffer, error) {
	mem, err := shmOpen(key)
	if err != nil {
		return nil, err
	}
	hdr := header(mem)
	if !hdr.validMagic() {
		shmUnmap(mem)
		return nil, fmt.Errorf("segment %#x: bad magic", key)
	}
	if v := hdr.Version(); v != segmentVersion {
		shmUnmap(mem)
		return nil, fmt.Errorf("segment %#x: layout version %d, want %d", key, v, segmentVersion)
	}
	// The mapped size must cover the layout the header describes.
	_, _, total, err := segmentLayout(hdr.NumBufs(), hdr.BufSize())
	if err != nil || total > uint64(len(mem)) {
		shmUnmap(mem)
		return nil, fmt.Errorf("segment %#x: truncated mapping", key)
	}
	hdr.addRef()
	slog.Debug("connected to ring buffer segment", "key", fmt.Sprintf("%#x", key))
	return &Buffer{key: key, mem: mem}, nil
}

// Key returns the segment key.
func (b *Buffer) Key() uint32 { return b.key }

// NumBufs returns the number of slots in the ring.
func (b *Buffer) NumBufs() uint64 {
	if b.mem == nil {
		return 0
	}
	return header(b.mem).NumBufs()
}

// BufSize returns the capacity of each slot in bytes.
func (b *Buffer) BufSize() uint64 {
	if b.mem == nil {
		return 0
	}
	return header(b.mem).BufSize()
}

// Reset rewinds the fill/clear accounting and drops the end-of-data flag.
// Only valid while holding the write lock.
func (b *Buffer) Reset() error {
	if b.mem == nil {
		return ErrDetached
	}
	if !b.holdsWrite {
		return ErrNotLocked
	}
	hdr := header(b.mem)
	hdr.SetFilled(0)
	hdr.SetCleared(0)
	hdr.ClearEOD()
	lens := slotLens(b.mem, hdr.NumBufs())
	for i := range lens {
		lens[i] = 0
	}
	return nil
}

// LockWrite takes the segment's write lock. It fails immediately with
// ErrLockHeld if any process (including this one) already holds it.
func (b *Buffer) LockWrite() error {
	if b.mem == nil {
		return ErrDetached
	}
	if b.holdsWrite || !header(b.mem).TryLockWrite() {
		return ErrLockHeld
	}
	b.holdsWrite = true
	slog.Debug("locked buffer for writing", "key", fmt.Sprintf("%#x", b.key))
	return nil
}

// UnlockWrite releases the write lock.
func (b *Buffer) UnlockWrite() error {
	if b.mem == nil {
		return ErrDetached
	}
	if !b.holdsWrite {
		return ErrNotLocked
	}
	header(b.mem).UnlockWrite()
	b.holdsWrite = false
	slog.Debug("unlocked buffer from writing", "key", fmt.Sprintf("%#x", b.key))
	return nil
}

// LockRead takes the segment's read lock. It fails immediately with
// ErrLockHeld if any process (including this one) already holds it.
func (b *Buffer) LockRead() error {
	if b.mem == nil {
		return ErrDetached
	}
	if b.holdsRead || !header(b.mem).TryLockRead() {
		return ErrLockHeld
	}
	b.holdsRead = true
	slog.Debug("locked buffer for reading", "key", fmt.Sprintf("%#x", b.key))
	return nil
}

// UnlockRead releases the read lock.
func (b *Buffer) UnlockRead() error {
	if b.mem == nil {
		return ErrDetached
	}
	if !b.holdsRead {
		return ErrNotLocked
	}
	header(b.mem).UnlockRead()
	b.holdsRead = false
	slog.Debug("unlocked buffer from reading", "key", fmt.Sprintf("%#x", b.key))
	return nil
}

// slot returns the payload area of slot idx (a monotonic slot count).
func (b *Buffer) slot(idx uint64) []byte {
	hdr := header(b.mem)
	nbufs, bufsz := hdr.NumBufs(), hdr.BufSize()
	_, dataOff, _, _ := segmentLayout(nbufs, bufsz)
	off := dataOff + (idx%nbufs)*bufsz
	return b.mem[off : off+bufsz]
}

// NextWriteSlot blocks until a free slot is available and returns its
// payload area. The slot stays owned by the caller until MarkFilled.
func (b *Buffer) NextWriteSlot() ([]byte, error) {
	return b.nextWriteSlot(true)
}

// TryNextWriteSlot is the polling variant of NextWriteSlot; it returns
// ErrWouldBlock when the ring is full.
func (b *Buffer) TryNextWriteSlot() ([]byte, error) {
	return b.nextWriteSlot(false)
}

func (b *Buffer) nextWriteSlot(block bool) ([]byte, error) {
	if b.mem == nil {
		return nil, ErrDetached
	}
	if !b.holdsWrite {
		return nil, ErrNotLocked
	}
	hdr := header(b.mem)
	for {
		// Snapshot the sequence word before checking the condition: a clear
		// landing in between bumps it, so the wait below falls through
		// instead of missing the wake.
		seq := hdr.ClearedSeq()
		filled, cleared := hdr.Filled(), hdr.Cleared()
		if filled-cleared < hdr.NumBufs() {
			return b.slot(filled), nil
		}
		if !block {
			return nil, ErrWouldBlock
		}
		// Ring is full; sleep until the reader clears a slot.
		if err := futexWait(&hdr.clearedSeq, seq); err != nil {
			return nil, err
		}
	}
}

// MarkFilled publishes the current write slot with n payload bytes and
// advances the ring. It wakes a reader blocked in NextReadSlot.
func (b *Buffer) MarkFilled(n uint64) error {
	if b.mem == nil {
		return ErrDetached
	}
	if !b.holdsWrite {
		return ErrNotLocked
	}
	hdr := header(b.mem)
	if n > hdr.BufSize() {
		return fmt.Errorf("filled %d bytes exceeds slot capacity %d", n, hdr.BufSize())
	}
	filled := hdr.Filled()
	slotLens(b.mem, hdr.NumBufs())[filled%hdr.NumBufs()] = n
	hdr.SetFilled(filled + 1)
	hdr.bumpFilledSeq()
	futexWake(&hdr.filledSeq)
	return nil
}

// NextReadSlot blocks until a filled slot is available and returns its
// payload (sliced to the filled length). The second result is true when the
// end-of-data flag terminates the stream instead.
func (b *Buffer) NextReadSlot() ([]byte, bool, error) {
	return b.nextReadSlot(true)
}

// TryNextReadSlot is the polling variant of NextReadSlot; it returns
// ErrWouldBlock when no slot is filled and the stream has not ended.
func (b *Buffer) TryNextReadSlot() ([]byte, bool, error) {
	return b.nextReadSlot(false)
}

func (b *Buffer) nextReadSlot(block bool) ([]byte, bool, error) {
	if b.mem == nil {
		return nil, false, ErrDetached
	}
	if !b.holdsRead {
		return nil, false, ErrNotLocked
	}
	hdr := header(b.mem)
	for {
		// Snapshot the sequence word before checking the condition: a fill
		// or EOD landing in between bumps it, so the wait below falls
		// through instead of missing the wake.
		seq := hdr.FilledSeq()
		// EOD wins over pending data: once the flag is raised and every
		// slot written before it is cleared, the stream is over.
		if hdr.EODReached() {
			return nil, true, nil
		}
		filled, cleared := hdr.Filled(), hdr.Cleared()
		if filled > cleared {
			n := slotLens(b.mem, hdr.NumBufs())[cleared%hdr.NumBufs()]
			return b.slot(cleared)[:n], false, nil
		}
		if !block {
			return nil, false, ErrWouldBlock
		}
		// Ring is empty; sleep until the writer fills a slot or raises EOD.
		if err := futexWait(&hdr.filledSeq, seq); err != nil {
			return nil, false, err
		}
	}
}

// MarkCleared releases the current read slot back to the writer and wakes a
// writer blocked in NextWriteSlot.
func (b *Buffer) MarkCleared() error {
	if b.mem == nil {
		return ErrDetached
	}
	if !b.holdsRead {
		return ErrNotLocked
	}
	hdr := header(b.mem)
	hdr.SetCleared(hdr.Cleared() + 1)
	hdr.bumpClearedSeq()
	futexWake(&hdr.clearedSeq)
	return nil
}

// EnableEOD raises the end-of-data flag at the current filled count. The
// protocol requires this strictly after the final MarkFilled and strictly
// before UnlockWrite; the write lock check enforces the latter half.
func (b *Buffer) EnableEOD() error {
	if b.mem == nil {
		return ErrDetached
	}
	if !b.holdsWrite {
		return ErrNotLocked
	}
	hdr := header(b.mem)
	hdr.SetEOD()
	// Readers parked in NextReadSlot must observe the flag.
	hdr.bumpFilledSeq()
	futexWake(&hdr.filledSeq)
	return nil
}

// EOD reports whether the stream has terminated from the reader's point of
// view. Valid only between MarkCleared and UnlockRead; the read lock check
// enforces the latter half.
func (b *Buffer) EOD() (bool, error) {
	if b.mem == nil {
		return false, ErrDetached
	}
	if !b.holdsRead {
		return false, ErrNotLocked
	}
	return header(b.mem).EODReached(), nil
}

// State returns a debugging snapshot of this attachment.
func (b *Buffer) State() State {
	switch {
	case b.mem == nil:
		return StateDisconnected
	case b.holdsWrite:
		return StateWriter
	case b.holdsRead && header(b.mem).EODReached():
		return StateReadStop
	case b.holdsRead:
		return StateReader
	default:
		return StateConnected
	}
}

// Mlock pins the segment's pages in RAM.
func (b *Buffer) Mlock() error {
	if b.mem == nil {
		return ErrDetached
	}
	return shmLock(b.mem)
}

// Prefault touches every page of the segment so later slot access does not
// take page faults.
func (b *Buffer) Prefault() error {
	if b.mem == nil {
		return ErrDetached
	}
	for i := 0; i < len(b.mem); i += 4096 {
		_ = b.mem[i]
	}
	return nil
}

// Close detaches from the segment without tearing it down. Held locks are
// released first so a crashed-but-tidy caller does not wedge the peer.
func (b *Buffer) Close() error {
	if b.mem == nil {
		return nil
	}
	if b.holdsWrite {
		_ = b.UnlockWrite()
	}
	if b.holdsRead {
		_ = b.UnlockRead()
	}
	header(b.mem).dropRef()
	err := shmUnmap(b.mem)
	b.mem = nil
	return err
}

// Destroy tears the segment down, failing with ErrBusy while other
// processes are still attached. The backing object is removed so no new
// Connect can succeed.
func (b *Buffer) Destroy() error {
	if b.mem == nil {
		return ErrDetached
	}
	if header(b.mem).Refs() > 1 {
		return ErrBusy
	}
	if err := b.Close(); err != nil {
		return err
	}
	slog.Debug("destroyed ring buffer segment", "key", fmt.Sprintf("%#x", b.key))
	return shmUnlink(b.key)
}
