package psrdada

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/calobozan/psrdada-go/internal/ipcbuf"
)

// Writer is the write capability of one region. It exists locked: while a
// Writer is alive, no other Writer or Reader can be acquired through the
// same region client, and no other process can take the region's write
// lock. Close releases the lock.
//
// Blocks are obtained one at a time with NextBlock and finished with
// Commit; the Writer refuses to hand out the next block until the current
// one is committed, because the underlying protocol has no way to recover
// from two open write slots.
type Writer struct {
	rc     *regionClient
	block  *WriteBlock
	closed bool
}

// NextBlock acquires the next free slot's lock, blocking until the reader
// has cleared one if the ring is full. The returned block is positioned at
// offset zero.
func (w *Writer) NextBlock() (*WriteBlock, error) {
	return w.nextBlock(true)
}

// TryNextBlock is the polling variant of NextBlock; it returns
// ErrWouldBlock instead of blocking when the ring is full.
func (w *Writer) TryNextBlock() (*WriteBlock, error) {
	return w.nextBlock(false)
}

func (w *Writer) nextBlock(block bool) (*WriteBlock, error) {
	if w.closed {
		return nil, ErrClientClosed
	}
	if w.block != nil && !w.block.committed {
		return nil, ErrBlockOutstanding
	}
	var (
		slot []byte
		err  error
	)
	if block {
		slot, err = w.rc.buf.NextWriteSlot()
	} else {
		slot, err = w.rc.buf.TryNextWriteSlot()
	}
	if err != nil {
		if errors.Is(err, ipcbuf.ErrWouldBlock) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("next write slot: %w", err)
	}
	w.block = &WriteBlock{w: w, buf: slot}
	return w.block, nil
}

// Push writes data into the next block as a single whole-buffer transfer
// and commits it. It returns the number of bytes written.
func (w *Writer) Push(data []byte) (int, error) {
	block, err := w.NextBlock()
	if err != nil {
		return 0, err
	}
	n, err := block.Write(data)
	if err != nil {
		// Nothing was staged and nothing marked filled, so the slot is
		// simply handed out again on the next acquisition.
		block.discard()
		return 0, err
	}
	return n, block.Commit()
}

// Close commits nothing, releases the region's write lock, and returns the
// Writer to its region client. If a block was abandoned without Commit,
// Close commits it as-is so the shared lock state stays consistent, and
// reports ErrUncommittedBlock: the abandonment is a logic error in the
// caller, not something this layer can silently repair.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var err error
	if w.block != nil && !w.block.committed {
		slog.Error("write block abandoned without commit; committing to preserve ring state",
			"key", fmt.Sprintf("%#x", w.rc.buf.Key()), "bytes", w.block.n)
		if cerr := w.block.Commit(); cerr != nil {
			err = fmt.Errorf("commit abandoned block: %w", cerr)
		} else {
			err = ErrUncommittedBlock
		}
	}
	if uerr := w.rc.buf.UnlockWrite(); uerr != nil && err == nil {
		err = fmt.Errorf("unlock write: %w", uerr)
	}
	w.rc.inUse.Store(false)
	return err
}

// WriteBlock is one locked, writable slot of the ring. Payload is appended
// with Write up to the slot's fixed capacity; Commit is the terminal
// operation that publishes the payload and releases the slot. Every method
// of a committed block fails, and a block abandoned without Commit is
// reported by Writer.Close.
type WriteBlock struct {
	w         *Writer
	buf       []byte
	n         int
	eod       bool
	committed bool
}

// Cap returns the slot's fixed capacity in bytes.
func (b *WriteBlock) Cap() int { return len(b.buf) }

// Len returns the number of bytes written so far.
func (b *WriteBlock) Len() int { return b.n }

// Write appends p to the block. A write that would exceed the slot's
// capacity fails whole with ErrBlockOverflow; nothing is written in that
// case, so a failed Push never publishes a partial payload.
func (b *WriteBlock) Write(p []byte) (int, error) {
	if b.committed {
		return 0, ErrBlockCommitted
	}
	if b.n+len(p) > len(b.buf) {
		return 0, fmt.Errorf("%w: %d bytes into %d remaining", ErrBlockOverflow, len(p), len(b.buf)-b.n)
	}
	copy(b.buf[b.n:], p)
	b.n += len(p)
	return len(p), nil
}

// MarkEOD flags this block as the end of the stream. The flag takes effect
// at Commit, which orders it after the slot is marked filled — the only
// ordering the underlying protocol accepts.
func (b *WriteBlock) MarkEOD() {
	b.eod = true
}

// Commit publishes the written payload, advances the ring, and releases the
// slot. It is the terminal operation on the block.
func (b *WriteBlock) Commit() error {
	if b.committed {
		return ErrBlockCommitted
	}
	if err := b.w.rc.buf.MarkFilled(uint64(b.n)); err != nil {
		return fmt.Errorf("mark filled: %w", err)
	}
	if b.eod {
		// Strictly after MarkFilled and strictly before the write lock is
		// released at Writer.Close.
		if err := b.w.rc.buf.EnableEOD(); err != nil {
			return fmt.Errorf("enable end-of-data: %w", err)
		}
	}
	b.committed = true
	b.buf = nil
	b.w.block = nil
	return nil
}

// discard abandons a block that has published nothing. The ring state is
// untouched, so the same slot is returned by the next acquisition.
func (b *WriteBlock) discard() {
	b.committed = true
	b.buf = nil
	b.w.block = nil
}
