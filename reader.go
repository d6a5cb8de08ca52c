package psrdada

import (
	"errors"
	"fmt"
	"io"

	"github.com/calobozan/psrdada-go/internal/ipcbuf"
)

// Reader is the read capability of one region. It exists locked: while a
// Reader is alive, no other Reader or Writer can be acquired through the
// same region client, and no other process can take the region's read lock.
// Close releases the lock.
//
// NextBlock yields the region's filled blocks in ring order and returns
// io.EOF once the producer's end-of-data flag has been observed — the
// stream terminator is not an error condition. Blocks are handed out one at
// a time; the current block must be closed before the next one can be
// acquired.
type Reader struct {
	rc     *regionClient
	block  *ReadBlock
	eof    bool
	closed bool
}

// NextBlock acquires the next filled slot's lock, blocking until the writer
// commits one if the ring is empty. It returns io.EOF once end-of-data has
// been observed.
func (r *Reader) NextBlock() (*ReadBlock, error) {
	return r.nextBlock(true)
}

// TryNextBlock is the polling variant of NextBlock; it returns
// ErrWouldBlock instead of blocking when the ring is empty.
func (r *Reader) TryNextBlock() (*ReadBlock, error) {
	return r.nextBlock(false)
}

func (r *Reader) nextBlock(block bool) (*ReadBlock, error) {
	if r.closed {
		return nil, ErrClientClosed
	}
	if r.eof {
		return nil, io.EOF
	}
	if r.block != nil && !r.block.closed {
		return nil, ErrBlockOutstanding
	}
	var (
		payload []byte
		eod     bool
		err     error
	)
	if block {
		payload, eod, err = r.rc.buf.NextReadSlot()
	} else {
		payload, eod, err = r.rc.buf.TryNextReadSlot()
	}
	if err != nil {
		if errors.Is(err, ipcbuf.ErrWouldBlock) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("next read slot: %w", err)
	}
	if eod {
		r.eof = true
		return nil, io.EOF
	}
	r.block = &ReadBlock{r: r, buf: payload}
	return r.block, nil
}

// Pop acquires the next block, copies its whole payload out, and closes it.
// It returns io.EOF once end-of-data has been observed.
func (r *Reader) Pop() ([]byte, error) {
	block, err := r.NextBlock()
	if err != nil {
		return nil, err
	}
	data := make([]byte, block.Len())
	copy(data, block.Bytes())
	if err := block.Close(); err != nil {
		return nil, err
	}
	return data, nil
}

// Close releases the region's read lock and returns the Reader to its
// region client. An outstanding block is closed first, which marks its slot
// cleared — on the read side clearing is the terminal effect, so there is
// nothing to abandon.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	var err error
	if r.block != nil && !r.block.closed {
		err = r.block.Close()
	}
	r.closed = true
	if uerr := r.rc.buf.UnlockRead(); uerr != nil && err == nil {
		err = fmt.Errorf("unlock read: %w", uerr)
	}
	r.rc.inUse.Store(false)
	return err
}

// ReadBlock is one locked, filled slot of the ring. Its byte length is
// known up front; reads are sequential and bounded by it, with io.EOF at
// exhaustion. Close is the terminal operation: it marks the slot cleared,
// releases it back to the writer, and then observes the end-of-data flag in
// the one window the protocol allows.
type ReadBlock struct {
	r      *Reader
	buf    []byte
	off    int
	closed bool
}

// Len returns the block's payload length in bytes.
func (b *ReadBlock) Len() int { return len(b.buf) }

// Bytes returns the unread remainder of the payload as a view into the
// shared slot. The view is only valid until Close.
func (b *ReadBlock) Bytes() []byte {
	if b.closed {
		return nil
	}
	return b.buf[b.off:]
}

// Read copies up to len(p) payload bytes into p. Once the declared length
// is exhausted it returns io.EOF; the slot holds nothing past it.
func (b *ReadBlock) Read(p []byte) (int, error) {
	if b.closed {
		return 0, ErrBlockClosed
	}
	if b.off >= len(b.buf) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[b.off:])
	b.off += n
	return n, nil
}

// Close marks the slot cleared and releases it. After clearing — and only
// then — the end-of-data flag is observed, so a terminated stream surfaces
// as io.EOF from the very next NextBlock instead of blocking forever.
func (b *ReadBlock) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.buf = nil
	if err := b.r.rc.buf.MarkCleared(); err != nil {
		return fmt.Errorf("mark cleared: %w", err)
	}
	eod, err := b.r.rc.buf.EOD()
	if err != nil {
		return fmt.Errorf("check end-of-data: %w", err)
	}
	if eod {
		b.r.eof = true
	}
	b.r.block = nil
	return nil
}
