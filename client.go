package psrdada

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/calobozan/psrdada-go/internal/ipcbuf"
)

// A Key names a ring-buffer segment pair system-wide. The data region lives
// at the key itself and the header region at key+1, so consecutive clients
// should space their keys by two.
type Key uint32

// String formats the key the way segment tooling displays it.
func (k Key) String() string { return fmt.Sprintf("%#x", uint32(k)) }

// Client owns one live connection to a header+data ring-buffer segment
// pair, either newly built (Build) or attached to an existing pair
// (Connect). It must be split exactly once into its two region clients
// before any I/O can happen.
//
// A Client is not safe for concurrent use; the region clients it splits
// into serialize all cross-process access through the segment's own locks.
type Client struct {
	key    Key
	data   *ipcbuf.Buffer
	header *ipcbuf.Buffer

	mu     sync.Mutex
	split  bool
	closed bool
}

// Connect attaches to an existing segment pair at key, failing with
// ErrSegmentNotFound if no segment was built there.
func Connect(key Key) (*Client, error) {
	data, err := ipcbuf.Connect(uint32(key))
	if err != nil {
		return nil, wrapSegmentErr("connect data region", key, err)
	}
	header, err := ipcbuf.Connect(uint32(key) + 1)
	if err != nil {
		data.Close()
		return nil, wrapSegmentErr("connect header region", key, err)
	}
	return &Client{key: key, data: data, header: header}, nil
}

// Key returns the segment key this client is connected to.
func (c *Client) Key() Key { return c.key }

// DataBufSize returns the capacity in bytes of one data slot.
func (c *Client) DataBufSize() uint64 { return c.data.BufSize() }

// DataBufCount returns the number of slots in the data ring.
func (c *Client) DataBufCount() uint64 { return c.data.NumBufs() }

// HeaderBufSize returns the capacity in bytes of one header slot.
func (c *Client) HeaderBufSize() uint64 { return c.header.BufSize() }

// HeaderBufCount returns the number of slots in the header ring.
func (c *Client) HeaderBufCount() uint64 { return c.header.NumBufs() }

// Split divides the client into its header and data region clients. It is a
// one-time operation: the two region clients are the only handles through
// which the regions' locks may be taken, and allowing a second pair would
// let two owners race on the same lock without either knowing. A second
// call fails with ErrAlreadySplit.
func (c *Client) Split() (*HeaderClient, *DataClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClientClosed
	}
	if c.split {
		return nil, nil, ErrAlreadySplit
	}
	c.split = true
	return &HeaderClient{regionClient{buf: c.header}},
		&DataClient{regionClient{buf: c.data}},
		nil
}

// reset rewinds both regions' accounting. Used by the builder so a freshly
// built pair starts from a known state regardless of what a previous
// occupant of the backing file left behind.
func (c *Client) reset() error {
	for _, buf := range []*ipcbuf.Buffer{c.data, c.header} {
		if err := buf.LockWrite(); err != nil {
			return fmt.Errorf("reset %s: %w", c.key, err)
		}
		if err := buf.Reset(); err != nil {
			buf.UnlockWrite()
			return fmt.Errorf("reset %s: %w", c.key, err)
		}
		if err := buf.UnlockWrite(); err != nil {
			return fmt.Errorf("reset %s: %w", c.key, err)
		}
	}
	return nil
}

// Close detaches from both regions without tearing them down. Other
// processes attached to the same key are unaffected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.data.Close()
	if herr := c.header.Close(); err == nil {
		err = herr
	}
	return err
}

// Destroy tears down both regions, releasing the shared memory. It fails
// with ErrSegmentBusy while other processes are still attached; destroying
// a segment out from under a live peer is the one hazard this layer cannot
// make safe, so it refuses rather than guesses.
func (c *Client) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if err := c.data.Destroy(); err != nil {
		return wrapSegmentErr("destroy data region", c.key, err)
	}
	if err := c.header.Destroy(); err != nil {
		return wrapSegmentErr("destroy header region", c.key, err)
	}
	c.closed = true
	return nil
}

func wrapSegmentErr(op string, key Key, err error) error {
	switch {
	case errors.Is(err, ipcbuf.ErrExists):
		return fmt.Errorf("%s %s: %w", op, key, ErrSegmentExists)
	case errors.Is(err, ipcbuf.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, key, ErrSegmentNotFound)
	case errors.Is(err, ipcbuf.ErrBusy):
		return fmt.Errorf("%s %s: %w", op, key, ErrSegmentBusy)
	default:
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
}

// regionClient owns the right to request locks on one region of one
// segment. The inUse flag stands in for the mutable borrow the design
// wants: while a Writer or Reader is alive, no other capability can be
// acquired through this region client.
type regionClient struct {
	buf   *ipcbuf.Buffer
	inUse atomic.Bool
}

// Writer acquires the region's write capability. It fails with ErrLockHeld
// (another process holds the write lock) or ErrRegionBusy (this region
// client already has a live Writer or Reader); it never blocks.
func (rc *regionClient) Writer() (*Writer, error) {
	if !rc.inUse.CompareAndSwap(false, true) {
		return nil, ErrRegionBusy
	}
	if err := rc.buf.LockWrite(); err != nil {
		rc.inUse.Store(false)
		if errors.Is(err, ipcbuf.ErrLockHeld) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("lock write: %w", err)
	}
	return &Writer{rc: rc}, nil
}

// Reader acquires the region's read capability. It fails with ErrLockHeld
// (another process holds the read lock) or ErrRegionBusy (this region
// client already has a live Writer or Reader); it never blocks.
func (rc *regionClient) Reader() (*Reader, error) {
	if !rc.inUse.CompareAndSwap(false, true) {
		return nil, ErrRegionBusy
	}
	if err := rc.buf.LockRead(); err != nil {
		rc.inUse.Store(false)
		if errors.Is(err, ipcbuf.ErrLockHeld) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("lock read: %w", err)
	}
	return &Reader{rc: rc}, nil
}

// BufSize returns the capacity in bytes of one slot of this region.
func (rc *regionClient) BufSize() uint64 { return rc.buf.BufSize() }

// BufCount returns the number of slots in this region's ring.
func (rc *regionClient) BufCount() uint64 { return rc.buf.NumBufs() }

// State returns a debugging snapshot of this region attachment.
func (rc *regionClient) State() ipcbuf.State { return rc.buf.State() }

// HeaderClient is the region client for the header ring. Beyond the raw
// Writer/Reader surface it offers PushHeader/PopHeader, which apply the
// key/value codec on whole slots.
type HeaderClient struct {
	regionClient
}

// DataClient is the region client for the data ring.
type DataClient struct {
	regionClient
}
