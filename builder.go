package psrdada

import (
	"fmt"
	"os"

	"github.com/calobozan/psrdada-go/internal/ipcbuf"
)

// Ring geometry defaults, in units of the system page size. Data slots are
// sized for bulk payload, header slots for a page of key/value text.
const (
	defaultNumBufs     = 4
	defaultBufPages    = 128
	defaultNumHeaders  = 8
	defaultHeaderPages = 1
)

// ClientBuilder creates a new segment pair. The zero values of the size
// options select the defaults above.
type ClientBuilder struct {
	key        Key
	numBufs    uint64
	bufSize    uint64
	numHeaders uint64
	headerSize uint64
	mlock      bool
	prefault   bool
}

// NewBuilder returns a builder for a segment pair at key.
func NewBuilder(key Key) *ClientBuilder {
	return &ClientBuilder{key: key}
}

// NumBufs sets the number of slots in the data ring.
func (b *ClientBuilder) NumBufs(n uint64) *ClientBuilder {
	b.numBufs = n
	return b
}

// BufSize sets the capacity in bytes of each data slot.
func (b *ClientBuilder) BufSize(n uint64) *ClientBuilder {
	b.bufSize = n
	return b
}

// NumHeaders sets the number of slots in the header ring.
func (b *ClientBuilder) NumHeaders(n uint64) *ClientBuilder {
	b.numHeaders = n
	return b
}

// HeaderSize sets the capacity in bytes of each header slot.
func (b *ClientBuilder) HeaderSize(n uint64) *ClientBuilder {
	b.headerSize = n
	return b
}

// Mlock pins the segment pair's pages in RAM after creation.
func (b *ClientBuilder) Mlock(v bool) *ClientBuilder {
	b.mlock = v
	return b
}

// Prefault touches every page of the segment pair after creation so the
// first pass through the ring does not take page faults.
func (b *ClientBuilder) Prefault(v bool) *ClientBuilder {
	b.prefault = v
	return b
}

// Build creates and initializes both regions, failing with
// ErrSegmentExists if either key is taken. On any failure the regions
// created so far are torn down so a failed build leaks nothing.
func (b *ClientBuilder) Build() (*Client, error) {
	pageSize := uint64(os.Getpagesize())
	numBufs := orDefault(b.numBufs, defaultNumBufs)
	bufSize := orDefault(b.bufSize, defaultBufPages*pageSize)
	numHeaders := orDefault(b.numHeaders, defaultNumHeaders)
	headerSize := orDefault(b.headerSize, defaultHeaderPages*pageSize)

	data, err := ipcbuf.Create(uint32(b.key), numBufs, bufSize)
	if err != nil {
		return nil, wrapSegmentErr("create data region", b.key, err)
	}
	header, err := ipcbuf.Create(uint32(b.key)+1, numHeaders, headerSize)
	if err != nil {
		if derr := data.Destroy(); derr != nil {
			return nil, fmt.Errorf("create header region %s: %w (and destroying data region failed: %v)", b.key, err, derr)
		}
		return nil, wrapSegmentErr("create header region", b.key, err)
	}

	client := &Client{key: b.key, data: data, header: header}
	fail := func(err error) (*Client, error) {
		if derr := client.destroyUnlocked(); derr != nil {
			return nil, fmt.Errorf("%w (teardown also failed: %v)", err, derr)
		}
		return nil, err
	}

	if b.mlock {
		if err := data.Mlock(); err != nil {
			return fail(fmt.Errorf("mlock data region %s: %w", b.key, err))
		}
		if err := header.Mlock(); err != nil {
			return fail(fmt.Errorf("mlock header region %s: %w", b.key, err))
		}
	}
	if b.prefault {
		if err := data.Prefault(); err != nil {
			return fail(fmt.Errorf("prefault data region %s: %w", b.key, err))
		}
		if err := header.Prefault(); err != nil {
			return fail(fmt.Errorf("prefault header region %s: %w", b.key, err))
		}
	}

	// Start from a known state regardless of what a previous occupant of
	// the backing files left behind.
	if err := client.reset(); err != nil {
		return fail(err)
	}
	return client, nil
}

// destroyUnlocked tears both regions down during a failed build, before the
// client is visible to anyone else.
func (c *Client) destroyUnlocked() error {
	err := c.data.Destroy()
	if herr := c.header.Destroy(); err == nil {
		err = herr
	}
	c.closed = true
	return err
}

func orDefault(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}
