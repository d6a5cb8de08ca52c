package psrdada

import (
	"fmt"
	"sync"
)

// Whole-buffer convenience wrappers: one block per call, acquired,
// transferred, and released internally. They exist for the common case of
// one header or one bounded payload per transfer; streaming callers should
// hold a Writer/Reader and work block by block.

// headerPool hands out slot-sized zeroed staging buffers per slot size.
// Headers are conventionally written as a full zero-padded slot, so every
// PushHeader needs one slot's worth of scratch.
var headerPool sync.Map // slot size -> *bufferPool

func stagingPool(bufSize int) *bufferPool {
	if p, ok := headerPool.Load(bufSize); ok {
		return p.(*bufferPool)
	}
	p, _ := headerPool.LoadOrStore(bufSize, newBufferPool(bufSize, 4))
	return p.(*bufferPool)
}

// PushHeader serializes header and writes it as one whole zero-padded
// header slot. It acquires and releases the region's write capability
// internally, so it fails with ErrLockHeld or ErrRegionBusy like Writer
// does, and with ErrHeaderOverflow when the serialized header does not fit
// in one slot.
func (hc *HeaderClient) PushHeader(header map[string]string) (int, error) {
	bytes := SerializeHeader(header)
	bufSize := int(hc.BufSize())
	if len(bytes) > bufSize {
		return 0, fmt.Errorf("%w: %d bytes into %d-byte slot", ErrHeaderOverflow, len(bytes), bufSize)
	}

	writer, err := hc.Writer()
	if err != nil {
		return 0, err
	}
	defer writer.Close()

	pool := stagingPool(bufSize)
	staged := pool.Get()
	defer pool.Put(staged)
	copy(staged, bytes)

	return writer.Push(staged)
}

// PopHeader reads the next header slot and parses it into a key/value map.
// It acquires and releases the region's read capability internally and
// returns io.EOF once the header stream has terminated.
func (hc *HeaderClient) PopHeader() (map[string]string, error) {
	reader, err := hc.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	bytes, err := reader.Pop()
	if err != nil {
		return nil, err
	}
	return ParseHeader(bytes)
}

// PushData writes data as one committed block of the data ring, acquiring
// and releasing the write capability internally. It returns the number of
// bytes written.
func (dc *DataClient) PushData(data []byte) (int, error) {
	writer, err := dc.Writer()
	if err != nil {
		return 0, err
	}
	defer writer.Close()
	return writer.Push(data)
}

// PopData pops the next full block off the data ring as an owned byte
// slice, acquiring and releasing the read capability internally. It returns
// io.EOF once the stream has terminated.
func (dc *DataClient) PopData() ([]byte, error) {
	reader, err := dc.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.Pop()
}
