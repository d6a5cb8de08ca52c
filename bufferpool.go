package psrdada

// bufferPool recycles the fixed-size staging buffers used to zero-pad
// headers to a whole slot, so repeated PushHeader calls do not reallocate
// slot-sized scratch space. The channel-based design is lock-free for both
// Get and Put and safe for concurrent use.
type bufferPool struct {
	pool    chan []byte
	bufSize int
}

// newBufferPool creates a pool pre-populated with count buffers of bufSize
// bytes.
func newBufferPool(bufSize, count int) *bufferPool {
	pool := make(chan []byte, count)
	for i := 0; i < count; i++ {
		pool <- make([]byte, bufSize)
	}
	return &bufferPool{
		pool:    pool,
		bufSize: bufSize,
	}
}

// Get returns a zeroed buffer of bufSize bytes, allocating if the pool is
// empty.
func (bp *bufferPool) Get() []byte {
	select {
	case buf := <-bp.pool:
		clear(buf)
		return buf
	default:
		return make([]byte, bp.bufSize)
	}
}

// Put returns a buffer to the pool. Buffers with the wrong capacity are
// dropped; a full pool drops the buffer for garbage collection.
func (bp *bufferPool) Put(buf []byte) {
	if cap(buf) != bp.bufSize {
		return
	}
	select {
	case bp.pool <- buf[:bp.bufSize]:
	default:
	}
}
