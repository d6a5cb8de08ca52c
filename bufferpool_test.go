package psrdada

import (
	"sync"
	"testing"
)

// TestBufferPoolConcurrent tests that bufferPool is safe for concurrent use.
func TestBufferPoolConcurrent(t *testing.T) {
	t.Parallel()

	pool := newBufferPool(1024, 10)

	var wg sync.WaitGroup
	numGoroutines := 100
	numOps := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				buf := pool.Get()
				if len(buf) != 1024 {
					t.Errorf("Expected buffer length 1024, got %d", len(buf))
				}
				buf[0] = byte(j)
				pool.Put(buf)
			}
		}()
	}

	wg.Wait()
}

// TestBufferPoolGetReturnsZeroed tests that dirty buffers come back clean,
// since header staging depends on the padding bytes being zero.
func TestBufferPoolGetReturnsZeroed(t *testing.T) {
	t.Parallel()

	pool := newBufferPool(64, 1)

	buf := pool.Get()
	for i := range buf {
		buf[i] = 0xff
	}
	pool.Put(buf)

	buf = pool.Get()
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed after reuse: %#x", i, b)
		}
	}
}

// TestBufferPoolWrongSizeBuffer tests that buffers with the wrong capacity
// are discarded rather than recycled.
func TestBufferPoolWrongSizeBuffer(t *testing.T) {
	t.Parallel()

	pool := newBufferPool(1024, 2)

	pool.Put(make([]byte, 512))
	pool.Put(make([]byte, 2048))

	buf := pool.Get()
	if len(buf) != 1024 {
		t.Errorf("Expected buffer length 1024, got %d", len(buf))
	}
}
