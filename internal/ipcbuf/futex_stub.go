//go:build !linux

package ipcbuf

import (
	"sync/atomic"
	"time"
)

// Non-Linux platforms have no cross-process futex; fall back to polling the
// word. Correct but slower, which matches the best-effort support tier of
// those platforms.
func futexWait(addr *uint32, val uint32) error {
	for atomic.LoadUint32(addr) == val {
		time.Sleep(100 * time.Microsecond)
	}
	return nil
}

func futexWake(addr *uint32) {}
