//go:build linux

package ipcbuf

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex operation codes from <linux/futex.h>; golang.org/x/sys/unix does not
// export them.
const (
	futexOpWait = 0 // FUTEX_WAIT
	futexOpWake = 1 // FUTEX_WAKE
)

// futexWait sleeps until the value at addr changes from val or the wait is
// interrupted. Callers must re-check their condition afterwards: wakeups can
// be spurious. The futex is deliberately not FUTEX_*_PRIVATE because the
// waiter and the waker live in different processes.
func futexWait(addr *uint32, val uint32) error {
	// Re-check atomically before entering the syscall so a wake between the
	// caller's snapshot and here is not lost.
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWait),
		uintptr(val),
		0, 0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	default:
		return fmt.Errorf("futex wait: %w", errno)
	}
}

// futexWake wakes one process waiting on addr.
func futexWake(addr *uint32) {
	unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWake),
		1,
		0, 0, 0,
	)
}
