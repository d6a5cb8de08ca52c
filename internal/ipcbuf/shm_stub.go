//go:build !unix

package ipcbuf

import "errors"

// ErrUnsupportedPlatform is returned when shared-memory segments are not
// available on this platform.
var ErrUnsupportedPlatform = errors.New("shared-memory ring buffers are not supported on this platform")

func shmCreate(key uint32, size uint64) ([]byte, error) {
	return nil, ErrUnsupportedPlatform
}

func shmOpen(key uint32) ([]byte, error) {
	return nil, ErrUnsupportedPlatform
}

func shmUnmap(mem []byte) error { return nil }

func shmUnlink(key uint32) error { return ErrUnsupportedPlatform }

func shmLock(mem []byte) error { return ErrUnsupportedPlatform }
