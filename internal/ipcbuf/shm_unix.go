//go:build unix

package ipcbuf

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// segmentPath returns the backing file for a segment key. /dev/shm is
// preferred so the mapping is memory-backed; the temp dir is the fallback
// for systems without it.
func segmentPath(key uint32) string {
	name := fmt.Sprintf("psrdada_%#x", key)
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", name)
	}
	return filepath.Join(os.TempDir(), name)
}

// shmCreate creates the backing file exclusively, sizes it, and maps it
// shared. The returned mapping is zero-filled by the kernel.
func shmCreate(key uint32, size uint64) ([]byte, error) {
	path := segmentPath(key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("segment %#x: %w", key, ErrExists)
		}
		return nil, fmt.Errorf("create segment %#x: %w", key, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("size segment %#x: %w", key, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("map segment %#x: %w", key, err)
	}
	return mem, nil
}

// shmOpen maps an existing segment's backing file shared.
func shmOpen(key uint32) ([]byte, error) {
	path := segmentPath(key)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("segment %#x: %w", key, ErrNotExist)
		}
		return nil, fmt.Errorf("open segment %#x: %w", key, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment %#x: %w", key, err)
	}
	if info.Size() < segmentHeaderSize {
		return nil, fmt.Errorf("segment %#x: backing file too small (%d bytes)", key, info.Size())
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map segment %#x: %w", key, err)
	}
	return mem, nil
}

func shmUnmap(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}

func shmUnlink(key uint32) error {
	err := os.Remove(segmentPath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func shmLock(mem []byte) error {
	return unix.Mlock(mem)
}
