package ipcbuf

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants.
const (
	// Magic bytes identifying a segment created by this package.
	segmentMagic = "DADABUF\x00"

	// Current layout version.
	segmentVersion = uint32(1)

	// Segment header size in bytes (one cache-line-aligned block).
	segmentHeaderSize = 128
)

// segmentHeader is the fixed-size header at the start of every mapped
// segment. All cross-process fields are accessed atomically; the futex
// sequence words double as wait addresses, so they must stay uint32.
//
// The header is followed by a filled-length table (nbufs × uint64) and then
// the slot payload area (nbufs × bufsz).
type segmentHeader struct {
	magic      [8]byte // 0x00: "DADABUF\0"
	version    uint32  // 0x08: layout version
	_          uint32  // 0x0C: padding
	nbufs      uint64  // 0x10: number of slots in the ring
	bufsz      uint64  // 0x18: capacity of each slot in bytes
	filled     uint64  // 0x20: monotonic count of slots marked filled
	cleared    uint64  // 0x28: monotonic count of slots marked cleared
	writeLock  uint32  // 0x30: write-lock word (0 free, 1 held)
	readLock   uint32  // 0x34: read-lock word (0 free, 1 held)
	filledSeq  uint32  // 0x38: futex word, bumped on fill and on EOD
	clearedSeq uint32  // 0x3C: futex word, bumped on clear
	eod        uint32  // 0x40: end-of-data flag
	_          uint32  // 0x44: padding
	eodIdx     uint64  // 0x48: filled count at which EOD applies
	refs       uint32  // 0x50: number of attached processes
	_          uint32  // 0x54: padding
	reserved   [40]byte
}

func (h *segmentHeader) setMagic() {
	copy(h.magic[:], segmentMagic)
}

func (h *segmentHeader) validMagic() bool {
	return string(h.magic[:]) == segmentMagic
}

func (h *segmentHeader) Version() uint32     { return atomic.LoadUint32(&h.version) }
func (h *segmentHeader) SetVersion(v uint32) { atomic.StoreUint32(&h.version, v) }

func (h *segmentHeader) NumBufs() uint64     { return atomic.LoadUint64(&h.nbufs) }
func (h *segmentHeader) SetNumBufs(n uint64) { atomic.StoreUint64(&h.nbufs, n) }

func (h *segmentHeader) BufSize() uint64     { return atomic.LoadUint64(&h.bufsz) }
func (h *segmentHeader) SetBufSize(n uint64) { atomic.StoreUint64(&h.bufsz, n) }

func (h *segmentHeader) Filled() uint64     { return atomic.LoadUint64(&h.filled) }
func (h *segmentHeader) SetFilled(n uint64) { atomic.StoreUint64(&h.filled, n) }

func (h *segmentHeader) Cleared() uint64     { return atomic.LoadUint64(&h.cleared) }
func (h *segmentHeader) SetCleared(n uint64) { atomic.StoreUint64(&h.cleared, n) }

func (h *segmentHeader) FilledSeq() uint32  { return atomic.LoadUint32(&h.filledSeq) }
func (h *segmentHeader) ClearedSeq() uint32 { return atomic.LoadUint32(&h.clearedSeq) }

func (h *segmentHeader) bumpFilledSeq()  { atomic.AddUint32(&h.filledSeq, 1) }
func (h *segmentHeader) bumpClearedSeq() { atomic.AddUint32(&h.clearedSeq, 1) }

// TryLockWrite attempts to take the write-lock word. It never blocks.
func (h *segmentHeader) TryLockWrite() bool {
	return atomic.CompareAndSwapUint32(&h.writeLock, 0, 1)
}

func (h *segmentHeader) UnlockWrite() {
	atomic.StoreUint32(&h.writeLock, 0)
}

// TryLockRead attempts to take the read-lock word. It never blocks.
func (h *segmentHeader) TryLockRead() bool {
	return atomic.CompareAndSwapUint32(&h.readLock, 0, 1)
}

func (h *segmentHeader) UnlockRead() {
	atomic.StoreUint32(&h.readLock, 0)
}

// SetEOD records the current filled count as the end of the stream.
// Must be called after the final MarkFilled so the index counts that slot.
func (h *segmentHeader) SetEOD() {
	atomic.StoreUint64(&h.eodIdx, h.Filled())
	atomic.StoreUint32(&h.eod, 1)
}

func (h *segmentHeader) ClearEOD() {
	atomic.StoreUint32(&h.eod, 0)
	atomic.StoreUint64(&h.eodIdx, 0)
}

// EODReached reports whether the end-of-data flag is set and every slot
// written before it was raised has been cleared.
func (h *segmentHeader) EODReached() bool {
	if atomic.LoadUint32(&h.eod) == 0 {
		return false
	}
	return h.Cleared() >= atomic.LoadUint64(&h.eodIdx)
}

func (h *segmentHeader) Refs() uint32    { return atomic.LoadUint32(&h.refs) }
func (h *segmentHeader) addRef() uint32  { return atomic.AddUint32(&h.refs, 1) }
func (h *segmentHeader) dropRef() uint32 { return atomic.AddUint32(&h.refs, ^uint32(0)) }

// segmentLayout computes the byte offsets of a segment's regions.
func segmentLayout(nbufs, bufsz uint64) (lensOff, dataOff, total uint64, err error) {
	if nbufs == 0 {
		return 0, 0, 0, fmt.Errorf("slot count must be nonzero")
	}
	if bufsz == 0 {
		return 0, 0, 0, fmt.Errorf("slot size must be nonzero")
	}
	lensOff = segmentHeaderSize
	dataOff = alignTo64(lensOff + nbufs*8)
	total = dataOff + nbufs*bufsz
	return lensOff, dataOff, total, nil
}

func alignTo64(n uint64) uint64 {
	return (n + 63) &^ 63
}

// header returns the typed view of a mapped segment's header.
func header(mem []byte) *segmentHeader {
	return (*segmentHeader)(unsafe.Pointer(&mem[0]))
}

// slotLens returns the filled-length table of a mapped segment.
func slotLens(mem []byte, nbufs uint64) []uint64 {
	p := unsafe.Pointer(&mem[segmentHeaderSize])
	return unsafe.Slice((*uint64)(p), nbufs)
}
