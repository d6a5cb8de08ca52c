package psrdada

import "errors"

var (
	// ErrAlreadySplit is returned by Client.Split after the first split.
	ErrAlreadySplit = errors.New("client already split into region clients")

	// ErrLockHeld is returned by Writer/Reader acquisition when the
	// region's lock is held, possibly by another process. The caller may
	// retry; this layer never blocks waiting for a direction lock.
	ErrLockHeld = errors.New("region lock unavailable")

	// ErrRegionBusy is returned when a region client already has a live
	// Writer or Reader.
	ErrRegionBusy = errors.New("region client already has an active writer or reader")

	// ErrBlockOutstanding is returned by NextBlock while the previous
	// block from the same Writer or Reader has not been finished.
	ErrBlockOutstanding = errors.New("previous block not yet committed or closed")

	// ErrBlockCommitted is returned when a committed WriteBlock is used.
	ErrBlockCommitted = errors.New("write block already committed")

	// ErrBlockClosed is returned when a closed ReadBlock is used.
	ErrBlockClosed = errors.New("read block already closed")

	// ErrBlockOverflow is returned by WriteBlock.Write when the data would
	// not fit in the slot. Nothing is written in that case.
	ErrBlockOverflow = errors.New("write exceeds block capacity")

	// ErrUncommittedBlock is returned by Writer.Close when a WriteBlock
	// was abandoned without Commit. The block is committed as-is to keep
	// the shared lock state consistent, but abandoning it is a logic error
	// in the caller.
	ErrUncommittedBlock = errors.New("write block abandoned without commit")

	// ErrWouldBlock is returned by the TryNextBlock variants when no slot
	// is immediately available.
	ErrWouldBlock = errors.New("no block available")

	// ErrMalformedHeader is returned by ParseHeader for bytes that do not
	// satisfy the header grammar.
	ErrMalformedHeader = errors.New("malformed header")

	// ErrHeaderOverflow is returned when a serialized header does not fit
	// in one header slot.
	ErrHeaderOverflow = errors.New("header larger than header slot")

	// ErrSegmentExists is returned by Build when the key is taken.
	ErrSegmentExists = errors.New("ring buffer segment already exists")

	// ErrSegmentNotFound is returned by Connect when the key is unknown.
	ErrSegmentNotFound = errors.New("ring buffer segment not found")

	// ErrSegmentBusy is returned by Destroy while other processes are
	// still attached to the segment.
	ErrSegmentBusy = errors.New("ring buffer segment in use by another process")

	// ErrClientClosed is returned after Close or Destroy.
	ErrClientClosed = errors.New("client closed")
)
