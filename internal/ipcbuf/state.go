package ipcbuf

//go:generate go tool stringer -type=State

// State is a snapshot of one attachment's relationship to its segment.
// It exists for debugging and diagnostics only; none of the protocol logic
// consults it.
type State int

const (
	// StateDisconnected means the attachment has been closed.
	StateDisconnected State = iota
	// StateConnected means the segment is mapped but no lock is held.
	StateConnected
	// StateWriter means this attachment holds the write lock.
	StateWriter
	// StateReader means this attachment holds the read lock.
	StateReader
	// StateReadStop means the read lock is held and end-of-data was observed.
	StateReadStop
)
