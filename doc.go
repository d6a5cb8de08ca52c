// Package psrdada provides a statically-checked client layer over DADA
// shared-memory ring buffers, the IPC mechanism used to stream large binary
// blocks alongside small textual headers between the processes of a signal
// pipeline.
//
// The underlying ring buffer enforces its lock protocol only at call time,
// and several of its ordering rules (most notably around the end-of-data
// flag) are not enforced at all. This package converts those runtime
// hazards into unreachable states: every capability is a value that can
// only be obtained from its predecessor, and the dangerous call sequences
// are sealed inside single operations.
//
// # Buffers and clients
//
// A segment pair (one data ring, one header ring) is named by an integer
// Key. Build a new pair or connect to an existing one:
//
//	client, err := psrdada.NewBuilder(0xb0ba).
//		NumBufs(4).
//		BufSize(1 << 20).
//		Build()
//
//	client, err := psrdada.Connect(0xb0ba)
//
// A Client must be split exactly once into its two region clients; the
// split is the only way to reach the regions' locks, so two independent
// owners of one region cannot exist:
//
//	headers, data, err := client.Split()
//
// # Writers, readers, and blocks
//
// Each region client hands out at most one live capability at a time:
//
//	writer, err := data.Writer() // fails fast if the lock is taken
//	defer writer.Close()
//
//	block, err := writer.NextBlock()
//	block.Write(payload) // bounded by the slot capacity
//	block.Commit()       // terminal: publishes and releases the slot
//
// Reading mirrors writing, with the stream terminator surfaced as io.EOF
// rather than an error:
//
//	reader, err := data.Reader()
//	defer reader.Close()
//
//	for {
//		block, err := reader.NextBlock()
//		if err == io.EOF {
//			break // producer raised end-of-data
//		}
//		// ... consume block.Bytes() or io.Read from it ...
//		block.Close() // terminal: clears the slot
//	}
//
// A producer terminates the stream by marking its final block:
//
//	block.MarkEOD()
//	block.Commit()
//
// The required native ordering (end-of-data strictly after mark-filled and
// before unlock on the write side; strictly after mark-cleared and before
// unlock on the read side) is sequenced inside Commit and Close and cannot
// be composed differently by the caller.
//
// # Headers
//
// Header blocks carry ASCII "KEY VALUE" lines by convention. ParseHeader
// and SerializeHeader implement that codec, and PushHeader/PopHeader apply
// it to whole slots:
//
//	n, err := headers.PushHeader(map[string]string{"NCHAN": "2048"})
//	hdr, err := headers.PopHeader()
//
// # Single-shot transfers
//
// For one bounded payload per call, the region clients offer PushData,
// PopData, and MessagePack-typed PushObject/PopObject. Each acquires and
// releases the capability internally.
//
// # Concurrency model
//
// The package is synchronous and spawns nothing. Concurrency comes from
// other processes attached to the same segment; lock acquisition fails fast
// (ErrLockHeld) and block acquisition blocks in the kernel, with
// TryNextBlock as the polling alternative. Within one process, blocks are
// delivered in request order.
package psrdada
