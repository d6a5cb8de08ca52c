package psrdada

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer defines the encoding used by the typed transfer convenience
// methods. Implementations convert between Go values and the bytes that
// occupy one data block. The default implementation uses MessagePack.
type Serializer interface {
	// Marshal encodes a Go value to bytes.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal decodes bytes into a Go value.
	Unmarshal(data []byte, v interface{}) error
}

// MsgpackSerializer is the default Serializer, backed by MessagePack.
type MsgpackSerializer struct{}

func (ms MsgpackSerializer) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (ms MsgpackSerializer) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// DefaultSerializer encodes the typed PushObject/PopObject transfers.
// Replace it before any transfers to interoperate with a peer expecting a
// different encoding; both sides must agree.
var DefaultSerializer Serializer = MsgpackSerializer{}

// PushObject encodes v with DefaultSerializer and writes it as one
// committed block of the data ring. The encoded form must fit in one slot.
func (dc *DataClient) PushObject(v interface{}) error {
	data, err := DefaultSerializer.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal object: %w", err)
	}
	if _, err := dc.PushData(data); err != nil {
		return err
	}
	return nil
}

// PopObject pops the next block off the data ring and decodes it into v
// with DefaultSerializer. It returns io.EOF once the stream has terminated.
func (dc *DataClient) PopObject(v interface{}) error {
	reader, err := dc.Reader()
	if err != nil {
		return err
	}
	defer reader.Close()

	block, err := reader.NextBlock()
	if err != nil {
		return err
	}
	// Decode straight out of the slot; the view dies with the block.
	if err := DefaultSerializer.Unmarshal(block.Bytes(), v); err != nil {
		block.Close()
		return fmt.Errorf("unmarshal object: %w", err)
	}
	return block.Close()
}
