package rpc

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// CodecHandle is shared by both ends of the connection. Messages only carry concrete
// types, ciphertexts travel as opaque byte slices.
func CodecHandle() codec.Handle {
	h := codec.BincHandle{}
	h.StructToArray = true
	h.OptimumSize = true
	return &h
}

// SerializedSizeOf is the number of bytes e occupies on the wire.
func SerializedSizeOf(e interface{}) (int, error) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, CodecHandle()).Encode(e); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}
