package pir

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// SerializeCiphertexts concatenates the binary forms of cts. All of them must sit at
// the same level so that the receiver can split the buffer by a fixed unit size.
func SerializeCiphertexts(cts []*rlwe.Ciphertext) ([]byte, error) {
	size := 0
	for _, ct := range cts {
		size += ct.BinarySize()
	}
	out := make([]byte, 0, size)
	for i, ct := range cts {
		b, err := ct.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("serializing ciphertext %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// DeserializeCiphertexts splits buf into count ciphertexts of cipherSize bytes each.
func DeserializeCiphertexts(count int, buf []byte, cipherSize int) ([]*rlwe.Ciphertext, error) {
	if count < 0 || cipherSize <= 0 || len(buf) != count*cipherSize {
		return nil, fmt.Errorf("cannot split %d bytes into %d ciphertexts of %d bytes", len(buf), count, cipherSize)
	}
	cts := make([]*rlwe.Ciphertext, count)
	for i := range cts {
		ct := new(rlwe.Ciphertext)
		if err := ct.UnmarshalBinary(buf[i*cipherSize : (i+1)*cipherSize]); err != nil {
			return nil, fmt.Errorf("deserializing ciphertext %d: %w", i, err)
		}
		cts[i] = ct
	}
	return cts, nil
}
