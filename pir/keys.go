package pir

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/ugorji/go/codec"
)

// EvaluationKeys is what a client registers with a server: the Galois keys that expand
// compressed queries and the relinearization key used by ciphertext-ciphertext rounds.
type EvaluationKeys struct {
	Relin  *rlwe.RelinearizationKey
	Galois []*rlwe.GaloisKey
}

func (k *EvaluationKeys) keySet() *rlwe.MemEvaluationKeySet {
	return rlwe.NewMemEvaluationKeySet(k.Relin, k.Galois...)
}

func (k *EvaluationKeys) hasGaloisElement(galEl uint64) bool {
	for _, gk := range k.Galois {
		if gk.GaloisElement == galEl {
			return true
		}
	}
	return false
}

type keysWire struct {
	Relin  []byte
	Galois [][]byte
}

var keysHandle = &codec.BincHandle{}

func (k *EvaluationKeys) MarshalBinary() ([]byte, error) {
	var w keysWire
	var err error
	if k.Relin != nil {
		if w.Relin, err = k.Relin.MarshalBinary(); err != nil {
			return nil, fmt.Errorf("marshalling relinearization key: %w", err)
		}
	}
	w.Galois = make([][]byte, len(k.Galois))
	for i, gk := range k.Galois {
		if w.Galois[i], err = gk.MarshalBinary(); err != nil {
			return nil, fmt.Errorf("marshalling galois key %d: %w", gk.GaloisElement, err)
		}
	}
	var out []byte
	if err := codec.NewEncoderBytes(&out, keysHandle).Encode(&w); err != nil {
		return nil, err
	}
	return out, nil
}

func (k *EvaluationKeys) UnmarshalBinary(data []byte) error {
	var w keysWire
	if err := codec.NewDecoderBytes(data, keysHandle).Decode(&w); err != nil {
		return err
	}
	keys := EvaluationKeys{Galois: make([]*rlwe.GaloisKey, len(w.Galois))}
	if len(w.Relin) > 0 {
		keys.Relin = new(rlwe.RelinearizationKey)
		if err := keys.Relin.UnmarshalBinary(w.Relin); err != nil {
			return fmt.Errorf("unmarshalling relinearization key: %w", err)
		}
	}
	for i, b := range w.Galois {
		keys.Galois[i] = new(rlwe.GaloisKey)
		if err := keys.Galois[i].UnmarshalBinary(b); err != nil {
			return fmt.Errorf("unmarshalling galois key %d: %w", i, err)
		}
	}
	*k = keys
	return nil
}
