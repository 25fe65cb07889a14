package pir

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// One database row.
type Row []byte

// Query selects one plaintext of the hypercube. Its form is fixed by the Mode of the
// parameters it was built under: OneHot for Uncompressed, Packed for Compressed.
type Query struct {
	Mode QueryMode

	// OneHot holds one vector per dimension with a ciphertext per coordinate,
	// encrypting 1 at the target coordinate and 0 elsewhere.
	OneHot [][]*rlwe.Ciphertext

	// Packed holds the one-hot slots of all dimensions as polynomial coefficients,
	// N slots per ciphertext.
	Packed []*rlwe.Ciphertext
}

// Ciphertexts flattens the query in wire order.
func (q *Query) Ciphertexts() []*rlwe.Ciphertext {
	if q.Mode == Compressed {
		return q.Packed
	}
	var cts []*rlwe.Ciphertext
	for _, vec := range q.OneHot {
		cts = append(cts, vec...)
	}
	return cts
}

// QueryFromCiphertexts rebuilds a query from its wire order.
func QueryFromCiphertexts(p *Params, cts []*rlwe.Ciphertext) (*Query, error) {
	if len(cts) != p.NumQueryCiphertexts() {
		return nil, fmt.Errorf("query has %d ciphertexts, %s parameters expect %d",
			len(cts), p.Mode, p.NumQueryCiphertexts())
	}
	if p.Mode == Compressed {
		return &Query{Mode: Compressed, Packed: cts}, nil
	}
	q := &Query{Mode: Uncompressed, OneHot: make([][]*rlwe.Ciphertext, len(p.Nvec))}
	for k, n := range p.Nvec {
		q.OneHot[k], cts = cts[:n], cts[n:]
	}
	return q, nil
}

// Reply holds the ciphertexts left after the last reduction round.
type Reply []*rlwe.Ciphertext

// KeyReq registers serialized EvaluationKeys under Index.
type KeyReq struct {
	Index uint32
	Keys  []byte
}

type QueryReq struct {
	KeyIndex       uint32
	NumCiphertexts int
	Query          []byte
}

type QueryResp struct {
	NumCiphertexts int
	Reply          []byte
}
