package pir

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/ring"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

func inverseMonomials(p *Params) []ring.Poly {
	ringQ := p.BGV.RingQ()
	n := p.BGV.N()
	monos := make([]ring.Poly, p.BGV.LogN())
	for i := range monos {
		// X^(-k) = -X^(N-k)
		k := 1 << i
		m := ringQ.NewPoly()
		for j, qj := range ringQ.ModuliChain() {
			m.Coeffs[j][n-k] = qj - 1
		}
		ringQ.NTT(m, m)
		ringQ.MForm(m, m)
		monos[i] = m
	}
	return monos
}

// expandQuery turns q into one vector of selection ciphertexts per dimension.
func (s *Server) expandQuery(eval *bgv.Evaluator, q *Query) ([][]*rlwe.Ciphertext, error) {
	p := s.params
	if q.Mode == Uncompressed {
		return q.OneHot, nil
	}

	n := p.BGV.N()
	total := p.SumExtents()
	flat := make([]*rlwe.Ciphertext, 0, total)
	for i, ct := range q.Packed {
		out, err := s.expand(eval, ct, packedSlots(total, n, i))
		if err != nil {
			return nil, err
		}
		flat = append(flat, out...)
	}

	selectors := make([][]*rlwe.Ciphertext, len(p.Nvec))
	for k, extent := range p.Nvec {
		selectors[k], flat = flat[:extent], flat[extent:]
	}
	return selectors, nil
}

// expand splits the first m coefficients of ct into m ciphertexts, the j-th encrypting
// 2^l times coefficient j as a constant, with l = ceil(log2(m)).
//
// At level i every ciphertext c is split into c + tau(c), which keeps the coefficients
// at even multiples of 2^i, and (c - tau(c)) * X^(-2^i), which shifts the odd ones
// down, where tau maps X to X^(N/2^i + 1). Branches whose index reaches m are pruned.
func (s *Server) expand(eval *bgv.Evaluator, ct *rlwe.Ciphertext, m int) ([]*rlwe.Ciphertext, error) {
	p := s.params
	ringQ := p.BGV.RingQ().AtLevel(ct.Level())
	levels := expansionLevels(m)

	cts := make([]*rlwe.Ciphertext, 1, 1<<levels)
	cts[0] = ct.CopyNew()
	if !cts[0].IsNTT {
		for _, v := range cts[0].Value {
			ringQ.NTT(v, v)
		}
		cts[0].IsNTT = true
	}

	rot := bgv.NewCiphertext(p.BGV, 1, ct.Level())
	for i := 0; i < levels; i++ {
		galEl := galoisElement(p.BGV.N(), i)
		half := len(cts)
		cts = cts[:2*half]
		for a := 0; a < half; a++ {
			c := cts[a]
			cts[a+half] = nil
			if c == nil {
				continue
			}
			if err := eval.Automorphism(c, galEl, rot); err != nil {
				return nil, fmt.Errorf("expansion level %d: %w", i, err)
			}
			if a+half < m {
				odd := bgv.NewCiphertext(p.BGV, 1, c.Level())
				if err := eval.Sub(c, rot, odd); err != nil {
					return nil, err
				}
				for _, v := range odd.Value {
					ringQ.MulCoeffsMontgomery(v, s.monomials[i], v)
				}
				cts[a+half] = odd
			}
			if err := eval.Add(c, rot, c); err != nil {
				return nil, err
			}
		}
	}
	return cts[:m], nil
}
