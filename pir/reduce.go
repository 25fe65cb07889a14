package pir

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
	"golang.org/x/sync/errgroup"
)

// reduce folds the hypercube one dimension per round, most significant first. Round
// k computes, for every row r of the remaining dimensions,
//
//	out[r] = sum_j selectors[k][j] * cells[j*rows + r]
//
// and rescales the result, so each round consumes one prime of the modulus chain.
func (s *Server) reduce(eval *bgv.Evaluator, selectors [][]*rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	dims := s.edb.Dims
	cells, err := s.reducePlaintexts(eval, s.edb.Plaintexts, selectors[0], numRows(dims[1:]))
	if err != nil {
		return nil, fmt.Errorf("reduction round 0: %w", err)
	}
	for k := 1; k < len(dims); k++ {
		sel, err := rescaleTo(eval, s.params.BGV, selectors[k], cells[0].Level())
		if err != nil {
			return nil, fmt.Errorf("aligning selectors of dimension %d: %w", k, err)
		}
		if cells, err = s.reduceCiphertexts(eval, cells, sel, numRows(dims[k+1:])); err != nil {
			return nil, fmt.Errorf("reduction round %d: %w", k, err)
		}
	}
	return cells[0], nil
}

func (s *Server) reducePlaintexts(eval *bgv.Evaluator, pts []*rlwe.Plaintext, sel []*rlwe.Ciphertext, rows int) ([]*rlwe.Ciphertext, error) {
	params := s.params.BGV
	level := sel[0].Level()
	out := newCiphertexts(params, rows, level-1)

	err := s.forEachRow(eval, rows, func(ev *bgv.Evaluator) func(int) error {
		acc := bgv.NewCiphertext(params, 1, level)
		tmp := bgv.NewCiphertext(params, 1, level)
		return func(r int) error {
			for j, c := range sel {
				dst := acc
				if j > 0 {
					dst = tmp
				}
				if err := ev.Mul(c, pts[j*rows+r], dst); err != nil {
					return err
				}
				if j > 0 {
					if err := ev.Add(acc, tmp, acc); err != nil {
						return err
					}
				}
			}
			return ev.Rescale(acc, out[r])
		}
	})
	return out, err
}

func (s *Server) reduceCiphertexts(eval *bgv.Evaluator, cells, sel []*rlwe.Ciphertext, rows int) ([]*rlwe.Ciphertext, error) {
	params := s.params.BGV
	level := cells[0].Level()
	out := newCiphertexts(params, rows, level-1)

	err := s.forEachRow(eval, rows, func(ev *bgv.Evaluator) func(int) error {
		acc := bgv.NewCiphertext(params, 2, level)
		tmp := bgv.NewCiphertext(params, 2, level)
		relin := bgv.NewCiphertext(params, 1, level)
		return func(r int) error {
			for j, c := range sel {
				dst := acc
				if j > 0 {
					dst = tmp
				}
				if err := ev.Mul(c, cells[j*rows+r], dst); err != nil {
					return err
				}
				if j > 0 {
					if err := ev.Add(acc, tmp, acc); err != nil {
						return err
					}
				}
			}
			if err := ev.Relinearize(acc, relin); err != nil {
				return err
			}
			return ev.Rescale(relin, out[r])
		}
	})
	return out, err
}

// forEachRow splits [0, rows) into contiguous chunks, one per worker. newWorker is
// called once per chunk with a private evaluator and returns the per-row function, so
// scratch ciphertexts are allocated once per worker and reused across rows.
func (s *Server) forEachRow(eval *bgv.Evaluator, rows int, newWorker func(*bgv.Evaluator) func(int) error) error {
	workers := min(s.workers, rows)
	chunk := (rows + workers - 1) / workers

	var g errgroup.Group
	for lo := 0; lo < rows; lo += chunk {
		lo, hi := lo, min(lo+chunk, rows)
		work := newWorker(eval.ShallowCopy())
		g.Go(func() error {
			for r := lo; r < hi; r++ {
				if err := work(r); err != nil {
					return fmt.Errorf("row %d: %w", r, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// rescaleTo brings fresh selectors down to the level of the cells they multiply.
func rescaleTo(eval *bgv.Evaluator, params bgv.Parameters, cts []*rlwe.Ciphertext, level int) ([]*rlwe.Ciphertext, error) {
	out := make([]*rlwe.Ciphertext, len(cts))
	for i, ct := range cts {
		for ct.Level() > level {
			next := bgv.NewCiphertext(params, 1, ct.Level()-1)
			if err := eval.Rescale(ct, next); err != nil {
				return nil, err
			}
			ct = next
		}
		out[i] = ct
	}
	return out, nil
}

func newCiphertexts(params bgv.Parameters, n, level int) []*rlwe.Ciphertext {
	cts := make([]*rlwe.Ciphertext, n)
	for i := range cts {
		cts[i] = bgv.NewCiphertext(params, 1, level)
	}
	return cts
}

func numRows(dims []int) int {
	rows := 1
	for _, d := range dims {
		rows *= d
	}
	return rows
}
