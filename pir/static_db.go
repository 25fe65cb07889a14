package pir

import (
	"fmt"
	"runtime"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
	"golang.org/x/sync/errgroup"
)

// StaticDB is the raw database: NumRows records of RowLen bytes each.
type StaticDB struct {
	NumRows int
	RowLen  int
	FlatDb  []byte
}

func (db *StaticDB) Slice(start, end int) []byte {
	return db.FlatDb[start*db.RowLen : end*db.RowLen]
}

func (db *StaticDB) Row(i int) Row {
	if i >= db.NumRows {
		return nil
	}
	return Row(db.Slice(i, i+1))
}

func StaticDBFromRows(data []Row) *StaticDB {
	if len(data) < 1 {
		return &StaticDB{0, 0, nil}
	}

	rowLen := len(data[0])
	flatDb := make([]byte, rowLen*len(data))

	for i, v := range data {
		if len(v) != rowLen {
			panic(fmt.Sprintf("database rows must all be of the same length: row[%d] has %d, want %d", i, len(v), rowLen))
		}
		copy(flatDb[i*rowLen:], v[:])
	}
	return &StaticDB{len(data), rowLen, flatDb}
}

// EncodedDatabase is the hypercube of plaintexts built from a StaticDB. Cells are stored
// in mixed-radix order over Dims, so cell ComposeIndex(coords, Dims) holds the records
// of plaintext index ComposeIndex(coords, Dims). Cells past the last real plaintext are
// zero.
type EncodedDatabase struct {
	Dims []int

	// Coeffs holds the coefficient vector of every cell.
	Coeffs [][]uint64

	// Plaintexts holds every cell encoded at the top level in NTT form, ready for
	// ciphertext-plaintext products. Nil until Preprocess.
	Plaintexts []*rlwe.Plaintext
}

func encodeDatabase(p *Params, db *StaticDB) (*EncodedDatabase, error) {
	if db.NumRows != p.NumItems || db.RowLen != p.ItemSize {
		return nil, fmt.Errorf("database has %d rows of %d bytes, parameters expect %d rows of %d bytes",
			db.NumRows, db.RowLen, p.NumItems, p.ItemSize)
	}
	n := p.BGV.N()
	bytesPerPt := p.ElemsPerPlaintext * p.ItemSize

	cells := make([][]uint64, p.NumCells())
	for i := range cells {
		cells[i] = make([]uint64, n)
		start := i * bytesPerPt
		if start >= len(db.FlatDb) {
			continue
		}
		end := start + bytesPerPt
		if end > len(db.FlatDb) {
			end = len(db.FlatDb)
		}
		copy(cells[i], BytesToCoeffs(p.Logtp, db.FlatDb[start:end]))
	}
	dims := make([]int, len(p.Nvec))
	copy(dims, p.Nvec)
	return &EncodedDatabase{Dims: dims, Coeffs: cells}, nil
}

func (edb *EncodedDatabase) preprocess(p *Params, workers int) error {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	pts := make([]*rlwe.Plaintext, len(edb.Coeffs))
	encoder := bgv.NewEncoder(p.BGV)

	var g errgroup.Group
	chunk := (len(pts) + workers - 1) / workers
	for lo := 0; lo < len(pts); lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > len(pts) {
			hi = len(pts)
		}
		ecd := encoder.ShallowCopy()
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				pt := p.newPlaintext()
				if err := ecd.Encode(edb.Coeffs[i], pt); err != nil {
					return fmt.Errorf("encoding cell %d: %w", i, err)
				}
				pts[i] = pt
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	edb.Plaintexts = pts
	return nil
}

func (edb *EncodedDatabase) preprocessed() bool {
	return edb != nil && edb.Plaintexts != nil
}
