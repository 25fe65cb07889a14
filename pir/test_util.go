package pir

import (
	"math/rand"
)

func RandSource() *rand.Rand {
	return rand.New(rand.NewSource(17))
}

func MakeRows(src *rand.Rand, nRows, rowLen int) []Row {
	db := make([]Row, nRows)
	for i := range db {
		db[i] = make([]byte, rowLen)
		src.Read(db[i])
		db[i][0] = byte(i % 256)
		if rowLen > 1 {
			db[i][1] = 'A' + byte(i%256)
		}
	}
	return db
}

func MakeDB(nRows int, rowLen int) *StaticDB {
	return StaticDBFromRows(MakeRows(RandSource(), nRows, rowLen))
}

// NewTestServer builds a server holding a preprocessed random database for params.
func NewTestServer(params *Params, src *rand.Rand) (*Server, *StaticDB, error) {
	db := StaticDBFromRows(MakeRows(src, params.NumItems, params.ItemSize))
	server := NewServer(params)
	if err := server.SetDatabase(db); err != nil {
		return nil, nil, err
	}
	if err := server.PreprocessDatabase(); err != nil {
		return nil, nil, err
	}
	return server, db, nil
}
