package pir

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"golang.org/x/sync/errgroup"
	"gotest.tools/assert"
)

func smallConfig(mode QueryMode, d int) Config {
	return Config{NumItems: 1000, ItemSize: 100, N: 1024, Logt: 20, D: d, Mode: mode}
}

func setup(t *testing.T, c Config) (*Params, *Server, *StaticDB) {
	params, err := GenParams(c)
	assert.NilError(t, err)
	server, db, err := NewTestServer(params, RandSource())
	assert.NilError(t, err)
	return params, server, db
}

func readAll(t *testing.T, reader PIRReader, db *StaticDB, indices ...int) {
	for _, i := range indices {
		val, err := reader.Read(i)
		assert.NilError(t, err)
		assert.DeepEqual(t, val, db.Row(i))
	}
}

func TestCompressed(t *testing.T) {
	params, server, db := setup(t, smallConfig(Compressed, 2))
	assert.DeepEqual(t, params.Nvec, []int{7, 7})

	reader := NewPIRReader(NewClient(params), server)
	assert.NilError(t, reader.Init())
	readAll(t, reader, db, 0, 7, 22, 23, 500, 999)

	// Reading the same item again
	readAll(t, reader, db, 7)
}

func TestUncompressed(t *testing.T) {
	_, server, db := setup(t, smallConfig(Uncompressed, 2))

	reader := NewPIRReader(NewClient(server.Params()), server)
	assert.NilError(t, reader.Init())
	readAll(t, reader, db, 0, 7, 500, 999)
}

func TestSingleDimension(t *testing.T) {
	for _, mode := range QueryModeValues() {
		_, server, db := setup(t, smallConfig(mode, 1))

		reader := NewPIRReader(NewClient(server.Params()), server)
		assert.NilError(t, reader.Init())
		readAll(t, reader, db, 3, 998)
	}
}

func TestThreeDimensions(t *testing.T) {
	params, server, db := setup(t, smallConfig(Compressed, 3))
	assert.DeepEqual(t, params.Nvec, []int{4, 4, 4})

	reader := NewPIRReader(NewClient(params), server)
	assert.NilError(t, reader.Init())
	readAll(t, reader, db, 0, 444, 999)
}

func TestModesAgree(t *testing.T) {
	var got []Row
	for _, mode := range QueryModeValues() {
		_, server, db := setup(t, smallConfig(mode, 2))
		reader := NewPIRReader(NewClient(server.Params()), server)
		assert.NilError(t, reader.Init())

		val, err := reader.Read(321)
		assert.NilError(t, err)
		assert.DeepEqual(t, val, db.Row(321))
		got = append(got, val)
	}
	assert.DeepEqual(t, got[0], got[1])
}

func TestClientServerDirect(t *testing.T) {
	params, server, db := setup(t, smallConfig(Compressed, 2))
	client := NewClient(params)
	assert.NilError(t, server.SetGaloisKey(0, client.GenerateGaloisKeys()))

	ele := 777
	q, err := client.GenerateQuery(client.GetFvIndex(ele))
	assert.NilError(t, err)
	assert.Equal(t, len(q.Packed), 1)

	reply, err := server.GenerateReply(q, 0)
	assert.NilError(t, err)
	assert.Equal(t, len(reply), 1)
	assert.Equal(t, reply[0].Level(), 0)

	coeffs, err := client.DecodeReply(reply)
	assert.NilError(t, err)
	val, err := client.ExtractRecord(coeffs, client.GetFvOffset(ele))
	assert.NilError(t, err)
	assert.NilError(t, CheckRecord(val, db.Row(ele)))
}

func TestMissingGaloisKey(t *testing.T) {
	params, server, _ := setup(t, smallConfig(Compressed, 2))
	edb := server.EncodedDatabase()
	client := NewClient(params)

	q, err := client.GenerateQuery(5)
	assert.NilError(t, err)
	_, err = server.GenerateReply(q, 0)
	assert.Assert(t, errors.Is(err, ErrMissingGaloisKey), err)

	assert.NilError(t, server.SetGaloisKey(1, client.GenerateGaloisKeys()))
	_, err = server.GenerateReply(q, 0)
	assert.Assert(t, errors.Is(err, ErrMissingGaloisKey), err)

	partial := client.GenerateGaloisKeys()
	partial.Galois = partial.Galois[1:]
	assert.NilError(t, server.SetGaloisKey(2, partial))
	_, err = server.GenerateReply(q, 2)
	assert.Assert(t, errors.Is(err, ErrMissingGaloisKey), err)

	assert.Assert(t, server.EncodedDatabase() == edb)
	assert.DeepEqual(t, server.KeyIndices(), []uint32{1, 2})

	// Registering the key and retrying succeeds.
	assert.NilError(t, server.SetGaloisKey(0, client.GenerateGaloisKeys()))
	_, err = server.GenerateReply(q, 0)
	assert.NilError(t, err)
}

func TestReplyBeforePreprocess(t *testing.T) {
	params, err := GenParams(smallConfig(Compressed, 2))
	assert.NilError(t, err)
	server := NewServer(params)
	client := NewClient(params)
	assert.NilError(t, server.SetGaloisKey(0, client.GenerateGaloisKeys()))
	q, err := client.GenerateQuery(0)
	assert.NilError(t, err)

	_, err = server.GenerateReply(q, 0)
	assert.Assert(t, errors.Is(err, ErrDatabaseNotReady))
	assert.Assert(t, errors.Is(server.PreprocessDatabase(), ErrDatabaseNotReady))

	assert.NilError(t, server.SetDatabase(MakeDB(params.NumItems, params.ItemSize)))
	_, err = server.GenerateReply(q, 0)
	assert.Assert(t, errors.Is(err, ErrDatabaseNotReady))
}

func TestSetDatabaseShapeMismatch(t *testing.T) {
	params, err := GenParams(smallConfig(Compressed, 2))
	assert.NilError(t, err)
	server := NewServer(params)
	assert.Assert(t, server.SetDatabase(MakeDB(params.NumItems, params.ItemSize+1)) != nil)
	assert.Assert(t, server.EncodedDatabase() == nil)
}

func TestIdempotentPreprocessing(t *testing.T) {
	params, server, db := setup(t, smallConfig(Compressed, 2))
	client := NewClient(params)
	assert.NilError(t, server.SetGaloisKey(0, client.GenerateGaloisKeys()))
	q, err := client.GenerateQuery(30)
	assert.NilError(t, err)

	first := server.EncodedDatabase()
	reply, err := server.GenerateReply(q, 0)
	assert.NilError(t, err)
	firstReply, err := SerializeCiphertexts(reply)
	assert.NilError(t, err)

	assert.NilError(t, server.SetDatabase(db))
	assert.NilError(t, server.PreprocessDatabase())
	second := server.EncodedDatabase()
	assert.Assert(t, first != second)

	assert.DeepEqual(t, first.Dims, second.Dims)
	assert.DeepEqual(t, first.Coeffs, second.Coeffs)
	assert.Equal(t, len(first.Plaintexts), len(second.Plaintexts))
	for i := range first.Plaintexts {
		assert.DeepEqual(t, first.Plaintexts[i].Value.Coeffs, second.Plaintexts[i].Value.Coeffs)
	}

	reply, err = server.GenerateReply(q, 0)
	assert.NilError(t, err)
	secondReply, err := SerializeCiphertexts(reply)
	assert.NilError(t, err)
	assert.DeepEqual(t, firstReply, secondReply)
}

func TestUpdateParametersKeepsKeys(t *testing.T) {
	params, server, _ := setup(t, smallConfig(Compressed, 2))
	client := NewClient(params)
	reader := NewPIRReader(client, server)
	assert.NilError(t, reader.Init())

	params2, err := UpdateParams(params, 300, 50)
	assert.NilError(t, err)
	assert.NilError(t, server.UpdateParameters(params2))
	assert.Assert(t, server.EncodedDatabase() == nil)

	db2 := StaticDBFromRows(MakeRows(RandSource(), 300, 50))
	assert.NilError(t, server.SetDatabase(db2))
	assert.NilError(t, server.PreprocessDatabase())
	assert.NilError(t, client.UpdateParameters(params2))

	readAll(t, reader, db2, 0, 150, 299)
}

func TestUpdateParametersRejectsNewRing(t *testing.T) {
	params, server, _ := setup(t, smallConfig(Compressed, 2))
	c := smallConfig(Compressed, 2)
	c.N = 2048
	other, err := GenParams(c)
	assert.NilError(t, err)

	assert.Assert(t, server.UpdateParameters(other) != nil)
	assert.Equal(t, server.Params(), params)
	assert.Assert(t, server.EncodedDatabase() != nil)
	assert.Assert(t, NewClient(params).UpdateParameters(other) != nil)
}

func TestParallelReplies(t *testing.T) {
	params, server, db := setup(t, smallConfig(Compressed, 2))
	server.SetWorkers(3)
	client := NewClient(params)
	assert.NilError(t, server.SetGaloisKey(0, client.GenerateGaloisKeys()))

	indices := []int{1, 250, 600, 998}
	queries := make([]*Query, len(indices))
	for i, ele := range indices {
		var err error
		queries[i], err = client.GenerateQuery(params.FvIndex(ele))
		assert.NilError(t, err)
	}

	replies := make([]Reply, len(indices))
	errs := make(chan error, len(indices))
	for i := range indices {
		go func(i int) {
			var err error
			replies[i], err = server.GenerateReply(queries[i], 0)
			errs <- err
		}(i)
	}
	for range indices {
		assert.NilError(t, <-errs)
	}

	for i, ele := range indices {
		coeffs, err := client.DecodeReply(replies[i])
		assert.NilError(t, err)
		val, err := client.ExtractRecord(coeffs, params.FvOffset(ele))
		assert.NilError(t, err)
		assert.DeepEqual(t, val, db.Row(ele))
	}
}

func TestQueryOutOfRange(t *testing.T) {
	params, err := GenParams(smallConfig(Compressed, 2))
	assert.NilError(t, err)
	client := NewClient(params)
	_, err = client.GenerateQuery(params.NumPlaintexts)
	assert.Assert(t, err != nil)
	_, err = client.GenerateQuery(-1)
	assert.Assert(t, err != nil)
	_, err = client.ExtractRecord(make([]uint64, params.BGV.N()), params.ElemsPerPlaintext)
	assert.Assert(t, err != nil)
}

func TestCheckRecord(t *testing.T) {
	assert.NilError(t, CheckRecord(Row{1, 2, 3}, Row{1, 2, 3}))
	assert.Assert(t, errors.Is(CheckRecord(Row{1, 2, 3}, Row{1, 9, 3}), ErrDecodeMismatch))
	assert.Assert(t, errors.Is(CheckRecord(Row{1, 2}, Row{1, 2, 3}), ErrDecodeMismatch))
}

func TestFullSizeDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 65536x288 database in short mode")
	}
	params, server, db := setup(t, DefaultConfig())
	reader := NewPIRReader(NewClient(params), server)
	assert.NilError(t, reader.Init())

	src := RandSource()
	readAll(t, reader, db, src.Intn(params.NumItems), params.NumItems-1)
}

func TestExpansionRatioTwo(t *testing.T) {
	c := Config{NumItems: 1500 * 1024, ItemSize: 1, N: 1024, Logt: 20, D: 1, Mode: Compressed}
	params, server, db := setup(t, c)
	client := NewClient(params)
	assert.NilError(t, server.SetGaloisKey(0, client.GenerateGaloisKeys()))

	// Items on both sides of the first packed ciphertext.
	for _, ele := range []int{0, 700*1024 + 3, 1100*1024 + 5, c.NumItems - 1} {
		q, err := client.GenerateQuery(params.FvIndex(ele))
		assert.NilError(t, err)
		assert.Equal(t, len(q.Packed), 2)

		reply, err := server.GenerateReply(q, 0)
		assert.NilError(t, err)
		coeffs, err := client.DecodeReply(reply)
		assert.NilError(t, err)
		val, err := client.ExtractRecord(coeffs, params.FvOffset(ele))
		assert.NilError(t, err)
		assert.DeepEqual(t, val, db.Row(ele))
	}
}

func TestDecodeReplySeveralCiphertexts(t *testing.T) {
	params, server, db := setup(t, smallConfig(Compressed, 1))
	client := NewClient(params)
	assert.NilError(t, server.SetGaloisKey(0, client.GenerateGaloisKeys()))

	q, err := client.GenerateQuery(params.FvIndex(42))
	assert.NilError(t, err)
	reply, err := server.GenerateReply(q, 0)
	assert.NilError(t, err)
	assert.Equal(t, len(reply), 1)

	single, err := client.DecodeReply(reply)
	assert.NilError(t, err)
	double, err := client.DecodeReply(Reply{reply[0], reply[0]})
	assert.NilError(t, err)

	n := params.BGV.N()
	assert.Equal(t, len(double), 2*n)
	assert.DeepEqual(t, double[:n], single)
	assert.DeepEqual(t, double[n:], single)

	val, err := client.ExtractRecord(double[:n], params.FvOffset(42))
	assert.NilError(t, err)
	assert.DeepEqual(t, val, db.Row(42))
}

func TestReplaceDatabaseWhileReading(t *testing.T) {
	params, server, db1 := setup(t, smallConfig(Compressed, 2))
	db2 := StaticDBFromRows(MakeRows(rand.New(rand.NewSource(5)), params.NumItems, params.ItemSize))
	client := NewClient(params)
	assert.NilError(t, server.SetGaloisKey(0, client.GenerateGaloisKeys()))

	indices := []int{3, 420, 999}
	queries := make([]*Query, len(indices))
	for i, ele := range indices {
		var err error
		queries[i], err = client.GenerateQuery(params.FvIndex(ele))
		assert.NilError(t, err)
	}

	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		defer close(done)
		for _, db := range []*StaticDB{db2, db1, db2} {
			if err := server.ReplaceDatabase(params, db); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for reads := 0; ; reads++ {
			select {
			case <-done:
				if reads > 0 {
					return nil
				}
			default:
			}
			i := reads % len(indices)
			reply, err := server.GenerateReply(queries[i], 0)
			if err != nil {
				return err
			}
			coeffs, err := client.DecodeReply(reply)
			if err != nil {
				return err
			}
			val, err := client.ExtractRecord(coeffs, params.FvOffset(indices[i]))
			if err != nil {
				return err
			}
			if CheckRecord(val, db1.Row(indices[i])) != nil && CheckRecord(val, db2.Row(indices[i])) != nil {
				return fmt.Errorf("read %d returned a record from neither database", indices[i])
			}
		}
	})
	assert.NilError(t, g.Wait())
	assert.Equal(t, server.Database(), db2)

	reader := NewPIRReader(client, server)
	readAll(t, reader, db2, indices...)
}

func TestReplaceDatabaseRejectsNewRing(t *testing.T) {
	params, server, db := setup(t, smallConfig(Compressed, 2))
	c := smallConfig(Compressed, 2)
	c.N = 2048
	other, err := GenParams(c)
	assert.NilError(t, err)

	assert.Assert(t, server.ReplaceDatabase(other, MakeDB(c.NumItems, c.ItemSize)) != nil)
	assert.Equal(t, server.Params(), params)
	assert.Equal(t, server.Database(), db)
}
