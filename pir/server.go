package pir

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/ring"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Server answers queries against one encoded database. Any number of GenerateReply
// calls may run concurrently; SetDatabase, PreprocessDatabase, SetGaloisKey and
// UpdateParameters wait for them to finish. ReplaceDatabase does its heavy work
// without the lock, so replies keep flowing while a new database is prepared.
type Server struct {
	mu     sync.RWMutex
	params *Params

	db  *StaticDB
	edb *EncodedDatabase

	keys  map[uint32]*EvaluationKeys
	evals map[uint32]*bgv.Evaluator
	plain *bgv.Evaluator

	// monomials[i] is X^(-2^i) in NTT and Montgomery form over the full chain.
	monomials []ring.Poly

	workers int
}

func NewServer(params *Params) *Server {
	return &Server{
		params:    params,
		keys:      make(map[uint32]*EvaluationKeys),
		evals:     make(map[uint32]*bgv.Evaluator),
		plain:     bgv.NewEvaluator(params.BGV, nil),
		monomials: inverseMonomials(params),
		workers:   runtime.GOMAXPROCS(0),
	}
}

// SetWorkers bounds the number of goroutines used inside a reduction round.
func (s *Server) SetWorkers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 {
		n = runtime.GOMAXPROCS(0)
	}
	s.workers = n
}

func (s *Server) Params() *Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// UpdateParameters installs parameters for a new database layout. Registered keys stay
// valid since the ring must not change. If the layout differs, the database is dropped
// and has to be set and preprocessed again.
func (s *Server) UpdateParameters(p *Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.params.sameRing(p) {
		return fmt.Errorf("cannot update server parameters: ring differs from registered keys")
	}
	if !s.params.sameLayout(p) {
		s.db = nil
		s.edb = nil
	}
	s.params = p
	return nil
}

// SetDatabase packs db into the plaintext hypercube, replacing any previous database.
func (s *Server) SetDatabase(db *StaticDB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	edb, err := encodeDatabase(s.params, db)
	if err != nil {
		return err
	}
	s.db = db
	s.edb = edb
	return nil
}

// ReplaceDatabase installs db under parameters p, which must share the ring of the
// current ones. The database is encoded and preprocessed before it is published, so a
// concurrent GenerateReply sees either the old database or the new one.
func (s *Server) ReplaceDatabase(p *Params, db *StaticDB) error {
	s.mu.RLock()
	current, workers := s.params, s.workers
	s.mu.RUnlock()
	if !current.sameRing(p) {
		return fmt.Errorf("cannot replace database: ring differs from registered keys")
	}

	start := time.Now()
	edb, err := encodeDatabase(p, db)
	if err != nil {
		return err
	}
	if err := edb.preprocess(p, workers); err != nil {
		return err
	}
	log.Debugf("Prepared %d plaintexts in %v", len(edb.Plaintexts), time.Since(start))

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.params.sameRing(p) {
		return fmt.Errorf("cannot replace database: ring changed while it was prepared")
	}
	s.params = p
	s.db = db
	s.edb = edb
	return nil
}

// PreprocessDatabase moves every cell of the hypercube into the evaluation domain.
// It must run after SetDatabase and before any reply is generated.
func (s *Server) PreprocessDatabase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edb == nil {
		return fmt.Errorf("%w: preprocess before SetDatabase", ErrDatabaseNotReady)
	}
	start := time.Now()
	if err := s.edb.preprocess(s.params, s.workers); err != nil {
		return err
	}
	log.Debugf("Preprocessed %d plaintexts in %v", len(s.edb.Plaintexts), time.Since(start))
	return nil
}

// EncodedDatabase returns the current hypercube, or nil if none is set.
func (s *Server) EncodedDatabase() *EncodedDatabase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edb
}

func (s *Server) Database() *StaticDB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// SetGaloisKey registers the evaluation keys of a client under index.
func (s *Server) SetGaloisKey(index uint32, keys *EvaluationKeys) error {
	if keys == nil {
		return fmt.Errorf("nil evaluation keys for index %d", index)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[index] = keys
	s.evals[index] = bgv.NewEvaluator(s.params.BGV, keys.keySet())
	return nil
}

// KeyIndices lists the indices with registered keys in increasing order.
func (s *Server) KeyIndices() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	indices := maps.Keys(s.keys)
	slices.Sort(indices)
	return indices
}

// GenerateReply answers q using the keys registered under keyIndex. The server state
// is left untouched.
func (s *Server) GenerateReply(q *Query, keyIndex uint32) (Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.params
	if !s.edb.preprocessed() {
		return nil, ErrDatabaseNotReady
	}
	if err := checkQuery(p, q); err != nil {
		return nil, err
	}
	eval, err := s.evaluator(keyIndex)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	selectors, err := s.expandQuery(eval, q)
	if err != nil {
		return nil, err
	}
	log.Debugf("Expanded %s query into %d selectors in %v", q.Mode, p.SumExtents(), time.Since(start))

	start = time.Now()
	ct, err := s.reduce(eval, selectors)
	if err != nil {
		return nil, err
	}
	log.Debugf("Reduced %v hypercube in %v", s.edb.Dims, time.Since(start))
	return Reply{ct}, nil
}

// evaluator returns a private evaluator carrying the keys needed for the current
// parameters, or ErrMissingGaloisKey.
func (s *Server) evaluator(keyIndex uint32) (*bgv.Evaluator, error) {
	p := s.params
	if p.Mode == Uncompressed && p.D == 1 {
		return s.plain.ShallowCopy(), nil
	}
	keys, ok := s.keys[keyIndex]
	if !ok {
		return nil, fmt.Errorf("%w: no keys registered at index %d", ErrMissingGaloisKey, keyIndex)
	}
	if p.D > 1 && keys.Relin == nil {
		return nil, fmt.Errorf("%w: keys at index %d lack a relinearization key", ErrMissingGaloisKey, keyIndex)
	}
	if p.Mode == Compressed {
		levels := expansionLevels(min(p.BGV.N(), p.SumExtents()))
		for i := 0; i < levels; i++ {
			if galEl := galoisElement(p.BGV.N(), i); !keys.hasGaloisElement(galEl) {
				return nil, fmt.Errorf("%w: keys at index %d lack galois element %d", ErrMissingGaloisKey, keyIndex, galEl)
			}
		}
	}
	return s.evals[keyIndex].ShallowCopy(), nil
}

func checkQuery(p *Params, q *Query) error {
	if q == nil {
		return fmt.Errorf("nil query")
	}
	if q.Mode != p.Mode {
		return fmt.Errorf("%s query sent to a server configured for %s queries", q.Mode, p.Mode)
	}
	top := p.BGV.MaxLevel()
	check := func(cts []*rlwe.Ciphertext, want int, what string) error {
		if len(cts) != want {
			return fmt.Errorf("%s has %d ciphertexts, want %d", what, len(cts), want)
		}
		for _, ct := range cts {
			if ct == nil || ct.Degree() != 1 || ct.Level() != top {
				return fmt.Errorf("%s holds a ciphertext that is not a fresh degree-1 ciphertext", what)
			}
		}
		return nil
	}
	if q.Mode == Compressed {
		return check(q.Packed, p.ExpansionRatio, "packed query")
	}
	if len(q.OneHot) != len(p.Nvec) {
		return fmt.Errorf("query has %d one-hot vectors, want %d", len(q.OneHot), len(p.Nvec))
	}
	for k, vec := range q.OneHot {
		if err := check(vec, p.Nvec[k], fmt.Sprintf("one-hot vector %d", k)); err != nil {
			return err
		}
	}
	return nil
}

// RegisterKey is the wire form of SetGaloisKey.
func (s *Server) RegisterKey(req KeyReq, none *int) error {
	keys := new(EvaluationKeys)
	if err := keys.UnmarshalBinary(req.Keys); err != nil {
		return fmt.Errorf("decoding keys for index %d: %w", req.Index, err)
	}
	return s.SetGaloisKey(req.Index, keys)
}

// Answer is the wire form of GenerateReply.
func (s *Server) Answer(req QueryReq, resp *QueryResp) error {
	p := s.Params()
	cts, err := DeserializeCiphertexts(req.NumCiphertexts, req.Query, p.CipherSize())
	if err != nil {
		return err
	}
	q, err := QueryFromCiphertexts(p, cts)
	if err != nil {
		return err
	}
	reply, err := s.GenerateReply(q, req.KeyIndex)
	if err != nil {
		return err
	}
	if resp.Reply, err = SerializeCiphertexts(reply); err != nil {
		return err
	}
	resp.NumCiphertexts = len(reply)
	return nil
}
