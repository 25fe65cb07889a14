package pir

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"

	log "github.com/sirupsen/logrus"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
	"golang.org/x/exp/slices"
)

const (
	MinLogN = 10
	MaxLogN = 15
	MaxDim  = 8
	MaxLogt = 56

	// Every reduction round consumes one prime of the chain through Rescale.
	levelModulusBits   = 55
	specialModulusBits = 58
)

// standardMaxLogQP is the largest log2(QP) with 128-bit classical security for a
// ternary secret, per the homomorphic encryption standard.
var standardMaxLogQP = map[int]float64{
	10: 27,
	11: 54,
	12: 109,
	13: 218,
	14: 438,
	15: 881,
}

type QueryMode int

const (
	Uncompressed QueryMode = iota
	Compressed
)

var queryModeNames = []string{"Uncompressed", "Compressed"}

func (m QueryMode) String() string {
	if m < 0 || int(m) >= len(queryModeNames) {
		return fmt.Sprintf("QueryMode(%d)", int(m))
	}
	return queryModeNames[m]
}

func QueryModeString(s string) (QueryMode, error) {
	for i, name := range queryModeNames {
		if name == s {
			return QueryMode(i), nil
		}
	}
	return 0, fmt.Errorf("%s does not belong to QueryMode values", s)
}

func QueryModeValues() []QueryMode {
	return []QueryMode{Uncompressed, Compressed}
}

// Config is the shape of a PIR deployment as supplied by the caller.
type Config struct {
	NumItems int
	ItemSize int
	N        int
	Logt     int
	D        int
	Mode     QueryMode
}

func DefaultConfig() Config {
	return Config{
		NumItems: 1 << 16,
		ItemSize: 288,
		N:        2048,
		Logt:     20,
		D:        2,
		Mode:     Compressed,
	}
}

func (c Config) String() string {
	return fmt.Sprintf("%s/n=%d,r=%d,N=%d,logt=%d,d=%d", c.Mode, c.NumItems, c.ItemSize, c.N, c.Logt, c.D)
}

// Params holds the encryption parameters together with the database layout derived
// from a Config. A Params value is never modified after construction; UpdateParams
// returns a fresh one.
type Params struct {
	Config

	BGV bgv.Parameters

	// T is the plaintext modulus, the largest NTT-friendly prime below 2^Logt.
	T     uint64
	Logtp int

	CoeffsPerElement  int
	ElemsPerPlaintext int
	NumPlaintexts     int

	// Nvec holds the extent of each hypercube dimension, most significant first.
	Nvec []int

	// ExpansionRatio is the number of ciphertexts a compressed query is packed into.
	ExpansionRatio int
}

func GenParams(c Config) (*Params, error) {
	if c.N < 1<<MinLogN || c.N > 1<<MaxLogN || c.N&(c.N-1) != 0 {
		return nil, fmt.Errorf("%w: ring degree %d is not a power of two in [%d, %d]",
			ErrParameterInfeasible, c.N, 1<<MinLogN, 1<<MaxLogN)
	}
	if c.D < 1 || c.D > MaxDim {
		return nil, fmt.Errorf("%w: dimension count %d not in [1, %d]", ErrParameterInfeasible, c.D, MaxDim)
	}
	if c.Mode != Uncompressed && c.Mode != Compressed {
		return nil, fmt.Errorf("%w: unknown query mode %d", ErrParameterInfeasible, c.Mode)
	}
	logN := bits.Len(uint(c.N)) - 1
	if c.Logt < logN+2 || c.Logt > MaxLogt {
		return nil, fmt.Errorf("%w: logt %d not in [%d, %d] for N=%d",
			ErrParameterInfeasible, c.Logt, logN+2, MaxLogt, c.N)
	}

	t, err := plaintextModulus(c.N, c.Logt)
	if err != nil {
		return nil, err
	}
	bgvParams, err := bgv.NewParametersFromLiteral(bgv.ParametersLiteral{
		LogN:             logN,
		LogQ:             modulusChain(c.D),
		LogP:             []int{specialModulusBits},
		PlaintextModulus: t,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParameterInfeasible, err)
	}

	p := &Params{BGV: bgvParams, T: t, Logtp: bits.Len64(t) - 1}
	if err := p.layout(c); err != nil {
		return nil, err
	}
	if maxLogQP := standardMaxLogQP[logN]; bgvParams.LogQP() > maxLogQP {
		log.Warnf("N=%d with log(QP)=%.0f is below 128-bit RLWE security (at most %.0f bits allowed)",
			c.N, bgvParams.LogQP(), maxLogQP)
	}
	return p, nil
}

// UpdateParams derives parameters for a new database shape while keeping the ring,
// the plaintext modulus, the dimension count and the query mode of p. Keys generated
// under p remain valid for the result.
func UpdateParams(p *Params, numItems, itemSize int) (*Params, error) {
	c := p.Config
	c.NumItems = numItems
	c.ItemSize = itemSize

	np := &Params{BGV: p.BGV, T: p.T, Logtp: p.Logtp}
	if err := np.layout(c); err != nil {
		return nil, err
	}
	return np, nil
}

func (p *Params) layout(c Config) error {
	if c.NumItems < 1 || c.ItemSize < 1 {
		return fmt.Errorf("%w: %d items of %d bytes", ErrParameterInfeasible, c.NumItems, c.ItemSize)
	}
	n := p.BGV.N()
	cpe := (8*c.ItemSize + p.Logtp - 1) / p.Logtp
	if cpe > n {
		return fmt.Errorf("%w: a %d-byte item needs %d coefficients of %d bits, a plaintext has %d",
			ErrParameterInfeasible, c.ItemSize, cpe, p.Logtp, n)
	}
	epp := n / cpe
	numPt := (c.NumItems + epp - 1) / epp

	root := intRoot(numPt, c.D)
	nvec := make([]int, c.D)
	for i := range nvec {
		nvec[i] = root
	}

	ratio := 1
	if c.Mode == Compressed {
		ratio = (root*c.D + n - 1) / n
	}

	p.Config = c
	p.CoeffsPerElement = cpe
	p.ElemsPerPlaintext = epp
	p.NumPlaintexts = numPt
	p.Nvec = nvec
	p.ExpansionRatio = ratio
	return p.checkNoise()
}

// NumCells is the number of plaintexts in the padded hypercube.
func (p *Params) NumCells() int {
	cells := 1
	for _, n := range p.Nvec {
		cells *= n
	}
	return cells
}

// SumExtents is the total number of selection slots across all dimensions.
func (p *Params) SumExtents() int {
	sum := 0
	for _, n := range p.Nvec {
		sum += n
	}
	return sum
}

// PlaintextBytes is the byte capacity of one decoded plaintext, (N*logtp)/8.
func (p *Params) PlaintextBytes() int {
	return p.BGV.N() * p.Logtp / 8
}

// NumQueryCiphertexts is the number of ciphertexts a query carries on the wire.
func (p *Params) NumQueryCiphertexts() int {
	if p.Mode == Compressed {
		return p.ExpansionRatio
	}
	return p.SumExtents()
}

// CipherSize is the serialized size of one query ciphertext.
func (p *Params) CipherSize() int {
	return bgv.NewCiphertext(p.BGV, 1, p.BGV.MaxLevel()).BinarySize()
}

// ReplyCipherSize is the serialized size of one reply ciphertext, which sits at the
// bottom of the modulus chain after the last reduction round.
func (p *Params) ReplyCipherSize() int {
	return bgv.NewCiphertext(p.BGV, 1, p.replyLevel()).BinarySize()
}

func (p *Params) replyLevel() int {
	return p.BGV.MaxLevel() - p.D
}

// GaloisElements lists the automorphisms X -> X^(N/2^i + 1), i < logN, used to expand
// a compressed query.
func (p *Params) GaloisElements() []uint64 {
	logN := p.BGV.LogN()
	els := make([]uint64, logN)
	for i := range els {
		els[i] = galoisElement(p.BGV.N(), i)
	}
	return els
}

func galoisElement(n, i int) uint64 {
	return uint64(n>>i) + 1
}

func (p *Params) sameRing(o *Params) bool {
	return p.BGV.N() == o.BGV.N() &&
		p.T == o.T &&
		slices.Equal(p.BGV.Q(), o.BGV.Q()) &&
		slices.Equal(p.BGV.P(), o.BGV.P())
}

func (p *Params) sameLayout(o *Params) bool {
	return p.Config == o.Config && slices.Equal(p.Nvec, o.Nvec)
}

func (p *Params) newPlaintext() *rlwe.Plaintext {
	pt := bgv.NewPlaintext(p.BGV, p.BGV.MaxLevel())
	pt.IsBatched = false
	return pt
}

func modulusChain(d int) []int {
	logQ := make([]int, d+1)
	for i := range logQ {
		logQ[i] = levelModulusBits
	}
	return logQ
}

// plaintextModulus returns the largest prime t < 2^logt with t = 1 mod 2n.
func plaintextModulus(n, logt int) (uint64, error) {
	step := uint64(2 * n)
	bound := uint64(1) << logt
	for t := (bound-1)/step*step + 1; t > step; t -= step {
		if t < bound && new(big.Int).SetUint64(t).ProbablyPrime(20) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: no prime below 2^%d is 1 mod %d", ErrParameterInfeasible, logt, step)
}

// intRoot returns the smallest r with r^d >= x.
func intRoot(x, d int) int {
	r := int(math.Ceil(math.Pow(float64(x), 1/float64(d))))
	if r < 1 {
		r = 1
	}
	for r > 1 && ipow(r-1, d) >= x {
		r--
	}
	for ipow(r, d) < x {
		r++
	}
	return r
}

func ipow(b, e int) int {
	r := 1
	for i := 0; i < e; i++ {
		r *= b
	}
	return r
}
