package pir

import (
	"bytes"
	"fmt"
	"math/big"
	"math/bits"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// Client holds one key pair and builds queries and decodes replies under it.
// A Client is not safe for concurrent use, except for Params and UpdateParameters.
type Client struct {
	mu     sync.RWMutex
	params *Params

	sk *rlwe.SecretKey

	encoder   *bgv.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
}

func NewClient(params *Params) *Client {
	sk, pk := rlwe.NewKeyGenerator(params.BGV).GenKeyPairNew()
	return &Client{
		params:    params,
		sk:        sk,
		encoder:   bgv.NewEncoder(params.BGV),
		encryptor: rlwe.NewEncryptor(params.BGV, pk),
		decryptor: rlwe.NewDecryptor(params.BGV, sk),
	}
}

func (c *Client) Params() *Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

// UpdateParameters switches the client to a new database layout. The ring must be
// unchanged so that the key pair and registered keys stay valid.
func (c *Client) UpdateParameters(p *Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.params.sameRing(p) {
		return fmt.Errorf("cannot update client parameters: ring differs, keys would be invalid")
	}
	c.params = p
	return nil
}

func (c *Client) GetFvIndex(eleIndex int) int {
	return c.Params().FvIndex(eleIndex)
}

func (c *Client) GetFvOffset(eleIndex int) int {
	return c.Params().FvOffset(eleIndex)
}

// GenerateGaloisKeys generates the evaluation keys the server needs to answer queries
// from this client: Galois keys for compressed queries and a relinearization key when
// the hypercube has more than one dimension.
func (c *Client) GenerateGaloisKeys() *EvaluationKeys {
	p := c.Params()
	kgen := rlwe.NewKeyGenerator(p.BGV)
	keys := new(EvaluationKeys)
	if p.D > 1 {
		keys.Relin = kgen.GenRelinearizationKeyNew(c.sk)
	}
	if p.Mode == Compressed {
		keys.Galois = kgen.GenGaloisKeysNew(p.GaloisElements(), c.sk)
	}
	return keys
}

func (c *Client) GenerateQuery(fvIndex int) (*Query, error) {
	p := c.Params()
	if fvIndex < 0 || fvIndex >= p.NumPlaintexts {
		return nil, fmt.Errorf("plaintext index %d out of range [0, %d)", fvIndex, p.NumPlaintexts)
	}
	coords := ComputeIndices(fvIndex, p.Nvec)

	if p.Mode == Compressed {
		return c.packedQuery(p, coords)
	}

	q := &Query{Mode: Uncompressed, OneHot: make([][]*rlwe.Ciphertext, len(p.Nvec))}
	n := p.BGV.N()
	for k, extent := range p.Nvec {
		q.OneHot[k] = make([]*rlwe.Ciphertext, extent)
		for j := range q.OneHot[k] {
			values := make([]uint64, n)
			if j == coords[k] {
				values[0] = 1
			}
			ct, err := c.encrypt(p, values)
			if err != nil {
				return nil, err
			}
			q.OneHot[k][j] = ct
		}
	}
	return q, nil
}

// packedQuery places the one-hot slot of dimension k at global position
// sum(Nvec[:k]) + coords[k]. Each ciphertext carries up to N slots, scaled by the
// inverse of 2^l where l is the number of expansion levels it goes through.
func (c *Client) packedQuery(p *Params, coords []int) (*Query, error) {
	n := p.BGV.N()
	total := p.SumExtents()

	slots := make([][]uint64, p.ExpansionRatio)
	for i := range slots {
		slots[i] = make([]uint64, n)
	}
	offset := 0
	for k, extent := range p.Nvec {
		g := offset + coords[k]
		ct := g / n
		slots[ct][g%n] = inversePowerOfTwo(p.T, expansionLevels(packedSlots(total, n, ct)))
		offset += extent
	}

	q := &Query{Mode: Compressed, Packed: make([]*rlwe.Ciphertext, len(slots))}
	for i, values := range slots {
		ct, err := c.encrypt(p, values)
		if err != nil {
			return nil, err
		}
		q.Packed[i] = ct
	}
	return q, nil
}

func (c *Client) encrypt(p *Params, values []uint64) (*rlwe.Ciphertext, error) {
	pt := p.newPlaintext()
	if err := c.encoder.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("encoding query plaintext: %w", err)
	}
	ct, err := c.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypting query plaintext: %w", err)
	}
	return ct, nil
}

// DecodeReply decrypts every reply ciphertext and returns their plaintext coefficients
// back to back.
func (c *Client) DecodeReply(reply Reply) ([]uint64, error) {
	if len(reply) == 0 {
		return nil, fmt.Errorf("empty reply")
	}
	n := c.Params().BGV.N()
	coeffs := make([]uint64, n*len(reply))
	for i, ct := range reply {
		pt := c.decryptor.DecryptNew(ct)
		if err := c.encoder.Decode(pt, coeffs[i*n:(i+1)*n]); err != nil {
			return nil, fmt.Errorf("decoding reply ciphertext %d: %w", i, err)
		}
	}
	return coeffs, nil
}

// ExtractRecord unpacks the decoded plaintext and returns the record at fvOffset.
func (c *Client) ExtractRecord(coeffs []uint64, fvOffset int) (Row, error) {
	p := c.Params()
	if fvOffset < 0 || fvOffset >= p.ElemsPerPlaintext {
		return nil, fmt.Errorf("record offset %d out of range [0, %d)", fvOffset, p.ElemsPerPlaintext)
	}
	buf := CoeffsToBytes(p.Logtp, coeffs, p.PlaintextBytes())
	start := fvOffset * p.ItemSize
	return Row(buf[start : start+p.ItemSize]), nil
}

// CheckRecord compares a retrieved record with the expected one.
func CheckRecord(got, want Row) error {
	if bytes.Equal(got, want) {
		return nil
	}
	if len(got) != len(want) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrDecodeMismatch, len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			return fmt.Errorf("%w: byte %d is %#02x, want %#02x", ErrDecodeMismatch, i, got[i], want[i])
		}
	}
	return nil
}

// packedSlots is the number of slots carried by packed ciphertext i.
func packedSlots(total, n, i int) int {
	return min(n, total-i*n)
}

// expansionLevels is ceil(log2(m)).
func expansionLevels(m int) int {
	return bits.Len(uint(m - 1))
}

func inversePowerOfTwo(t uint64, l int) uint64 {
	mod := new(big.Int).SetUint64(t)
	x := new(big.Int).Lsh(big.NewInt(1), uint(l))
	return x.ModInverse(x, mod).Uint64()
}
