package pir

import (
	"fmt"
	"math"
)

// Noise is tracked as log2 of a high-probability bound on the infinity norm of the
// BGV error term m + t*e. A ciphertext decrypts correctly while that norm stays below
// half of its current modulus.
const (
	// Standard deviation of the error distribution used by lattigo.
	noiseSigmaBits = 1.68
	// Margin for the tail of a sum of many Gaussian terms.
	noiseTailBits = 3.0
	// Margin for the expected growth of a sum of independent products.
	noiseProductBits = 2.0
)

// logAdd returns log2(2^a + 2^b).
func logAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	return a + math.Log2(1+math.Exp2(b-a))
}

type noiseModel struct {
	logT, logN float64
	// logQ[i] is log2 of the i-th prime of the ciphertext modulus chain.
	logQ []float64
	logP float64
}

func newNoiseModel(p *Params) *noiseModel {
	m := &noiseModel{
		logT: math.Log2(float64(p.T)),
		logN: float64(p.BGV.LogN()),
	}
	for _, q := range p.BGV.Q() {
		m.logQ = append(m.logQ, math.Log2(float64(q)))
	}
	for _, pi := range p.BGV.P() {
		m.logP += math.Log2(float64(pi))
	}
	return m
}

// modulus is log2 of the ciphertext modulus at level.
func (m *noiseModel) modulus(level int) float64 {
	sum := 0.0
	for _, q := range m.logQ[:level+1] {
		sum += q
	}
	return sum
}

func (m *noiseModel) fresh() float64 {
	return m.logT + noiseSigmaBits + m.logN/2 + noiseTailBits
}

// keySwitch is the error added by an automorphism or a relinearization at level.
func (m *noiseModel) keySwitch(level int) float64 {
	maxQ := 0.0
	for _, q := range m.logQ[:level+1] {
		maxQ = math.Max(maxQ, q)
	}
	return m.logT + noiseSigmaBits + m.logN + math.Log2(float64(level+1)) + maxQ - m.logP + 1
}

// rescale divides the error by the dropped prime and adds the rounding error.
func (m *noiseModel) rescale(noise float64, level int) float64 {
	rounding := m.logT + m.logN/2 + noiseProductBits
	return logAdd(noise-m.logQ[level], rounding)
}

// withMessage accounts for the message itself, which lives in [0, t).
func (m *noiseModel) withMessage(noise float64) float64 {
	return logAdd(noise, m.logT-1)
}

// checkNoise walks the error bound through query expansion and every reduction round
// and fails with ErrParameterInfeasible at the first stage that would not decrypt.
func (p *Params) checkNoise() error {
	m := newNoiseModel(p)
	top := p.BGV.MaxLevel()

	sel := m.fresh()
	if p.Mode == Compressed {
		ks := m.keySwitch(top)
		for i := 0; i < expansionLevels(min(p.BGV.N(), p.SumExtents())); i++ {
			sel = logAdd(sel+1, ks)
		}
	}
	sel = m.withMessage(sel)
	if sel >= m.modulus(top)-1 {
		return fmt.Errorf("%w: expanded query noise reaches 2^%.1f, modulus is 2^%.1f",
			ErrParameterInfeasible, sel, m.modulus(top))
	}

	// Round 0 multiplies selectors with plaintexts of norm below t/2.
	level := top
	cell := sel + m.logT - 1 + m.logN/2 + math.Log2(float64(p.Nvec[0]))/2 + noiseProductBits
	selLevel := top
	for k := 0; k < p.D; k++ {
		if k > 0 {
			for ; selLevel > level; selLevel-- {
				sel = m.withMessage(m.rescale(sel, selLevel))
			}
			cell = cell + sel + m.logN/2 + math.Log2(float64(p.Nvec[k]))/2 + noiseProductBits
			cell = logAdd(cell, m.keySwitch(level))
		}
		if cell >= m.modulus(level)-1 {
			return fmt.Errorf("%w: reduction round %d noise reaches 2^%.1f, modulus is 2^%.1f",
				ErrParameterInfeasible, k, cell, m.modulus(level))
		}
		cell = m.withMessage(m.rescale(cell, level))
		level--
	}
	if cell >= m.modulus(level)-1 {
		return fmt.Errorf("%w: reply noise reaches 2^%.1f, modulus is 2^%.1f",
			ErrParameterInfeasible, cell, m.modulus(level))
	}
	return nil
}
