package pir

// ComputeIndices decomposes a plaintext index into hypercube coordinates using the
// mixed radix given by nvec, most significant dimension first.
func ComputeIndices(desired int, nvec []int) []int {
	coords := make([]int, len(nvec))
	for k := len(nvec) - 1; k >= 0; k-- {
		coords[k] = desired % nvec[k]
		desired /= nvec[k]
	}
	return coords
}

// ComposeIndex is the inverse of ComputeIndices.
func ComposeIndex(coords, nvec []int) int {
	idx := 0
	for k, c := range coords {
		idx = idx*nvec[k] + c
	}
	return idx
}

// FvIndex is the plaintext holding record eleIndex.
func (p *Params) FvIndex(eleIndex int) int {
	return eleIndex / p.ElemsPerPlaintext
}

// FvOffset is the position of record eleIndex inside its plaintext.
func (p *Params) FvOffset(eleIndex int) int {
	return eleIndex % p.ElemsPerPlaintext
}
