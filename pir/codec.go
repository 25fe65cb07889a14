package pir

// Bytes are packed into coefficients as one big-endian bit stream: coefficient i holds
// bits [i*logtp, (i+1)*logtp) of the input, most significant first. The tail of the
// last coefficient is zero padded.

func BytesToCoeffs(logtp int, b []byte) []uint64 {
	mask := uint64(1)<<logtp - 1
	coeffs := make([]uint64, (8*len(b)+logtp-1)/logtp)

	var acc uint64
	accBits, idx := 0, 0
	for _, x := range b {
		acc = acc<<8 | uint64(x)
		accBits += 8
		for accBits >= logtp {
			accBits -= logtp
			coeffs[idx] = (acc >> accBits) & mask
			idx++
		}
		acc &= uint64(1)<<accBits - 1
	}
	if accBits > 0 {
		coeffs[idx] = (acc << (logtp - accBits)) & mask
	}
	return coeffs
}

// CoeffsToBytes is the inverse of BytesToCoeffs. The output is exactly size bytes long,
// zero padded if coeffs carry fewer bits.
func CoeffsToBytes(logtp int, coeffs []uint64, size int) []byte {
	mask := uint64(1)<<logtp - 1
	out := make([]byte, size)

	var acc uint64
	accBits, idx := 0, 0
	for _, c := range coeffs {
		if idx >= size {
			break
		}
		acc = acc<<logtp | (c & mask)
		accBits += logtp
		for accBits >= 8 && idx < size {
			accBits -= 8
			out[idx] = byte(acc >> accBits)
			idx++
		}
		acc &= uint64(1)<<accBits - 1
	}
	if accBits > 0 && idx < size {
		out[idx] = byte(acc << (8 - accBits))
	}
	return out
}
