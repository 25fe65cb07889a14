package pir

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"

	log "github.com/sirupsen/logrus"
)

type cryptoSource struct{}

// CryptoRandSource is a math/rand generator backed by crypto/rand, used to pick the
// records a client reads.
func CryptoRandSource() *mrand.Rand {
	return mrand.New(cryptoSource{})
}

func (s cryptoSource) Int63() int64 {
	var mask uint64 = 0x7fffffffffffffff
	return int64(s.Uint64() & mask)
}

func (cryptoSource) Uint64() uint64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		log.Fatal("rand.Read failed")
	}

	return binary.LittleEndian.Uint64(buf[:])
}

func (cryptoSource) Seed(int64) {
	log.Fatal("Not implemented.")
}
