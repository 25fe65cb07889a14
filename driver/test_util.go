package driver

import (
	"fmt"

	"hepir/pir"
)

type TestConfig struct {
	NumRows int
	RowLen  int

	N    int
	Logt int
	D    int
	Mode pir.QueryMode

	// Goroutines per reduction round, 0 for GOMAXPROCS.
	Workers int

	PresetRows []RowIndexVal

	// Seed used to generate random data in database. Not used for cryptographic operations.
	DataRandSeed int64

	MeasureBandwidth bool
}

func (c TestConfig) PirConfig() pir.Config {
	return pir.Config{
		NumItems: c.NumRows,
		ItemSize: c.RowLen,
		N:        c.N,
		Logt:     c.Logt,
		D:        c.D,
		Mode:     c.Mode,
	}
}

func (c TestConfig) String() string {
	return c.PirConfig().String()
}

// Disgusting hack since testing.Benchmark hides all logs and failures
type ErrorPrinter struct {
}

func (ep ErrorPrinter) Log(args ...interface{}) {
	fmt.Println(args...)
}

func (ep ErrorPrinter) FailNow() {
	panic("Assertion failed")
}

func (ep ErrorPrinter) Fail() {
	panic("Assertion failed")
}
