package pir

import "errors"

var (
	// ErrParameterInfeasible is returned when no parameter set satisfies the requested
	// database shape under the given ring degree and plaintext modulus.
	ErrParameterInfeasible = errors.New("pir: parameters infeasible")

	// ErrMissingGaloisKey is returned when a reply needs evaluation keys that were never
	// registered under the requested index.
	ErrMissingGaloisKey = errors.New("pir: missing galois key")

	// ErrDecodeMismatch is returned by CheckRecord when a decoded record differs from the
	// expected one.
	ErrDecodeMismatch = errors.New("pir: decoded record mismatch")

	ErrDatabaseNotReady = errors.New("pir: database not set or not preprocessed")
)
