package memutils

import "github.com/cockroachdb/errors"

// ErrPowerOfTwo is the error returned from CheckPow2 if the number being tested is not a power of two
var ErrPowerOfTwo = errors.New("number must be a power of two")
