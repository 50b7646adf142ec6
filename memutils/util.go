package memutils

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// CheckPow2 returns an error wrapping ErrPowerOfTwo if number is not a positive power of two. The name
// parameter is used to identify the offending value in the error message.
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return errors.Wrapf(ErrPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two. An alignment
// of 0 or 1 leaves the value unchanged.
func AlignUp[T constraints.Integer](value T, alignment T) T {
	if alignment <= 1 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two.
func AlignDown[T constraints.Integer](value T, alignment T) T {
	if alignment <= 1 {
		return value
	}
	return value &^ (alignment - 1)
}
