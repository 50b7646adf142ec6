package metadata

import "math"

// BlockAllocationHandle is a numeric handle used to identify individual regions within the metadata
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)
