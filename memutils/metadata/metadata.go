package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/deferred/memutils"
)

// BlockMetadata represents a single large allocation of memory within some system. It manages
// suballocations within the block, allowing allocations to be requested and freed, as well as
// enumerated and queried.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It informs the implementation of the size
	// in bytes of the block of memory it will be managing.
	Init(size int)
	// Size retrieves the size in bytes that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. When the implementation is functioning
	// correctly, it should not be possible for this method to return an error.
	Validate() error
	// AllocationCount returns the number of suballocations currently live in the block
	AllocationCount() int
	// FreeRegionsCount returns the number of unique regions of free memory in the block. Adjacent free
	// regions are merged, so this is also the number of gaps between allocations.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes of memory in the block.
	SumFreeSize() int
	// IsEmpty will return true if this block has no live suballocations
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocation and free region in
	// the block, in offset order.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error

	// AllocationOffset returns the offset in bytes of a live allocation within the block
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// AllocationSize returns the size in bytes of a live allocation within the block
	AllocationSize(allocHandle BlockAllocationHandle) (int, error)
	// AllocationUserData returns the userdata value provided by the consumer for a live allocation
	AllocationUserData(allocHandle BlockAllocationHandle) (any, error)

	// AddDetailedStatistics sums this block's allocation statistics into the provided object
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's allocation statistics into the provided object
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json jwriter.ObjectState)

	// CreateAllocationRequest retrieves an AllocationRequest indicating where the implementation would
	// place an allocation of allocSize bytes aligned to allocAlignment. The boolean return is false when
	// the block has no room for the request. The request can be passed to Alloc to commit it.
	CreateAllocationRequest(allocSize int, allocAlignment int) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest. The implementation must return an error if the request is no
	// longer valid, for instance because the free region it names has since been taken.
	Alloc(request AllocationRequest, userData any) error
	// Free frees a suballocation within the block, causing it to become a free region once again.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase holds the bookkeeping shared by BlockMetadata implementations in this module
type BlockMetadataBase struct {
	size int
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

func (m *BlockMetadataBase) writeBlockJson(json jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
