package metadata

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where
// the metadata intends to place new memory. The consumer commits it with BlockMetadata.Alloc.
type AllocationRequest struct {
	// BlockAllocationHandle identifies the free region the allocation will be carved from. Once committed,
	// the same handle identifies the allocation.
	BlockAllocationHandle BlockAllocationHandle
	// Offset is the aligned offset within the block where the allocation will begin
	Offset int
	// Size is the number of bytes the allocation will occupy
	Size int
}
