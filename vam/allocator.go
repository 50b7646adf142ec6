package vam

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/deferred/memutils"
)

// ErrOutOfDeviceMemory is marked on errors caused by the driver refusing to allocate a new memory block.
// There is no fallback when this happens, callers are expected to treat it as fatal.
var ErrOutOfDeviceMemory = errors.New("out of device memory")

// Allocator sub-allocates large device memory blocks into smaller allocations for buffers and images.
// Each memory type index has its own list of blocks, and allocations are placed first-fit.
//
// Allocator is not safe for concurrent use: every method must be called from the thread that drives
// the device.
type Allocator struct {
	logger              *slog.Logger
	driver              core1_0.DeviceDriver
	memoryProperties    *core1_0.PhysicalDeviceMemoryProperties
	allocationCallbacks *loader.AllocationCallbacks
	blockSize           int

	memoryBlockLists []*memoryBlockList
	nextAllocationID int
	nextBlockID      int
}

// BlockSize is the size of a memory block when the allocation that creates it is smaller
func (a *Allocator) BlockSize() int { return a.blockSize }

// Alloc places size bytes aligned to alignment in a block of memory type memoryTypeIndex, creating
// a new block of max(size, BlockSize()) bytes if no existing block has room.
func (a *Allocator) Alloc(size int, alignment int, memoryTypeIndex int) (*Allocation, error) {
	if size <= 0 {
		return nil, errors.Newf("invalid allocation size %d", size)
	}
	if alignment == 0 {
		alignment = 1
	}
	if err := memutils.CheckPow2(alignment, "alignment"); err != nil {
		return nil, err
	}
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(a.memoryBlockLists) {
		return nil, errors.Newf("memory type index %d is out of range, the device has %d memory types", memoryTypeIndex, len(a.memoryBlockLists))
	}

	alloc, err := a.memoryBlockLists[memoryTypeIndex].Alloc(size, alignment)
	if err != nil {
		return nil, err
	}

	a.nextAllocationID++
	alloc.id = a.nextAllocationID
	return alloc, nil
}

// Free returns an allocation's range to its block. Freeing the same allocation twice is an error.
func (a *Allocator) Free(alloc *Allocation) error {
	if alloc == nil {
		return errors.New("attempted to free a nil allocation")
	}
	if alloc.block == nil {
		return errors.Newf("allocation %d has already been freed", alloc.id)
	}

	for alloc.mapCount > 0 {
		if err := alloc.Unmap(); err != nil {
			return err
		}
	}

	err := alloc.block.metadata.Free(alloc.handle)
	if err != nil {
		return errors.Wrapf(err, "failed to free allocation %d", alloc.id)
	}

	alloc.block = nil
	return nil
}

// FindMemoryTypeIndex returns the first memory type that is allowed by typeBits and has every flag in
// properties.
func (a *Allocator) FindMemoryTypeIndex(typeBits uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, memoryType := range a.memoryProperties.MemoryTypes {
		if typeBits&(1<<i) != 0 && memoryType.PropertyFlags&properties == properties {
			return i, nil
		}
	}

	return -1, errors.Newf("no memory type matches type bits %032b with properties %s", typeBits, properties)
}

// AllocateForImage queries the image's memory requirements, allocates memory that satisfies them and
// properties, and binds it to the image.
func (a *Allocator) AllocateForImage(image core1_0.Image, properties core1_0.MemoryPropertyFlags) (*Allocation, error) {
	requirements := a.driver.GetImageMemoryRequirements(image)

	alloc, err := a.allocateForRequirements(requirements, properties)
	if err != nil {
		return nil, err
	}

	_, err = a.driver.BindImageMemory(image, alloc.Memory(), alloc.Offset())
	if err != nil {
		return nil, errors.CombineErrors(errors.Wrap(err, "failed to bind image memory"), a.Free(alloc))
	}

	return alloc, nil
}

// AllocateForBuffer queries the buffer's memory requirements, allocates memory that satisfies them and
// properties, and binds it to the buffer.
func (a *Allocator) AllocateForBuffer(buffer core1_0.Buffer, properties core1_0.MemoryPropertyFlags) (*Allocation, error) {
	requirements := a.driver.GetBufferMemoryRequirements(buffer)

	alloc, err := a.allocateForRequirements(requirements, properties)
	if err != nil {
		return nil, err
	}

	_, err = a.driver.BindBufferMemory(buffer, alloc.Memory(), alloc.Offset())
	if err != nil {
		return nil, errors.CombineErrors(errors.Wrap(err, "failed to bind buffer memory"), a.Free(alloc))
	}

	return alloc, nil
}

func (a *Allocator) allocateForRequirements(requirements *core1_0.MemoryRequirements, properties core1_0.MemoryPropertyFlags) (*Allocation, error) {
	if requirements == nil {
		return nil, errors.New("driver returned no memory requirements")
	}

	typeIndex, err := a.FindMemoryTypeIndex(requirements.MemoryTypeBits, properties)
	if err != nil {
		return nil, err
	}

	return a.Alloc(requirements.Size, requirements.Alignment, typeIndex)
}

// CalculateStatistics sums statistics for every block the allocator owns into stats
func (a *Allocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()
	for _, list := range a.memoryBlockLists {
		list.AddDetailedStatistics(stats)
	}
}

// BuildStatsString produces a json document describing the allocator's blocks. Each memory type gets a
// summary of its blocks; when detailed is true the free range spread and every allocation and free region
// of every block is listed as well.
func (a *Allocator) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	root := writer.Object()

	var total memutils.DetailedStatistics
	a.CalculateStatistics(&total)
	totalObj := root.Name("Total").Object()
	total.PrintJson(totalObj)
	totalObj.End()

	types := root.Name("MemoryTypes").Object()
	for typeIndex, list := range a.memoryBlockLists {
		if list.BlockCount() == 0 {
			continue
		}

		typeObj := types.Name(strconv.Itoa(typeIndex)).Object()
		typeObj.Name("Flags").String(a.memoryProperties.MemoryTypes[typeIndex].PropertyFlags.String())

		if detailed {
			var stats memutils.DetailedStatistics
			stats.Clear()
			list.AddDetailedStatistics(&stats)
			stats.PrintJson(typeObj)
			list.PrintDetailedMap(typeObj)
		} else {
			var stats memutils.Statistics
			list.AddStatistics(&stats)
			stats.PrintJson(typeObj)
		}
		typeObj.End()
	}
	types.End()

	root.End()
	return string(writer.Bytes())
}

// Destroy frees every memory block. Allocations that are still live are logged and reported in the
// returned error; their blocks are not freed.
func (a *Allocator) Destroy() error {
	var err error
	for _, list := range a.memoryBlockLists {
		err = errors.CombineErrors(err, list.Destroy())
	}

	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] allocator destroyed with live allocations",
			slog.Any("error", err))
	}
	return err
}
