package vam

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/memutils/metadata"
)

// Allocation is a range of device memory inside one of the allocator's blocks. It does not own the
// device memory: freeing it only returns the range to its block.
type Allocation struct {
	id   int
	name string

	parentAllocator *Allocator
	block           *deviceMemoryBlock
	handle          metadata.BlockAllocationHandle

	offset          int
	size            int
	memoryTypeIndex int
	mapCount        int
}

// ID is a number unique among the allocations made by one allocator
func (a *Allocation) ID() int { return a.id }

func (a *Allocation) Name() string { return a.name }

// SetName attaches a debug name that is reported in stats dumps and leak reports
func (a *Allocation) SetName(name string) { a.name = name }

// Memory returns the device memory of the block that contains this allocation
func (a *Allocation) Memory() core1_0.DeviceMemory {
	if a.block == nil {
		return core1_0.DeviceMemory{}
	}
	return a.block.memory
}

func (a *Allocation) Offset() int { return a.offset }

func (a *Allocation) Size() int { return a.size }

func (a *Allocation) MemoryTypeIndex() int { return a.memoryTypeIndex }

// Freed returns true once the allocation has been returned to its block
func (a *Allocation) Freed() bool { return a.block == nil }

// Free returns this allocation's range to its block
func (a *Allocation) Free() error {
	return a.parentAllocator.Free(a)
}

// Map returns a pointer to the start of this allocation in host memory. The memory type must be
// host visible. Every call must be matched by a call to Unmap.
func (a *Allocation) Map() (unsafe.Pointer, error) {
	if a.block == nil {
		return nil, errors.Newf("attempted to map freed allocation %d", a.id)
	}

	data, err := a.block.Map()
	if err != nil {
		return nil, err
	}

	a.mapCount++
	return unsafe.Add(data, a.offset), nil
}

func (a *Allocation) Unmap() error {
	if a.block == nil {
		return errors.Newf("attempted to unmap freed allocation %d", a.id)
	}
	if a.mapCount == 0 {
		return errors.Newf("allocation %d is not mapped", a.id)
	}

	a.mapCount--
	return a.block.Unmap()
}

// WriteBytes copies data to the start of this allocation through a temporary mapping
func (a *Allocation) WriteBytes(data []byte) error {
	if len(data) > a.size {
		return errors.Newf("attempted to write %d bytes into allocation %d of %d bytes", len(data), a.id, a.size)
	}

	ptr, err := a.Map()
	if err != nil {
		return err
	}

	copy(unsafe.Slice((*byte)(ptr), len(data)), data)
	return a.Unmap()
}

// WriteData encodes data in the device's byte order with encoding/binary and copies the result to
// the start of this allocation. data must be a fixed-size value or a slice of fixed-size values.
func (a *Allocation) WriteData(data any) error {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return errors.Wrap(err, "failed to encode allocation data")
	}

	return a.WriteBytes(buf.Bytes())
}

func (a *Allocation) printParameters(json jwriter.ObjectState) {
	json.Name("Id").Int(a.id)
	json.Name("Size").Int(a.size)
	json.Name("MapCount").Int(a.mapCount)

	if a.name != "" {
		json.Name("Name").String(a.name)
	}
}
