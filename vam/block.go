package vam

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/deferred/memutils/metadata"
)

type deviceMemoryBlock struct {
	id              int
	memoryTypeIndex int
	logger          *slog.Logger
	driver          core1_0.DeviceDriver
	callbacks       *loader.AllocationCallbacks

	memory   core1_0.DeviceMemory
	metadata metadata.BlockMetadata

	mapReferences int
	mapData       unsafe.Pointer
}

// Map maps the whole block the first time it is called and hands out the same pointer to later
// callers until every reference has been released with Unmap.
func (b *deviceMemoryBlock) Map() (unsafe.Pointer, error) {
	if b.mapReferences > 0 {
		if b.mapData == nil {
			return nil, errors.New("the block is showing existing memory mapping references, but no mapped memory")
		}
		b.mapReferences++
		return b.mapData, nil
	}

	data, _, err := b.driver.MapMemory(b.memory, 0, common.WholeSize, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map memory block %d", b.id)
	}

	b.mapData = data
	b.mapReferences = 1
	return data, nil
}

func (b *deviceMemoryBlock) Unmap() error {
	if b.mapReferences == 0 {
		return errors.Newf("memory block %d has more references being unmapped than are currently mapped", b.id)
	}

	b.mapReferences--
	if b.mapReferences == 0 {
		b.driver.UnmapMemory(b.memory)
		b.mapData = nil
	}

	return nil
}

func (b *deviceMemoryBlock) Destroy() error {
	if !b.metadata.IsEmpty() {
		err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			b.logUnreleasedMemory(offset, size, userData)
			return nil
		})
		if err != nil {
			b.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.Newf("memory block %d still holds %d allocations", b.id, b.metadata.AllocationCount())
	}

	if b.mapReferences > 0 {
		b.driver.UnmapMemory(b.memory)
		b.mapReferences = 0
		b.mapData = nil
	}

	b.driver.FreeMemory(b.memory, b.callbacks)
	return nil
}

func (b *deviceMemoryBlock) logUnreleasedMemory(offset, size int, userData any) {
	name := "empty"
	id := 0
	if allocation, ok := userData.(*Allocation); ok {
		id = allocation.ID()
		if allocation.Name() != "" {
			name = allocation.Name()
		}
	}

	b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("block", b.id),
		slog.Int("memoryType", b.memoryTypeIndex),
		slog.Int("id", id),
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.String("name", name),
	)
}

func (b *deviceMemoryBlock) Validate() error {
	err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		allocation, isAllocation := userData.(*Allocation)
		if free && isAllocation {
			return errors.Newf("an allocation at offset %d is marked as free but contains an allocation object", offset)
		} else if !free && (!isAllocation || allocation == nil) {
			return errors.Newf("an allocation at offset %d is marked as allocated but has no allocation object", offset)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return b.metadata.Validate()
}
