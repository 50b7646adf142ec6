package vam

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/memutils"
	"github.com/vkngwrapper/deferred/memutils/metadata"
)

type memoryBlockList struct {
	parentAllocator *Allocator
	memoryTypeIndex int
	blockSize       int

	blocks []*deviceMemoryBlock
}

func (l *memoryBlockList) Alloc(size int, alignment int) (*Allocation, error) {
	for _, block := range l.blocks {
		alloc, err := l.allocFromBlock(block, size, alignment)
		if err != nil {
			return nil, err
		}
		if alloc != nil {
			return alloc, nil
		}
	}

	block, err := l.createBlock(max(size, l.blockSize))
	if err != nil {
		return nil, err
	}

	alloc, err := l.allocFromBlock(block, size, alignment)
	if err != nil {
		return nil, err
	}
	if alloc == nil {
		return nil, errors.AssertionFailedf("a new block of %d bytes could not fit an allocation of %d bytes", block.metadata.Size(), size)
	}
	return alloc, nil
}

func (l *memoryBlockList) allocFromBlock(block *deviceMemoryBlock, size int, alignment int) (*Allocation, error) {
	success, request, err := block.metadata.CreateAllocationRequest(size, alignment)
	if err != nil || !success {
		return nil, err
	}

	alloc := &Allocation{
		parentAllocator: l.parentAllocator,
		block:           block,
		handle:          request.BlockAllocationHandle,
		offset:          request.Offset,
		size:            request.Size,
		memoryTypeIndex: l.memoryTypeIndex,
	}

	err = block.metadata.Alloc(request, alloc)
	if err != nil {
		return nil, err
	}

	return alloc, nil
}

func (l *memoryBlockList) createBlock(blockSize int) (*deviceMemoryBlock, error) {
	allocator := l.parentAllocator
	memory, res, err := allocator.driver.AllocateMemory(allocator.allocationCallbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  blockSize,
		MemoryTypeIndex: l.memoryTypeIndex,
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to allocate a %d byte block of memory type %d", blockSize, l.memoryTypeIndex)
		if res == core1_0.VKErrorOutOfDeviceMemory || res == core1_0.VKErrorOutOfHostMemory {
			err = errors.Mark(err, ErrOutOfDeviceMemory)
		}
		return nil, err
	}

	allocator.nextBlockID++
	block := &deviceMemoryBlock{
		id:              allocator.nextBlockID,
		logger:          allocator.logger,
		driver:          allocator.driver,
		callbacks:       allocator.allocationCallbacks,
		memory:          memory,
		memoryTypeIndex: l.memoryTypeIndex,
		metadata:        metadata.NewFirstFitBlockMetadata(),
	}
	block.metadata.Init(blockSize)
	l.blocks = append(l.blocks, block)

	allocator.logger.LogAttrs(context.Background(), slog.LevelDebug, "allocated device memory block",
		slog.Int("id", block.id),
		slog.Int("memoryType", l.memoryTypeIndex),
		slog.Int("size", blockSize),
	)

	return block, nil
}

func (l *memoryBlockList) BlockCount() int {
	return len(l.blocks)
}

func (l *memoryBlockList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, block := range l.blocks {
		block.metadata.AddDetailedStatistics(stats)
	}
}

func (l *memoryBlockList) AddStatistics(stats *memutils.Statistics) {
	for _, block := range l.blocks {
		block.metadata.AddStatistics(stats)
	}
}

func (l *memoryBlockList) Destroy() error {
	var err error
	remaining := l.blocks[:0]
	for _, block := range l.blocks {
		blockErr := block.Destroy()
		if blockErr != nil {
			err = errors.CombineErrors(err, blockErr)
			remaining = append(remaining, block)
		}
	}
	l.blocks = remaining
	return err
}

func (l *memoryBlockList) PrintDetailedMap(json jwriter.ObjectState) {
	blocksObj := json.Name("Blocks").Object()
	defer blocksObj.End()

	for _, block := range l.blocks {
		blockObj := blocksObj.Name(strconv.Itoa(block.id)).Object()

		blockObj.Name("MapReferences").Int(block.mapReferences)
		block.metadata.BlockJsonData(blockObj)

		l.printDetailedMapAllocations(block.metadata, blockObj)

		blockObj.End()
	}
}

func (l *memoryBlockList) printDetailedMapAllocations(md metadata.BlockMetadata, json jwriter.ObjectState) {
	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = md.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			obj.Name("Size").Int(size)

			if free {
				obj.Name("Type").String("FREE")
				return nil
			}

			alloc, isAllocation := userData.(*Allocation)
			if isAllocation && alloc != nil {
				alloc.printParameters(obj)
			} else if userData != nil {
				obj.Name("CustomData").String(fmt.Sprintf("%+v", userData))
			}

			return nil
		})
}
