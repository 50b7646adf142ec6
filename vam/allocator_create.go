package vam

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/deferred/memutils"
)

// DefaultBlockSize is the size of a new memory block when the request that triggered it is smaller
const DefaultBlockSize int = 16 * 1024 * 1024

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// BlockSize overrides DefaultBlockSize when it is not 0. It must be a power of two.
	BlockSize int
	// VulkanCallbacks is an optional set of allocation callbacks that will be passed to every
	// AllocateMemory and FreeMemory call
	VulkanCallbacks *loader.AllocationCallbacks
}

// New creates a new Allocator
//
// driver - The driver of the Device that memory will be allocated into
//
// memoryProperties - The memory properties of the PhysicalDevice that owns the Device
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, driver core1_0.DeviceDriver, memoryProperties *core1_0.PhysicalDeviceMemoryProperties, options CreateOptions) (*Allocator, error) {
	if memoryProperties == nil || len(memoryProperties.MemoryTypes) == 0 {
		return nil, errors.New("vam.New: the physical device reported no memory types")
	}

	blockSize := options.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if err := memutils.CheckPow2(blockSize, "CreateOptions.BlockSize"); err != nil {
		return nil, err
	}

	allocator := &Allocator{
		logger:              logger,
		driver:              driver,
		memoryProperties:    memoryProperties,
		allocationCallbacks: options.VulkanCallbacks,
		blockSize:           blockSize,
		memoryBlockLists:    make([]*memoryBlockList, len(memoryProperties.MemoryTypes)),
	}

	for typeIndex := range allocator.memoryBlockLists {
		allocator.memoryBlockLists[typeIndex] = &memoryBlockList{
			parentAllocator: allocator,
			memoryTypeIndex: typeIndex,
			blockSize:       blockSize,
		}
	}

	return allocator, nil
}
