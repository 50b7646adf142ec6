package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/deferred/memutils"
)

type chunk struct {
	offset int
	size   int
	free   bool

	prev *chunk
	next *chunk

	userData any
	handle   BlockAllocationHandle
}

// FirstFitBlockMetadata tracks a block as an offset-ordered list of chunks, each either free or taken.
// Requests are placed in the first free chunk that can hold them at the requested alignment. Freed
// chunks are merged with free neighbours, so two adjacent chunks are never both free.
//
// It is not safe for concurrent use.
type FirstFitBlockMetadata struct {
	BlockMetadataBase

	allocCount int
	freeCount  int
	freeSize   int

	nextHandle BlockAllocationHandle
	handleKey  *swiss.Map[BlockAllocationHandle, *chunk]
	head       *chunk
}

var _ BlockMetadata = &FirstFitBlockMetadata{}

func NewFirstFitBlockMetadata() *FirstFitBlockMetadata {
	return &FirstFitBlockMetadata{}
}

func (m *FirstFitBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.handleKey = swiss.NewMap[BlockAllocationHandle, *chunk](42)
	m.nextHandle = 0

	m.head = m.newChunk(0, size)
	m.head.free = true
	m.allocCount = 0
	m.freeCount = 1
	m.freeSize = size
}

func (m *FirstFitBlockMetadata) newChunk(offset, size int) *chunk {
	c := &chunk{
		offset: offset,
		size:   size,
		handle: m.nextHandle,
	}
	m.nextHandle++
	m.handleKey.Put(c.handle, c)
	return c
}

func (m *FirstFitBlockMetadata) dropChunk(c *chunk) {
	m.handleKey.Delete(c.handle)
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		m.head = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	}
}

func (m *FirstFitBlockMetadata) getChunk(handle BlockAllocationHandle) (*chunk, error) {
	c, ok := m.handleKey.Get(handle)
	if !ok {
		return nil, errors.Newf("received handle %d, which does not belong to this metadata", handle)
	}
	return c, nil
}

func (m *FirstFitBlockMetadata) getAllocation(handle BlockAllocationHandle) (*chunk, error) {
	c, err := m.getChunk(handle)
	if err != nil {
		return nil, err
	}
	if c.free {
		return nil, errors.Newf("handle %d refers to a free region, not an allocation", handle)
	}
	return c, nil
}

func (m *FirstFitBlockMetadata) AllocationCount() int { return m.allocCount }

func (m *FirstFitBlockMetadata) FreeRegionsCount() int { return m.freeCount }

func (m *FirstFitBlockMetadata) SumFreeSize() int { return m.freeSize }

func (m *FirstFitBlockMetadata) IsEmpty() bool { return m.allocCount == 0 }

func (m *FirstFitBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment int) (bool, AllocationRequest, error) {
	if allocSize <= 0 {
		return false, AllocationRequest{}, errors.Newf("invalid allocation size %d", allocSize)
	}
	if err := memutils.CheckPow2(allocAlignment, "allocAlignment"); err != nil {
		return false, AllocationRequest{}, err
	}

	// Quick reject before walking the list
	if allocSize > m.freeSize {
		return false, AllocationRequest{}, nil
	}

	for c := m.head; c != nil; c = c.next {
		if !c.free {
			continue
		}

		offset := memutils.AlignUp(c.offset, allocAlignment)
		if offset+allocSize <= c.offset+c.size {
			return true, AllocationRequest{
				BlockAllocationHandle: c.handle,
				Offset:                offset,
				Size:                  allocSize,
			}, nil
		}
	}

	return false, AllocationRequest{}, nil
}

func (m *FirstFitBlockMetadata) Alloc(request AllocationRequest, userData any) error {
	c, err := m.getChunk(request.BlockAllocationHandle)
	if err != nil {
		return err
	}
	if !c.free {
		return errors.Newf("allocation request targets the region at offset %d, which is no longer free", c.offset)
	}
	if request.Offset < c.offset || request.Offset+request.Size > c.offset+c.size {
		return errors.Newf("allocation request [%d, %d) does not fit in the free region [%d, %d)",
			request.Offset, request.Offset+request.Size, c.offset, c.offset+c.size)
	}

	// Alignment padding in front of the allocation stays free
	padding := request.Offset - c.offset
	if padding > 0 {
		front := m.newChunk(c.offset, padding)
		front.free = true
		front.prev = c.prev
		front.next = c
		if c.prev != nil {
			c.prev.next = front
		} else {
			m.head = front
		}
		c.prev = front

		c.offset = request.Offset
		c.size -= padding
		m.freeCount++
	}

	remainder := c.size - request.Size
	if remainder > 0 {
		back := m.newChunk(c.offset+request.Size, remainder)
		back.free = true
		back.prev = c
		back.next = c.next
		if c.next != nil {
			c.next.prev = back
		}
		c.next = back
		c.size = request.Size
		m.freeCount++
	}

	c.free = false
	c.userData = userData
	m.freeCount--
	m.freeSize -= request.Size
	m.allocCount++

	memutils.DebugValidate(m)
	return nil
}

func (m *FirstFitBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	c, err := m.getChunk(allocHandle)
	if err != nil {
		return err
	}
	if c.free {
		return errors.New("region is already free")
	}

	c.free = true
	c.userData = nil
	m.allocCount--
	m.freeCount++
	m.freeSize += c.size

	if next := c.next; next != nil && next.free {
		c.size += next.size
		m.dropChunk(next)
		m.freeCount--
	}

	if prev := c.prev; prev != nil && prev.free {
		prev.size += c.size
		m.dropChunk(c)
		m.freeCount--
	}

	memutils.DebugValidate(m)
	return nil
}

func (m *FirstFitBlockMetadata) Clear() {
	m.Init(m.Size())
}

func (m *FirstFitBlockMetadata) Validate() error {
	if m.head == nil {
		return errors.New("metadata has not been initialized")
	}
	if m.head.prev != nil {
		return errors.New("first chunk has a previous chunk")
	}

	var allocCount, freeCount, freeSize, chunkCount int
	nextOffset := 0

	for c := m.head; c != nil; c = c.next {
		chunkCount++

		if c.offset != nextOffset {
			return errors.Newf("chunk at offset %d should begin at offset %d", c.offset, nextOffset)
		}
		if c.size <= 0 {
			return errors.Newf("chunk at offset %d has invalid size %d", c.offset, c.size)
		}
		if c.next != nil && c.next.prev != c {
			return errors.Newf("chunk at offset %d lists a next chunk, but the reverse reference is broken", c.offset)
		}

		if c.free {
			freeCount++
			freeSize += c.size

			if c.next != nil && c.next.free {
				return errors.Newf("free chunks at offset %d and %d were not merged", c.offset, c.next.offset)
			}
		} else {
			allocCount++
		}

		mapped, ok := m.handleKey.Get(c.handle)
		if !ok || mapped != c {
			return errors.Newf("chunk at offset %d is missing from the handle lookup", c.offset)
		}

		nextOffset = c.offset + c.size
	}

	if nextOffset != m.Size() {
		return errors.Newf("the full size of the metadata is %d, but the chunks only added up to %d", m.Size(), nextOffset)
	}
	if m.handleKey.Count() != chunkCount {
		return errors.Newf("handle lookup holds %d chunks, but the chunk list holds %d", m.handleKey.Count(), chunkCount)
	}
	if allocCount != m.allocCount {
		return errors.Newf("the allocation count of the metadata is %d, but the taken chunks only added up to %d", m.allocCount, allocCount)
	}
	if freeCount != m.freeCount {
		return errors.Newf("the free region count of the metadata is %d, but there were %d free chunks", m.freeCount, freeCount)
	}
	if freeSize != m.freeSize {
		return errors.Newf("the free size of the metadata is %d, but the free chunks only added up to %d", m.freeSize, freeSize)
	}

	return nil
}

func (m *FirstFitBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for c := m.head; c != nil; c = c.next {
		err := handleBlock(c.handle, c.offset, c.size, c.userData, c.free)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *FirstFitBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	c, err := m.getAllocation(allocHandle)
	if err != nil {
		return 0, err
	}
	return c.offset, nil
}

func (m *FirstFitBlockMetadata) AllocationSize(allocHandle BlockAllocationHandle) (int, error) {
	c, err := m.getAllocation(allocHandle)
	if err != nil {
		return 0, err
	}
	return c.size, nil
}

func (m *FirstFitBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	c, err := m.getAllocation(allocHandle)
	if err != nil {
		return nil, err
	}
	return c.userData, nil
}

func (m *FirstFitBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.Size()

	for c := m.head; c != nil; c = c.next {
		if c.free {
			stats.AddUnusedRange(c.size)
		} else {
			stats.AddAllocation(c.size)
		}
	}
}

func (m *FirstFitBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocCount
	stats.BlockBytes += m.Size()
	stats.AllocationBytes += m.Size() - m.freeSize
}

func (m *FirstFitBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	m.writeBlockJson(json, m.freeSize, m.allocCount, m.freeCount)
}
