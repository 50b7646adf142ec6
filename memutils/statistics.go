package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics is a coarse summary of device memory usage: how many blocks were allocated from the
// driver and how many suballocations live inside them.
type Statistics struct {
	BlockCount      int
	AllocationCount int
	BlockBytes      int
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.AllocationCount = 0
	s.BlockBytes = 0
	s.AllocationBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockBytes += other.BlockBytes
	s.AllocationBytes += other.AllocationBytes
}

// UnusedBytes is the number of bytes held in blocks that no allocation currently occupies
func (s *Statistics) UnusedBytes() int {
	return s.BlockBytes - s.AllocationBytes
}

// PrintJson writes the statistics as fields of an already-open json object
func (s *Statistics) PrintJson(json jwriter.ObjectState) {
	json.Name("BlockCount").Int(s.BlockCount)
	json.Name("BlockBytes").Int(s.BlockBytes)
	json.Name("AllocationCount").Int(s.AllocationCount)
	json.Name("AllocationBytes").Int(s.AllocationBytes)
}

// DetailedStatistics extends Statistics with information about the free ranges between allocations and
// the size spread of allocations. Min values are math.MaxInt until the first sample arrives.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++
	s.UnusedRangeSizeMin = min(s.UnusedRangeSizeMin, size)
	s.UnusedRangeSizeMax = max(s.UnusedRangeSizeMax, size)
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size
	s.AllocationSizeMin = min(s.AllocationSizeMin, size)
	s.AllocationSizeMax = max(s.AllocationSizeMax, size)
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount
	s.UnusedRangeSizeMin = min(s.UnusedRangeSizeMin, other.UnusedRangeSizeMin)
	s.UnusedRangeSizeMax = max(s.UnusedRangeSizeMax, other.UnusedRangeSizeMax)
	s.AllocationSizeMin = min(s.AllocationSizeMin, other.AllocationSizeMin)
	s.AllocationSizeMax = max(s.AllocationSizeMax, other.AllocationSizeMax)
}

// PrintJson writes the statistics as fields of an already-open json object. Size ranges are only
// written once at least one sample has been recorded.
func (s *DetailedStatistics) PrintJson(json jwriter.ObjectState) {
	s.Statistics.PrintJson(json)
	json.Name("UnusedRanges").Int(s.UnusedRangeCount)

	if s.AllocationCount > 1 {
		sizes := json.Name("AllocationSize").Object()
		sizes.Name("Min").Int(s.AllocationSizeMin)
		sizes.Name("Max").Int(s.AllocationSizeMax)
		sizes.End()
	}

	if s.UnusedRangeCount > 1 {
		sizes := json.Name("UnusedRangeSize").Object()
		sizes.Name("Min").Int(s.UnusedRangeSizeMin)
		sizes.Name("Max").Int(s.UnusedRangeSizeMax)
		sizes.End()
	}
}
