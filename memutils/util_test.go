package memutils_test

import (
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/deferred/memutils"
)

func TestCheckPow2(t *testing.T) {
	for _, value := range []int{1, 2, 64, 1 << 20} {
		require.NoError(t, memutils.CheckPow2(value, "value"))
	}
	for _, value := range []int{0, -4, 3, 96} {
		require.ErrorIs(t, memutils.CheckPow2(value, "value"), memutils.ErrPowerOfTwo)
	}
}

func TestAlign(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 256))
	require.Equal(t, 256, memutils.AlignUp(1, 256))
	require.Equal(t, 256, memutils.AlignUp(256, 256))
	require.Equal(t, 13, memutils.AlignUp(13, 1))
	require.Equal(t, uint64(512), memutils.AlignUp(uint64(300), 256))

	require.Equal(t, 256, memutils.AlignDown(511, 256))
	require.Equal(t, 13, memutils.AlignDown(13, 0))
}

func TestDetailedStatistics(t *testing.T) {
	var block memutils.DetailedStatistics
	block.Clear()
	block.BlockCount = 1
	block.BlockBytes = 1024
	block.AddAllocation(100)
	block.AddAllocation(300)
	block.AddUnusedRange(624)

	var total memutils.DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&block)
	total.AddDetailedStatistics(&block)

	require.Equal(t, 2, total.BlockCount)
	require.Equal(t, 4, total.AllocationCount)
	require.Equal(t, 800, total.AllocationBytes)
	require.Equal(t, 1248, total.UnusedBytes())
	require.Equal(t, 100, total.AllocationSizeMin)
	require.Equal(t, 300, total.AllocationSizeMax)
	require.Equal(t, 2, total.UnusedRangeCount)

	w := jwriter.NewWriter()
	object := w.Object()
	total.PrintJson(object)
	object.End()
	require.NoError(t, w.Error())
	require.JSONEq(t, `{
		"BlockCount": 2, "BlockBytes": 2048, "AllocationCount": 4, "AllocationBytes": 800, "UnusedRanges": 2,
		"AllocationSize": {"Min": 100, "Max": 300},
		"UnusedRangeSize": {"Min": 624, "Max": 624}
	}`, string(w.Bytes()))
}
