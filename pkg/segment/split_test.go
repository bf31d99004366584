package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/storage"
)

const mib = 1 << 20

func uniformMetas(n int, byteSize int64) storage.RowGroupMetadataList {
	metas := make(storage.RowGroupMetadataList, n)
	for i := range metas {
		metas[i] = storage.RowGroupMetadata{ByteSize: byteSize, NumRows: 100}
	}
	return metas
}

// assertPartition checks that blocks are sorted, disjoint contiguous
// runs whose union equals the deduplicated input.
func assertPartition(t *testing.T, input []int64, blocks []RowGroupBlock) {
	t.Helper()

	covered := make(map[int64]bool)
	var prevEnd int64 = -1
	for _, b := range blocks {
		require.GreaterOrEqual(t, b.Count, int64(1))
		require.Greater(t, b.Offset, prevEnd)
		for i := int64(0); i < b.Count; i++ {
			covered[b.Offset+i] = true
		}
		prevEnd = b.Offset + b.Count - 1
	}

	want := make(map[int64]bool)
	for _, idx := range input {
		want[idx] = true
	}
	assert.Equal(t, want, covered)
}

func TestMemoryBasedSplitEmpty(t *testing.T) {
	s := NewMemoryBasedSplitStrategy(uniformMetas(4, 4*mib), 16*mib)
	assert.Empty(t, s.Split(nil))
}

func TestMemoryBasedSplitGapAndBudget(t *testing.T) {
	// 4 MiB row groups against a 16 MiB ceiling: 0,1,2 fit in one
	// block, the gap at 3,4 forces a new block for 5,6.
	s := NewMemoryBasedSplitStrategy(uniformMetas(7, 4*mib), 16*mib)
	input := []int64{0, 1, 2, 5, 6}

	blocks := s.Split(input)
	assert.Equal(t, []RowGroupBlock{{Offset: 0, Count: 3}, {Offset: 5, Count: 2}}, blocks)
	assertPartition(t, input, blocks)
}

func TestMemoryBasedSplitBudgetBoundary(t *testing.T) {
	// Exactly at the ceiling is still allowed: 4 groups of 4 MiB sum
	// to 16 MiB, the 5th exceeds it.
	s := NewMemoryBasedSplitStrategy(uniformMetas(5, 4*mib), 16*mib)

	blocks := s.Split([]int64{0, 1, 2, 3, 4})
	assert.Equal(t, []RowGroupBlock{{Offset: 0, Count: 4}, {Offset: 4, Count: 1}}, blocks)
}

func TestMemoryBasedSplitOversizedSingle(t *testing.T) {
	// A row group larger than the ceiling still gets a block of its
	// own.
	s := NewMemoryBasedSplitStrategy(uniformMetas(2, 32*mib), 16*mib)

	blocks := s.Split([]int64{0, 1})
	assert.Equal(t, []RowGroupBlock{{Offset: 0, Count: 1}, {Offset: 1, Count: 1}}, blocks)
}

func TestMemoryBasedSplitDeduplicatesAndSorts(t *testing.T) {
	s := NewMemoryBasedSplitStrategy(uniformMetas(4, mib), 16*mib)

	blocks := s.Split([]int64{2, 0, 1, 2, 0})
	assert.Equal(t, []RowGroupBlock{{Offset: 0, Count: 3}}, blocks)
}

func TestParallelDegreeSplitEmpty(t *testing.T) {
	s := NewParallelDegreeSplitStrategy(4)
	assert.Empty(t, s.Split(nil))
}

func TestParallelDegreeSplitZeroDegree(t *testing.T) {
	s := NewParallelDegreeSplitStrategy(0)
	assert.Empty(t, s.Split([]int64{0, 1, 2}))
}

func TestParallelDegreeSplitFewerThanDegree(t *testing.T) {
	// Not enough work to fill all workers: one block per maximal
	// contiguous run, no further splitting.
	s := NewParallelDegreeSplitStrategy(8)
	input := []int64{0, 1, 5, 6}

	blocks := s.Split(input)
	assert.Equal(t, []RowGroupBlock{{Offset: 0, Count: 2}, {Offset: 5, Count: 2}}, blocks)
	assertPartition(t, input, blocks)
}

func TestParallelDegreeSplitCapsBlockSize(t *testing.T) {
	// 10 contiguous indices at degree 3: ceil(10/3)=4 caps each block.
	s := NewParallelDegreeSplitStrategy(3)
	input := []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	blocks := s.Split(input)
	require.Len(t, blocks, 3)
	assert.Equal(t, []RowGroupBlock{
		{Offset: 0, Count: 4},
		{Offset: 4, Count: 4},
		{Offset: 8, Count: 2},
	}, blocks)
	assertPartition(t, input, blocks)
}

func TestParallelDegreeSplitRespectsGaps(t *testing.T) {
	s := NewParallelDegreeSplitStrategy(2)
	input := []int64{0, 1, 2, 10, 11, 12}

	blocks := s.Split(input)
	// avg block size is ceil(6/2)=3; the gap already splits the runs.
	assert.Equal(t, []RowGroupBlock{{Offset: 0, Count: 3}, {Offset: 10, Count: 3}}, blocks)
	assertPartition(t, input, blocks)
}

func TestParallelDegreeSplitBlockCountBound(t *testing.T) {
	// When there are more indices than the degree, at most degree
	// blocks result for a single contiguous run.
	for degree := uint64(1); degree <= 6; degree++ {
		input := make([]int64, 13)
		for i := range input {
			input[i] = int64(i)
		}
		blocks := NewParallelDegreeSplitStrategy(degree).Split(input)
		assert.LessOrEqual(t, len(blocks), int(degree), "degree %d", degree)
		assertPartition(t, input, blocks)
	}
}
