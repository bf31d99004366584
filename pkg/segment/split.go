// Package segment implements the read-side translation between a
// column group's on-disk row groups and the cache-addressable cells
// consumed by the caching engine, together with the batched async
// loading pipeline that materializes cells into chunks.
package segment

import (
	"sort"

	"github.com/ajitpratap0/strata/pkg/storage"
)

// RowGroupBlock is a contiguous run of row-group indices within one
// file, the unit of work for one load task.
type RowGroupBlock struct {
	Offset int64 // start of the row group block
	Count  int64 // number of row groups in the block
}

// SplitStrategy splits a set of row-group indices into contiguous
// blocks. Input indices are deduplicated and sorted internally; output
// blocks are sorted by offset, disjoint, and their union equals the
// deduplicated input.
type SplitStrategy interface {
	Split(rowGroups []int64) []RowGroupBlock
}

// sortedUnique returns the input sorted ascending with duplicates
// removed, without mutating the input.
func sortedUnique(in []int64) []int64 {
	out := make([]int64, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

// MemoryBasedSplitStrategy extends a block while the next index is
// contiguous and the cumulative byte size stays within the limit.
// A single row group larger than the limit still forms its own block.
type MemoryBasedSplitStrategy struct {
	metas       storage.RowGroupMetadataList
	memoryLimit int64
}

// NewMemoryBasedSplitStrategy creates a memory-based strategy over the
// given file-local row group metadata. limit <= 0 falls back to the
// default block memory ceiling.
func NewMemoryBasedSplitStrategy(metas storage.RowGroupMetadataList, limit int64) *MemoryBasedSplitStrategy {
	if limit <= 0 {
		limit = 16 << 20
	}
	return &MemoryBasedSplitStrategy{metas: metas, memoryLimit: limit}
}

// Split implements SplitStrategy.
func (s *MemoryBasedSplitStrategy) Split(rowGroups []int64) []RowGroupBlock {
	if len(rowGroups) == 0 {
		return nil
	}

	sorted := sortedUnique(rowGroups)

	var blocks []RowGroupBlock
	currentStart := sorted[0]
	currentCount := int64(1)
	currentMemory := s.metas[currentStart].ByteSize

	for _, next := range sorted[1:] {
		nextMemory := s.metas[next].ByteSize
		if next == currentStart+currentCount && currentMemory+nextMemory <= s.memoryLimit {
			currentCount++
			currentMemory += nextMemory
			continue
		}

		blocks = append(blocks, RowGroupBlock{Offset: currentStart, Count: currentCount})
		currentStart = next
		currentCount = 1
		currentMemory = nextMemory
	}

	return append(blocks, RowGroupBlock{Offset: currentStart, Count: currentCount})
}

// ParallelDegreeSplitStrategy coalesces indices into maximal contiguous
// runs and, when there are more indices than the target degree,
// re-splits each run so at most the effective degree of tasks results.
type ParallelDegreeSplitStrategy struct {
	parallelDegree uint64
}

// NewParallelDegreeSplitStrategy creates a parallelism-based strategy.
func NewParallelDegreeSplitStrategy(parallelDegree uint64) *ParallelDegreeSplitStrategy {
	return &ParallelDegreeSplitStrategy{parallelDegree: parallelDegree}
}

// Split implements SplitStrategy.
func (s *ParallelDegreeSplitStrategy) Split(rowGroups []int64) []RowGroupBlock {
	if len(rowGroups) == 0 {
		return nil
	}

	sorted := sortedUnique(rowGroups)

	actualDegree := s.parallelDegree
	if n := uint64(len(sorted)); n < actualDegree {
		actualDegree = n
	}
	if actualDegree == 0 {
		return nil
	}

	// Not enough work to fill all workers: one block per maximal run.
	if uint64(len(sorted)) <= actualDegree {
		return continuousBlocks(sorted, int64(len(sorted)))
	}

	avgBlockSize := (int64(len(sorted)) + int64(actualDegree) - 1) / int64(actualDegree)
	return continuousBlocks(sorted, avgBlockSize)
}

// continuousBlocks groups sorted indices into contiguous runs capped
// at maxBlockSize.
func continuousBlocks(sorted []int64, maxBlockSize int64) []RowGroupBlock {
	var blocks []RowGroupBlock
	currentStart := sorted[0]
	currentCount := int64(1)

	for _, next := range sorted[1:] {
		if next == currentStart+currentCount && currentCount < maxBlockSize {
			currentCount++
			continue
		}
		blocks = append(blocks, RowGroupBlock{Offset: currentStart, Count: currentCount})
		currentStart = next
		currentCount = 1
	}

	return append(blocks, RowGroupBlock{Offset: currentStart, Count: currentCount})
}
