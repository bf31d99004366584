package segment

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/storage"
	"github.com/ajitpratap0/strata/pkg/workerpool"
)

// CellSpec binds a cell id to its physical location: one file and a
// contiguous file-local row-group range.
type CellSpec struct {
	CID           int64
	FileIdx       int
	LocalRGOffset int64
	RGCount       int64
}

// CellLoadResult carries the tables read for one cell, one per row
// group in read order.
type CellLoadResult struct {
	CID    int64
	Tables []arrow.Table
}

// Release releases all tables held by the result.
func (r *CellLoadResult) Release() {
	for _, t := range r.Tables {
		t.Release()
	}
	r.Tables = nil
}

// cellBatch is a run of cells whose row groups are contiguous within
// one file, coalesced into a single I/O task.
type cellBatch struct {
	fileIdx  int
	rgOffset int64
	rgCount  int64
	cells    []CellSpec
}

// buildCellBatches greedily groups sorted specs: a batch keeps
// accumulating while the next spec is on the same file, immediately
// contiguous with the batch's row-group range, and the batch is below
// the quota. specs must already be sorted by (file, offset).
func buildCellBatches(specs []CellSpec, cellsPerBatch int) []cellBatch {
	var batches []cellBatch
	var current cellBatch

	for _, spec := range specs {
		if len(current.cells) > 0 {
			if spec.FileIdx != current.fileIdx ||
				spec.LocalRGOffset != current.rgOffset+current.rgCount ||
				len(current.cells) >= cellsPerBatch {
				batches = append(batches, current)
				current = cellBatch{}
			}
		}
		if len(current.cells) == 0 {
			current.fileIdx = spec.FileIdx
			current.rgOffset = spec.LocalRGOffset
			current.rgCount = 0
		}
		current.rgCount += spec.RGCount
		current.cells = append(current.cells, spec)
	}
	if len(current.cells) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// LoadCellBatch loads the requested cells from the column group files
// in IO-merged batches. Cell specs are sorted by (file, row-group
// offset) for sequential-read locality and coalesced into batches,
// each submitted as one task on the given pool. Every completed cell
// is pushed onto the returned channel as soon as its row groups have
// been read; the channel is closed exactly once after the last task
// finishes, on success, failure and cancellation alike.
//
// Task errors do not appear on the channel. The caller must drain the
// channel first and then wait on the returned task handles to observe
// deferred errors.
func LoadCellBatch(
	ctx context.Context,
	backend storage.Backend,
	files []string,
	specs []CellSpec,
	memoryBudget int64,
	sliceSize int64,
	pool *workerpool.Pool,
	logger *zap.Logger,
) (<-chan *CellLoadResult, []*workerpool.Task, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, spec := range specs {
		if spec.FileIdx < 0 || spec.FileIdx >= len(files) {
			return nil, nil, errors.Newf(errors.ErrorTypeValidation,
				"cell %d references file %d, column group has %d files", spec.CID, spec.FileIdx, len(files))
		}
		if spec.RGCount < 1 {
			return nil, nil, errors.Newf(errors.ErrorTypeValidation,
				"cell %d has row group count %d", spec.CID, spec.RGCount)
		}
	}

	if len(specs) == 0 {
		out := make(chan *CellLoadResult)
		close(out)
		return out, nil, nil
	}

	sorted := make([]CellSpec, len(specs))
	copy(sorted, specs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].FileIdx != sorted[j].FileIdx {
			return sorted[i].FileIdx < sorted[j].FileIdx
		}
		return sorted[i].LocalRGOffset < sorted[j].LocalRGOffset
	})

	parallelDegree := memoryBudget / sliceSize
	if parallelDegree < 1 {
		parallelDegree = 1
	}
	cellsPerBatch := (len(sorted) + int(parallelDegree) - 1) / int(parallelDegree)
	if cellsPerBatch < 1 {
		cellsPerBatch = 1
	}

	batches := buildCellBatches(sorted, cellsPerBatch)

	readerLimit := memoryBudget / int64(len(batches))
	if readerLimit < sliceSize {
		readerLimit = sliceSize
	}

	logger.Debug("grouped cells into load batches",
		zap.Int("num_cells", len(sorted)),
		zap.Int("num_batches", len(batches)),
		zap.Int("cells_per_batch", cellsPerBatch),
		zap.Int64("reader_memory_limit", readerLimit))

	// One slot per requested cell: producers can always push without
	// waiting on the consumer. The submit loop below runs before the
	// caller sees the channel, so a push that blocked on a full channel
	// would deadlock against the pool's bounded submit queue.
	out := make(chan *CellLoadResult, len(sorted))
	remaining := int64(len(batches))
	remainingPtr := &remaining

	tasks := make([]*workerpool.Task, 0, len(batches))
	for _, batch := range batches {
		b := batch
		file := files[b.fileIdx]
		tasks = append(tasks, pool.Submit(ctx, func(ctx context.Context) error {
			// Only the task whose decrement observes zero closes the
			// channel; runs on every exit path including panic.
			defer func() {
				if atomic.AddInt64(remainingPtr, -1) == 0 {
					close(out)
				}
			}()
			return runCellBatch(ctx, backend, file, b, readerLimit, out)
		}))
	}

	return out, tasks, nil
}

// runCellBatch executes one batch: open a reader scoped to the batch's
// file, seek to its row-group range, read row groups sequentially and
// push each cell's result as soon as its reads complete.
func runCellBatch(
	ctx context.Context,
	backend storage.Backend,
	file string,
	b cellBatch,
	readerLimit int64,
	out chan<- *CellLoadResult,
) (err error) {
	if cerr := ctx.Err(); cerr != nil {
		return errors.Cancelled(cerr, "cell batch load")
	}

	reader, err := backend.OpenReader(ctx, file, storage.ReaderOptions{BufferSize: readerLimit})
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to open reader for file %s", file)
	}
	defer func() {
		cerr := reader.Close()
		if err == nil && cerr != nil {
			err = errors.Wrapf(cerr, errors.ErrorTypeFile, "failed to close reader for file %s", file)
		}
	}()

	if serr := reader.SetRowGroupRange(b.rgOffset, b.rgCount); serr != nil {
		return errors.Wrapf(serr, errors.ErrorTypeFile,
			"failed to set row group range [%d, %d) for file %s", b.rgOffset, b.rgOffset+b.rgCount, file)
	}

	for _, cell := range b.cells {
		result := &CellLoadResult{
			CID:    cell.CID,
			Tables: make([]arrow.Table, 0, cell.RGCount),
		}
		for i := int64(0); i < cell.RGCount; i++ {
			tbl, rerr := reader.ReadNextRowGroup(ctx)
			if rerr != nil {
				result.Release()
				return errors.Wrapf(rerr, errors.ErrorTypeFile,
					"failed to read row group %d of file %s", cell.LocalRGOffset+i, file)
			}
			metrics.RowGroupsRead.Inc()
			result.Tables = append(result.Tables, tbl)
		}

		select {
		case out <- result:
		case <-ctx.Done():
			result.Release()
			return errors.Cancelled(ctx.Err(), "cell batch load")
		}
	}
	return nil
}

// RowGroupData is one row group read by the strategy-driven loader.
type RowGroupData struct {
	FileIdx     int
	RowGroupIdx int64
	Table       arrow.Table
}

// RowGroupBlockData wraps the row groups of one block.
type RowGroupBlockData struct {
	Tables []RowGroupData
}

// Release releases all tables held by the block.
func (d *RowGroupBlockData) Release() {
	for _, t := range d.Tables {
		t.Table.Release()
	}
	d.Tables = nil
}

// LoadRowGroups loads per-file row-group lists using the given split
// strategy. Blocks within a file are read in parallel on the pool but
// streamed to the channel in file then block order. The channel is
// closed on every exit path. Unlike LoadCellBatch this call is
// synchronous: it returns after all blocks are pushed or on the first
// error.
func LoadRowGroups(
	ctx context.Context,
	backend storage.Backend,
	files []string,
	rowGroupLists [][]int64,
	strategy SplitStrategy,
	out chan<- *RowGroupBlockData,
	memoryBudget int64,
	sliceSize int64,
	pool *workerpool.Pool,
	logger *zap.Logger,
) (err error) {
	defer close(out)

	if logger == nil {
		logger = zap.NewNop()
	}
	if len(files) != len(rowGroupLists) {
		return errors.Newf(errors.ErrorTypeValidation,
			"number of files %d must match number of row group lists %d", len(files), len(rowGroupLists))
	}

	for fileIdx, file := range files {
		rowGroups := rowGroupLists[fileIdx]
		if len(rowGroups) == 0 {
			continue
		}

		blocks := strategy.Split(rowGroups)
		logger.Info("split row groups into blocks",
			zap.String("file", file),
			zap.Int("num_blocks", len(blocks)))
		if len(blocks) == 0 {
			continue
		}

		readerLimit := memoryBudget / int64(len(blocks))
		if readerLimit < sliceSize {
			readerLimit = sliceSize
		}

		results := make([]*RowGroupBlockData, len(blocks))
		tasks := make([]*workerpool.Task, 0, len(blocks))
		for i, block := range blocks {
			i, block := i, block
			fIdx := fileIdx
			f := file
			tasks = append(tasks, pool.Submit(ctx, func(ctx context.Context) error {
				data, berr := readBlock(ctx, backend, f, fIdx, block, readerLimit)
				if berr != nil {
					return berr
				}
				results[i] = data
				return nil
			}))
		}

		// Push completed blocks in block order; a failing block aborts
		// the whole load after all tasks of the file settle.
		werr := workerpool.WaitAll(tasks)
		if werr != nil {
			for _, r := range results {
				if r != nil {
					r.Release()
				}
			}
			return werr
		}

		for _, r := range results {
			select {
			case out <- r:
			case <-ctx.Done():
				r.Release()
				return errors.Cancelled(ctx.Err(), "row group load")
			}
		}
	}
	return nil
}

// readBlock reads one contiguous block of row groups from a file.
func readBlock(
	ctx context.Context,
	backend storage.Backend,
	file string,
	fileIdx int,
	block RowGroupBlock,
	readerLimit int64,
) (data *RowGroupBlockData, err error) {
	if cerr := ctx.Err(); cerr != nil {
		return nil, errors.Cancelled(cerr, "row group load")
	}

	reader, err := backend.OpenReader(ctx, file, storage.ReaderOptions{BufferSize: readerLimit})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to open reader for file %s", file)
	}
	defer func() {
		cerr := reader.Close()
		if err == nil && cerr != nil {
			err = errors.Wrapf(cerr, errors.ErrorTypeFile, "failed to close reader for file %s", file)
			if data != nil {
				data.Release()
				data = nil
			}
		}
	}()

	if serr := reader.SetRowGroupRange(block.Offset, block.Count); serr != nil {
		return nil, errors.Wrapf(serr, errors.ErrorTypeFile,
			"failed to set row group range [%d, %d) for file %s", block.Offset, block.Offset+block.Count, file)
	}

	data = &RowGroupBlockData{Tables: make([]RowGroupData, 0, block.Count)}
	for i := int64(0); i < block.Count; i++ {
		tbl, rerr := reader.ReadNextRowGroup(ctx)
		if rerr != nil {
			data.Release()
			return nil, errors.Wrapf(rerr, errors.ErrorTypeFile,
				"failed to read row group %d of file %s", block.Offset+i, file)
		}
		metrics.RowGroupsRead.Inc()
		data.Tables = append(data.Tables, RowGroupData{
			FileIdx:     fileIdx,
			RowGroupIdx: block.Offset + i,
			Table:       tbl,
		})
	}
	return data, nil
}
