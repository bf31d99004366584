package segment

import (
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/storage"
)

// CellRange is a half-open range [Start, End) of global row-group
// indices belonging to one cell.
type CellRange struct {
	Start int64
	End   int64
}

// CellMap holds the immutable cell/row-group addressing metadata of
// one column group. It is built once when the column group's
// translator is opened and never mutated afterwards.
//
// Cells never span files: each file's row-group run is chunked into
// fixed windows, the last window per file possibly shorter. Cell ids
// are assigned in file order then window order, so the cell id is the
// position in cellRanges.
type CellMap struct {
	// filePrefixSum[i] is the number of row groups in files before
	// file i; length is num files + 1.
	filePrefixSum []int64

	// cellRanges maps cell id to its global row-group range.
	cellRanges []CellRange

	// numRowsUntilCell[i] is the number of rows in cells before cell
	// i; length is num cells + 1.
	numRowsUntilCell []int64

	// cellByteSize is the summed in-memory byte size per cell.
	cellByteSize []int64

	totalRowGroups int64
}

// BuildCellMap constructs the cell map from per-file row-group
// metadata. The final cumulative row count must equal expectedRows;
// a mismatch indicates data loss or corruption and fails construction.
func BuildCellMap(fileMetas []storage.RowGroupMetadataList, rowGroupsPerCell int64, expectedRows int64) (*CellMap, error) {
	if rowGroupsPerCell < 1 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "row groups per cell must be >= 1, got %d", rowGroupsPerCell)
	}

	m := &CellMap{
		filePrefixSum: make([]int64, 1, len(fileMetas)+1),
	}

	var totalRowGroups int64
	for _, metas := range fileMetas {
		totalRowGroups += int64(len(metas))
		m.filePrefixSum = append(m.filePrefixSum, m.filePrefixSum[len(m.filePrefixSum)-1]+int64(len(metas)))
	}
	m.totalRowGroups = totalRowGroups

	// Flatten per-row-group accounting in global index order.
	rowCounts := make([]int64, 0, totalRowGroups)
	byteSizes := make([]int64, 0, totalRowGroups)
	for _, metas := range fileMetas {
		for _, rg := range metas {
			rowCounts = append(rowCounts, rg.NumRows)
			byteSizes = append(byteSizes, rg.ByteSize)
		}
	}

	// Chunk each file's row-group run into fixed windows.
	var globalOffset int64
	for _, metas := range fileMetas {
		fileCount := int64(len(metas))
		for localStart := int64(0); localStart < fileCount; localStart += rowGroupsPerCell {
			localEnd := localStart + rowGroupsPerCell
			if localEnd > fileCount {
				localEnd = fileCount
			}
			m.cellRanges = append(m.cellRanges, CellRange{
				Start: globalOffset + localStart,
				End:   globalOffset + localEnd,
			})
		}
		globalOffset += fileCount
	}

	numCells := len(m.cellRanges)
	m.numRowsUntilCell = make([]int64, 1, numCells+1)
	m.cellByteSize = make([]int64, 0, numCells)

	var cumulativeRows int64
	for _, r := range m.cellRanges {
		var cellSize int64
		for i := r.Start; i < r.End; i++ {
			cumulativeRows += rowCounts[i]
			cellSize += byteSizes[i]
		}
		m.numRowsUntilCell = append(m.numRowsUntilCell, cumulativeRows)
		m.cellByteSize = append(m.cellByteSize, cellSize)
	}

	if cumulativeRows != expectedRows {
		return nil, errors.Newf(errors.ErrorTypeData,
			"data lost while loading column group: found num rows %d but expected %d",
			cumulativeRows, expectedRows)
	}

	return m, nil
}

// NumCells returns the number of cells.
func (m *CellMap) NumCells() int {
	return len(m.cellRanges)
}

// NumFiles returns the number of files backing the column group.
func (m *CellMap) NumFiles() int {
	return len(m.filePrefixSum) - 1
}

// TotalRowGroups returns the row group count across all files.
func (m *CellMap) TotalRowGroups() int64 {
	return m.totalRowGroups
}

// RowGroupRange returns the global row-group range of a cell. The cell
// id must be < NumCells.
func (m *CellMap) RowGroupRange(cid int64) CellRange {
	return m.cellRanges[cid]
}

// CellByteSize returns the summed in-memory byte size of a cell. The
// cell id must be < NumCells.
func (m *CellMap) CellByteSize(cid int64) int64 {
	return m.cellByteSize[cid]
}

// CellNumRows returns the number of rows in a cell. The cell id must
// be < NumCells.
func (m *CellMap) CellNumRows(cid int64) int64 {
	return m.numRowsUntilCell[cid+1] - m.numRowsUntilCell[cid]
}

// NumRowsUntilCell returns the cumulative row count prefix sum, one
// entry per cell plus the leading zero.
func (m *CellMap) NumRowsUntilCell() []int64 {
	return m.numRowsUntilCell
}

// FileAndLocalOffset resolves a global row-group index to its file and
// file-local offset.
func (m *CellMap) FileAndLocalOffset(globalIdx int64) (int, int64, error) {
	for fileIdx := 0; fileIdx < len(m.filePrefixSum)-1; fileIdx++ {
		if globalIdx < m.filePrefixSum[fileIdx+1] {
			return fileIdx, globalIdx - m.filePrefixSum[fileIdx], nil
		}
	}
	return 0, 0, errors.Newf(errors.ErrorTypeValidation,
		"global row group index %d is out of range, total row groups across all files: %d",
		globalIdx, m.totalRowGroups)
}

// GlobalRowGroupIndex resolves a (file, local offset) pair to the
// global row-group index.
func (m *CellMap) GlobalRowGroupIndex(fileIdx int, localOffset int64) (int64, error) {
	if fileIdx < 0 || fileIdx >= len(m.filePrefixSum)-1 {
		return 0, errors.Newf(errors.ErrorTypeValidation,
			"file index %d is out of range, total files: %d", fileIdx, len(m.filePrefixSum)-1)
	}

	fileStart := m.filePrefixSum[fileIdx]
	fileEnd := m.filePrefixSum[fileIdx+1]
	if localOffset < 0 || localOffset >= fileEnd-fileStart {
		return 0, errors.Newf(errors.ErrorTypeValidation,
			"row group offset %d is out of range for file %d, total row groups in file: %d",
			localOffset, fileIdx, fileEnd-fileStart)
	}

	return fileStart + localOffset, nil
}
