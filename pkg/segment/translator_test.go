package segment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/storage"
	"github.com/ajitpratap0/strata/pkg/workerpool"
)

const testFieldID int64 = 101

// writeCellFixture writes a parquet file with numRGs row groups of
// rowsPerRG rows each. Both columns carry ascending values starting at
// base so cell contents are recognizable in assertions.
func writeCellFixture(t *testing.T, path string, rowsPerRG, numRGs int, base int64) {
	t.Helper()

	schema := arrow.NewSchema([]arrow.Field{
		{
			Name:     "row_id",
			Type:     arrow.PrimitiveTypes.Int64,
			Metadata: arrow.NewMetadata([]string{storage.FieldIDMetadataKey}, []string{"0"}),
		},
		{
			Name:     "value",
			Type:     arrow.PrimitiveTypes.Int64,
			Metadata: arrow.NewMetadata([]string{storage.FieldIDMetadataKey}, []string{fmt.Sprintf("%d", testFieldID)}),
		},
	}, nil)

	bld := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	for i := 0; i < rowsPerRG*numRGs; i++ {
		bld.Field(0).(*array.Int64Builder).Append(base + int64(i))
		bld.Field(1).(*array.Int64Builder).Append(base + int64(i))
	}
	rec := bld.NewRecord()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	rec.Release()
	bld.Release()
	defer tbl.Release()

	f, err := os.Create(path)
	require.NoError(t, err)

	props := parquet.NewWriterProperties(parquet.WithMaxRowGroupLength(int64(rowsPerRG)))
	w, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	require.NoError(t, w.WriteTable(tbl, int64(rowsPerRG)))
	require.NoError(t, w.Close())
}

// newTestColumnGroup writes a two-file column group: file 0 with 3 row
// groups of 4 rows (values 0..11), file 1 with 2 row groups of 4 rows
// (values 100..107). At 2 row groups per cell it maps to 3 cells.
func newTestColumnGroup(t *testing.T) *storage.ColumnGroupManifest {
	t.Helper()
	dir := t.TempDir()

	f0 := filepath.Join(dir, "cg_0.parquet")
	f1 := filepath.Join(dir, "cg_1.parquet")
	writeCellFixture(t, f0, 4, 3, 0)
	writeCellFixture(t, f1, 4, 2, 100)

	return &storage.ColumnGroupManifest{
		SegmentID: 1,
		FieldID:   testFieldID,
		RowCount:  20,
		Files:     []string{f0, f1},
		Fields: []storage.FieldMeta{
			{FieldID: testFieldID, Name: "value", DataType: "int64"},
		},
	}
}

func testLoadConfig(t *testing.T) *config.LoadConfig {
	t.Helper()
	return &config.LoadConfig{
		RowGroupsPerCell:    2,
		BlockMemoryLimit:    16 << 20,
		SliceSize:           16 << 20,
		FieldMemoryBudget:   64 << 20,
		MmapDir:             t.TempDir(),
		HighPriorityWorkers: 4,
		LowPriorityWorkers:  2,
	}
}

func newTestTranslator(t *testing.T, cfg *config.LoadConfig, opts TranslatorOptions) (*GroupChunkTranslator, *storage.ColumnGroupManifest) {
	t.Helper()

	manifest := newTestColumnGroup(t)
	pools := workerpool.NewPools(cfg.HighPriorityWorkers, cfg.LowPriorityWorkers, nil)
	t.Cleanup(pools.Close)

	tr, err := NewGroupChunkTranslator(context.Background(),
		storage.NewLocalBackend(nil), pools, cfg, manifest, opts, nil)
	require.NoError(t, err)
	return tr, manifest
}

func TestNewGroupChunkTranslator(t *testing.T) {
	tr, _ := newTestTranslator(t, testLoadConfig(t), TranslatorOptions{})

	assert.Equal(t, "seg_1_cg_101", tr.Key())
	assert.Equal(t, 3, tr.NumCells())
	assert.Equal(t, int64(5), tr.CellMap().TotalRowGroups())

	// Unique ids map straight through to cell ids.
	for uid := int64(0); uid < 3; uid++ {
		assert.Equal(t, uid, tr.CellIDOf(uid))
	}
}

func TestTranslatorKeyVariants(t *testing.T) {
	m := &storage.ColumnGroupManifest{SegmentID: 7, FieldID: 3, MainFieldID: 5}

	key, err := translatorKey(m, GroupChunkDefault)
	require.NoError(t, err)
	assert.Equal(t, "seg_7_cg_3", key)

	key, err = translatorKey(m, GroupChunkJSONKeyStats)
	require.NoError(t, err)
	assert.Equal(t, "seg_7_jks_5_cg_3", key)

	m.MainFieldID = 0
	_, err = translatorKey(m, GroupChunkJSONKeyStats)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestNewGroupChunkTranslatorRowCountMismatch(t *testing.T) {
	manifest := newTestColumnGroup(t)
	manifest.RowCount = 21

	pools := workerpool.NewPools(2, 1, nil)
	defer pools.Close()

	_, err := NewGroupChunkTranslator(context.Background(),
		storage.NewLocalBackend(nil), pools, testLoadConfig(t), manifest, TranslatorOptions{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

// cellWant maps each cell to the values its rows must carry, given the
// fixture layout.
var cellWant = map[int64][]int64{
	0: {0, 1, 2, 3, 4, 5, 6, 7},
	1: {8, 9, 10, 11},
	2: {100, 101, 102, 103, 104, 105, 106, 107},
}

func assertCells(t *testing.T, cids []int64, entries []CellEntry, mapped bool) {
	t.Helper()
	require.Len(t, entries, len(cids))
	for i, e := range entries {
		assert.Equal(t, cids[i], e.CID, "entry %d out of requested order", i)
		assert.Equal(t, mapped, e.Chunk.Mapped())

		col, ok := e.Chunk.Column(testFieldID)
		require.True(t, ok)
		assert.Equal(t, cellWant[e.CID], chunkValues(t, col), "cell %d", e.CID)
		assert.Equal(t, int64(len(cellWant[e.CID])), e.Chunk.NumRows())

		_, hasRowID := e.Chunk.Column(storage.RowIDFieldID)
		assert.False(t, hasRowID)
	}
}

func TestGetCellsInRequestOrder(t *testing.T) {
	tr, _ := newTestTranslator(t, testLoadConfig(t), TranslatorOptions{})

	// Reversed request order must be preserved in the result even
	// though loading reorders cells for sequential reads.
	cids := []int64{2, 1, 0}
	entries, err := tr.GetCells(context.Background(), cids)
	require.NoError(t, err)
	defer func() {
		for _, e := range entries {
			e.Chunk.Release()
		}
	}()

	assertCells(t, cids, entries, false)
}

func TestGetCellsSubset(t *testing.T) {
	tr, _ := newTestTranslator(t, testLoadConfig(t), TranslatorOptions{})

	entries, err := tr.GetCells(context.Background(), []int64{1})
	require.NoError(t, err)
	defer entries[0].Chunk.Release()

	assertCells(t, []int64{1}, entries, false)
}

func TestGetCellsEmpty(t *testing.T) {
	tr, _ := newTestTranslator(t, testLoadConfig(t), TranslatorOptions{})

	entries, err := tr.GetCells(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestGetCellsOutOfRange(t *testing.T) {
	tr, _ := newTestTranslator(t, testLoadConfig(t), TranslatorOptions{})

	_, err := tr.GetCells(context.Background(), []int64{0, 3})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = tr.GetCells(context.Background(), []int64{-1})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestGetCellsRejectsDuplicates(t *testing.T) {
	tr, _ := newTestTranslator(t, testLoadConfig(t), TranslatorOptions{})

	// A repeated cid would alias one chunk to two result entries, so
	// the request is rejected before any cell is loaded.
	_, err := tr.GetCells(context.Background(), []int64{0, 1, 0})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestGetCellsCancelled(t *testing.T) {
	tr, _ := newTestTranslator(t, testLoadConfig(t), TranslatorOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.GetCells(ctx, []int64{0})
	require.Error(t, err)
	assert.True(t, errors.IsCancelled(err))
}

func TestGetCellsMapped(t *testing.T) {
	cfg := testLoadConfig(t)
	cfg.UseMmap = true

	tr, _ := newTestTranslator(t, cfg, TranslatorOptions{})

	cids := []int64{0, 2}
	entries, err := tr.GetCells(context.Background(), cids)
	require.NoError(t, err)
	defer func() {
		for _, e := range entries {
			e.Chunk.Release()
		}
	}()

	assertCells(t, cids, entries, true)
	assert.Equal(t, filepath.Join(cfg.MmapDir, "seg_1_cg_101_0"), entries[0].Chunk.MappedPath())
	assert.FileExists(t, entries[1].Chunk.MappedPath())
}

func TestEstimatedByteSizeOfCell(t *testing.T) {
	cfg := testLoadConfig(t)
	tr, _ := newTestTranslator(t, cfg, TranslatorOptions{})

	for cid := int64(0); cid < int64(tr.NumCells()); cid++ {
		cellSize := tr.CellMap().CellByteSize(cid)
		require.Greater(t, cellSize, int64(0))

		est, err := tr.EstimatedByteSizeOfCell(cid)
		require.NoError(t, err)
		assert.Equal(t, ResourceUsage{MemoryBytes: cellSize}, est.Steady)
		assert.Equal(t, ResourceUsage{MemoryBytes: 2 * cellSize}, est.Peak)
	}

	_, err := tr.EstimatedByteSizeOfCell(int64(tr.NumCells()))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestEstimatedByteSizeOfCellMapped(t *testing.T) {
	cfg := testLoadConfig(t)
	cfg.UseMmap = true
	tr, _ := newTestTranslator(t, cfg, TranslatorOptions{})

	cellSize := tr.CellMap().CellByteSize(0)
	est, err := tr.EstimatedByteSizeOfCell(0)
	require.NoError(t, err)
	assert.Equal(t, ResourceUsage{DiskBytes: cellSize}, est.Steady)
	assert.Equal(t, ResourceUsage{MemoryBytes: 2 * cellSize, DiskBytes: 2 * cellSize}, est.Peak)
}
