package segment

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/storage"
	"github.com/ajitpratap0/strata/pkg/workerpool"
)

// GroupChunkType distinguishes regular column group translators from
// the JSON key stats variant, which keys and places its chunks by the
// main field they belong to.
type GroupChunkType int

const (
	// GroupChunkDefault is a regular column group.
	GroupChunkDefault GroupChunkType = iota
	// GroupChunkJSONKeyStats is the key stats variant.
	GroupChunkJSONKeyStats
)

// ResourceUsage is a (memory, disk) byte pair used by the caching
// engine for admission and eviction accounting.
type ResourceUsage struct {
	MemoryBytes int64
	DiskBytes   int64
}

// SizeEstimate pairs the steady-state footprint of a loaded cell with
// its transient peak while loading.
type SizeEstimate struct {
	Steady ResourceUsage
	Peak   ResourceUsage
}

// CellEntry is one materialized cell keyed by its cell id.
type CellEntry struct {
	CID   int64
	Chunk *GroupChunk
}

// TranslatorOptions configures a GroupChunkTranslator beyond what the
// manifest and load config provide.
type TranslatorOptions struct {
	ChunkType    GroupChunkType
	Priority     workerpool.Priority
	WarmupPolicy string // empty resolves against config defaults
}

// GroupChunkTranslator bridges the caching engine's abstract cell ids
// to concrete storage reads for one column group. It owns the cell
// map, estimates cell sizes for cache accounting, and on a cache miss
// drives the batch loader to materialize requested cells into chunks.
type GroupChunkTranslator struct {
	segmentID int64
	chunkType GroupChunkType
	key       string

	manifest   *storage.ColumnGroupManifest
	fieldMetas map[int64]storage.FieldMeta
	files      []string

	backend storage.Backend
	pools   *workerpool.Pools
	cfg     *config.LoadConfig
	opts    TranslatorOptions
	warmup  WarmupPolicy

	cellMap *CellMap
	logger  *zap.Logger
}

// NewGroupChunkTranslator opens a translator for one column group.
// It reads every file's row-group metadata to build the cell map, so
// construction performs I/O; the map is immutable afterwards.
func NewGroupChunkTranslator(
	ctx context.Context,
	backend storage.Backend,
	pools *workerpool.Pools,
	cfg *config.LoadConfig,
	manifest *storage.ColumnGroupManifest,
	opts TranslatorOptions,
	logger *zap.Logger,
) (*GroupChunkTranslator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	key, err := translatorKey(manifest, opts.ChunkType)
	if err != nil {
		return nil, err
	}

	fileMetas := make([]storage.RowGroupMetadataList, 0, len(manifest.Files))
	for _, file := range manifest.Files {
		metas, merr := backend.RowGroupMetadata(ctx, file)
		if merr != nil {
			return nil, errors.Wrapf(merr, errors.ErrorTypeFile,
				"translator %s failed to read row group metadata from file %s", key, file)
		}
		fileMetas = append(fileMetas, metas)
	}

	cellMap, err := BuildCellMap(fileMetas, cfg.RowGroupsPerCell, manifest.RowCount)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeData,
			"translator %s failed to build cell map for column group %d", key, manifest.FieldID)
	}

	t := &GroupChunkTranslator{
		segmentID:  manifest.SegmentID,
		chunkType:  opts.ChunkType,
		key:        key,
		manifest:   manifest,
		fieldMetas: manifest.FieldMetaByID(),
		files:      manifest.Files,
		backend:    backend,
		pools:      pools,
		cfg:        cfg,
		opts:       opts,
		warmup:     ResolveWarmupPolicy(opts.WarmupPolicy, manifest.HasVectorField(), manifest.HasIndexedField(), cfg),
		cellMap:    cellMap,
		logger: logger.With(
			zap.String("translator", key),
			zap.Int64("segment_id", manifest.SegmentID),
			zap.Int64("column_group", manifest.FieldID),
		),
	}

	t.logger.Info("merged row groups into cells",
		zap.Int64("total_row_groups", cellMap.TotalRowGroups()),
		zap.Int("num_cells", cellMap.NumCells()),
		zap.Int64("row_groups_per_cell", cfg.RowGroupsPerCell))

	return t, nil
}

func translatorKey(manifest *storage.ColumnGroupManifest, chunkType GroupChunkType) (string, error) {
	switch chunkType {
	case GroupChunkDefault:
		return fmt.Sprintf("seg_%d_cg_%d", manifest.SegmentID, manifest.FieldID), nil
	case GroupChunkJSONKeyStats:
		if manifest.MainFieldID == 0 {
			return "", errors.New(errors.ErrorTypeValidation,
				"main field id is not set for json key stats group chunk")
		}
		return fmt.Sprintf("seg_%d_jks_%d_cg_%d", manifest.SegmentID, manifest.MainFieldID, manifest.FieldID), nil
	default:
		return "", errors.Newf(errors.ErrorTypeValidation, "unknown group chunk type: %d", chunkType)
	}
}

// NumCells returns the number of cache cells in the column group.
func (t *GroupChunkTranslator) NumCells() int {
	return t.cellMap.NumCells()
}

// CellIDOf maps a cache-layer unique id to its cell id. The mapping
// is the identity.
func (t *GroupChunkTranslator) CellIDOf(uid int64) int64 {
	return uid
}

// Key returns the translator's unique identity for logging and
// metrics.
func (t *GroupChunkTranslator) Key() string {
	return t.key
}

// WarmupPolicy returns the resolved cache warmup policy for this
// column group.
func (t *GroupChunkTranslator) WarmupPolicy() WarmupPolicy {
	return t.warmup
}

// CellMap exposes the addressing metadata, e.g. for inspection tools.
func (t *GroupChunkTranslator) CellMap() *CellMap {
	return t.cellMap
}

// EstimatedByteSizeOfCell returns the cache accounting estimate for a
// cell. The loading peak doubles the steady size: for mapped cells the
// on-disk copy can transiently exceed its final size while it is
// written before being mapped, and either backend holds the raw tables
// alongside the materialized chunk.
func (t *GroupChunkTranslator) EstimatedByteSizeOfCell(cid int64) (SizeEstimate, error) {
	if cid < 0 || cid >= int64(t.cellMap.NumCells()) {
		return SizeEstimate{}, errors.Newf(errors.ErrorTypeValidation,
			"translator %s cid %d is out of range, total cells: %d", t.key, cid, t.cellMap.NumCells())
	}
	cellSize := t.cellMap.CellByteSize(cid)

	if t.cfg.UseMmap {
		return SizeEstimate{
			Steady: ResourceUsage{MemoryBytes: 0, DiskBytes: cellSize},
			Peak:   ResourceUsage{MemoryBytes: 2 * cellSize, DiskBytes: 2 * cellSize},
		}, nil
	}
	return SizeEstimate{
		Steady: ResourceUsage{MemoryBytes: cellSize, DiskBytes: 0},
		Peak:   ResourceUsage{MemoryBytes: 2 * cellSize, DiskBytes: 0},
	}, nil
}

// GetCells materializes the requested cells, returned in the exact
// order of the requested cell ids regardless of completion order. Any
// unrecoverable error aborts the whole call; no partial chunk set is
// returned.
func (t *GroupChunkTranslator) GetCells(ctx context.Context, cids []int64) (result []CellEntry, err error) {
	ctx, span := observability.StartSpan(ctx, "GroupChunkTranslator.GetCells",
		attribute.String("translator", t.key),
		attribute.Int("num_cells", len(cids)))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	metrics.InflightLoads.Inc()
	defer func() {
		metrics.InflightLoads.Dec()
		metrics.LoadDuration.WithLabelValues(t.opts.Priority.String()).Observe(time.Since(start).Seconds())
		if err != nil && !errors.IsCancelled(err) {
			metrics.LoadErrors.WithLabelValues(errorLabel(err)).Inc()
		}
	}()

	if cerr := ctx.Err(); cerr != nil {
		return nil, errors.Cancelled(cerr, "get cells")
	}
	if len(cids) == 0 {
		return nil, nil
	}

	specs, err := t.buildCellSpecs(cids)
	if err != nil {
		return nil, err
	}

	ch, tasks, err := LoadCellBatch(ctx, t.backend, t.files, specs,
		t.cfg.FieldMemoryBudget, t.cfg.SliceSize, t.pools.Get(t.opts.Priority), t.logger)
	if err != nil {
		return nil, err
	}
	metrics.BatchesSubmitted.WithLabelValues(t.opts.Priority.String()).Add(float64(len(tasks)))

	t.logger.Info("submitted batch load tasks",
		zap.Int("num_tasks", len(tasks)),
		zap.Int("num_cells", len(cids)))

	// Drain loop: materialize each cell as it completes so peak memory
	// is bounded by in-flight cells, never the full requested set. On
	// error keep draining so no producer stays blocked on the channel.
	completed := make(map[int64]*GroupChunk, len(cids))
	var drainErr error
	for res := range ch {
		if drainErr != nil {
			res.Release()
			continue
		}
		if cerr := ctx.Err(); cerr != nil {
			drainErr = errors.Cancelled(cerr, "get cells")
			res.Release()
			continue
		}

		chunk, merr := t.materializeCell(res)
		res.Release()
		if merr != nil {
			drainErr = merr
			continue
		}
		completed[res.CID] = chunk
	}

	// Task errors surface only on the handles; wait after draining so
	// a failing task cannot deadlock the channel.
	waitErr := workerpool.WaitAll(tasks)

	if drainErr == nil && waitErr != nil {
		drainErr = waitErr
	}
	if drainErr != nil {
		for _, chunk := range completed {
			chunk.Release()
		}
		t.logger.Error("cell load failed", zap.Error(drainErr))
		return nil, drainErr
	}

	// Re-emit in the caller's requested order.
	result = make([]CellEntry, 0, len(cids))
	for _, cid := range cids {
		chunk, ok := completed[cid]
		if !ok {
			for _, c := range completed {
				c.Release()
			}
			return nil, errors.Newf(errors.ErrorTypeData,
				"translator %s cell %d not loaded", t.key, cid)
		}
		result = append(result, CellEntry{CID: cid, Chunk: chunk})
	}
	return result, nil
}

// buildCellSpecs validates the requested cids and resolves each to its
// physical location.
func (t *GroupChunkTranslator) buildCellSpecs(cids []int64) ([]CellSpec, error) {
	numCells := int64(t.cellMap.NumCells())
	seen := make(map[int64]struct{}, len(cids))
	for _, cid := range cids {
		if cid < 0 || cid >= numCells {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"translator %s cid %d is out of range, total cells: %d", t.key, cid, numCells)
		}
		// A repeated cid would alias one chunk to two result entries.
		if _, dup := seen[cid]; dup {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"translator %s cid %d requested more than once", t.key, cid)
		}
		seen[cid] = struct{}{}
	}

	specs := make([]CellSpec, 0, len(cids))
	for _, cid := range cids {
		r := t.cellMap.RowGroupRange(cid)
		fileIdx, localOff, err := t.cellMap.FileAndLocalOffset(r.Start)
		if err != nil {
			return nil, err
		}
		specs = append(specs, CellSpec{
			CID:           cid,
			FileIdx:       fileIdx,
			LocalRGOffset: localOff,
			RGCount:       r.End - r.Start,
		})
	}
	return specs, nil
}

// materializeCell merges a cell's tables into a chunk on the
// configured backend.
func (t *GroupChunkTranslator) materializeCell(res *CellLoadResult) (*GroupChunk, error) {
	backend := "memory"
	var chunk *GroupChunk
	var err error

	if t.cfg.UseMmap {
		backend = "mmap"
		chunk, err = NewMappedGroupChunk(res.Tables, t.fieldMetas, t.mappedCellPath(res.CID), t.cfg.MmapPopulate)
	} else {
		chunk, err = NewMemoryGroupChunk(res.Tables, t.fieldMetas)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeData,
			"translator %s failed to materialize cell %d", t.key, res.CID)
	}

	metrics.CellsLoaded.WithLabelValues(backend).Inc()
	metrics.BytesLoaded.Add(float64(t.cellMap.CellByteSize(res.CID)))
	return chunk, nil
}

// mappedCellPath derives the deterministic on-disk location of a
// mapped cell chunk.
func (t *GroupChunkTranslator) mappedCellPath(cid int64) string {
	var name string
	switch t.chunkType {
	case GroupChunkJSONKeyStats:
		name = fmt.Sprintf("seg_%d_jks_%d_cg_%d_%d", t.segmentID, t.manifest.MainFieldID, t.manifest.FieldID, cid)
	default:
		name = fmt.Sprintf("seg_%d_cg_%d_%d", t.segmentID, t.manifest.FieldID, cid)
	}
	return filepath.Join(t.cfg.MmapDir, name)
}

func errorLabel(err error) string {
	for _, et := range []errors.ErrorType{
		errors.ErrorTypeData, errors.ErrorTypeFile, errors.ErrorTypeValidation,
	} {
		if errors.IsType(err, et) {
			return string(et)
		}
	}
	return string(errors.ErrorTypeInternal)
}
