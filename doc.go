// Package strata maps parquet row groups of columnar segment files
// onto fixed-granularity cache cells and loads them on demand through
// memory-budgeted batch reads.
//
// A segment's columns are stored as column groups, each backed by one
// or more parquet files. The caching layer above addresses data by
// abstract cell id; strata translates those ids to physical row-group
// ranges, plans the reads under a memory budget, and materializes each
// cell as arrow column chunks, either heap-resident or memory-mapped.
//
// # Architecture
//
// The pipeline has three stages:
//
// 1. Cell mapping: each file's row groups are merged into cells of a
// fixed row-group count; cells never span files. The resulting cell
// map is immutable per column group.
//
// 2. Load planning: requested cells are sorted by file position and
// coalesced into contiguous batches, bounded so that concurrent
// readers stay within the configured memory budget. Row groups can
// also be split into blocks by cumulative byte size or by a parallel
// degree for strategy-driven loads.
//
// 3. Materialization: each loaded cell becomes a group chunk holding
// one arrow chunked array per field, keyed by field id. With mmap
// enabled the chunk is serialized to an IPC file and mapped instead of
// kept on heap.
//
// # Quick Start
//
// Load cells of a column group:
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/strata/pkg/config"
//	    "github.com/ajitpratap0/strata/pkg/segment"
//	    "github.com/ajitpratap0/strata/pkg/storage"
//	    "github.com/ajitpratap0/strata/pkg/workerpool"
//	)
//
//	cfg := config.Default()
//	pools := workerpool.NewPools(cfg.HighPriorityWorkers, cfg.LowPriorityWorkers, nil)
//	defer pools.Close()
//
//	manifest, _ := storage.ReadManifest("cg.json")
//	translator, _ := segment.NewGroupChunkTranslator(context.Background(),
//	    storage.NewLocalBackend(nil), pools, cfg, manifest, segment.TranslatorOptions{}, nil)
//
//	entries, _ := translator.GetCells(context.Background(), []int64{0, 1, 2})
//	for _, e := range entries {
//	    defer e.Chunk.Release()
//	    // use e.Chunk.Column(fieldID)
//	}
//
// # Key Packages
//
//	pkg/segment    - Cell mapping, split strategies, batch loading, translation
//	pkg/storage    - Parquet backend and column group manifests
//	pkg/workerpool - Priority worker pools serving load tasks
//	pkg/mmap       - Memory-mapped cell chunk files
//	pkg/config     - Loading pipeline configuration
//	pkg/errors     - Structured error handling
//	pkg/logger     - Structured logging
//	pkg/metrics    - Load pipeline metrics
package strata
