// Package storage abstracts the columnar storage backend consumed by
// the segment loading pipeline: opening row-group readers against
// column group files and listing per-file row-group metadata.
//
// The only shipped implementation reads local parquet files through
// arrow-go; remote backends plug in behind the same Backend interface.
package storage

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

const (
	// FieldIDMetadataKey is the arrow field metadata key carrying the
	// numeric field id, as written and read by the parquet layer.
	FieldIDMetadataKey = "PARQUET:field_id"

	// RowIDFieldID is the reserved field id of the internal row id
	// column. It is never exposed through materialized chunks.
	RowIDFieldID int64 = 0
)

// RowGroupMetadata describes one row group within a file.
type RowGroupMetadata struct {
	// ByteSize is the uncompressed in-memory size of the row group.
	ByteSize int64
	// NumRows is the number of rows in the row group.
	NumRows int64
}

// RowGroupMetadataList is the per-file row-group metadata, indexed by
// the row group's position within the file.
type RowGroupMetadataList []RowGroupMetadata

// TotalRows sums the row counts of all row groups.
func (l RowGroupMetadataList) TotalRows() int64 {
	var total int64
	for _, m := range l {
		total += m.NumRows
	}
	return total
}

// TotalByteSize sums the byte sizes of all row groups.
func (l RowGroupMetadataList) TotalByteSize() int64 {
	var total int64
	for _, m := range l {
		total += m.ByteSize
	}
	return total
}

// ReaderOptions configures a row-group reader.
type ReaderOptions struct {
	// Schema optionally restricts the read to the given fields,
	// matched by name. Nil reads all columns.
	Schema *arrow.Schema

	// BufferSize is the per-reader memory ceiling in bytes, applied
	// to buffered column stream reads. 0 uses the backend default.
	BufferSize int64
}

// Reader reads row groups sequentially from one file. A Reader is
// exclusively owned by the task that opened it.
type Reader interface {
	// SetRowGroupRange restricts subsequent reads to count row groups
	// starting at offset, both file-local.
	SetRowGroupRange(offset, count int64) error

	// ReadNextRowGroup reads the next row group in the configured
	// range as an arrow table. The caller owns the returned table.
	ReadNextRowGroup(ctx context.Context) (arrow.Table, error)

	// Close releases the reader.
	Close() error
}

// Backend opens readers and lists row-group metadata for column group
// files.
type Backend interface {
	// OpenReader opens a row-group reader for the file at path.
	OpenReader(ctx context.Context, path string, opts ReaderOptions) (Reader, error)

	// RowGroupMetadata lists the row-group metadata of the file at
	// path without reading any data pages.
	RowGroupMetadata(ctx context.Context, path string) (RowGroupMetadataList, error)
}
