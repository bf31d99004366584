// Package storage: parquet implementation of the Backend interface
package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// DefaultReadBufferSize is the buffered-stream read limit applied when
// the caller does not supply one.
const DefaultReadBufferSize = 4 << 20 // 4 MiB

// LocalBackend reads parquet column group files from the local
// filesystem (or any filesystem mounted into it).
type LocalBackend struct {
	mem memory.Allocator
}

// NewLocalBackend creates a parquet backend using the given allocator.
// A nil allocator falls back to the default.
func NewLocalBackend(mem memory.Allocator) *LocalBackend {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &LocalBackend{mem: mem}
}

// OpenReader opens a row-group reader for a parquet file.
func (b *LocalBackend) OpenReader(ctx context.Context, path string, opts ReaderOptions) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}

	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultReadBufferSize
	}
	props := parquet.NewReaderProperties(b.mem)
	props.BufferedStreamEnabled = true
	props.BufferSize = bufferSize

	pf, err := file.NewParquetReader(f, file.WithReadProps(props))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create parquet reader for %s: %w", path, err)
	}

	ar, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, b.mem)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("failed to create arrow reader for %s: %w", path, err)
	}

	r := &parquetRowGroupReader{
		path:       path,
		fileReader: pf,
		arrow:      ar,
		rgCount:    int64(pf.NumRowGroups()),
	}
	// Default range covers the whole file until narrowed.
	r.rangeCount = r.rgCount

	if opts.Schema != nil {
		if err := r.resolveColumns(opts.Schema); err != nil {
			pf.Close()
			return nil, err
		}
	} else {
		r.selectAllColumns()
	}
	return r, nil
}

// RowGroupMetadata lists row-group metadata from the parquet footer.
func (b *LocalBackend) RowGroupMetadata(ctx context.Context, path string) (RowGroupMetadataList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}

	pf, err := file.NewParquetReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create parquet reader for %s: %w", path, err)
	}
	defer pf.Close()

	md := pf.MetaData()
	metas := make(RowGroupMetadataList, 0, pf.NumRowGroups())
	for i := 0; i < pf.NumRowGroups(); i++ {
		rg := md.RowGroup(i)
		metas = append(metas, RowGroupMetadata{
			ByteSize: rg.TotalByteSize(),
			NumRows:  rg.NumRows(),
		})
	}
	return metas, nil
}

// parquetRowGroupReader reads a contiguous row-group range one row
// group per call.
type parquetRowGroupReader struct {
	path       string
	fileReader *file.Reader
	arrow      *pqarrow.FileReader

	rgCount     int64
	rangeOffset int64
	rangeCount  int64
	cursor      int64

	// columns holds the leaf column indices to read. ReadRowGroups
	// treats an empty selection as "no columns", so the full set is
	// enumerated explicitly when there is no projection.
	columns []int
}

// selectAllColumns selects every leaf column of the file.
func (r *parquetRowGroupReader) selectAllColumns() {
	numCols := r.fileReader.MetaData().Schema.NumColumns()
	cols := make([]int, numCols)
	for i := range cols {
		cols[i] = i
	}
	r.columns = cols
}

func (r *parquetRowGroupReader) resolveColumns(schema *arrow.Schema) error {
	fileSchema, err := r.arrow.Schema()
	if err != nil {
		return fmt.Errorf("failed to read schema of %s: %w", r.path, err)
	}

	cols := make([]int, 0, schema.NumFields())
	for _, want := range schema.Fields() {
		indices := fileSchema.FieldIndices(want.Name)
		if len(indices) == 0 {
			return fmt.Errorf("field %s not present in file %s", want.Name, r.path)
		}
		cols = append(cols, indices...)
	}
	r.columns = cols
	return nil
}

// SetRowGroupRange narrows reads to count row groups starting at
// offset and resets the cursor.
func (r *parquetRowGroupReader) SetRowGroupRange(offset, count int64) error {
	if offset < 0 || count < 1 || offset+count > r.rgCount {
		return fmt.Errorf("row group range [%d, %d) out of bounds for %s with %d row groups",
			offset, offset+count, r.path, r.rgCount)
	}
	r.rangeOffset = offset
	r.rangeCount = count
	r.cursor = 0
	return nil
}

// ReadNextRowGroup reads the row group at the cursor and advances it.
func (r *parquetRowGroupReader) ReadNextRowGroup(ctx context.Context) (arrow.Table, error) {
	if r.cursor >= r.rangeCount {
		return nil, fmt.Errorf("row group range [%d, %d) of %s exhausted",
			r.rangeOffset, r.rangeOffset+r.rangeCount, r.path)
	}

	rg := int(r.rangeOffset + r.cursor)
	tbl, err := r.arrow.ReadRowGroups(ctx, r.columns, []int{rg})
	if err != nil {
		return nil, fmt.Errorf("failed to read row group %d of %s: %w", rg, r.path, err)
	}
	r.cursor++
	return tbl, nil
}

// Close releases the underlying parquet reader and file handle.
func (r *parquetRowGroupReader) Close() error {
	if err := r.fileReader.Close(); err != nil {
		return fmt.Errorf("failed to close parquet reader for %s: %w", r.path, err)
	}
	return nil
}
