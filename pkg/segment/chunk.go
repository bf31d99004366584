package segment

import (
	"bytes"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/mmap"
	"github.com/ajitpratap0/strata/pkg/storage"
)

// ColumnChunk is the materialized data of one field within a cell.
type ColumnChunk struct {
	FieldID int64
	Field   arrow.Field
	Data    *arrow.Chunked
}

// GroupChunk is a materialized cell: one column chunk per field of the
// column group, excluding the internal row id field. It is either
// heap-resident or backed by a memory-mapped file.
type GroupChunk struct {
	columns map[int64]*ColumnChunk
	numRows int64
	mapped  *mmap.ChunkFile
}

// Column returns the chunk of the given field id.
func (g *GroupChunk) Column(fieldID int64) (*ColumnChunk, bool) {
	c, ok := g.columns[fieldID]
	return c, ok
}

// FieldIDs returns the field ids present in the chunk.
func (g *GroupChunk) FieldIDs() []int64 {
	ids := make([]int64, 0, len(g.columns))
	for id := range g.columns {
		ids = append(ids, id)
	}
	return ids
}

// NumRows returns the number of rows in the cell.
func (g *GroupChunk) NumRows() int64 {
	return g.numRows
}

// Mapped reports whether the chunk is backed by a mapped file.
func (g *GroupChunk) Mapped() bool {
	return g.mapped != nil
}

// MappedPath returns the backing file path for mapped chunks.
func (g *GroupChunk) MappedPath() string {
	if g.mapped == nil {
		return ""
	}
	return g.mapped.Path()
}

// Release frees column data and unmaps the backing file if any.
func (g *GroupChunk) Release() error {
	for _, c := range g.columns {
		c.Data.Release()
	}
	g.columns = nil
	if g.mapped != nil {
		return g.mapped.Close()
	}
	return nil
}

// cellField is one field's merged chunks across all tables of a cell.
type cellField struct {
	fieldID int64
	field   arrow.Field
	chunks  []arrow.Array
}

// collectCellFields resolves every schema field against the field
// metadata table and merges its array chunks across all tables of the
// cell. The internal row id field is skipped; a field without id
// metadata or unknown to the table is a data error.
func collectCellFields(tables []arrow.Table, fieldMetas map[int64]storage.FieldMeta) ([]cellField, error) {
	if len(tables) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "cell has no tables")
	}

	// All tables in a cell come from the same column group, so the
	// first table's schema is authoritative.
	schema := tables[0].Schema()

	fields := make([]cellField, 0, schema.NumFields())
	for i, f := range schema.Fields() {
		md := f.Metadata
		idx := md.FindKey(storage.FieldIDMetadataKey)
		if idx < 0 {
			return nil, errors.Newf(errors.ErrorTypeData,
				"field id not found in metadata for field %s", f.Name)
		}
		fieldID, err := strconv.ParseInt(md.Values()[idx], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeData,
				"malformed field id %q for field %s", md.Values()[idx], f.Name)
		}

		if fieldID == storage.RowIDFieldID {
			continue
		}
		if _, ok := fieldMetas[fieldID]; !ok {
			return nil, errors.Newf(errors.ErrorTypeData,
				"field id %d not found in field metadata table", fieldID)
		}

		var merged []arrow.Array
		for _, tbl := range tables {
			merged = append(merged, tbl.Column(i).Data().Chunks()...)
		}

		fields = append(fields, cellField{fieldID: fieldID, field: f, chunks: merged})
	}
	return fields, nil
}

func cellNumRows(tables []arrow.Table) int64 {
	var rows int64
	for _, t := range tables {
		rows += t.NumRows()
	}
	return rows
}

// NewMemoryGroupChunk materializes a cell as heap-resident column
// chunks. The input tables may be released by the caller afterwards;
// the chunk retains the underlying arrays.
func NewMemoryGroupChunk(tables []arrow.Table, fieldMetas map[int64]storage.FieldMeta) (*GroupChunk, error) {
	fields, err := collectCellFields(tables, fieldMetas)
	if err != nil {
		return nil, err
	}

	columns := make(map[int64]*ColumnChunk, len(fields))
	for _, cf := range fields {
		columns[cf.fieldID] = &ColumnChunk{
			FieldID: cf.fieldID,
			Field:   cf.field,
			Data:    arrow.NewChunked(cf.field.Type, cf.chunks),
		}
	}

	return &GroupChunk{columns: columns, numRows: cellNumRows(tables)}, nil
}

// NewMappedGroupChunk materializes a cell as an arrow IPC file on
// disk, maps it, and rebuilds the column chunks from the mapping. The
// populate flag pre-faults the mapping after it is created.
func NewMappedGroupChunk(tables []arrow.Table, fieldMetas map[int64]storage.FieldMeta, path string, populate bool) (*GroupChunk, error) {
	fields, err := collectCellFields(tables, fieldMetas)
	if err != nil {
		return nil, err
	}

	payload, outSchema, err := serializeCell(fields, cellNumRows(tables))
	if err != nil {
		return nil, err
	}

	chunkFile, err := mmap.WriteChunkFile(path, payload, populate)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to persist cell chunk %s", path)
	}

	columns, err := readMappedColumns(chunkFile.Bytes(), outSchema, fields)
	if err != nil {
		chunkFile.Close()
		return nil, err
	}

	return &GroupChunk{
		columns: columns,
		numRows: cellNumRows(tables),
		mapped:  chunkFile,
	}, nil
}

// serializeCell encodes the cell's fields as an arrow IPC file.
func serializeCell(fields []cellField, numRows int64) ([]byte, *arrow.Schema, error) {
	schemaFields := make([]arrow.Field, len(fields))
	cols := make([]arrow.Column, 0, len(fields))
	for i, cf := range fields {
		schemaFields[i] = cf.field
		chunked := arrow.NewChunked(cf.field.Type, cf.chunks)
		col := arrow.NewColumn(cf.field, chunked)
		chunked.Release()
		cols = append(cols, *col)
	}
	outSchema := arrow.NewSchema(schemaFields, nil)

	tbl := array.NewTable(outSchema, cols, numRows)
	for i := range cols {
		cols[i].Release()
	}
	defer tbl.Release()

	var buf bytes.Buffer
	w, err := ipc.NewFileWriter(&buf, ipc.WithSchema(outSchema))
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create cell chunk writer")
	}

	tr := array.NewTableReader(tbl, -1)
	defer tr.Release()
	for tr.Next() {
		if werr := w.Write(tr.Record()); werr != nil {
			w.Close()
			return nil, nil, errors.Wrap(werr, errors.ErrorTypeInternal, "failed to encode cell chunk")
		}
	}
	if err := w.Close(); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to finalize cell chunk")
	}

	return buf.Bytes(), outSchema, nil
}

// readMappedColumns decodes the column chunks back from the mapped
// IPC payload.
func readMappedColumns(payload []byte, schema *arrow.Schema, fields []cellField) (map[int64]*ColumnChunk, error) {
	rdr, err := ipc.NewFileReader(bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open mapped cell chunk")
	}
	defer rdr.Close()

	chunksPerField := make([][]arrow.Array, len(fields))
	for i := 0; i < rdr.NumRecords(); i++ {
		rec, rerr := rdr.RecordAt(i)
		if rerr != nil {
			for _, chunks := range chunksPerField {
				for _, a := range chunks {
					a.Release()
				}
			}
			return nil, errors.Wrap(rerr, errors.ErrorTypeData, "failed to decode mapped cell chunk")
		}
		for j := range fields {
			col := rec.Column(j)
			col.Retain()
			chunksPerField[j] = append(chunksPerField[j], col)
		}
		rec.Release()
	}

	columns := make(map[int64]*ColumnChunk, len(fields))
	for j, cf := range fields {
		chunked := arrow.NewChunked(cf.field.Type, chunksPerField[j])
		for _, a := range chunksPerField[j] {
			a.Release()
		}
		columns[cf.fieldID] = &ColumnChunk{
			FieldID: cf.fieldID,
			Field:   cf.field,
			Data:    chunked,
		}
	}
	return columns, nil
}
