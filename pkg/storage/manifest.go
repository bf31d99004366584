// Package storage: column group manifest
package storage

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

// FieldMeta describes one field stored in a column group.
type FieldMeta struct {
	FieldID   int64  `json:"field_id"`
	Name      string `json:"name"`
	DataType  string `json:"data_type"`
	IsVector  bool   `json:"is_vector"`
	IsIndexed bool   `json:"is_indexed"`
	Dim       int    `json:"dim,omitempty"`
}

// ColumnGroupManifest describes one column group of a segment: the
// files holding its row groups, the declared total row count, and the
// field metadata table used during chunk materialization.
type ColumnGroupManifest struct {
	SegmentID   int64       `json:"segment_id"`
	FieldID     int64       `json:"field_id"`
	MainFieldID int64       `json:"main_field_id,omitempty"`
	RowCount    int64       `json:"row_count"`
	Files       []string    `json:"files"`
	Fields      []FieldMeta `json:"fields"`
}

// ReadManifest loads a column group manifest from a JSON file.
func ReadManifest(path string) (*ColumnGroupManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	m := &ColumnGroupManifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return m, nil
}

// Write persists the manifest as JSON.
func (m *ColumnGroupManifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return nil
}

// Validate checks required manifest fields.
func (m *ColumnGroupManifest) Validate() error {
	if len(m.Files) == 0 {
		return fmt.Errorf("manifest has no files")
	}
	if m.RowCount < 0 {
		return fmt.Errorf("manifest row count %d is negative", m.RowCount)
	}
	return nil
}

// FieldMetaByID returns the field metadata table keyed by field id.
func (m *ColumnGroupManifest) FieldMetaByID() map[int64]FieldMeta {
	metas := make(map[int64]FieldMeta, len(m.Fields))
	for _, f := range m.Fields {
		metas[f.FieldID] = f
	}
	return metas
}

// HasVectorField reports whether any field in the group is a vector.
func (m *ColumnGroupManifest) HasVectorField() bool {
	for _, f := range m.Fields {
		if f.IsVector {
			return true
		}
	}
	return false
}

// HasIndexedField reports whether any field in the group is indexed.
func (m *ColumnGroupManifest) HasIndexedField() bool {
	for _, f := range m.Fields {
		if f.IsIndexed {
			return true
		}
	}
	return false
}
