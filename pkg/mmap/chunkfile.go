// Package mmap provides memory-mapped file I/O for zero-copy reading
// of materialized cell chunks.
package mmap

import (
	"fmt"
	"os"
	"path/filepath"
)

// ChunkFile is a cell payload persisted to disk and mapped read-only.
// The mapped bytes stay valid until Close.
type ChunkFile struct {
	path string
	file *os.File
	data []byte
}

// WriteChunkFile persists data at path, creating parent directories as
// needed, then maps it read-only. When populate is set the mapping is
// pre-faulted so first access does not page in from disk.
func WriteChunkFile(path string, data []byte, populate bool) (*ChunkFile, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("refusing to write empty chunk file %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunk dir: %w", err)
	}

	// Write through a temp file so a crash never leaves a truncated
	// chunk at the final path.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write chunk file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to finalize chunk file: %w", err)
	}

	return OpenChunkFile(path, populate)
}

// OpenChunkFile maps an existing chunk file read-only.
func OpenChunkFile(path string, populate bool) (*ChunkFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat chunk file: %w", err)
	}
	if stat.Size() == 0 {
		file.Close()
		return nil, fmt.Errorf("chunk file %s is empty", path)
	}

	data, err := mmap(int(file.Fd()), 0, int(stat.Size()), ProtRead, MapShared)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap chunk file: %w", err)
	}

	advice := MadvSequential
	if populate {
		advice = MadvWillneed
	}
	// Advisory only; mapping is still usable if the kernel declines.
	_ = madvise(data, advice)

	return &ChunkFile{path: path, file: file, data: data}, nil
}

// Bytes returns the mapped contents. The slice is invalidated by Close.
func (c *ChunkFile) Bytes() []byte {
	return c.data
}

// Size returns the mapped length in bytes.
func (c *ChunkFile) Size() int64 {
	return int64(len(c.data))
}

// Path returns the on-disk location of the chunk.
func (c *ChunkFile) Path() string {
	return c.path
}

// Close unmaps and closes the chunk file. The file itself is left on
// disk; removal is the cache engine's eviction concern.
func (c *ChunkFile) Close() error {
	if c.data != nil {
		if err := munmap(c.data); err != nil {
			return fmt.Errorf("failed to munmap chunk file: %w", err)
		}
		c.data = nil
	}
	if c.file != nil {
		if err := c.file.Close(); err != nil {
			return err
		}
		c.file = nil
	}
	return nil
}
