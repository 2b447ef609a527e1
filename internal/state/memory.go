package state

import (
	"fmt"
	"os"
)

// Memory is byte-addressable non-volatile storage.
type Memory interface {
	Read(offset int, p []byte) error
	Write(offset int, p []byte) error
}

// FileMemory emulates RTC memory with a regular file.
type FileMemory struct {
	path string
}

// NewFileMemory returns a Memory backed by the file at path. The file is
// created on first write.
func NewFileMemory(path string) *FileMemory {
	return &FileMemory{path: path}
}

// Read fills p from the given offset. A short file is an error.
func (m *FileMemory) Read(offset int, p []byte) error {
	f, err := os.Open(m.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.path, err)
	}
	defer f.Close()

	if _, err := f.ReadAt(p, int64(offset)); err != nil {
		return fmt.Errorf("read %s: %w", m.path, err)
	}
	return nil
}

// Write stores p at the given offset and syncs the file.
func (m *FileMemory) Write(offset int, p []byte) error {
	f, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.path, err)
	}
	if _, err := f.WriteAt(p, int64(offset)); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", m.path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", m.path, err)
	}
	return f.Close()
}
