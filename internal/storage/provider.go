// Package storage reads record files from the drop directory.
package storage

import "time"

// FileInfo describes one record file.
type FileInfo struct {
	Path      string
	Checksum  string
	Size      int64
	UpdatedAt time.Time
}

// Provider is the read-only interface over the drop directory.
type Provider interface {
	// List returns every record file under dir (relative to the root).
	List(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
	// Root returns the absolute root directory.
	Root() string
}
