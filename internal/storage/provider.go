// Package storage is the content store: vault file access rooted at a directory.
package storage

import "github.com/starford/ansuz/internal/models"

// Provider is the interface for vault file operations. All paths are
// relative to the vault root and use forward slashes.
type Provider interface {
	// List returns metadata for every .md file under dir.
	List(dir string) ([]models.FileMeta, error)
	// Read returns the raw bytes of the file at path. A missing file yields
	// an error matching fs.ErrNotExist.
	Read(path string) ([]byte, error)
	// Exists reports whether path names a regular file.
	Exists(path string) (bool, error)
	// Write atomically replaces the content of path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Rel converts an absolute file-system path into a vault path.
	Rel(abs string) (string, error)
}
