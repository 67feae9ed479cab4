// Package datastore loads and stores scene data (point clouds, poses, trajectories and pickled
// annotations) either on the local disk or on a remote host reached over SSH.
//
// Both places are reached through a Backend. A Store wraps a Backend with the format handling
// and the degradation policy of the loaders: loads log and return what they have, writes
// return errors.
package datastore

import (
	"context"
	"io"
	"os"
)

// WriteMode selects whether a write replaces or extends an existing file.
type WriteMode int

const (
	// WriteModeTruncate replaces the file contents.
	WriteModeTruncate WriteMode = iota
	// WriteModeAppend writes after the existing contents.
	WriteModeAppend
)

// flags returns the os.OpenFile flags for the mode.
func (m WriteMode) flags() int {
	if m == WriteModeAppend {
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
}

func (m WriteMode) String() string {
	if m == WriteModeAppend {
		return "a"
	}
	return "w"
}

// A Backend is a place scene files live in.
type Backend interface {
	// Name describes the backend in logs, "local" or the remote address.
	Name() string

	// IsDirectory returns whether path is an existing directory.
	IsDirectory(ctx context.Context, path string) (bool, error)

	// Exists returns whether path is an existing regular file.
	Exists(ctx context.Context, path string) (bool, error)

	// MakeDirectory creates path and any missing parents. An existing directory is not an error.
	MakeDirectory(ctx context.Context, path string) error

	// CopyFile copies src to dst, both on this backend.
	CopyFile(ctx context.Context, src, dst string) error

	// ListDirectory returns the entry names of path in the order the backend lists them.
	ListDirectory(ctx context.Context, path string) ([]string, error)

	Stat(ctx context.Context, path string) (os.FileInfo, error)

	// OpenRead opens path for reading. The caller must close the returned reader.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWrite opens path for writing. The caller must close the returned writer.
	OpenWrite(ctx context.Context, path string, mode WriteMode) (io.WriteCloser, error)

	Close() error
}
