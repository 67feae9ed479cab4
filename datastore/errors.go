package datastore

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a path does not exist on the backend.
	ErrNotFound = errors.New("not found")
	// ErrNotRemote is returned by operations that need a remote host when the store is local.
	ErrNotRemote = errors.New("store is not remote")
	// ErrUnsupportedFormat is returned when writing a point cloud to a path whose format cannot be written.
	ErrUnsupportedFormat = errors.New("unsupported point cloud format")
)

// TransferError is returned when moving bytes to or from a backend fails.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func newTransferError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &TransferError{Op: op, Path: path, Err: err}
}
