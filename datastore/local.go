package datastore

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// LocalBackend reaches files on the local disk. Paths are used as given.
type LocalBackend struct{}

// NewLocalBackend returns a backend over the local disk.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

// Name returns "local".
func (b *LocalBackend) Name() string {
	return "local"
}

// IsDirectory returns whether path is an existing directory.
func (b *LocalBackend) IsDirectory(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Exists returns whether path is an existing regular file.
func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// MakeDirectory creates path and its parents.
func (b *LocalBackend) MakeDirectory(ctx context.Context, path string) error {
	return os.MkdirAll(path, 0o755)
}

// CopyFile copies the contents of src into dst, truncating dst.
func (b *LocalBackend) CopyFile(ctx context.Context, src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return newTransferError("copy", src, err)
	}
	defer func() {
		err = multierr.Combine(err, in.Close())
	}()

	out, err := os.Create(dst)
	if err != nil {
		return newTransferError("copy", dst, err)
	}
	defer func() {
		err = multierr.Combine(err, out.Close())
	}()

	if _, err := io.Copy(out, in); err != nil {
		return newTransferError("copy", src, err)
	}
	return nil
}

// ListDirectory returns the names in path in directory order.
func (b *LocalBackend) ListDirectory(ctx context.Context, path string) (names []string, err error) {
	dir, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "cannot list %q", path)
		}
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, dir.Close())
	}()
	return dir.Readdirnames(-1)
}

// Stat returns file info for path.
func (b *LocalBackend) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "cannot stat %q", path)
	}
	return info, err
}

// OpenRead opens path for reading.
func (b *LocalBackend) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "cannot open %q", path)
		}
		return nil, newTransferError("open", path, err)
	}
	return f, nil
}

// OpenWrite opens path for writing, creating it if needed.
func (b *LocalBackend) OpenWrite(ctx context.Context, path string, mode WriteMode) (io.WriteCloser, error) {
	//nolint:gosec
	f, err := os.OpenFile(path, mode.flags(), 0o644)
	if err != nil {
		return nil, newTransferError("open", path, err)
	}
	return f, nil
}

// Close is a no-op.
func (b *LocalBackend) Close() error {
	return nil
}
