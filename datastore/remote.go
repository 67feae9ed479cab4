package datastore

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alessio/shellescape"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/scenestore/session"
)

// okToken is what the remote shell echoes when a check or command succeeded.
const okToken = "OK"

// RemoteBackend reaches files on a remote host. Existence checks, directory creation, copies
// and listings are shell commands run over the session; file contents move over SFTP.
type RemoteBackend struct {
	sess *session.Session
}

// NewRemoteBackend returns a backend over sess. Closing the backend closes the session.
func NewRemoteBackend(sess *session.Session) *RemoteBackend {
	return &RemoteBackend{sess: sess}
}

// Name returns the remote address.
func (b *RemoteBackend) Name() string {
	return b.sess.Host()
}

// Session returns the underlying session.
func (b *RemoteBackend) Session() *session.Session {
	return b.sess
}

// Exec runs cmd on the remote host.
func (b *RemoteBackend) Exec(ctx context.Context, cmd string) (*session.CommandResult, error) {
	return b.sess.Exec(ctx, cmd, nil)
}

// run runs cmd and reports whether it echoed okToken. A command that exits non zero is a false
// answer rather than an error.
func (b *RemoteBackend) run(ctx context.Context, cmd string) (bool, *session.CommandResult, error) {
	res, err := b.sess.Exec(ctx, cmd, nil)
	var cmdErr *session.CommandError
	if err != nil && !errors.As(err, &cmdErr) {
		return false, nil, err
	}
	return res.Contains(okToken), res, nil
}

func (b *RemoteBackend) test(ctx context.Context, flag, path string) (bool, error) {
	ok, _, err := b.run(ctx, fmt.Sprintf("[ %s %s ] && echo %s", flag, shellescape.Quote(path), okToken))
	return ok, err
}

// IsDirectory runs [ -d path ] on the remote host.
func (b *RemoteBackend) IsDirectory(ctx context.Context, path string) (bool, error) {
	return b.test(ctx, "-d", path)
}

// Exists runs [ -f path ] on the remote host.
func (b *RemoteBackend) Exists(ctx context.Context, path string) (bool, error) {
	return b.test(ctx, "-f", path)
}

// MakeDirectory runs mkdir -p on the remote host.
func (b *RemoteBackend) MakeDirectory(ctx context.Context, path string) error {
	ok, res, err := b.run(ctx, fmt.Sprintf("mkdir -p %s && echo %s", shellescape.Quote(path), okToken))
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("cannot create directory %q: %s", path, stderr(res))
	}
	return nil
}

// CopyFile runs cp on the remote host.
func (b *RemoteBackend) CopyFile(ctx context.Context, src, dst string) error {
	ok, res, err := b.run(ctx, fmt.Sprintf("cp %s %s && echo %s", shellescape.Quote(src), shellescape.Quote(dst), okToken))
	if err != nil {
		return newTransferError("copy", src, err)
	}
	if !ok {
		return newTransferError("copy", src, errors.New(stderr(res)))
	}
	return nil
}

// ListDirectory runs ls on the remote host and returns one name per output line.
func (b *RemoteBackend) ListDirectory(ctx context.Context, path string) ([]string, error) {
	res, err := b.sess.Exec(ctx, "ls "+shellescape.Quote(path), nil)
	if err != nil {
		var cmdErr *session.CommandError
		if errors.As(err, &cmdErr) {
			if ok, _ := b.IsDirectory(ctx, path); !ok {
				return nil, errors.Wrapf(ErrNotFound, "cannot list %q", path)
			}
		}
		return nil, err
	}
	names := make([]string, 0, len(res.Stdout))
	for _, line := range res.Stdout {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Stat returns file info for path over SFTP.
func (b *RemoteBackend) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	info, err := b.sess.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "cannot stat %q", path)
	}
	return info, err
}

// OpenRead opens path over SFTP.
func (b *RemoteBackend) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := b.sess.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "cannot open %q", path)
		}
		return nil, newTransferError("open", path, err)
	}
	return f, nil
}

// OpenWrite opens path over SFTP for writing, creating it if needed.
func (b *RemoteBackend) OpenWrite(ctx context.Context, path string, mode WriteMode) (io.WriteCloser, error) {
	f, err := b.sess.OpenFile(path, mode.flags())
	if err != nil {
		return nil, newTransferError("open", path, err)
	}
	// SFTP writes carry their own offsets, so appending starts from the current size.
	if mode == WriteModeAppend {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return nil, multierr.Combine(newTransferError("seek", path, err), f.Close())
		}
	}
	return f, nil
}

// Close closes the session.
func (b *RemoteBackend) Close() error {
	return b.sess.Close()
}

func stderr(res *session.CommandResult) string {
	if res == nil || len(res.Stderr) == 0 {
		return "no output"
	}
	return res.Stderr[len(res.Stderr)-1]
}
