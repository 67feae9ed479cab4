// Package session owns the connection to a remote scene host: a command runner for shell commands
// and an SFTP channel for file access, torn down together by Close.
package session

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"go.uber.org/multierr"

	"go.viam.com/scenestore/logging"
)

// ErrClosed is returned by operations on a closed Session.
var ErrClosed = errors.New("session is closed")

// A Session is a live connection to one remote host. It is not meant to be shared between
// stores; command execution is serialized.
type Session struct {
	mu     sync.Mutex
	id     uuid.UUID
	host   string
	runner Runner
	files  *sftp.Client
	// closers are released after the runner, typically the underlying transport.
	closers []func() error
	closed  bool
	logger  logging.Logger
}

// New makes a new session out of an already connected runner and SFTP client. Extra closers are
// called on Close after both of them.
func New(host string, runner Runner, files *sftp.Client, logger logging.Logger, closers ...func() error) *Session {
	return NewWithID(uuid.New(), host, runner, files, logger, closers...)
}

// NewWithID makes a new session with an ID.
func NewWithID(
	id uuid.UUID,
	host string,
	runner Runner,
	files *sftp.Client,
	logger logging.Logger,
	closers ...func() error,
) *Session {
	return &Session{
		id:      id,
		host:    host,
		runner:  runner,
		files:   files,
		closers: closers,
		logger:  logger,
	}
}

// ID returns the id of this session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Host returns the address of the remote host.
func (s *Session) Host() string {
	return s.host
}

// Exec runs cmd on the remote host and collects its output. A command that exits non zero
// returns its result along with a *CommandError.
// stdin may be nil.
func (s *Session) Exec(ctx context.Context, cmd string, stdin io.Reader) (*CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.logger.Debugw("exec", "session", s.id, "cmd", cmd)
	return s.runner.Run(ctx, cmd, stdin)
}

func (s *Session) sftpClient() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.files, nil
}

// Open opens a remote file for reading.
func (s *Session) Open(path string) (*sftp.File, error) {
	files, err := s.sftpClient()
	if err != nil {
		return nil, err
	}
	return files.Open(path)
}

// OpenFile opens a remote file with the given os.O_* flags.
func (s *Session) OpenFile(path string, flags int) (*sftp.File, error) {
	files, err := s.sftpClient()
	if err != nil {
		return nil, err
	}
	return files.OpenFile(path, flags)
}

// Stat returns file info for a remote path.
func (s *Session) Stat(path string) (os.FileInfo, error) {
	files, err := s.sftpClient()
	if err != nil {
		return nil, err
	}
	return files.Stat(path)
}

// ReadDir lists a remote directory.
func (s *Session) ReadDir(path string) ([]os.FileInfo, error) {
	files, err := s.sftpClient()
	if err != nil {
		return nil, err
	}
	return files.ReadDir(path)
}

// Close tears down the SFTP channel, the runner and the transport. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.files != nil {
		err = multierr.Combine(err, s.files.Close())
	}
	if s.runner != nil {
		err = multierr.Combine(err, s.runner.Close())
	}
	for _, closer := range s.closers {
		err = multierr.Combine(err, closer())
	}
	s.logger.Debugw("session closed", "session", s.id, "host", s.host)
	return err
}
