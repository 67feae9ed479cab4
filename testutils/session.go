package testutils

import (
	"errors"
	"io"
	"testing"

	"github.com/pkg/sftp"
	"go.uber.org/multierr"
	"go.viam.com/test"

	"go.viam.com/scenestore/logging"
	"go.viam.com/scenestore/session"
)

// NewLoopbackSession returns a session whose "remote host" is the local machine: files are served
// by an in-process SFTP server over pipes and commands run with the local sh in dir. The session
// is closed when the test ends.
func NewLoopbackSession(t *testing.T, dir string, logger logging.Logger) *session.Session {
	t.Helper()
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	server, err := sftp.NewServer(struct {
		io.Reader
		io.WriteCloser
	}{serverRead, serverWrite}, sftp.WithServerWorkingDirectory(dir))
	test.That(t, err, test.ShouldBeNil)

	served := make(chan error, 1)
	go func() {
		// The client's Close waits for this end of the pipe to close.
		err := server.Serve()
		served <- multierr.Combine(err, serverWrite.Close())
	}()

	client, err := sftp.NewClientPipe(clientRead, clientWrite)
	test.That(t, err, test.ShouldBeNil)

	waitServer := func() error {
		if err := <-served; err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
	sess := session.New("loopback", &session.ShellRunner{Dir: dir}, client, logger, waitServer)
	t.Cleanup(func() {
		test.That(t, sess.Close(), test.ShouldBeNil)
	})
	return sess
}
