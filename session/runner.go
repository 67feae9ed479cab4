package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"golang.org/x/crypto/ssh"
)

// A Runner executes shell commands on behalf of a Session.
type Runner interface {
	Run(ctx context.Context, cmd string, stdin io.Reader) (*CommandResult, error)
	Close() error
}

// CommandResult is the output of a command split into lines.
type CommandResult struct {
	Stdout []string
	Stderr []string
}

// Contains returns whether any stdout line, trimmed, equals token.
func (r *CommandResult) Contains(token string) bool {
	if r == nil {
		return false
	}
	for _, line := range r.Stdout {
		if strings.TrimSpace(line) == token {
			return true
		}
	}
	return false
}

func newCommandResult(stdout, stderr *bytes.Buffer) *CommandResult {
	return &CommandResult{Stdout: splitLines(stdout.String()), Stderr: splitLines(stderr.String())}
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// CommandError is returned when a remote command exits with a non zero status.
type CommandError struct {
	Command    string
	ExitStatus int
	Stderr     []string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitStatus)
	if len(e.Stderr) > 0 {
		msg += ": " + strings.Join(e.Stderr, "; ")
	}
	return msg
}

// SSHRunner runs commands in a fresh SSH session channel per call.
type SSHRunner struct {
	client *ssh.Client
}

// NewSSHRunner returns a runner over an established SSH client. Closing the runner closes the
// client.
func NewSSHRunner(client *ssh.Client) *SSHRunner {
	return &SSHRunner{client: client}
}

// Run executes cmd. Cancelling ctx closes the channel and returns ctx.Err().
func (r *SSHRunner) Run(ctx context.Context, cmd string, stdin io.Reader) (*CommandResult, error) {
	sess, err := r.client.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "cannot open ssh session channel")
	}
	defer utils.UncheckedErrorFunc(sess.Close)

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = stdin
	}
	if err := sess.Start(cmd); err != nil {
		return nil, errors.Wrapf(err, "cannot start %q", cmd)
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Wait()
	}()
	select {
	case err = <-done:
	case <-ctx.Done():
		utils.UncheckedError(sess.Signal(ssh.SIGKILL))
		utils.UncheckedError(sess.Close())
		return nil, ctx.Err()
	}

	result := newCommandResult(&stdout, &stderr)
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return result, &CommandError{Command: cmd, ExitStatus: exitErr.ExitStatus(), Stderr: result.Stderr}
	}
	if err != nil {
		return result, errors.Wrapf(err, "running %q", cmd)
	}
	return result, nil
}

// Close closes the SSH client.
func (r *SSHRunner) Close() error {
	return r.client.Close()
}

// ShellRunner runs commands with the local sh. It stands in for a remote host in tests and
// local tooling.
type ShellRunner struct {
	// Dir is the working directory for commands, the current one if empty.
	Dir string
}

// Run executes cmd with sh -c.
func (r *ShellRunner) Run(ctx context.Context, cmd string, stdin io.Reader) (*CommandResult, error) {
	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = r.Dir
	c.WaitDelay = time.Second
	c.Stdin = stdin
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := newCommandResult(&stdout, &stderr)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, &CommandError{Command: cmd, ExitStatus: exitErr.ExitCode(), Stderr: result.Stderr}
	}
	if err != nil {
		return result, errors.Wrapf(err, "running %q", cmd)
	}
	return result, nil
}

// Close is a no-op.
func (r *ShellRunner) Close() error {
	return nil
}
