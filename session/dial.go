package session

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"go.viam.com/scenestore/config"
	"go.viam.com/scenestore/logging"
)

// Dial connects to the configured remote host and opens the SFTP channel.
func Dial(ctx context.Context, conf *config.Remote, logger logging.Logger) (*Session, error) {
	if conf == nil {
		return nil, errors.New("no remote configured")
	}
	if err := conf.Validate("remote"); err != nil {
		return nil, err
	}

	auth, closeAuth, err := authMethods(conf)
	if err != nil {
		return nil, err
	}
	hostKeyCallback, err := hostKeyCallback(conf, logger)
	if err != nil {
		return nil, multierr.Combine(err, closeAuth())
	}

	timeout := conf.DialTimeout.Unwrap()
	clientConfig := &ssh.ClientConfig{
		User:            conf.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := conf.Address()
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "cannot reach %s", addr), closeAuth())
	}
	if deadline, ok := ctx.Deadline(); ok {
		utils.UncheckedError(conn.SetDeadline(deadline))
	} else if timeout > 0 {
		utils.UncheckedError(conn.SetDeadline(time.Now().Add(timeout)))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "ssh handshake with %s failed", addr), conn.Close(), closeAuth())
	}
	utils.UncheckedError(conn.SetDeadline(time.Time{}))
	client := ssh.NewClient(sshConn, chans, reqs)

	files, err := sftp.NewClient(client)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "cannot open sftp channel"), client.Close(), closeAuth())
	}
	logger.Infow("connected", "remote", conf.String())
	return New(addr, NewSSHRunner(client), files, logger, closeAuth), nil
}

func authMethods(conf *config.Remote) ([]ssh.AuthMethod, func() error, error) {
	var methods []ssh.AuthMethod
	closeAuth := func() error { return nil }

	if conf.IdentityFile != "" {
		key, err := os.ReadFile(conf.IdentityFile)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "cannot read identity file %q", conf.IdentityFile)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "cannot parse identity file %q", conf.IdentityFile)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if conf.UseAgent {
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, nil, errors.New("use_agent is set but SSH_AUTH_SOCK is empty")
		}
		agentConn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, nil, errors.Wrap(err, "cannot reach ssh agent")
		}
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
		closeAuth = agentConn.Close
	}
	if conf.Password != "" {
		methods = append(methods, ssh.Password(conf.Password))
	}
	if len(methods) == 0 {
		return nil, nil, errors.New("no ssh auth configured, set identity_file, use_agent or password")
	}
	return methods, closeAuth, nil
}

func hostKeyCallback(conf *config.Remote, logger logging.Logger) (ssh.HostKeyCallback, error) {
	if conf.KnownHosts == "" {
		logger.Warnw("host key verification disabled, set known_hosts to enable it", "remote", conf.String())
		//nolint:gosec
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(conf.KnownHosts)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load known_hosts %q", conf.KnownHosts)
	}
	return callback, nil
}
