// Package cli contains all business logic needed by the CLI command.
package cli

import (
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/scenestore/config"
	"go.viam.com/scenestore/datastore"
	"go.viam.com/scenestore/logging"
)

// sceneClient wraps a cli.Context and the store the command works on.
type sceneClient struct {
	c      *cli.Context
	conf   *config.Config
	logger logging.Logger
	store  *datastore.Store

	closers []io.Closer
}

func newSceneClient(c *cli.Context) (*sceneClient, error) {
	sc := &sceneClient{c: c}
	sc.logger = logging.NewBlankLogger("scenestore")
	sc.logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	sc.logger.SetLevel(logging.INFO)

	conf, err := sc.loadConfig()
	if err != nil {
		return nil, err
	}
	sc.conf = conf

	if c.Bool(generalFlagDebug) {
		sc.logger.SetLevel(logging.DEBUG)
	} else {
		sc.logger.SetLevel(conf.Log.Level)
	}
	logFile := conf.Log.File
	if c.IsSet(generalFlagLogFile) {
		logFile = c.String(generalFlagLogFile)
	}
	if logFile != "" {
		appender, closer := logging.NewFileAppender(logFile)
		sc.logger.AddAppender(appender)
		sc.closers = append(sc.closers, closer)
	}

	store, err := datastore.Open(c.Context, conf, sc.logger)
	if err != nil {
		return nil, multierr.Combine(err, sc.close())
	}
	sc.store = store
	return sc, nil
}

// loadConfig reads --config, if any, and applies the connection flags on top of it. The remote
// section is kept only when --remote is given.
func (sc *sceneClient) loadConfig() (*config.Config, error) {
	c := sc.c
	conf := &config.Config{}
	if fn := c.String(generalFlagConfig); fn != "" {
		read, err := config.Read(fn, sc.logger)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read config %q", fn)
		}
		conf = read
	}

	if c.IsSet(cloudFlagPCDType) {
		conf.Dataset.PCDOutput = c.String(cloudFlagPCDType)
	}

	if !c.Bool(generalFlagRemote) {
		conf.Remote = nil
		return conf, conf.Ensure()
	}
	if conf.Remote == nil {
		conf.Remote = &config.Remote{}
	}
	if c.IsSet(generalFlagHost) {
		conf.Remote.Host = c.String(generalFlagHost)
	}
	if c.IsSet(generalFlagPort) {
		conf.Remote.Port = c.Int(generalFlagPort)
	}
	if c.IsSet(generalFlagUser) {
		conf.Remote.User = c.String(generalFlagUser)
	}
	if c.IsSet(generalFlagIdentity) {
		conf.Remote.IdentityFile = c.String(generalFlagIdentity)
	}
	if err := conf.Ensure(); err != nil {
		return nil, errors.Wrap(err, "--remote needs a host and a user, from --config or flags")
	}
	return conf, nil
}

func (sc *sceneClient) close() error {
	var err error
	if sc.store != nil {
		err = multierr.Combine(err, sc.store.Close())
	}
	err = multierr.Combine(err, sc.logger.Sync())
	for _, closer := range sc.closers {
		err = multierr.Combine(err, closer.Close())
	}
	return err
}

// withClient runs action with a client built from c and closes it afterwards.
func withClient(c *cli.Context, action func(c *cli.Context, sc *sceneClient) error) (err error) {
	sc, err := newSceneClient(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, sc.close())
	}()
	return action(c, sc)
}

func (sc *sceneClient) out() io.Writer {
	return sc.c.App.Writer
}

func (sc *sceneClient) errOut() io.Writer {
	return sc.c.App.ErrWriter
}
