// Package config defines the scenestore configuration file and how it is read and validated.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/scenestore/logging"
	"go.viam.com/scenestore/pointcloud"
)

// Defaults applied by Validate.
const (
	DefaultPort        = 22
	DefaultDialTimeout = 10 * time.Second
	DefaultPCDOutput   = "binary_compressed"
	defaultSegmentSize = 20
	defaultFrameTime   = 0.05
)

// Config describes where scenes are stored and how to reach them.
type Config struct {
	ConfigFilePath string `json:"-"`

	Remote  *Remote   `json:"remote,omitempty"`
	Dataset Dataset   `json:"dataset"`
	Log     LogConfig `json:"log"`
}

// Ensure validates the config and fills in defaults.
func (c *Config) Ensure() error {
	if c.Remote != nil {
		if err := c.Remote.Validate("remote"); err != nil {
			return err
		}
	}
	if err := c.Dataset.Validate("dataset"); err != nil {
		return err
	}
	return c.Log.Validate("log")
}

// A Remote describes the host scenes are loaded from over SSH.
type Remote struct {
	Host         string         `json:"host"`
	Port         int            `json:"port,omitempty"`
	User         string         `json:"user"`
	IdentityFile string         `json:"identity_file,omitempty"`
	KnownHosts   string         `json:"known_hosts,omitempty"`
	Password     string         `json:"password,omitempty"`
	UseAgent     bool           `json:"use_agent,omitempty"`
	DialTimeout  utils.Duration `json:"dial_timeout,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (r *Remote) Validate(path string) error {
	if r.Host == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "host")
	}
	if r.User == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "user")
	}
	if r.Port == 0 {
		r.Port = DefaultPort
	}
	if r.Port < 0 || r.Port > 65535 {
		return utils.NewConfigValidationError(path, errors.Errorf("invalid port %d", r.Port))
	}
	if r.DialTimeout == 0 {
		r.DialTimeout = utils.Duration(DefaultDialTimeout)
	}
	return nil
}

// Address returns the host:port to dial.
func (r *Remote) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r *Remote) String() string {
	return fmt.Sprintf("%s@%s", r.User, r.Address())
}

// Dataset holds the defaults used when working with a scene sequence.
type Dataset struct {
	Root        string  `json:"root,omitempty"`
	SegmentSize int     `json:"segment_size,omitempty"`
	FrameTime   float64 `json:"frame_time,omitempty"`
	PCDOutput   string  `json:"pcd_output,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (d *Dataset) Validate(path string) error {
	if d.SegmentSize == 0 {
		d.SegmentSize = defaultSegmentSize
	}
	if d.SegmentSize < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("segment_size must be positive, got %d", d.SegmentSize))
	}
	if d.FrameTime == 0 {
		d.FrameTime = defaultFrameTime
	}
	if d.FrameTime < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("frame_time must be positive, got %v", d.FrameTime))
	}
	if d.PCDOutput == "" {
		d.PCDOutput = DefaultPCDOutput
	}
	if _, err := pointcloud.ParsePCDType(d.PCDOutput); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// PCDType returns the parsed pcd output type. Validate must have succeeded.
func (d *Dataset) PCDType() pointcloud.PCDType {
	t, err := pointcloud.ParsePCDType(d.PCDOutput)
	if err != nil {
		return pointcloud.PCDCompressed
	}
	return t
}

// LogConfig controls the level and optional rotating file of the process logger.
type LogConfig struct {
	Level logging.Level `json:"level"`
	File  string        `json:"file,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (l LogConfig) Validate(path string) error {
	if _, err := logging.LevelFromString(l.Level.String()); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}
