// Package config loads and validates IPC client configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ggipc/ggerr"
	"gopkg.in/yaml.v3"
)

// Environment variables the supervisor sets for the components it runs.
const (
	EnvSocketPath = "AWS_GG_NUCLEUS_DOMAIN_SOCKET_FILEPATH_FOR_COMPONENT"
	EnvAuthToken  = "SVCUID"
)

const (
	DefaultResponseTimeout = 10 * time.Second
	DefaultMaxStreams      = 16
	DefaultMaxMessageLen   = 10000

	// MaxStreams is the largest slot table a subscription handle can index.
	MaxStreams = 1 << 16
	// MinMessageLen is the size of a message with no headers or payload.
	MinMessageLen = 16
	// MaxMessageLen caps the send and receive buffers.
	MaxMessageLen = 16 << 20
)

// Client configures an IPC client.
type Client struct {
	SocketPath      string        `toml:"socket_path" yaml:"socket_path"`
	AuthToken       string        `toml:"auth_token" yaml:"auth_token"`
	ComponentName   string        `toml:"component_name" yaml:"component_name"`
	ResponseTimeout time.Duration `toml:"response_timeout" yaml:"response_timeout"`
	MaxStreams      int           `toml:"max_streams" yaml:"max_streams"`
	MaxMessageLen   int           `toml:"max_message_len" yaml:"max_message_len"`
}

func DefaultClient() Client {
	return Client{
		ResponseTimeout: DefaultResponseTimeout,
		MaxStreams:      DefaultMaxStreams,
		MaxMessageLen:   DefaultMaxMessageLen,
	}
}

// FromEnv returns the default configuration with the socket path and auth
// token read from the environment at call time.
func FromEnv() (Client, error) {
	cfg := DefaultClient()
	cfg.ApplyEnv()
	if cfg.SocketPath == "" {
		return Client{}, ggerr.Errorf(ggerr.Config, "config: %s is not set", EnvSocketPath)
	}
	if cfg.AuthToken == "" {
		return Client{}, ggerr.Errorf(ggerr.Config, "config: %s is not set", EnvAuthToken)
	}
	return cfg, nil
}

// ApplyEnv fills an empty socket path or auth token from the environment.
func (c *Client) ApplyEnv() {
	if c.SocketPath == "" {
		c.SocketPath = strings.TrimSpace(os.Getenv(EnvSocketPath))
	}
	if c.AuthToken == "" {
		c.AuthToken = os.Getenv(EnvAuthToken)
	}
}

// Load reads a client configuration file, YAML when the extension is .yaml
// or .yml and TOML otherwise. Keys absent from the file keep their defaults
// and empty connection fields are taken from the environment.
func Load(path string) (Client, error) {
	cfg := DefaultClient()
	load := loadToml
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		load = loadYaml
	}
	if err := load(path, &cfg); err != nil {
		return Client{}, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ggerr.Errorf(ggerr.Config, "config load failed (%s): %w", path, err)
	}
	md, err := toml.Decode(string(data), out)
	if err != nil {
		return ggerr.Errorf(ggerr.Config, "config parse failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return ggerr.Errorf(ggerr.Config, "config parse failed (%s): unknown key %s", path, undecoded[0])
	}
	return nil
}

func loadYaml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ggerr.Errorf(ggerr.Config, "config load failed (%s): %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return ggerr.Errorf(ggerr.Config, "config parse failed (%s): %w", path, err)
	}
	return nil
}

// Validate reports the first invalid field.
func (c Client) Validate() error {
	if strings.TrimSpace(c.SocketPath) == "" {
		return ggerr.Errorf(ggerr.Config, "client config missing socket_path")
	}
	if c.ResponseTimeout <= 0 {
		return ggerr.Errorf(ggerr.Config, "client config response_timeout must be positive, got %s", c.ResponseTimeout)
	}
	if c.MaxStreams < 1 || c.MaxStreams > MaxStreams {
		return ggerr.Errorf(ggerr.Config, "client config max_streams must be in [1, %d], got %d", MaxStreams, c.MaxStreams)
	}
	if c.MaxMessageLen < MinMessageLen || c.MaxMessageLen > MaxMessageLen {
		return ggerr.Errorf(ggerr.Config, "client config max_message_len must be in [%d, %d], got %d", MinMessageLen, MaxMessageLen, c.MaxMessageLen)
	}
	return nil
}

func (c Client) String() string {
	token := "<unset>"
	if c.AuthToken != "" {
		token = "<redacted>"
	}
	return fmt.Sprintf("socket=%s token=%s timeout=%s streams=%d max_msg=%d",
		c.SocketPath, token, c.ResponseTimeout, c.MaxStreams, c.MaxMessageLen)
}
