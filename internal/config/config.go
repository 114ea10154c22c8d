// Package config loads the user's burrow configuration.
//
// The file lives at $BURROW_DIR/config.yaml (default ~/.burrow/config.yaml)
// and every field is optional; absent fields keep their defaults, so a
// config file is only needed to change something.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ianremillard/burrow/internal/socketdir"
)

// Defaults applied after load.
const (
	DefaultClientTimeoutSeconds = 100
	fallbackShell               = "sh"
)

// Config is the on-disk configuration shape.
type Config struct {
	// Shell is the command run inside new sessions.  Defaults to $SHELL,
	// then "sh".
	Shell string `yaml:"shell"`

	// ShellArgs are extra arguments passed to the shell.
	ShellArgs []string `yaml:"shell_args"`

	// ClientTimeoutSeconds evicts a client, whatever its state, that has stalled
	// with pending output for this long.
	ClientTimeoutSeconds int `yaml:"client_timeout"`
}

// ClientTimeout returns the eviction timeout as a duration.
func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.ClientTimeoutSeconds) * time.Second
}

// Load reads the config file if present and fills in defaults.  A missing
// file is not an error; a malformed one is.
func Load() (*Config, error) {
	root, err := socketdir.Root()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(root, "config.yaml"))
}

// LoadFrom reads a specific config path, mainly for tests.
func LoadFrom(path string) (*Config, error) {
	c := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file: all defaults.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Shell == "" {
		c.Shell = os.Getenv("SHELL")
	}
	if c.Shell == "" {
		c.Shell = fallbackShell
	}
	if c.ClientTimeoutSeconds <= 0 {
		c.ClientTimeoutSeconds = DefaultClientTimeoutSeconds
	}
}
