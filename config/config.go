// Package config loads the doipdump YAML configuration.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPath names the environment variable consulted when no path is given.
	EnvPath = "DOIPDUMP_CONFIG"

	DefaultPort        = 13400
	DefaultListenAddr  = ":13400"
	DefaultIdleTimeout = 15 * time.Second

	DefaultListenMaxPayload uint32 = 64 << 10
)

// Config is the root of the configuration file.
type Config struct {
	Log     LoggerConfig  `yaml:"log"`
	Capture CaptureConfig `yaml:"capture"`
	Listen  ListenConfig  `yaml:"listen"`
	Output  OutputConfig  `yaml:"output"`
}

// LoggerConfig logger settings
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// CaptureConfig controls which capture segments are decoded.
type CaptureConfig struct {
	// Ports are matched against both TCP and UDP source and destination ports.
	Ports            []uint16 `yaml:"ports"`
	MaxPayloadLength uint32   `yaml:"max_payload_length"`
}

// ListenConfig tap server settings. MaxPayloadLength bounds what one
// connection may read into memory.
type ListenConfig struct {
	Addr             string        `yaml:"addr"`
	Net              string        `yaml:"net"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	CertFile         string        `yaml:"cert_file,omitempty"`
	KeyFile          string        `yaml:"key_file,omitempty"`
	MaxPayloadLength uint32        `yaml:"max_payload_length"`
}

// OutputConfig output settings
type OutputConfig struct {
	Verbose bool `yaml:"verbose"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LoggerConfig{
			Level: zerolog.LevelInfoValue,
		},
		Capture: CaptureConfig{
			Ports:            []uint16{DefaultPort},
			MaxPayloadLength: ^uint32(0),
		},
		Listen: ListenConfig{
			Addr:             DefaultListenAddr,
			Net:              "tcp",
			IdleTimeout:      DefaultIdleTimeout,
			MaxPayloadLength: DefaultListenMaxPayload,
		},
	}
}

// Load reads the file at path over the defaults. An empty path falls back
// to $DOIPDUMP_CONFIG, and to the defaults alone when that is unset.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := Parse(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes data over cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, "unmarshal")
	}
	return cfg.Validate()
}

// Validate checks the configuration for values the tools cannot run with.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(err, "log.level")
	}
	if len(c.Capture.Ports) == 0 {
		return errors.New("capture.ports: at least one port is required")
	}
	for _, p := range c.Capture.Ports {
		if p == 0 {
			return errors.New("capture.ports: port 0 is not valid")
		}
	}
	if c.Capture.MaxPayloadLength == 0 {
		return errors.New("capture.max_payload_length: must be positive")
	}
	if c.Listen.MaxPayloadLength == 0 {
		return errors.New("listen.max_payload_length: must be positive")
	}
	switch c.Listen.Net {
	case "tcp", "tcp4", "tcp6":
	case "tcp-tls", "tcp4-tls", "tcp6-tls":
		if c.Listen.CertFile == "" || c.Listen.KeyFile == "" {
			return errors.Errorf("listen: %s needs cert_file and key_file", c.Listen.Net)
		}
	default:
		return errors.Errorf("listen.net: unsupported network %q", c.Listen.Net)
	}
	if c.Listen.IdleTimeout <= 0 {
		return errors.New("listen.idle_timeout: must be positive")
	}
	return nil
}

// TLS reports whether the tap server listens with TLS.
func (c *ListenConfig) TLS() bool {
	return strings.HasSuffix(c.Net, "-tls")
}

// PortSet returns the capture ports as a lookup set.
func (c *CaptureConfig) PortSet() map[uint16]bool {
	m := make(map[uint16]bool, len(c.Ports))
	for _, p := range c.Ports {
		m[p] = true
	}
	return m
}
