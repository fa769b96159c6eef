package msgsock

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the file form of the connection and server options.
//
//	network = "tcp"
//	address = "127.0.0.1:7000"
//	read_chunk_size = 4096
//	max_message_size = 1048576
//	shutdown_timeout = "5s"
//	log_level = "debug"
type Config struct {
	Network         string
	Address         string
	ReadChunkSize   int
	MaxMessageSize  int
	ShutdownTimeout time.Duration
	LogLevel        string
}

type fileConfig struct {
	Network         string `toml:"network"`
	Address         string `toml:"address"`
	ReadChunkSize   int    `toml:"read_chunk_size"`
	MaxMessageSize  int    `toml:"max_message_size"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	LogLevel        string `toml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Network:       "tcp",
		Address:       "127.0.0.1:0",
		ReadChunkSize: defaultReadChunkSize,
		LogLevel:      "info",
	}
}

// LoadConfig reads a TOML file. Keys absent from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	cfg, err := ParseConfig(string(data))
	if err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	return cfg, nil
}

// ParseConfig decodes a TOML document on top of DefaultConfig.
func ParseConfig(doc string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("network") {
		cfg.Network = strings.TrimSpace(raw.Network)
	}

	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}

	if meta.IsDefined("read_chunk_size") {
		if raw.ReadChunkSize <= 0 {
			return Config{}, errors.Errorf("read_chunk_size must be positive, got %d", raw.ReadChunkSize)
		}
		cfg.ReadChunkSize = raw.ReadChunkSize
	}

	if meta.IsDefined("max_message_size") {
		if raw.MaxMessageSize < 0 {
			return Config{}, errors.Errorf("max_message_size must not be negative, got %d", raw.MaxMessageSize)
		}
		cfg.MaxMessageSize = raw.MaxMessageSize
	}

	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil {
			return Config{}, errors.Wrap(err, "parse shutdown_timeout")
		}
		cfg.ShutdownTimeout = d
	}

	if meta.IsDefined("log_level") {
		if _, err := parseLevel(raw.LogLevel); err != nil {
			return Config{}, err
		}
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	return cfg, nil
}

// Options returns the connection options described by cfg.
func (cfg Config) Options(logger Logger) []Option {
	return []Option{
		ReadChunkSizeOption(cfg.ReadChunkSize),
		MessageMaxSize(cfg.MaxMessageSize),
		LoggerOption(logger),
	}
}

// ServerOptions returns the server options described by cfg, including
// the options for accepted connections.
func (cfg Config) ServerOptions(logger Logger) []ServerOption {
	return []ServerOption{
		ServerLoggerOption(logger),
		ServerShutdownTimeoutOption(cfg.ShutdownTimeout),
		ServerConnOptions(cfg.Options(logger)...),
	}
}

// Listen starts a server on the configured network and address.
func (cfg Config) Listen(logger Logger) (*Server, error) {
	return Listen(cfg.Network, cfg.Address, cfg.ServerOptions(logger)...)
}
