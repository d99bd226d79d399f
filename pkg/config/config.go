package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/tinymistd/pkg/locations"
	"github.com/cuemby/tinymistd/pkg/network"
	"github.com/cuemby/tinymistd/pkg/preview"
	"github.com/cuemby/tinymistd/pkg/types"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "TINYMISTD_"

// Config is the daemon configuration file
type Config struct {
	BinarySource     types.BinarySource `yaml:"binary_source"`
	CustomBinaryPath string             `yaml:"custom_binary_path"`
	Formatter        types.Formatter    `yaml:"formatter"`
	DataDir          string             `yaml:"data_dir"`
	ReleasesHost     string             `yaml:"releases_host"`

	Download  DownloadConfig  `yaml:"download"`
	Pool      PoolConfig      `yaml:"pool"`
	Readiness ReadinessConfig `yaml:"readiness"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
	Preview   preview.Options `yaml:"preview"`
}

// DownloadConfig bounds binary downloads
type DownloadConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// PoolConfig sizes the preview server pool
type PoolConfig struct {
	Capacity      int           `yaml:"capacity"`
	StartPort     int           `yaml:"start_port"`
	BootTimeout   time.Duration `yaml:"boot_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Marker        string        `yaml:"marker"`
}

// ReadinessConfig controls how long callers wait for the language server
type ReadinessConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

// APIConfig is the admin HTTP listener
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig mirrors log.Config
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file exists
func Default() Config {
	s := types.DefaultSettings()
	return Config{
		BinarySource: s.BinarySource,
		Formatter:    s.Formatter,
		DataDir:      locations.DefaultDataDir(),
		ReleasesHost: locations.DefaultReleasesHost,
		Download: DownloadConfig{
			Timeout: 5 * time.Minute,
		},
		Pool: PoolConfig{
			Capacity:      5,
			StartPort:     network.DefaultStartPort,
			BootTimeout:   5 * time.Second,
			SweepInterval: 30 * time.Second,
			Marker:        "listening",
		},
		Readiness: ReadinessConfig{
			Timeout:  15 * time.Second,
			Interval: 300 * time.Millisecond,
		},
		API: APIConfig{
			Addr: "127.0.0.1:23600",
		},
		Log: LogConfig{
			Level: "info",
		},
		Preview: preview.Default(),
	}
}

// Settings extracts the snapshot consumed by binary resolution
func (c Config) Settings() types.Settings {
	return types.Settings{
		BinarySource:     c.BinarySource,
		CustomBinaryPath: c.CustomBinaryPath,
		Formatter:        c.Formatter,
	}
}

// Validate checks enumerations and ranges
func (c Config) Validate() error {
	var errs []error

	switch c.BinarySource {
	case types.BinarySourceAutomatic, types.BinarySourceCustom:
	default:
		errs = append(errs, fmt.Errorf("binary_source must be %q or %q, got %q",
			types.BinarySourceAutomatic, types.BinarySourceCustom, c.BinarySource))
	}
	if c.BinarySource == types.BinarySourceCustom && c.CustomBinaryPath == "" {
		errs = append(errs, errors.New("custom_binary_path is required when binary_source is custom"))
	}

	switch c.Formatter {
	case types.FormatterTypstyle, types.FormatterTypstfmt:
	default:
		errs = append(errs, fmt.Errorf("formatter must be %q or %q, got %q",
			types.FormatterTypstyle, types.FormatterTypstfmt, c.Formatter))
	}

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if c.Pool.Capacity < 1 {
		errs = append(errs, fmt.Errorf("pool.capacity must be at least 1, got %d", c.Pool.Capacity))
	}
	if c.Pool.StartPort < 1024 || c.Pool.StartPort > 65535 {
		errs = append(errs, fmt.Errorf("pool.start_port must be between 1024 and 65535, got %d", c.Pool.StartPort))
	}
	if c.Pool.BootTimeout <= 0 {
		errs = append(errs, errors.New("pool.boot_timeout must be positive"))
	}
	if c.Readiness.Timeout <= 0 {
		errs = append(errs, errors.New("readiness.timeout must be positive"))
	}

	return errors.Join(errs...)
}

// Load reads path (optional), then dotenv, then TINYMISTD_* variables.
// A missing file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := loadDotenv(); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadDotenv loads .env from the working directory if present. Variables
// already in the environment win.
func loadDotenv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load .env: %w", err)
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	var source, formatter string
	str("BINARY_SOURCE", &source)
	if source != "" {
		cfg.BinarySource = types.BinarySource(strings.ToLower(source))
	}
	str("FORMATTER", &formatter)
	if formatter != "" {
		cfg.Formatter = types.Formatter(strings.ToLower(formatter))
	}
	str("CUSTOM_BINARY_PATH", &cfg.CustomBinaryPath)
	str("DATA_DIR", &cfg.DataDir)
	str("RELEASES_HOST", &cfg.ReleasesHost)
	str("API_ADDR", &cfg.API.Addr)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup(EnvPrefix + "LOG_JSON"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sLOG_JSON: %w", EnvPrefix, err)
		}
		cfg.Log.JSON = b
	}
	if v, ok := lookup(EnvPrefix + "POOL_CAPACITY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPOOL_CAPACITY: %w", EnvPrefix, err)
		}
		cfg.Pool.Capacity = n
	}
	return nil
}
