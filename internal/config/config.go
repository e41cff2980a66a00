// Package config provides configuration loading for go-cascade commands.
//
// Values come from defaults, then an optional YAML file, then CASCADE_*
// environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in Config.Backend.
const (
	BackendGoCV = "gocv"
	BackendPigo = "pigo"
)

// Default configuration.
const (
	DefaultAddr        = ":8080"
	DefaultLogLevel    = "info"
	DefaultHTTPTimeout = 60 * time.Second
	DefaultScaleFactor = 1.1
	DefaultMinNeighbor = 3
	DefaultMinSize     = 20
	DefaultMaxSize     = 1000
	DefaultMaxInFlight = 8
)

// Config holds everything the cascade command needs.
type Config struct {
	// Storage
	CacheDir  string `yaml:"cache_dir"`
	BundleDir string `yaml:"bundle_dir"`

	// Asset resolution
	AssetServer  string       `yaml:"asset_server"`  // e.g. "http://localhost:8081"
	AccessToken  string       `yaml:"access_token"`  // bearer token for remote fetches
	GCSAnonymous bool         `yaml:"gcs_anonymous"` // skip credentials for public buckets
	Assets       []AssetEntry `yaml:"assets"`        // bundled assets, IDs from 1 in order

	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// Detection backend
	Backend            string  `yaml:"backend"`
	FallbackClassifier string  `yaml:"fallback_classifier"`
	ScaleFactor        float64 `yaml:"scale_factor"`
	MinNeighbors       int     `yaml:"min_neighbors"`
	MinSize            int     `yaml:"min_size"`
	MaxSize            int     `yaml:"max_size"`

	// Bridge server
	Addr        string `yaml:"addr"`
	MaxInFlight int    `yaml:"max_in_flight"` // concurrent detections across all clients

	LogLevel string `yaml:"log_level"`
}

// AssetEntry is one bundled image.
type AssetEntry struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Dir  string `yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CacheDir:     defaultCacheDir(),
		HTTPTimeout:  DefaultHTTPTimeout,
		Backend:      BackendGoCV,
		ScaleFactor:  DefaultScaleFactor,
		MinNeighbors: DefaultMinNeighbor,
		MinSize:      DefaultMinSize,
		MaxSize:      DefaultMaxSize,
		Addr:         DefaultAddr,
		MaxInFlight:  DefaultMaxInFlight,
		LogLevel:     DefaultLogLevel,
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "go-cascade")
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays CASCADE_* environment variables.
func (c *Config) ApplyEnv() error {
	setString(&c.CacheDir, "CASCADE_CACHE_DIR")
	setString(&c.BundleDir, "CASCADE_BUNDLE_DIR")
	setString(&c.AssetServer, "CASCADE_ASSET_SERVER")
	setString(&c.AccessToken, "CASCADE_ACCESS_TOKEN")
	setString(&c.Backend, "CASCADE_BACKEND")
	setString(&c.FallbackClassifier, "CASCADE_FALLBACK_CLASSIFIER")
	setString(&c.Addr, "CASCADE_ADDR")
	setString(&c.LogLevel, "CASCADE_LOG_LEVEL")

	if v := os.Getenv("CASCADE_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CASCADE_HTTP_TIMEOUT: %w", err)
		}
		c.HTTPTimeout = d
	}
	if v := os.Getenv("CASCADE_MAX_IN_FLIGHT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CASCADE_MAX_IN_FLIGHT: %w", err)
		}
		c.MaxInFlight = n
	}
	if v := os.Getenv("CASCADE_GCS_ANONYMOUS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: CASCADE_GCS_ANONYMOUS: %w", err)
		}
		c.GCSAnonymous = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.CacheDir == "" {
		errs = append(errs, errors.New("cache_dir is required"))
	}
	switch c.Backend {
	case BackendGoCV, BackendPigo:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendGoCV, BackendPigo))
	}
	if c.ScaleFactor <= 1 {
		errs = append(errs, fmt.Errorf("scale_factor must be > 1, got %v", c.ScaleFactor))
	}
	if c.MinNeighbors < 0 {
		errs = append(errs, fmt.Errorf("min_neighbors must be >= 0, got %d", c.MinNeighbors))
	}
	if c.MinSize < 0 || (c.MaxSize > 0 && c.MaxSize < c.MinSize) {
		errs = append(errs, fmt.Errorf("invalid size range [%d, %d]", c.MinSize, c.MaxSize))
	}
	if c.MaxInFlight < 1 {
		errs = append(errs, fmt.Errorf("max_in_flight must be >= 1, got %d", c.MaxInFlight))
	}
	for i, a := range c.Assets {
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("assets[%d]: name is required", i))
		}
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, fmt.Errorf("http_timeout must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
