package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quiverdata/govcontracts/internal/datekey"
)

// FileName is the default config file name.
const FileName = "govcontracts.yaml"

// Storage backends.
const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

// Config represents the top-level govcontracts.yaml configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Universe  UniverseConfig  `yaml:"universe"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// APIConfig describes the vendor endpoint and request policy.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token,omitempty"`
	MaxPages   int           `yaml:"max_pages"`
	MaxRetries int           `yaml:"max_retries"`
	RetryWait  time.Duration `yaml:"retry_wait"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RateLimitConfig bounds outbound requests to Requests per Window.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Burst    int           `yaml:"burst"`
}

// StorageConfig locates the processed and staging stores.
type StorageConfig struct {
	Backend   string `yaml:"backend"`
	DataDir   string `yaml:"data_dir"`   // processed store root
	OutputDir string `yaml:"output_dir"` // staging store root
	BoltPath  string `yaml:"bolt_path,omitempty"`
}

// UniverseConfig controls identifier resolution.
type UniverseConfig struct {
	MinInceptionYear int    `yaml:"min_inception_year"`
	MapFilesDir      string `yaml:"map_files_dir"`
}

// PipelineConfig controls a run.
type PipelineConfig struct {
	Workers      int    `yaml:"workers"`
	DatasetStart string `yaml:"dataset_start"` // YYYYMMDD
}

// MetricsConfig controls the textfile export. Empty disables it.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// Load reads a govcontracts.yaml file from disk. Keys missing from the
// file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with the production defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.quiverquant.com/beta/",
			MaxPages:   100,
			MaxRetries: 5,
			RetryWait:  time.Second,
			Timeout:    30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Requests: 5,
			Window:   10 * time.Second,
			Burst:    1,
		},
		Storage: StorageConfig{
			Backend:   BackendFile,
			DataDir:   "data",
			OutputDir: "output",
		},
		Universe: UniverseConfig{
			MinInceptionYear: 1998,
			MapFilesDir:      "data/equity/usa/map_files",
		},
		Pipeline: PipelineConfig{
			Workers:      4,
			DatasetStart: "20220421",
		},
	}
}

// Environment variables that override file values.
const (
	EnvToken       = "VENDOR_AUTH_TOKEN"
	EnvMaxPages    = "QUIVER_MAX_PAGES"
	EnvRateLimit   = "RATE_LIMIT"
	EnvDataFolder  = "DATA_FOLDER"
	EnvOutputDir   = "TEMP_OUTPUT_DIRECTORY"
	EnvMapFilesDir = "MAP_FILES_DIRECTORY"
)

// ApplyEnv overrides values from the environment. RATE_LIMIT is either a
// request count ("5") or a count per window ("5/10s").
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvToken); v != "" {
		c.API.Token = v
	}
	if v := getenv(EnvMaxPages); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", EnvMaxPages, v, err)
		}
		c.API.MaxPages = n
	}
	if v := getenv(EnvRateLimit); v != "" {
		reqs, window, hasWindow := strings.Cut(v, "/")
		n, err := strconv.Atoi(strings.TrimSpace(reqs))
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", EnvRateLimit, v, err)
		}
		c.RateLimit.Requests = n
		if hasWindow {
			d, err := time.ParseDuration(strings.TrimSpace(window))
			if err != nil {
				return fmt.Errorf("parsing %s %q: %w", EnvRateLimit, v, err)
			}
			c.RateLimit.Window = d
		}
	}
	if v := getenv(EnvDataFolder); v != "" {
		c.Storage.DataDir = v
	}
	if v := getenv(EnvOutputDir); v != "" {
		c.Storage.OutputDir = v
	}
	if v := getenv(EnvMapFilesDir); v != "" {
		c.Universe.MapFilesDir = v
	}
	return nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL))
	}
	if c.API.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("api.max_pages must be positive, got %d", c.API.MaxPages))
	}
	if c.API.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("api.max_retries must be positive, got %d", c.API.MaxRetries))
	}
	if c.API.RetryWait < 0 {
		errs = append(errs, fmt.Errorf("api.retry_wait must not be negative, got %s", c.API.RetryWait))
	}
	if c.RateLimit.Requests < 1 {
		errs = append(errs, fmt.Errorf("rate_limit.requests must be positive, got %d", c.RateLimit.Requests))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.window must be positive, got %s", c.RateLimit.Window))
	}
	// The gate wait happens inside the per-attempt timeout.
	if c.RateLimit.Requests > 0 && c.API.Timeout > 0 {
		if spacing := c.RateLimit.Window / time.Duration(c.RateLimit.Requests); spacing >= c.API.Timeout {
			errs = append(errs, fmt.Errorf("api.timeout %s must exceed the rate gate spacing %s", c.API.Timeout, spacing))
		}
	}
	switch c.Storage.Backend {
	case BackendFile:
	case BackendBolt:
		if c.Storage.BoltPath == "" {
			errs = append(errs, errors.New("storage.bolt_path is required for the bolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be %q or %q", c.Storage.Backend, BackendFile, BackendBolt))
	}
	if c.Storage.OutputDir == "" {
		errs = append(errs, errors.New("storage.output_dir is required"))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers))
	}
	if _, err := c.DatasetStart(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.dataset_start: %w", err))
	}
	return errors.Join(errs...)
}

// DatasetStart returns the first date the vendor has data for.
func (c *Config) DatasetStart() (time.Time, error) {
	if c.Pipeline.DatasetStart == "" {
		return time.Time{}, nil
	}
	return datekey.Parse(c.Pipeline.DatasetStart)
}
