// Package config loads the service configuration from an optional YAML file
// and IPX_* environment variables, in that order, then validates it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pornlink/ipx-super/internal/cache"
	"github.com/pornlink/ipx-super/internal/logging"
	"github.com/pornlink/ipx-super/internal/storage"
)

// Modes.
const (
	ModeHTTP = "http"
	ModeMCP  = "mcp"
)

// Config is the complete service configuration.
type Config struct {
	Mode string `yaml:"mode" env:"IPX_MODE" validate:"oneof=http mcp"`

	// MaxAge is the default source max age in seconds.
	MaxAge int `yaml:"max_age" env:"IPX_MAX_AGE" validate:"gte=0"`

	// Alias maps id prefixes to targets, tried in file order. The env
	// variable holds a JSON object.
	Alias AliasList `yaml:"alias" env:"IPX_ALIAS"`

	Server  ServerConfig    `yaml:"server" envPrefix:"IPX_SERVER_"`
	Log     logging.Options `yaml:"log" envPrefix:"IPX_LOG_"`
	Storage StorageConfig   `yaml:"storage" envPrefix:"IPX_STORAGE_"`
	HTTP    HTTPConfig      `yaml:"http" envPrefix:"IPX_HTTP_"`
	Cache   CacheConfig     `yaml:"cache" envPrefix:"IPX_CACHE_"`
	SVGO    SVGO            `yaml:"svgo" env:"IPX_SVGO"`
	Metrics MetricsConfig   `yaml:"metrics" envPrefix:"IPX_METRICS_"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	MaxConcurrency  int           `yaml:"max_concurrency" env:"MAX_CONCURRENCY" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// StorageConfig selects the generic backend used for path ids.
type StorageConfig struct {
	Driver string            `yaml:"driver" env:"DRIVER" validate:"oneof=fs s3 none"`
	Dir    string            `yaml:"dir" env:"DIR"`
	MaxAge *int              `yaml:"max_age" env:"MAX_AGE" validate:"omitempty,gte=0"`
	S3     storage.S3Options `yaml:"s3" envPrefix:"S3_"`
}

// HTTPConfig configures the backend used for ids with a protocol.
type HTTPConfig struct {
	Enabled              bool              `yaml:"enabled" env:"ENABLED"`
	Domains              DomainList        `yaml:"domains" env:"DOMAINS"`
	AllowAllDomains      bool              `yaml:"allow_all_domains" env:"ALLOW_ALL_DOMAINS"`
	MaxAge               *int              `yaml:"max_age" env:"MAX_AGE" validate:"omitempty,gte=0"`
	IgnoreCacheControl   bool              `yaml:"ignore_cache_control" env:"IGNORE_CACHE_CONTROL"`
	CacheControlPolarity string            `yaml:"cache_control_polarity" env:"CACHE_CONTROL_POLARITY" validate:"oneof=inverted standard"`
	Timeout              time.Duration     `yaml:"timeout" env:"TIMEOUT"`
	Headers              map[string]string `yaml:"headers" env:"HEADERS"`
	MaxRedirects         int               `yaml:"max_redirects" env:"MAX_REDIRECTS" validate:"gte=0"`
}

// Options converts the section to backend options.
func (c HTTPConfig) Options() storage.HTTPOptions {
	return storage.HTTPOptions{
		Domains:              c.Domains,
		AllowAllDomains:      c.AllowAllDomains,
		MaxAge:               c.MaxAge,
		IgnoreCacheControl:   c.IgnoreCacheControl,
		CacheControlPolarity: c.CacheControlPolarity,
		Timeout:              c.Timeout,
		Headers:              c.Headers,
		MaxRedirects:         c.MaxRedirects,
	}
}

type CacheConfig struct {
	Enabled  bool               `yaml:"enabled" env:"ENABLED"`
	Driver   string             `yaml:"driver" env:"DRIVER" validate:"oneof=disk redis"`
	Dir      string             `yaml:"dir" env:"DIR"`
	TTL      time.Duration      `yaml:"ttl" env:"TTL" validate:"gte=0"`
	Compress bool               `yaml:"compress" env:"COMPRESS"`
	Lock     string             `yaml:"lock" env:"LOCK" validate:"oneof=memory file none"`
	Redis    cache.RedisOptions `yaml:"redis" envPrefix:"REDIS_"`
}

type MetricsConfig struct {
	Enabled   bool    `yaml:"enabled" env:"ENABLED"`
	Path      string  `yaml:"path" env:"PATH" validate:"required"`
	Namespace string  `yaml:"namespace" env:"NAMESPACE"`
	GoMetrics bool    `yaml:"go_metrics" env:"GO_METRICS"`
	Accuracy  float64 `yaml:"accuracy" env:"ACCURACY" validate:"gt=0,lt=1"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Mode:   ModeHTTP,
		MaxAge: 60,
		Server: ServerConfig{
			Addr:            ":3000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: logging.Options{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Storage: StorageConfig{
			Driver: "fs",
			Dir:    storage.DefaultDir,
		},
		HTTP: HTTPConfig{
			Enabled:              true,
			CacheControlPolarity: storage.PolarityInverted,
			Timeout:              30 * time.Second,
			MaxRedirects:         10,
		},
		Cache: CacheConfig{
			Enabled: true,
			Driver:  "disk",
			Dir:     ".cache",
			TTL:     cache.DefaultTTL,
			Lock:    "memory",
			Redis: cache.RedisOptions{
				Addr:      "localhost:6379",
				KeyPrefix: "ipx:",
			},
		},
		SVGO: SVGO{Enabled: true},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "ipx",
			Accuracy:  0.01,
		},
	}
}

// Loader reads and validates configuration.
type Loader struct {
	validator *validator.Validate
	environ   map[string]string
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// WithEnviron makes the loader read variables from environ instead of the
// process environment.
func (l *Loader) WithEnviron(environ map[string]string) *Loader {
	l.environ = environ
	return l
}

// Load applies the YAML file at path (when path is not empty) and then the
// environment on top of Defaults.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	opts := env.Options{}
	if l.environ != nil {
		opts.Environment = l.environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := l.validator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Load is NewLoader().Load(path).
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}
