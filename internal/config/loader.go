package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes on top of the defaults.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
// Unset variables are left as-is so validation can point at them.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate checks a configuration for errors.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	for name, raw := range map[string]string{
		"upstreams.registry_url": cfg.Upstreams.RegistryURL,
		"upstreams.docs_url":     cfg.Upstreams.DocsURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not a valid URL: %q", name, raw)
		}
	}

	if cfg.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch.max_attempts must be at least 1, got %d", cfg.Fetch.MaxAttempts)
	}
	if cfg.Fetch.BackoffMultiplier < 1 {
		return fmt.Errorf("fetch.backoff_multiplier must be >= 1, got %g", cfg.Fetch.BackoffMultiplier)
	}
	if cfg.Fetch.JitterFraction < 0 || cfg.Fetch.JitterFraction > 1 {
		return fmt.Errorf("fetch.jitter_fraction must be in [0,1], got %g", cfg.Fetch.JitterFraction)
	}

	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if cfg.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be at least 1")
	}

	if cfg.Cache.Memory.MaxEntries < 1 {
		return fmt.Errorf("cache.memory.max_entries must be at least 1")
	}
	if cfg.Cache.Memory.MaxBytes < 1 {
		return fmt.Errorf("cache.memory.max_bytes must be positive")
	}
	if cfg.Cache.Disk.Dir == "" {
		return fmt.Errorf("cache.disk.dir is required")
	}
	if cfg.Cache.Disk.MaxBytes < cfg.Cache.Memory.MaxBytes {
		return fmt.Errorf("cache.disk.max_bytes (%d) should not be smaller than cache.memory.max_bytes (%d)",
			cfg.Cache.Disk.MaxBytes, cfg.Cache.Memory.MaxBytes)
	}

	if err := validateLimits(cfg.Limits); err != nil {
		return err
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}

func validateLimits(l LimitsConfig) error {
	if l.SearchDefault < 1 || l.SearchMax < 1 || l.ReleasesDefault < 1 || l.ReleasesMax < 1 {
		return fmt.Errorf("limits values must be at least 1")
	}
	if l.SearchDefault > l.SearchMax {
		return fmt.Errorf("limits.search_default (%d) exceeds limits.search_max (%d)", l.SearchDefault, l.SearchMax)
	}
	if l.ReleasesDefault > l.ReleasesMax {
		return fmt.Errorf("limits.releases_default (%d) exceeds limits.releases_max (%d)", l.ReleasesDefault, l.ReleasesMax)
	}
	return nil
}
