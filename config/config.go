// Package config provides YAML configuration parsing for the taskpoll runner.
//
// This package enables running taskpoll as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	poll_interval: 10s
//	buffer_capacity: 16
//	work_timeout: 5s
//
//	capacity:
//	  fixed: 4
//
//	target:
//	  url: https://worker.example.com/jobs
//	  method: POST
//	  timeout: 5s
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval for production
// configs. This prevents accidental DoS of targets with overly aggressive
// polling.
const minPollInterval = 1 * time.Second

// Config is the root configuration structure for the taskpoll runner.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the status HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// PollInterval is the time between automatic poll cycles.
	// Accepts duration strings like "10s", "1m". Defaults to 15s.
	PollInterval Duration `yaml:"poll_interval"`

	// PollIntervalDelay is an extra delay applied once after the interval
	// is changed at runtime (SIGHUP reload). Defaults to 0.
	PollIntervalDelay Duration `yaml:"poll_interval_delay"`

	// BufferCapacity is the maximum number of pending request payloads.
	// Defaults to 16.
	BufferCapacity int `yaml:"buffer_capacity"`

	// WorkTimeout is the per-cycle deadline for the work invocation.
	// Defaults to 30s.
	WorkTimeout Duration `yaml:"work_timeout"`

	// Capacity controls the capacity gate consulted before each cycle.
	Capacity CapacityConfig `yaml:"capacity"`

	// Target is the HTTP target each poll cycle submits work to.
	Target TargetConfig `yaml:"target"`

	// HistoryLimit is the number of recent outcomes retained for the
	// status API. Defaults to 100.
	HistoryLimit int `yaml:"history_limit"`

	// Metrics enables the Prometheus /metrics route. Defaults to true;
	// set "metrics: false" to disable.
	Metrics *bool `yaml:"metrics"`
}

// CapacityConfig controls how much downstream capacity is available.
//
// Exactly one mode applies: a fixed allowance, or a token-bucket rate.
// When both are zero a fixed allowance of 1 is assumed.
type CapacityConfig struct {
	// Fixed is a constant capacity reported before every cycle.
	Fixed int `yaml:"fixed"`

	// Rate is the token refill rate per second for rate-limited capacity.
	Rate float64 `yaml:"rate"`

	// Burst is the token bucket size. Defaults to 1 when Rate is set.
	Burst int `yaml:"burst"`
}

// TargetConfig defines the HTTP target that poll cycles submit work to.
type TargetConfig struct {
	// URL is the target URL. Supports environment variable substitution:
	// ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Method is the HTTP method. Defaults to GET for nudge cycles; any
	// standard method is accepted.
	Method string `yaml:"method"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Timeout is the request timeout. Defaults to the work timeout.
	Timeout Duration `yaml:"timeout"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		// submatches[3] is the actual default value (may be empty for ${VAR:-})
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the target URL and header values.
// Defaults are applied for Port (8080), PollInterval (15s),
// BufferCapacity (16), WorkTimeout (30s), HistoryLimit (100), and
// Metrics (enabled).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(15 * time.Second)
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = 16
	}
	if cfg.WorkTimeout == 0 {
		cfg.WorkTimeout = Duration(30 * time.Second)
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.Capacity.Fixed == 0 && cfg.Capacity.Rate == 0 {
		cfg.Capacity.Fixed = 1
	}
	if cfg.Capacity.Rate > 0 && cfg.Capacity.Burst == 0 {
		cfg.Capacity.Burst = 1
	}
	if cfg.Target.Timeout == 0 {
		cfg.Target.Timeout = cfg.WorkTimeout
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MetricsEnabled reports whether the Prometheus route should be served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.PollIntervalDelay.Duration() < 0 {
		return fmt.Errorf("poll_interval_delay cannot be negative, got %s", c.PollIntervalDelay.Duration())
	}
	if c.BufferCapacity < 1 {
		return fmt.Errorf("buffer_capacity must be at least 1, got %d", c.BufferCapacity)
	}
	if c.WorkTimeout.Duration() < time.Second {
		return fmt.Errorf("work_timeout must be at least 1s, got %s", c.WorkTimeout.Duration())
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1, got %d", c.HistoryLimit)
	}

	if c.Capacity.Fixed != 0 && c.Capacity.Rate != 0 {
		return fmt.Errorf("capacity: fixed and rate are mutually exclusive")
	}
	if c.Capacity.Fixed < 0 {
		return fmt.Errorf("capacity: fixed cannot be negative, got %d", c.Capacity.Fixed)
	}
	if c.Capacity.Rate < 0 {
		return fmt.Errorf("capacity: rate cannot be negative, got %v", c.Capacity.Rate)
	}
	if c.Capacity.Rate > 0 && c.Capacity.Burst < 1 {
		return fmt.Errorf("capacity: burst must be at least 1 when rate is set, got %d", c.Capacity.Burst)
	}

	t := &c.Target

	if t.URL == "" {
		return fmt.Errorf("target: url is required")
	}
	expanded, err := expandEnvVars(t.URL)
	if err != nil {
		return fmt.Errorf("target: url: %w", err)
	}
	t.URL = expanded

	parsedURL, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("target: invalid url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return fmt.Errorf("target: url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("target: url scheme must be http or https, got %q", parsedURL.Scheme)
	}

	for k, v := range t.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("target: headers[%s]: %w", k, err)
		}
		t.Headers[k] = expanded
	}

	switch t.Method {
	case "", "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE":
	default:
		return fmt.Errorf("target: method %q is not a supported HTTP method", t.Method)
	}

	if t.Timeout.Duration() < 0 {
		return fmt.Errorf("target: timeout cannot be negative, got %s", t.Timeout.Duration())
	}
	if t.Timeout.Duration() > c.WorkTimeout.Duration() {
		return fmt.Errorf("target: timeout %s exceeds work_timeout %s",
			t.Timeout.Duration(), c.WorkTimeout.Duration())
	}

	return nil
}
