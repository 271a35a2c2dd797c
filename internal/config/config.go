// Package config provides configuration management for the flow proxy server.
// It loads an optional YAML or TOML file, applies environment overrides and
// fills defaults for the upstream candidate lists, timeouts and cache TTL.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort matches the port the proxy has always listened on when PORT is unset.
	DefaultPort = 10000
	// DefaultRoutePrefix is the path under which the flow routes are mounted.
	DefaultRoutePrefix = "/api/flow"
	// DefaultRequestBodyLimitMB bounds inbound JSON bodies.
	DefaultRequestBodyLimitMB = 25
)

// Config represents the application's configuration, loaded from a YAML or TOML file.
type Config struct {
	// Host is the network interface to bind to. Empty binds all interfaces.
	Host string `yaml:"host" json:"host" toml:"host"`

	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port" json:"port" toml:"port"`

	// Debug enables gin debug mode and debug-level logging.
	Debug bool `yaml:"debug" json:"debug" toml:"debug"`

	// RoutePrefix is prepended to every flow route. "/" or "" mounts them at the root.
	RoutePrefix string `yaml:"route-prefix" json:"route-prefix" toml:"route-prefix"`

	// LogLevel is one of debug, info, warn, error, quiet.
	LogLevel string `yaml:"log-level" json:"log-level" toml:"log-level"`

	// LoggingToFile writes rotated log files to LogDir in addition to stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file" toml:"logging-to-file"`

	// LogDir is the directory for rotated log files.
	LogDir string `yaml:"log-dir" json:"log-dir" toml:"log-dir"`

	// Metrics toggles the Prometheus middleware and /metrics. nil means enabled.
	Metrics *bool `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// DebugEndpoints toggles /debug/env and /debug/logs. nil means enabled.
	DebugEndpoints *bool `yaml:"debug-endpoints,omitempty" json:"debug-endpoints,omitempty" toml:"debug-endpoints,omitempty"`

	// RequestBodyLimitMB bounds inbound request bodies.
	RequestBodyLimitMB int `yaml:"request-body-limit-mb" json:"request-body-limit-mb" toml:"request-body-limit-mb"`

	// CORS configures cross-origin access for the web client.
	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`

	// Upstream configures the third-party API the proxy relays to.
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream" toml:"upstream"`
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	// AllowOrigins lists accepted origins. Empty reflects any request origin.
	AllowOrigins []string `yaml:"allow-origins" json:"allow-origins" toml:"allow-origins"`
	// AllowMethods overrides the default method list.
	AllowMethods []string `yaml:"allow-methods" json:"allow-methods" toml:"allow-methods"`
	// AllowHeaders overrides the default header list.
	AllowHeaders []string `yaml:"allow-headers" json:"allow-headers" toml:"allow-headers"`
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the configuration file at configFile. The file must exist and parse.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads the configuration file at configFile.
// When optional is true a missing or unparsable file yields the default configuration.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(configFile) == "" {
		if !optional {
			return nil, fmt.Errorf("config file path is empty")
		}
		cfg.applyDefaults()
		return cfg, nil
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional {
			if !errors.Is(err, os.ErrNotExist) {
				log.WithError(err).Warnf("failed to read config file %s, using defaults", configFile)
			}
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if len(bytes.TrimSpace(data)) > 0 {
		if errParse := decodeConfig(configFile, data, cfg); errParse != nil {
			if optional {
				log.WithError(errParse).Warnf("failed to parse config file %s, using defaults", configFile)
				cfg = &Config{}
				cfg.applyDefaults()
				return cfg, nil
			}
			return nil, fmt.Errorf("failed to parse config file: %w", errParse)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func decodeConfig(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if strings.TrimSpace(cfg.RoutePrefix) == "" {
		cfg.RoutePrefix = DefaultRoutePrefix
	}
	if cfg.RequestBodyLimitMB <= 0 {
		cfg.RequestBodyLimitMB = DefaultRequestBodyLimitMB
	}
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = "logs"
	}
	cfg.Upstream.applyDefaults()
}

// ApplyEnv overrides configuration values from environment variables.
// lookup is usually os.LookupEnv; tests pass a map-backed function.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	get := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := lookup(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
			}
		}
		return "", false
	}

	if v, ok := get("HOST"); ok {
		cfg.Host = v
	}
	if v, ok := get("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		} else {
			log.Warnf("ignoring invalid PORT %q", v)
		}
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := get("FLOW_ROUTE_PREFIX"); ok {
		cfg.RoutePrefix = v
	}

	up := &cfg.Upstream
	if v, ok := get("FLOW_BASE_URL"); ok {
		up.BaseURL = strings.TrimSuffix(v, "/")
	}
	if v, ok := get("FLOW_PROXY_URL"); ok {
		up.ProxyURL = v
	}
	if v, ok := get("FLOW_SESSION_VALIDATE_URL", "FLOW_VALIDATE_URLS"); ok {
		up.Operations.ValidateSession.Candidates = SplitList(v)
	}
	if v, ok := get("FLOW_VALIDATE_METHOD"); ok {
		up.Operations.ValidateSession.Method = strings.ToUpper(v)
	}
	if v, ok := get("FLOW_GENERATE_URLS", "FLOW_GENERATE_URL"); ok {
		up.Operations.Generate.Candidates = SplitList(v)
	}
	if v, ok := get("FLOW_STATUS_URLS", "FLOW_STATUS_URL"); ok {
		up.Operations.Status.Candidates = SplitList(v)
	}
	setTimeout := func(key string, dst **int) {
		v, ok := get(key)
		if !ok {
			return
		}
		d, err := ParseSeconds(v)
		if err != nil {
			log.Warnf("ignoring invalid %s %q: %v", key, v, err)
			return
		}
		secs := int(d / time.Second)
		*dst = &secs
	}
	setTimeout("FLOW_VALIDATE_TIMEOUT", &up.Operations.ValidateSession.TimeoutSeconds)
	setTimeout("FLOW_GENERATE_TIMEOUT", &up.Operations.Generate.TimeoutSeconds)
	setTimeout("FLOW_STATUS_TIMEOUT", &up.Operations.Status.TimeoutSeconds)
	setTimeout("FLOW_CACHE_TTL", &up.CacheTTLSeconds)

	cfg.applyDefaults()
}

// ValidateConfig checks the configuration for values the server cannot run with.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.Port)
	}
	if err := validateAbsoluteURL(cfg.Upstream.BaseURL); err != nil {
		return fmt.Errorf("invalid upstream.base-url: %w", err)
	}
	if p := strings.TrimSpace(cfg.Upstream.ProxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return fmt.Errorf("invalid upstream.proxy-url: %w", err)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "socks5", "socks5h":
		default:
			return fmt.Errorf("invalid upstream.proxy-url: unsupported scheme %q", u.Scheme)
		}
	}
	for _, op := range OperationNames {
		method := cfg.Upstream.MethodFor(op)
		switch method {
		case "GET", "POST", "PUT", "PATCH":
		default:
			return fmt.Errorf("invalid method %q for operation %s", method, op)
		}
		candidates := cfg.Upstream.CandidatesFor(op)
		if len(candidates) == 0 {
			return fmt.Errorf("operation %s has no candidate URLs", op)
		}
		for _, c := range candidates {
			probe := strings.ReplaceAll(c, "{id}", "x")
			if err := validateAbsoluteURL(probe); err != nil {
				return fmt.Errorf("invalid candidate %q for operation %s: %w", c, op, err)
			}
		}
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// IsMetricsEnabled reports whether Prometheus metrics are enabled, defaulting to true.
func (cfg *Config) IsMetricsEnabled() bool {
	if cfg == nil || cfg.Metrics == nil {
		return true
	}
	return *cfg.Metrics
}

// IsDebugEndpointsEnabled reports whether the /debug routes are registered, defaulting to true.
func (cfg *Config) IsDebugEndpointsEnabled() bool {
	if cfg == nil || cfg.DebugEndpoints == nil {
		return true
	}
	return *cfg.DebugEndpoints
}

// RequestBodyLimit returns the inbound body limit in bytes.
func (cfg *Config) RequestBodyLimit() int64 {
	mb := DefaultRequestBodyLimitMB
	if cfg != nil && cfg.RequestBodyLimitMB > 0 {
		mb = cfg.RequestBodyLimitMB
	}
	return int64(mb) << 20
}

// NormalizedRoutePrefix returns the route prefix without a trailing slash; the root is "".
func (cfg *Config) NormalizedRoutePrefix() string {
	if cfg == nil {
		return DefaultRoutePrefix
	}
	p := strings.TrimSpace(cfg.RoutePrefix)
	p = strings.TrimSuffix(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// NormalizeHeaders trims keys and values and drops empty entries. It returns nil when nothing remains.
func NormalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SplitList splits a comma or newline separated list, trimming and dropping blanks.
func SplitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ParseSeconds accepts either a plain number of seconds or a Go duration string.
func ParseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration")
	}
	return d, nil
}
