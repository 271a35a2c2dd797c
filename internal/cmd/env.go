package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/victorsharp-labs/flow-proxy/internal/config"
	"github.com/victorsharp-labs/flow-proxy/internal/util"
	"gopkg.in/yaml.v3"
)

// EnvOperation is the effective setting of one operation.
type EnvOperation struct {
	Method         string            `yaml:"method" json:"method"`
	TimeoutSeconds float64           `yaml:"timeout-seconds" json:"timeout-seconds"`
	Candidates     []string          `yaml:"candidates" json:"candidates"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// EnvReport is the effective configuration with secrets masked.
type EnvReport struct {
	Listen          string                  `yaml:"listen" json:"listen"`
	RoutePrefix     string                  `yaml:"route-prefix" json:"route-prefix"`
	LogLevel        string                  `yaml:"log-level" json:"log-level"`
	Metrics         bool                    `yaml:"metrics" json:"metrics"`
	DebugEndpoints  bool                    `yaml:"debug-endpoints" json:"debug-endpoints"`
	BodyLimitBytes  int64                   `yaml:"request-body-limit-bytes" json:"request-body-limit-bytes"`
	BaseURL         string                  `yaml:"base-url" json:"base-url"`
	ProxyURL        string                  `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`
	CacheTTLSeconds float64                 `yaml:"cache-ttl-seconds" json:"cache-ttl-seconds"`
	AdvanceOnError  bool                    `yaml:"advance-on-transport-error" json:"advance-on-transport-error"`
	Operations      map[string]EnvOperation `yaml:"operations" json:"operations"`
}

// BuildEnvReport summarises cfg for display.
func BuildEnvReport(cfg *config.Config) EnvReport {
	up := &cfg.Upstream
	report := EnvReport{
		Listen:          fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RoutePrefix:     cfg.NormalizedRoutePrefix(),
		LogLevel:        cfg.LogLevel,
		Metrics:         cfg.IsMetricsEnabled(),
		DebugEndpoints:  cfg.IsDebugEndpointsEnabled(),
		BodyLimitBytes:  cfg.RequestBodyLimit(),
		BaseURL:         up.BaseURL,
		ProxyURL:        redactURL(up.ProxyURL),
		CacheTTLSeconds: up.GetCacheTTL().Seconds(),
		AdvanceOnError:  up.AdvanceOnTransportError,
		Operations:      make(map[string]EnvOperation, len(config.OperationNames)),
	}
	if report.RoutePrefix == "" {
		report.RoutePrefix = "/"
	}
	for _, name := range config.OperationNames {
		headers := make(map[string]string)
		for key, values := range up.HeadersFor(name) {
			value := strings.Join(values, ", ")
			if util.IsSensitiveKey(key) {
				value = util.MaskToken(value)
			}
			headers[key] = value
		}
		report.Operations[name] = EnvOperation{
			Method:         up.MethodFor(name),
			TimeoutSeconds: up.TimeoutFor(name).Seconds(),
			Candidates:     up.CandidatesFor(name),
			Headers:        headers,
		}
	}
	return report
}

// ShowEnv writes the effective configuration as yaml (default) or json.
func ShowEnv(cfg *config.Config, format string, out io.Writer) error {
	report := BuildEnvReport(cfg)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "", "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
}

func redactURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
