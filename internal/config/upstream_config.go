package config

import (
	"net/http"
	"strings"
	"time"
)

// Logical upstream operations.
const (
	OpValidateSession = "validate-session"
	OpGenerate        = "generate"
	OpStatus          = "status"
)

// OperationNames lists every logical operation in a stable order.
var OperationNames = []string{OpValidateSession, OpGenerate, OpStatus}

const (
	// DefaultBaseURL is the upstream API root used when none is configured.
	DefaultBaseURL = "https://labs.google/fx/api"

	defaultCacheTTLSeconds  = 600
	defaultBodySnippetLimit = 4000
	defaultMaxResponseBytes = 32 << 20
)

var defaultCandidates = map[string][]string{
	OpValidateSession: {
		"{base}/auth/session",
	},
	OpGenerate: {
		"{base}/video/generate",
		"{base}/veo/generate",
		"{base}/veo3/generate",
		"{base}/veo2/generate",
		"{base}/v1/video/generate",
		"{base}/v1/veo/generate",
		"{base}/v1/veo3/generate",
	},
	OpStatus: {
		"{base}/video/status",
		"{base}/veo/status",
		"{base}/veo3/status",
		"{base}/v1/video/status",
		"{base}/v1/veo/status",
	},
}

var defaultMethods = map[string]string{
	OpValidateSession: http.MethodPost,
	OpGenerate:        http.MethodPost,
	OpStatus:          http.MethodGet,
}

var defaultTimeouts = map[string]time.Duration{
	OpValidateSession: 30 * time.Second,
	OpGenerate:        90 * time.Second,
	OpStatus:          30 * time.Second,
}

// DefaultUpstreamHeaders imitate the web client the upstream expects to talk to.
// Request-specific headers override them.
var DefaultUpstreamHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Origin":     "https://labs.google",
	"Referer":    "https://labs.google/fx/tools/flow",
}

// UpstreamConfig describes the third-party API and how candidates are probed.
type UpstreamConfig struct {
	// BaseURL replaces the {base} placeholder in candidate templates.
	BaseURL string `yaml:"base-url" json:"base-url" toml:"base-url"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// http, https and socks5 schemes are supported.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url" toml:"proxy-url"`

	// Headers are sent with every upstream call unless a request sets the same header.
	// nil means DefaultUpstreamHeaders; an empty map disables them.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty" toml:"headers,omitempty"`

	// AdvanceOnTransportError treats a timeout or connection failure on one candidate
	// as "try the next one" instead of ending the resolution.
	AdvanceOnTransportError bool `yaml:"advance-on-transport-error" json:"advance-on-transport-error" toml:"advance-on-transport-error"`

	// PairStatusWithGenerate seeds the status cache with the sibling of a working
	// generate endpoint. nil means default (true).
	PairStatusWithGenerate *bool `yaml:"pair-status-with-generate,omitempty" json:"pair-status-with-generate,omitempty" toml:"pair-status-with-generate,omitempty"`

	// CacheTTLSeconds is how long a resolved endpoint is remembered.
	// nil means default (600). 0 disables the endpoint cache.
	CacheTTLSeconds *int `yaml:"cache-ttl-seconds,omitempty" json:"cache-ttl-seconds,omitempty" toml:"cache-ttl-seconds,omitempty"`

	// BodySnippetLimit caps upstream bodies echoed in failure envelopes.
	// nil means default (4000).
	BodySnippetLimit *int `yaml:"body-snippet-limit,omitempty" json:"body-snippet-limit,omitempty" toml:"body-snippet-limit,omitempty"`

	// MaxResponseBytes bounds how much of an upstream body is read.
	// nil means default (32 MiB).
	MaxResponseBytes *int64 `yaml:"max-response-bytes,omitempty" json:"max-response-bytes,omitempty" toml:"max-response-bytes,omitempty"`

	// Operations holds per-operation candidate lists, methods and timeouts.
	Operations OperationsConfig `yaml:"operations" json:"operations" toml:"operations"`
}

// OperationsConfig groups the three logical operations.
type OperationsConfig struct {
	ValidateSession OperationConfig `yaml:"validate-session" json:"validate-session" toml:"validate-session"`
	Generate        OperationConfig `yaml:"generate" json:"generate" toml:"generate"`
	Status          OperationConfig `yaml:"status" json:"status" toml:"status"`
}

// OperationConfig configures one logical operation.
type OperationConfig struct {
	// Method is the HTTP method used against every candidate.
	Method string `yaml:"method,omitempty" json:"method,omitempty" toml:"method,omitempty"`

	// Candidates are URL templates tried in order. {base} is replaced with BaseURL;
	// for the status operation {id} is replaced with the job id, otherwise the id is appended.
	Candidates []string `yaml:"candidates,omitempty" json:"candidates,omitempty" toml:"candidates,omitempty"`

	// TimeoutSeconds bounds each upstream call. nil means the operation default.
	TimeoutSeconds *int `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty" toml:"timeout-seconds,omitempty"`

	// Headers are merged over UpstreamConfig.Headers for this operation only.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty" toml:"headers,omitempty"`
}

func (u *UpstreamConfig) applyDefaults() {
	u.BaseURL = strings.TrimSuffix(strings.TrimSpace(u.BaseURL), "/")
	if u.BaseURL == "" {
		u.BaseURL = DefaultBaseURL
	}
	for _, name := range OperationNames {
		op := u.operation(name)
		op.Method = strings.ToUpper(strings.TrimSpace(op.Method))
		if op.Method == "" {
			op.Method = defaultMethods[name]
		}
		op.Candidates = dedupeCandidates(op.Candidates)
		if len(op.Candidates) == 0 {
			op.Candidates = append([]string(nil), defaultCandidates[name]...)
		}
		op.Headers = NormalizeHeaders(op.Headers)
	}
}

func (u *UpstreamConfig) operation(name string) *OperationConfig {
	switch name {
	case OpValidateSession:
		return &u.Operations.ValidateSession
	case OpGenerate:
		return &u.Operations.Generate
	case OpStatus:
		return &u.Operations.Status
	default:
		return &OperationConfig{}
	}
}

func dedupeCandidates(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// CandidatesFor returns the candidate URLs for an operation with {base} expanded, in configured order.
func (u *UpstreamConfig) CandidatesFor(name string) []string {
	if u == nil {
		return nil
	}
	op := u.operation(name)
	templates := op.Candidates
	if len(templates) == 0 {
		templates = defaultCandidates[name]
	}
	base := strings.TrimSuffix(u.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		out = append(out, strings.ReplaceAll(t, "{base}", base))
	}
	return out
}

// MethodFor returns the HTTP method configured for an operation.
func (u *UpstreamConfig) MethodFor(name string) string {
	if u != nil {
		if m := strings.ToUpper(strings.TrimSpace(u.operation(name).Method)); m != "" {
			return m
		}
	}
	return defaultMethods[name]
}

// TimeoutFor returns the per-call timeout for an operation.
func (u *UpstreamConfig) TimeoutFor(name string) time.Duration {
	if u != nil {
		if secs := u.operation(name).TimeoutSeconds; secs != nil && *secs > 0 {
			return time.Duration(*secs) * time.Second
		}
	}
	if d, ok := defaultTimeouts[name]; ok {
		return d
	}
	return 30 * time.Second
}

// HeadersFor returns the default headers merged with the operation's own headers.
func (u *UpstreamConfig) HeadersFor(name string) http.Header {
	h := make(http.Header)
	base := DefaultUpstreamHeaders
	if u != nil && u.Headers != nil {
		base = NormalizeHeaders(u.Headers)
	}
	for k, v := range base {
		h.Set(k, v)
	}
	if u != nil {
		for k, v := range u.operation(name).Headers {
			h.Set(k, v)
		}
	}
	return h
}

// GetCacheTTL returns the endpoint cache TTL, defaulting to 10 minutes.
func (u *UpstreamConfig) GetCacheTTL() time.Duration {
	if u == nil || u.CacheTTLSeconds == nil {
		return defaultCacheTTLSeconds * time.Second
	}
	if *u.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(*u.CacheTTLSeconds) * time.Second
}

// GetBodySnippetLimit returns the failure-envelope body cap, defaulting to 4000.
func (u *UpstreamConfig) GetBodySnippetLimit() int {
	if u == nil || u.BodySnippetLimit == nil || *u.BodySnippetLimit <= 0 {
		return defaultBodySnippetLimit
	}
	return *u.BodySnippetLimit
}

// GetMaxResponseBytes returns the upstream read limit, defaulting to 32 MiB.
func (u *UpstreamConfig) GetMaxResponseBytes() int64 {
	if u == nil || u.MaxResponseBytes == nil || *u.MaxResponseBytes <= 0 {
		return defaultMaxResponseBytes
	}
	return *u.MaxResponseBytes
}

// ShouldPairStatusWithGenerate returns whether status cache seeding is on, defaulting to true.
func (u *UpstreamConfig) ShouldPairStatusWithGenerate() bool {
	if u == nil || u.PairStatusWithGenerate == nil {
		return true
	}
	return *u.PairStatusWithGenerate
}
