// Package upstream performs single HTTP calls against the third-party API and
// classifies each answer. Non-2xx responses are outcomes, not errors; only
// transport failures are reported as *TransportError.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/victorsharp-labs/flow-proxy/internal/config"
	"golang.org/x/oauth2"
)

// BodyKind tells whether an upstream body decoded as JSON.
type BodyKind string

const (
	BodyJSON BodyKind = "json"
	BodyText BodyKind = "text"
)

const (
	defaultAccept           = "application/json,text/plain,*/*"
	defaultMaxResponseBytes = 32 << 20
)

// Request describes one outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Timeout bounds the call including the body read. Zero means no extra bound.
	Timeout time.Duration
	// Token, when set, becomes the Authorization header.
	Token *oauth2.Token
}

// Outcome is the classified result of one HTTP attempt.
type Outcome struct {
	Status   int
	Header   http.Header
	Kind     BodyKind
	JSON     json.RawMessage
	Text     string
	URL      string
	Duration time.Duration
	// Truncated is set when the body exceeded the configured read limit.
	Truncated bool
}

// OK reports a 2xx status.
func (o *Outcome) OK() bool {
	return o != nil && o.Status >= 200 && o.Status < 300
}

// LooksLikeNotFoundPage is true for a 404 whose body is an HTML document. It is the
// only signal that a candidate URL is wrong rather than erroring.
func (o *Outcome) LooksLikeNotFoundPage() bool {
	if o == nil || o.Status != http.StatusNotFound || o.Kind == BodyJSON {
		return false
	}
	head := strings.TrimPrefix(strings.TrimSpace(o.Text), "\ufeff")
	head = strings.ToLower(strings.TrimSpace(head))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// Doer is the single-call contract consumed by the resolver.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Outcome, error)
}

// Client issues upstream calls. It is safe for concurrent use; the only shared state
// is the pooled transport.
type Client struct {
	httpClient       *http.Client
	defaultHeader    http.Header
	maxResponseBytes int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithDefaultHeaders sets headers applied before request-specific ones.
func WithDefaultHeaders(h http.Header) Option {
	return func(c *Client) {
		c.defaultHeader = h.Clone()
	}
}

// WithMaxResponseBytes bounds how much of a response body is read.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseBytes = n
		}
	}
}

// NewClient creates a client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:       &http.Client{},
		defaultHeader:    make(http.Header),
		maxResponseBytes: defaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a client honouring the proxy, header and size settings.
func NewClientFromConfig(cfg *config.UpstreamConfig) (*Client, error) {
	var proxyURL string
	if cfg != nil {
		proxyURL = cfg.ProxyURL
	}
	transport, err := NewTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	return NewClient(
		WithHTTPClient(&http.Client{Transport: transport}),
		WithDefaultHeaders(cfg.HeadersFor("")),
		WithMaxResponseBytes(cfg.GetMaxResponseBytes()),
	), nil
}

// Do performs exactly one HTTP call. A non-2xx status is returned as an Outcome with a
// nil error; the error is non-nil only for transport failures.
func (c *Client) Do(ctx context.Context, req *Request) (*Outcome, error) {
	if req == nil {
		return nil, fmt.Errorf("upstream: nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	c.applyHeaders(httpReq, req)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, req.URL, err)
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("upstream: close response body error: %v", errClose)
		}
	}()

	decoded, err := decodeResponseBody(httpResp.Body, httpResp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, &TransportError{Kind: KindConnection, URL: req.URL, Err: fmt.Errorf("decode %s body: %w", httpResp.Header.Get("Content-Encoding"), err)}
	}
	if decoded != httpResp.Body {
		defer func() {
			_ = decoded.Close()
		}()
	}

	data, err := io.ReadAll(io.LimitReader(decoded, c.maxResponseBytes+1))
	if err != nil {
		return nil, classify(ctx, req.URL, err)
	}

	outcome := &Outcome{
		Status:   httpResp.StatusCode,
		Header:   httpResp.Header.Clone(),
		URL:      req.URL,
		Duration: time.Since(start),
	}
	if int64(len(data)) > c.maxResponseBytes {
		data = data[:c.maxResponseBytes]
		outcome.Truncated = true
	}
	classifyBody(outcome, data)
	return outcome, nil
}

func (c *Client) applyHeaders(httpReq *http.Request, req *Request) {
	for k, values := range c.defaultHeader {
		httpReq.Header[k] = append([]string(nil), values...)
	}
	for k, values := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), values...)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", defaultAccept)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != nil && req.Token.AccessToken != "" {
		req.Token.SetAuthHeader(httpReq)
	}
}

// classifyBody tries JSON first regardless of Content-Type, since the upstream
// mislabels responses; the raw text is always kept.
func classifyBody(outcome *Outcome, data []byte) {
	outcome.Text = string(data)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		outcome.Kind = BodyJSON
		outcome.JSON = json.RawMessage(append([]byte(nil), trimmed...))
		return
	}
	outcome.Kind = BodyText
}
