// Package resolver probes an ordered list of candidate upstream URLs for one logical
// operation. Only an HTML 404 page means "wrong URL, try the next one"; any other
// answer, success or error, ends the traversal.
package resolver

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/victorsharp-labs/flow-proxy/internal/cache"
	"github.com/victorsharp-labs/flow-proxy/internal/config"
	"github.com/victorsharp-labs/flow-proxy/internal/metrics"
	"github.com/victorsharp-labs/flow-proxy/internal/upstream"
	"golang.org/x/oauth2"
)

// NoMatchMessage is the body of the synthetic outcome returned when every candidate
// answered with an HTML 404 page.
const NoMatchMessage = "no upstream endpoint matched any candidate"

const idPlaceholder = "{id}"

// Operation is one logical upstream operation with its configured candidates.
type Operation struct {
	Name       string
	Method     string
	Candidates []string
	Timeout    time.Duration
	Header     http.Header
}

// OperationFor builds the Operation named name from the upstream configuration.
func OperationFor(up *config.UpstreamConfig, name string) Operation {
	return Operation{
		Name:       name,
		Method:     up.MethodFor(name),
		Candidates: up.CandidatesFor(name),
		Timeout:    up.TimeoutFor(name),
		Header:     up.HeadersFor(name),
	}
}

// Call carries the per-request inputs of a resolution.
type Call struct {
	Token *oauth2.Token
	Body  []byte
	// JobID is substituted into {id} or appended to each candidate when non-empty.
	JobID string
}

// Attempt records one candidate call for diagnostics.
type Attempt struct {
	URL          string `json:"url"`
	Status       int    `json:"status,omitempty"`
	Cached       bool   `json:"cached,omitempty"`
	NotFoundPage bool   `json:"notFoundPage,omitempty"`
	Error        string `json:"error,omitempty"`
	DurationMS   int64  `json:"durationMs"`
}

// Result is the final outcome of a resolution plus how it was reached.
type Result struct {
	Outcome *upstream.Outcome
	// URL is the concrete URL that produced Outcome; empty when exhausted.
	URL string
	// Candidate is the unexpanded candidate behind URL, as stored in the cache.
	Candidate string
	Attempts  []Attempt
	FromCache bool
	Exhausted bool
}

// Tried lists every attempted URL in order.
func (r *Result) Tried() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		out = append(out, a.URL)
	}
	return out
}

// OK reports whether the final outcome was a 2xx.
func (r *Result) OK() bool {
	return r != nil && r.Outcome.OK()
}

// Resolver walks candidate lists sequentially and memoises the winner.
type Resolver struct {
	client                  upstream.Doer
	cache                   *cache.EndpointCache
	advanceOnTransportError bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAdvanceOnTransportError treats a transport failure on a candidate like an HTML 404.
func WithAdvanceOnTransportError(enabled bool) Option {
	return func(r *Resolver) {
		r.advanceOnTransportError = enabled
	}
}

// New creates a resolver. endpoints may be nil to disable caching.
func New(client upstream.Doer, endpoints *cache.EndpointCache, opts ...Option) *Resolver {
	r := &Resolver{client: client, cache: endpoints}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the endpoint cache the resolver consults.
func (r *Resolver) Cache() *cache.EndpointCache {
	return r.cache
}

// Resolve runs the candidate probing for op. The returned error is non-nil only for a
// terminal transport failure, in which case the partial Result is still returned.
func (r *Resolver) Resolve(ctx context.Context, op Operation, call Call) (*Result, error) {
	result := &Result{}

	if entry, ok := r.cache.Lookup(op.Name); ok {
		target := ExpandCandidate(entry.URL, call.JobID)
		outcome, err := r.attempt(ctx, op, call, target, true, result)
		if err == nil && outcome.OK() {
			result.Outcome = outcome
			result.URL = target
			result.Candidate = entry.URL
			result.FromCache = true
			r.cache.Store(op.Name, entry.URL)
			metrics.RecordResolution(op.Name, "success", true)
			return result, nil
		}
		if te, isTransport := upstream.AsTransportError(err); isTransport && te.Kind == upstream.KindCanceled {
			metrics.RecordResolution(op.Name, "transport_error", true)
			return result, err
		}
		log.WithFields(log.Fields{
			"operation": op.Name,
			"cached":    entry.URL,
		}).Debug("cached endpoint failed, falling back to full resolution")
	}

	var lastErr error
	for _, candidate := range op.Candidates {
		target := ExpandCandidate(candidate, call.JobID)
		outcome, err := r.attempt(ctx, op, call, target, false, result)
		if err != nil {
			te, isTransport := upstream.AsTransportError(err)
			if r.advanceOnTransportError && isTransport && te.Kind != upstream.KindCanceled {
				lastErr = err
				continue
			}
			result.URL = target
			result.Candidate = candidate
			metrics.RecordResolution(op.Name, "transport_error", false)
			return result, err
		}
		if outcome.LooksLikeNotFoundPage() {
			continue
		}

		result.Outcome = outcome
		result.URL = target
		result.Candidate = candidate
		if outcome.OK() {
			r.cache.Store(op.Name, candidate)
			metrics.RecordResolution(op.Name, "success", false)
		} else {
			metrics.RecordResolution(op.Name, "rejected", false)
		}
		return result, nil
	}

	result.Exhausted = true
	if lastErr != nil {
		metrics.RecordResolution(op.Name, "transport_error", false)
		return result, lastErr
	}
	result.Outcome = &upstream.Outcome{
		Status: http.StatusNotFound,
		Kind:   upstream.BodyText,
		Text:   NoMatchMessage,
	}
	metrics.RecordResolution(op.Name, "not_found", false)
	return result, nil
}

func (r *Resolver) attempt(ctx context.Context, op Operation, call Call, target string, cached bool, result *Result) (*upstream.Outcome, error) {
	start := time.Now()
	outcome, err := r.client.Do(ctx, &upstream.Request{
		Method:  op.Method,
		URL:     target,
		Header:  op.Header,
		Body:    call.Body,
		Timeout: op.Timeout,
		Token:   call.Token,
	})
	elapsed := time.Since(start)

	a := Attempt{URL: target, Cached: cached, DurationMS: elapsed.Milliseconds()}
	resultLabel := "transport_error"
	switch {
	case err != nil:
		a.Error = err.Error()
		if te, ok := upstream.AsTransportError(err); ok {
			a.Error = te.Describe()
		}
	case outcome.LooksLikeNotFoundPage():
		a.Status = outcome.Status
		a.NotFoundPage = true
		resultLabel = "not_found_page"
	case outcome.OK():
		a.Status = outcome.Status
		resultLabel = "success"
	default:
		a.Status = outcome.Status
		resultLabel = "rejected"
	}
	result.Attempts = append(result.Attempts, a)
	metrics.RecordUpstreamAttempt(op.Name, resultLabel, elapsed)

	log.WithFields(log.Fields{
		"operation": op.Name,
		"url":       target,
		"status":    a.Status,
		"cached":    cached,
		"result":    resultLabel,
		"ms":        a.DurationMS,
	}).Debug("upstream attempt")
	return outcome, err
}

// ExpandCandidate builds the concrete URL for a job id. {id} is replaced with the
// path-escaped id; without a placeholder the id is appended as a final path segment.
func ExpandCandidate(candidate, jobID string) string {
	if strings.Contains(candidate, idPlaceholder) {
		return strings.ReplaceAll(candidate, idPlaceholder, url.PathEscape(jobID))
	}
	if jobID == "" {
		return candidate
	}
	return strings.TrimSuffix(candidate, "/") + "/" + url.PathEscape(jobID)
}

var pathFamilies = []string{"veo3", "veo2", "veo", "video"}

// PairedCandidate picks the status candidate that belongs to the same API family as a
// working generate URL, e.g. .../veo/generate pairs with .../veo/status. It returns ""
// when no status candidate fits.
func PairedCandidate(generateURL string, statusCandidates []string) string {
	if generateURL == "" || len(statusCandidates) == 0 {
		return ""
	}
	if idx := strings.LastIndex(generateURL, "/generate"); idx >= 0 {
		sibling := generateURL[:idx] + "/status" + generateURL[idx+len("/generate"):]
		for _, c := range statusCandidates {
			if strings.TrimSuffix(strings.ReplaceAll(c, "/"+idPlaceholder, ""), "/") == sibling {
				return c
			}
		}
	}
	for _, family := range pathFamilies {
		segment := "/" + family + "/"
		if !strings.Contains(generateURL, segment) {
			continue
		}
		for _, c := range statusCandidates {
			if strings.Contains(c, segment) {
				return c
			}
		}
		return ""
	}
	return ""
}
