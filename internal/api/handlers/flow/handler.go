// Package flow implements the HTTP handlers that relay session validation, job
// generation and job status calls to the Flow video API.
package flow

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/victorsharp-labs/flow-proxy/internal/config"
	"github.com/victorsharp-labs/flow-proxy/internal/credential"
	apperrors "github.com/victorsharp-labs/flow-proxy/internal/errors"
	"github.com/victorsharp-labs/flow-proxy/internal/logging"
	"github.com/victorsharp-labs/flow-proxy/internal/resolver"
	"github.com/victorsharp-labs/flow-proxy/internal/upstream"
	"github.com/victorsharp-labs/flow-proxy/internal/util"
)

const promptPreviewLength = 120

// Handler serves the flow routes. It holds no per-request state.
type Handler struct {
	cfg      *config.Config
	resolver *resolver.Resolver
	logs     *logging.RingBuffer
}

// NewHandler creates a Handler backed by r.
func NewHandler(cfg *config.Config, r *resolver.Resolver) *Handler {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Handler{cfg: cfg, resolver: r, logs: logging.GlobalBuffer}
}

func (h *Handler) operation(name string) resolver.Operation {
	return resolver.OperationFor(&h.cfg.Upstream, name)
}

// ValidateSession checks the caller's session against the upstream.
// POST|GET /session/validate
func (h *Handler) ValidateSession(c *gin.Context) {
	_, cred, ok := h.begin(c, config.OpValidateSession)
	if !ok {
		return
	}

	op := h.operation(config.OpValidateSession)
	var forward []byte
	if op.Method != http.MethodGet && op.Method != http.MethodHead {
		forward = []byte("{}")
	}

	res, err := h.resolver.Resolve(c.Request.Context(), op, resolver.Call{Token: cred.OAuth2Token(), Body: forward})
	h.finish(c, op.Name, "Validate failed", res, err)
}

// Generate creates a video generation job.
// POST /video/generate, POST /veo/generate
func (h *Handler) Generate(c *gin.Context) {
	body, cred, ok := h.begin(c, config.OpGenerate)
	if !ok {
		return
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || !gjson.Valid(trimmed) || !gjson.Parse(trimmed).IsObject() {
		abortWithError(c, apperrors.InvalidPayload("Missing/invalid JSON body"), nil, h.snippetLimit())
		return
	}

	forward := []byte(trimmed)
	for _, field := range credential.TokenFields {
		if !gjson.GetBytes(forward, field).Exists() {
			continue
		}
		stripped, errDel := sjson.DeleteBytes(forward, field)
		if errDel != nil {
			abortWithError(c, apperrors.New(http.StatusBadRequest, apperrors.CodeInvalidPayload, "Missing/invalid JSON body", errDel), nil, h.snippetLimit())
			return
		}
		forward = stripped
	}

	log.WithFields(log.Fields{
		"operation":     config.OpGenerate,
		"request_id":    logging.GetGinRequestID(c),
		"promptPreview": util.Snippet(gjson.GetBytes(forward, "prompt").String(), promptPreviewLength),
	}).Info("flow generate")

	op := h.operation(config.OpGenerate)
	res, err := h.resolver.Resolve(c.Request.Context(), op, resolver.Call{Token: cred.OAuth2Token(), Body: forward})
	if err == nil && res.OK() {
		h.pairStatusEndpoint(res)
	}
	h.finish(c, op.Name, "Create Job Failed", res, err)
}

// Status polls a generation job.
// GET /video/status/:id, GET /veo/status/:id
func (h *Handler) Status(c *gin.Context) {
	_, cred, ok := h.begin(c, config.OpStatus)
	if !ok {
		return
	}

	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		abortWithError(c, apperrors.InvalidPayload("Missing job id"), nil, h.snippetLimit())
		return
	}

	op := h.operation(config.OpStatus)
	res, err := h.resolver.Resolve(c.Request.Context(), op, resolver.Call{Token: cred.OAuth2Token(), JobID: jobID})
	h.finish(c, op.Name, "Status Failed", res, err)
}

// begin reads the body and extracts the credential. It writes the error response
// itself and returns ok=false when the request cannot proceed.
func (h *Handler) begin(c *gin.Context, operation string) ([]byte, credential.Credential, bool) {
	c.Set(logging.OperationKey, operation)

	body, err := readBody(c)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			abortWithError(c, apperrors.New(http.StatusRequestEntityTooLarge, apperrors.CodeInvalidPayload, "Request body too large", err), nil, h.snippetLimit())
		} else {
			abortWithError(c, apperrors.New(http.StatusBadRequest, apperrors.CodeInvalidPayload, "Failed to read request body", err), nil, h.snippetLimit())
		}
		return nil, credential.Credential{}, false
	}

	cred, err := credential.Extract(c.Request, body)
	fields := log.Fields{
		"operation":  operation,
		"path":       c.Request.URL.Path,
		"request_id": logging.GetGinRequestID(c),
		"hasAuth":    err == nil,
	}
	if err != nil {
		log.WithFields(fields).Warn("flow request without credential")
		abortWithError(c, apperrors.MissingCredential(nil), nil, h.snippetLimit())
		return nil, credential.Credential{}, false
	}

	fields["credential"] = cred.Masked()
	fields["source"] = string(cred.Source)
	entry := log.WithFields(fields)
	if cred.Expired() {
		entry.Warn("credential expiry has passed; forwarding anyway")
	} else {
		entry.Debug("flow request")
	}
	return body, cred, true
}

// finish converts a resolution into the response envelope.
func (h *Handler) finish(c *gin.Context, operation, label string, res *resolver.Result, err error) {
	fields := log.Fields{
		"operation":  operation,
		"request_id": logging.GetGinRequestID(c),
	}
	if res != nil {
		fields["upstream"] = res.URL
		fields["attempts"] = len(res.Attempts)
		fields["fromCache"] = res.FromCache
	}

	if err != nil {
		te, isTransport := upstream.AsTransportError(err)
		timeout := isTransport && te.Timeout()
		message := fmt.Sprintf("%s (proxy fetch error)", label)
		detail := err.Error()
		if isTransport {
			if timeout {
				message = fmt.Sprintf("%s (upstream timeout)", label)
			}
			detail = te.Describe()
			if te.Err != nil {
				detail = detail + ": " + te.Err.Error()
			}
		}
		appErr := apperrors.UpstreamUnreachable(message, timeout, err).WithDetail("detail", detail)
		log.WithFields(fields).WithError(err).Warn("upstream unreachable")
		abortWithError(c, appErr, res, h.snippetLimit())
		return
	}

	if res.OK() {
		fields["status"] = res.Outcome.Status
		if res.Outcome.Truncated {
			appErr := apperrors.UpstreamTooLarge(fmt.Sprintf("%s (upstream body exceeded limit)", label))
			log.WithFields(fields).Warn(appErr.Message)
			abortWithError(c, appErr, res, h.snippetLimit())
			return
		}
		log.WithFields(fields).Info("upstream relay succeeded")
		c.JSON(http.StatusOK, success(res))
		return
	}

	var appErr *apperrors.AppError
	if res.Exhausted {
		appErr = apperrors.UpstreamNotFound(fmt.Sprintf("%s (404) - No valid upstream endpoint matched", label))
	} else {
		status := res.Outcome.Status
		appErr = apperrors.UpstreamRejected(fmt.Sprintf("%s (%d)", label, status), status)
		if operation == config.OpValidateSession && status >= 300 && status < 400 {
			// A redirect from the session endpoint means the upstream sent us to a login page.
			appErr.HTTPStatusCode = http.StatusUnauthorized
		}
	}
	fields["status"] = res.Outcome.Status
	log.WithFields(fields).Warn(appErr.Message)
	abortWithError(c, appErr, res, h.snippetLimit())
}

// pairStatusEndpoint seeds the status cache with the sibling of a working generate URL.
func (h *Handler) pairStatusEndpoint(res *resolver.Result) {
	if !h.cfg.Upstream.ShouldPairStatusWithGenerate() {
		return
	}
	paired := resolver.PairedCandidate(res.Candidate, h.cfg.Upstream.CandidatesFor(config.OpStatus))
	if paired == "" {
		return
	}
	if h.resolver.Cache().StoreIfAbsent(config.OpStatus, paired) {
		log.WithFields(log.Fields{
			"generate": res.Candidate,
			"status":   paired,
		}).Debug("paired status endpoint with generate endpoint")
	}
}

func (h *Handler) snippetLimit() int {
	return h.cfg.Upstream.GetBodySnippetLimit()
}

func readBody(c *gin.Context) ([]byte, error) {
	if c.Request == nil || c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, nil
	}
	return io.ReadAll(c.Request.Body)
}
