package flow

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	apperrors "github.com/victorsharp-labs/flow-proxy/internal/errors"
	"github.com/victorsharp-labs/flow-proxy/internal/resolver"
	"github.com/victorsharp-labs/flow-proxy/internal/upstream"
	"github.com/victorsharp-labs/flow-proxy/internal/util"
)

// SuccessEnvelope wraps a 2xx upstream payload.
type SuccessEnvelope struct {
	OK       bool        `json:"ok"`
	Upstream string      `json:"upstream"`
	Data     interface{} `json:"data"`
}

// FailureEnvelope is returned for every error, whether raised locally or by the upstream.
type FailureEnvelope struct {
	OK             bool               `json:"ok"`
	Error          string             `json:"error"`
	Code           string             `json:"code,omitempty"`
	Upstream       *string            `json:"upstream"`
	UpstreamStatus *int               `json:"upstreamStatus"`
	UpstreamBody   interface{}        `json:"upstreamBody,omitempty"`
	Tried          []string           `json:"tried,omitempty"`
	Attempts       []resolver.Attempt `json:"attempts,omitempty"`
	Detail         string             `json:"detail,omitempty"`
}

func success(res *resolver.Result) SuccessEnvelope {
	return SuccessEnvelope{
		OK:       true,
		Upstream: res.URL,
		Data:     payload(res.Outcome),
	}
}

// failure builds the envelope for appErr, attaching diagnostics from res when present.
func failure(appErr *apperrors.AppError, res *resolver.Result, snippetLimit int) FailureEnvelope {
	env := FailureEnvelope{
		Error: appErr.Message,
		Code:  appErr.Code,
	}
	if detail, ok := appErr.Detail("detail").(string); ok {
		env.Detail = detail
	}
	if res == nil {
		return env
	}
	if res.URL != "" {
		u := res.URL
		env.Upstream = &u
	}
	if res.Outcome != nil {
		status := res.Outcome.Status
		env.UpstreamStatus = &status
		env.UpstreamBody = bodySnippet(res.Outcome, snippetLimit)
	}
	if len(res.Attempts) > 0 {
		env.Tried = res.Tried()
		env.Attempts = res.Attempts
	}
	return env
}

func payload(o *upstream.Outcome) interface{} {
	if o == nil {
		return nil
	}
	if o.Kind == upstream.BodyJSON {
		return json.RawMessage(o.JSON)
	}
	return o.Text
}

// bodySnippet echoes JSON bodies as objects when they fit within limit and
// truncates everything else to a string.
func bodySnippet(o *upstream.Outcome, limit int) interface{} {
	if o == nil {
		return nil
	}
	if o.Kind == upstream.BodyJSON {
		if len(o.JSON) <= limit {
			return json.RawMessage(o.JSON)
		}
		return util.Snippet(string(o.JSON), limit)
	}
	if o.Text == "" {
		return nil
	}
	return util.Snippet(o.Text, limit)
}

func abortWithError(c *gin.Context, appErr *apperrors.AppError, res *resolver.Result, snippetLimit int) {
	if appErr.Err != nil {
		_ = c.Error(appErr.Err)
	}
	c.AbortWithStatusJSON(appErr.HTTPStatusCode, failure(appErr, res, snippetLimit))
}
