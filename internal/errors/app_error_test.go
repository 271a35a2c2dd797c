package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name    string
		appErr  *AppError
		wantMsg string
	}{
		{
			name:    "message only",
			appErr:  &AppError{Message: "validate failed"},
			wantMsg: "validate failed",
		},
		{
			name: "message with wrapped error",
			appErr: &AppError{
				Message: "upstream unreachable",
				Err:     errors.New("connection refused"),
			},
			wantMsg: "upstream unreachable: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appErr.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("dial tcp: i/o timeout")
	appErr := UpstreamUnreachable("timeout", true, underlying)

	if !errors.Is(appErr, underlying) {
		t.Errorf("errors.Is should find the wrapped error")
	}
	if got := (&AppError{Message: "no wrap"}).Unwrap(); got != nil {
		t.Errorf("Unwrap() on nil Err = %v, want nil", got)
	}
}

func TestAppError_JSONTags(t *testing.T) {
	appErr := InvalidPayload("Missing/invalid JSON body").WithDetail("field", "prompt")

	raw, err := json.Marshal(appErr)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("Marshal() produced invalid JSON: %v", err)
	}
	if parsed["code"] != CodeInvalidPayload {
		t.Errorf("code = %v, want %s", parsed["code"], CodeInvalidPayload)
	}
	if _, exists := parsed["HTTPStatusCode"]; exists {
		t.Error("HTTPStatusCode should not be in JSON output")
	}
	details, ok := parsed["details"].(map[string]interface{})
	if !ok || details["field"] != "prompt" {
		t.Errorf("details = %v, want field=prompt", parsed["details"])
	}
}

func TestTaxonomyStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantStatus int
		wantCode   string
	}{
		{"missing credential", MissingCredential(nil), http.StatusUnauthorized, CodeMissingCredential},
		{"invalid payload", InvalidPayload("bad"), http.StatusBadRequest, CodeInvalidPayload},
		{"not found", UpstreamNotFound("none matched"), http.StatusNotFound, CodeUpstreamNotFound},
		{"rejected mirrors 429", UpstreamRejected("quota", 429), http.StatusTooManyRequests, CodeUpstreamRejected},
		{"rejected mirrors 500", UpstreamRejected("boom", 500), http.StatusInternalServerError, CodeUpstreamRejected},
		{"rejected maps 302 to 502", UpstreamRejected("redirect", 302), http.StatusBadGateway, CodeUpstreamRejected},
		{"rejected maps 0 to 502", UpstreamRejected("none", 0), http.StatusBadGateway, CodeUpstreamRejected},
		{"unreachable timeout", UpstreamUnreachable("t", true, nil), http.StatusGatewayTimeout, CodeUpstreamUnreachable},
		{"unreachable connection", UpstreamUnreachable("c", false, nil), http.StatusBadGateway, CodeUpstreamUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.HTTPStatusCode != tt.wantStatus {
				t.Errorf("HTTPStatusCode = %d, want %d", tt.err.HTTPStatusCode, tt.wantStatus)
			}
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.wantCode)
			}
		})
	}
}

func TestDetail(t *testing.T) {
	var nilErr *AppError
	if nilErr.Detail("x") != nil {
		t.Error("Detail on nil error should be nil")
	}
	e := New(502, CodeUpstreamRejected, "x", nil).WithDetail("upstream", "https://fake/v1")
	if e.Detail("upstream") != "https://fake/v1" {
		t.Errorf("Detail(upstream) = %v", e.Detail("upstream"))
	}
	if e.Detail("missing") != nil {
		t.Error("absent detail should be nil")
	}
}

func TestUpstreamTooLarge(t *testing.T) {
	appErr := UpstreamTooLarge("Create Job Failed (upstream body exceeded limit)")
	if appErr.HTTPStatusCode != http.StatusBadGateway {
		t.Errorf("HTTPStatusCode = %d, want %d", appErr.HTTPStatusCode, http.StatusBadGateway)
	}
	if appErr.Code != CodeUpstreamTooLarge {
		t.Errorf("Code = %q, want %q", appErr.Code, CodeUpstreamTooLarge)
	}
}
