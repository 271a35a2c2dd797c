package credential

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(target string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestExtract_Priority(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		headers    map[string]string
		body       string
		wantToken  string
		wantSource Source
	}{
		{
			name:       "authorization header wins over everything",
			target:     "/x?token=q",
			headers:    map[string]string{"Authorization": "Bearer ya29.fake", "X-Flow-Token": "h"},
			body:       `{"session":"b"}`,
			wantToken:  "ya29.fake",
			wantSource: SourceHeader,
		},
		{
			name:       "scheme is case-insensitive",
			target:     "/x",
			headers:    map[string]string{"Authorization": "bEaReR   abc"},
			wantToken:  "abc",
			wantSource: SourceHeader,
		},
		{
			name:       "non-bearer authorization falls through to body",
			target:     "/x",
			headers:    map[string]string{"Authorization": "Basic dXNlcg=="},
			body:       `{"access_token":"from-body"}`,
			wantToken:  "from-body",
			wantSource: SourceBody,
		},
		{
			name:       "body field order is session then access_token then token",
			target:     "/x",
			body:       `{"token":"t","access_token":"a","session":"s"}`,
			wantToken:  "s",
			wantSource: SourceBody,
		},
		{
			name:       "custom header before query",
			target:     "/x?session=q",
			headers:    map[string]string{"X-Flow-Token": "custom"},
			wantToken:  "custom",
			wantSource: SourceCustomHeader,
		},
		{
			name:       "x-flow-session before x-flow-token",
			target:     "/x",
			headers:    map[string]string{"X-Flow-Token": "t", "X-Flow-Session": "s"},
			wantToken:  "s",
			wantSource: SourceCustomHeader,
		},
		{
			name:       "query parameter last",
			target:     "/x?access_token=q",
			wantToken:  "q",
			wantSource: SourceQuery,
		},
		{
			name:       "bearer prefix in body is unwrapped",
			target:     "/x",
			body:       `{"token":"Bearer inner"}`,
			wantToken:  "inner",
			wantSource: SourceBody,
		},
		{
			name:       "empty body field is skipped",
			target:     "/x",
			body:       `{"session":"","token":"t"}`,
			wantToken:  "t",
			wantSource: SourceBody,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			cred, err := Extract(newRequest(tt.target, tt.headers), body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, cred.Token)
			assert.Equal(t, tt.wantSource, cred.Source)
		})
	}
}

func TestExtract_NestedSessionObject(t *testing.T) {
	t.Run("json-encoded string in body", func(t *testing.T) {
		body := `{"session":"{\"access_token\":\"ya29.nested\",\"expires_at\":\"2030-01-02T03:04:05Z\"}"}`
		cred, err := Extract(newRequest("/x", nil), []byte(body))
		require.NoError(t, err)
		assert.Equal(t, "ya29.nested", cred.Token)
		assert.Equal(t, 2030, cred.Expiry.Year())
		assert.False(t, cred.Expired())
	})

	t.Run("nested object in body", func(t *testing.T) {
		body := `{"session":{"user":{"name":"x"},"access_token":"obj-token","expiry":1000}}`
		cred, err := Extract(newRequest("/x", nil), []byte(body))
		require.NoError(t, err)
		assert.Equal(t, "obj-token", cred.Token)
		assert.True(t, cred.Expired())
	})

	t.Run("json object in custom header", func(t *testing.T) {
		req := newRequest("/x", map[string]string{"X-Flow-Session": `{"token":"hdr-token"}`})
		cred, err := Extract(req, nil)
		require.NoError(t, err)
		assert.Equal(t, "hdr-token", cred.Token)
		assert.Equal(t, SourceCustomHeader, cred.Source)
	})

	t.Run("object without token field is ignored", func(t *testing.T) {
		body := `{"session":{"user":"x"}}`
		_, err := Extract(newRequest("/x", nil), []byte(body))
		assert.ErrorIs(t, err, ErrMissingCredential)
	})

	t.Run("depth is bounded", func(t *testing.T) {
		deep := `"leaf"`
		for i := 0; i < 10; i++ {
			deep = `{"token":` + deep + `}`
		}
		_, err := Extract(newRequest("/x", nil), []byte(`{"session":`+deep+`}`))
		assert.ErrorIs(t, err, ErrMissingCredential)
	})
}

func TestExtract_Missing(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		body    string
	}{
		{name: "nothing"},
		{name: "bare bearer", headers: map[string]string{"Authorization": "Bearer   "}},
		{name: "body is not an object", body: `["session"]`},
		{name: "body is not json", body: `session=abc`},
		{name: "numeric token", body: `{"token":12345}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(newRequest("/x", tt.headers), []byte(tt.body))
			assert.True(t, errors.Is(err, ErrMissingCredential))
		})
	}

	_, err := Extract(nil, nil)
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestCredential_Helpers(t *testing.T) {
	cred := Credential{Token: "ya29.a0AfH6SMBxyz1234", Source: SourceHeader}
	assert.Equal(t, "ya29.a...1234", cred.Masked())
	assert.False(t, strings.Contains(cred.Masked(), "SMBxyz"))
	assert.False(t, cred.Expired())

	tok := cred.OAuth2Token()
	assert.Equal(t, "Bearer", tok.Type())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	tok.SetAuthHeader(req)
	assert.Equal(t, "Bearer ya29.a0AfH6SMBxyz1234", req.Header.Get("Authorization"))

	cred.Expiry = time.Now().Add(-time.Minute)
	assert.True(t, cred.Expired())
}
