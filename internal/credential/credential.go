// Package credential locates the caller-supplied bearer token on an inbound request.
// Extraction is pure: it performs no I/O and never logs the token.
package credential

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/victorsharp-labs/flow-proxy/internal/util"
	"golang.org/x/oauth2"
)

// ErrMissingCredential is returned when no token could be found anywhere on the request.
var ErrMissingCredential = errors.New("credential: no bearer token on request")

// Source records where a token was found.
type Source string

const (
	SourceHeader       Source = "header"
	SourceBody         Source = "body"
	SourceCustomHeader Source = "custom-header"
	SourceQuery        Source = "query"
)

// TokenFields are the body and query keys that may carry a token, in priority order.
var TokenFields = []string{"session", "access_token", "token"}

var customHeaders = []string{"X-Flow-Session", "X-Flow-Token"}

var nestedTokenFields = []string{"access_token", "token", "session"}

var expiryFields = []string{"expiry", "expires_at", "expiresAt"}

const maxNestingDepth = 4

// Credential is an opaque bearer token scoped to one inbound request.
type Credential struct {
	Token  string
	Source Source
	// Expiry is zero unless a wrapped session object carried one.
	Expiry time.Time
}

// Masked returns a log-safe form of the token.
func (c Credential) Masked() string {
	return util.MaskToken(c.Token)
}

// OAuth2Token adapts the credential for Authorization header construction.
func (c Credential) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: c.Token,
		TokenType:   "Bearer",
		Expiry:      c.Expiry,
	}
}

// Expired reports whether the credential carried an expiry that has already passed.
// A credential without a known expiry is never considered expired.
func (c Credential) Expired() bool {
	return !c.Expiry.IsZero() && time.Now().After(c.Expiry)
}

// Extract finds a bearer token on r. body is the already-read request body and may be nil.
// The first match wins: Authorization header, body fields, custom headers, query parameters.
func Extract(r *http.Request, body []byte) (Credential, error) {
	if r == nil {
		return Credential{}, ErrMissingCredential
	}

	if token, ok := bearerFromAuthorization(r.Header.Get("Authorization")); ok {
		if cred, ok := fromValue(token, SourceHeader); ok {
			return cred, nil
		}
	}

	if len(body) > 0 {
		parsed := gjson.ParseBytes(body)
		if parsed.IsObject() {
			for _, field := range TokenFields {
				if cred, ok := fromResult(parsed.Get(field), SourceBody, 0); ok {
					return cred, nil
				}
			}
		}
	}

	for _, name := range customHeaders {
		if cred, ok := fromValue(r.Header.Get(name), SourceCustomHeader); ok {
			return cred, nil
		}
	}

	if r.URL != nil {
		query := r.URL.Query()
		for _, field := range TokenFields {
			if cred, ok := fromValue(query.Get(field), SourceQuery); ok {
				return cred, nil
			}
		}
	}

	return Credential{}, ErrMissingCredential
}

func bearerFromAuthorization(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len("bearer ") {
		return "", false
	}
	if !strings.EqualFold(header[:len("bearer")], "bearer") || (header[6] != ' ' && header[6] != '\t') {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func fromValue(raw string, source Source) (Credential, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Credential{}, false
	}
	if strings.HasPrefix(raw, "{") {
		return fromResult(gjson.Parse(raw), source, 0)
	}
	return plainToken(raw, source)
}

func fromResult(res gjson.Result, source Source, depth int) (Credential, bool) {
	if !res.Exists() || depth > maxNestingDepth {
		return Credential{}, false
	}
	switch {
	case res.IsObject():
		for _, field := range nestedTokenFields {
			cred, ok := fromResult(res.Get(field), source, depth+1)
			if !ok {
				continue
			}
			if cred.Expiry.IsZero() {
				cred.Expiry = expiryFrom(res)
			}
			return cred, true
		}
		return Credential{}, false
	case res.Type == gjson.String:
		s := strings.TrimSpace(res.String())
		if strings.HasPrefix(s, "{") && gjson.Valid(s) {
			return fromResult(gjson.Parse(s), source, depth+1)
		}
		return plainToken(s, source)
	default:
		return Credential{}, false
	}
}

func plainToken(raw string, source Source) (Credential, bool) {
	if token, ok := bearerFromAuthorization(raw); ok {
		raw = token
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Credential{}, false
	}
	return Credential{Token: raw, Source: source}, true
}

func expiryFrom(obj gjson.Result) time.Time {
	for _, field := range expiryFields {
		v := obj.Get(field)
		if !v.Exists() {
			continue
		}
		switch v.Type {
		case gjson.Number:
			n := v.Int()
			if n <= 0 {
				continue
			}
			// Values beyond year 2286 in seconds are treated as milliseconds.
			if n > 1e10 {
				return time.UnixMilli(n)
			}
			return time.Unix(n, 0)
		case gjson.String:
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(v.String())); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
