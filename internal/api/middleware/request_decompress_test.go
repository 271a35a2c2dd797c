package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDecompressEngine(limit int64) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var seen string
	engine := gin.New()
	engine.Use(RequestDecompressionMiddleware(limit))
	engine.POST("/echo", func(c *gin.Context) {
		data, _ := io.ReadAll(c.Request.Body)
		seen = string(data)
		c.Status(http.StatusNoContent)
	})
	return engine, &seen
}

func TestRequestDecompression(t *testing.T) {
	payload := `{"prompt":"a cat"}`

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(payload))
	require.NoError(t, gw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zs := enc.EncodeAll([]byte(payload), nil)
	require.NoError(t, enc.Close())

	tests := []struct {
		name     string
		encoding string
		body     []byte
		wantCode int
		wantSeen string
	}{
		{name: "plain", body: []byte(payload), wantCode: http.StatusNoContent, wantSeen: payload},
		{name: "gzip", encoding: "gzip", body: gz.Bytes(), wantCode: http.StatusNoContent, wantSeen: payload},
		{name: "zstd", encoding: "zstd", body: zs, wantCode: http.StatusNoContent, wantSeen: payload},
		{name: "broken gzip", encoding: "gzip", body: []byte("nope"), wantCode: http.StatusBadRequest},
		{name: "unsupported", encoding: "compress", body: []byte("x"), wantCode: http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, seen := newDecompressEngine(0)
			req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(tt.body))
			if tt.encoding != "" {
				req.Header.Set("Content-Encoding", tt.encoding)
			}
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantSeen != "" {
				assert.Equal(t, tt.wantSeen, *seen)
			} else {
				assert.Contains(t, w.Body.String(), `"ok":false`)
			}
		})
	}
}

func TestRequestDecompression_Limit(t *testing.T) {
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(strings.Repeat("a", 1024)))
	require.NoError(t, gw.Close())

	engine, _ := newDecompressEngine(100)
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(gz.Bytes()))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRequestDecompression_CompressedBodyOverInboundLimit(t *testing.T) {
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(strings.Repeat(`{"prompt":"a cat"}`, 200)))
	require.NoError(t, gw.Close())
	require.Greater(t, gz.Len(), 16)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 16)
		c.Next()
	})
	engine.Use(RequestDecompressionMiddleware(0))
	engine.POST("/echo", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(gz.Bytes()))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "Request body too large")
}
