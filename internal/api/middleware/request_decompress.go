package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// RequestDecompressionMiddleware transparently decompresses gzip or zstd request bodies.
// net/http does not decode request bodies, so the flow handlers would otherwise see
// compressed bytes and reject the payload as invalid JSON.
// maxDecompressedBytes caps the decoded size; values <= 0 select 128MiB.
func RequestDecompressionMiddleware(maxDecompressedBytes int64) gin.HandlerFunc {
	if maxDecompressedBytes <= 0 {
		maxDecompressedBytes = 128 << 20
	}
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" {
			c.Next()
			return
		}

		var reader io.Reader
		switch {
		case strings.Contains(enc, "gzip"):
			gzr, err := gzip.NewReader(c.Request.Body)
			if err != nil {
				abortReadError(c, err, "invalid gzip request body")
				return
			}
			defer func() { _ = gzr.Close() }()
			reader = gzr
		case strings.Contains(enc, "zstd"):
			zr, err := zstd.NewReader(c.Request.Body)
			if err != nil {
				abortDecompress(c, http.StatusBadRequest, "invalid zstd request body")
				return
			}
			defer zr.Close()
			reader = zr
		default:
			abortDecompress(c, http.StatusUnsupportedMediaType, "unsupported Content-Encoding: "+enc)
			return
		}

		decoded, err := io.ReadAll(io.LimitReader(reader, maxDecompressedBytes+1))
		if err != nil {
			abortReadError(c, err, "failed to decompress request body")
			return
		}
		if int64(len(decoded)) > maxDecompressedBytes {
			abortDecompress(c, http.StatusRequestEntityTooLarge, "decompressed request body too large")
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}

// abortReadError reports a body that hit the inbound size limit as 413 and anything
// else as a malformed body.
func abortReadError(c *gin.Context, err error, message string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		abortDecompress(c, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	abortDecompress(c, http.StatusBadRequest, message)
}

func abortDecompress(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"ok":    false,
		"error": message,
		"code":  "invalid_payload",
	})
}
