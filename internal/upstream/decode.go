package upstream

import (
	"errors"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// decodeResponseBody wraps body with a decoder for the given Content-Encoding.
// Unknown or identity encodings return the body unchanged.
func decodeResponseBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	if body == nil {
		return nil, errors.New("response body is nil")
	}
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, err
		}
		return &decodedBody{Reader: gz, closers: []func() error{gz.Close, body.Close}}, nil
	case "deflate":
		fr := flate.NewReader(body)
		return &decodedBody{Reader: fr, closers: []func() error{fr.Close, body.Close}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), closers: []func() error{body.Close}}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, err
		}
		return &decodedBody{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			body.Close,
		}}, nil
	default:
		return body, nil
	}
}

type decodedBody struct {
	io.Reader
	closers []func() error
}

func (d *decodedBody) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
