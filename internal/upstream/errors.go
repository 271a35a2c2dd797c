package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindCanceled   ErrorKind = "canceled"
	KindDNS        ErrorKind = "dns"
	KindTLS        ErrorKind = "tls"
	KindConnection ErrorKind = "connection"
)

// TransportError is returned when no HTTP response could be obtained from a candidate.
// It is distinct from an upstream that answered with an error status.
type TransportError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s error calling %s: %v", e.Kind, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time.
func (e *TransportError) Timeout() bool { return e != nil && e.Kind == KindTimeout }

// Describe returns a short human description used in failure envelopes.
func (e *TransportError) Describe() string {
	switch e.Kind {
	case KindTimeout:
		return "upstream request timed out"
	case KindCanceled:
		return "request canceled by client"
	case KindDNS:
		return "upstream host could not be resolved"
	case KindTLS:
		return "TLS handshake with upstream failed"
	default:
		return "could not connect to upstream"
	}
}

// AsTransportError unwraps err into a *TransportError.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// classify maps a client error to a TransportError. parent is the caller's context,
// used to tell an inbound cancellation apart from the per-call timeout.
func classify(parent context.Context, rawURL string, err error) *TransportError {
	te := &TransportError{URL: rawURL, Err: err, Kind: KindConnection}
	if parentErr := parent.Err(); errors.Is(parentErr, context.Canceled) {
		te.Kind = KindCanceled
		return te
	}

	var (
		dnsErr      *net.DNSError
		netErr      net.Error
		recordErr   tls.RecordHeaderError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		te.Kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		te.Kind = KindTimeout
	case errors.As(err, &dnsErr):
		te.Kind = KindDNS
	case errors.As(err, &recordErr), errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth), errors.As(err, &hostErr), errors.As(err, &invalidErr):
		te.Kind = KindTLS
	case errors.Is(err, context.Canceled):
		te.Kind = KindCanceled
	}
	return te
}
