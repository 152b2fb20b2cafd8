package engine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// Response is what came back over the wire. Any status code is a valid Response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// Sender performs exactly one HTTP exchange for a request descriptor.
type Sender interface {
	Send(ctx context.Context, req *Request, timeout time.Duration, verifyTLS bool) (*Response, error)
}

// HTTPTransport is the production Sender. Each call gets its own
// http.Transport so the TLS policy of one command never reaches another.
type HTTPTransport struct {
	// RootCAs overrides the system pool when set.
	RootCAs *x509.CertPool
}

func (t *HTTPTransport) Send(ctx context.Context, req *Request, timeout time.Duration, verifyTLS bool) (*Response, error) {
	if timeout <= 0 {
		return nil, newError(KindValidation, "timeout must be > 0", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := req.HTTPRequest(callCtx)
	if err != nil {
		return nil, newError(KindValidation, "build http request", err)
	}

	tr := t.roundTripper(verifyTLS)
	defer tr.CloseIdleConnections()
	client := &http.Client{
		Transport: tr,
		// One request per invocation: a redirect comes back as the response.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, callCtx, err, req.URL)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, callCtx, err, req.URL)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        resp.Request.URL.String(),
	}, nil
}

func (t *HTTPTransport) roundTripper(verifyTLS bool) *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableKeepAlives = true
	tr.TLSClientConfig = &tls.Config{
		RootCAs:            t.RootCAs,
		InsecureSkipVerify: !verifyTLS,
	}
	return tr
}

// classify maps a client error onto the engine taxonomy. parent is the
// caller's context, callCtx the one carrying the per-command timeout.
func classify(parent, callCtx context.Context, err error, url string) error {
	wrap := func(kind Kind, msg string) error {
		e := newError(kind, msg, err)
		e.URL = url
		return e
	}

	if errors.Is(parent.Err(), context.Canceled) {
		return wrap(KindCancelled, "request cancelled")
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return wrap(KindTimeout, "request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrap(KindTimeout, "request timed out")
	}
	if isTLSError(err) {
		return wrap(KindTLS, "tls handshake failed")
	}
	return wrap(KindConnection, "request failed")
}

func isTLSError(err error) bool {
	var (
		verifyErr     *tls.CertificateVerificationError
		unknownAuth   x509.UnknownAuthorityError
		hostnameErr   x509.HostnameError
		invalidErr    x509.CertificateInvalidError
		recordErr     tls.RecordHeaderError
		alertErr      tls.AlertError
		systemRoots   x509.SystemRootsError
		constraintErr x509.ConstraintViolationError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &systemRoots) ||
		errors.As(err, &constraintErr)
}
