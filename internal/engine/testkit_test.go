package engine

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/msageha/restfile/internal/model"
)

// writeFile creates name under a fresh temp dir and returns its absolute path.
func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func newCommand(name, url string) model.Command {
	return model.Command{
		Name:        name,
		URLTemplate: url,
		Method:      "POST",
		Headers:     map[string]string{},
		Timeout:     5 * time.Second,
		VerifyTLS:   true,
	}
}

// quietTLSServer is an httptest TLS server that does not log handshake errors.
func quietTLSServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewUnstartedServer(h)
	srv.Config.ErrorLog = log.New(io.Discard, "", 0)
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

// countingSender records how many times Send was reached.
type countingSender struct {
	inner Sender
	calls atomic.Int32
}

func (c *countingSender) Send(ctx context.Context, req *Request, timeout time.Duration, verifyTLS bool) (*Response, error) {
	c.calls.Add(1)
	return c.inner.Send(ctx, req, timeout, verifyTLS)
}

// senderFunc adapts a function to Sender.
type senderFunc func(ctx context.Context, req *Request) (*Response, error)

func (f senderFunc) Send(ctx context.Context, req *Request, _ time.Duration, _ bool) (*Response, error) {
	return f(ctx, req)
}
