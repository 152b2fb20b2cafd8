package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/msageha/restfile/internal/model"
)

const (
	// FilePartName is the form field name of the uploaded file.
	FilePartName = "file"

	defaultPartContentType = "application/octet-stream"
)

// Request is a transport-ready request descriptor.
type Request struct {
	Command string
	Method  string
	URL     string
	Header  http.Header
	Body    []byte

	username  string
	password  string
	basicAuth bool
}

// BasicAuth returns the credentials attached to the request, if any.
func (r *Request) BasicAuth() (username, password string, ok bool) {
	return r.username, r.password, r.basicAuth
}

// HTTPRequest materialises the descriptor as an *http.Request bound to ctx.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	req.ContentLength = int64(len(r.Body))
	if r.basicAuth {
		req.SetBasicAuth(r.username, r.password)
	}
	return req, nil
}

// Build turns a command and an invocation into a request descriptor. The upload
// file is opened once and closed before Build returns.
func Build(cmd model.Command, inv model.Invocation, renderer Renderer) (*Request, error) {
	if strings.TrimSpace(cmd.URLTemplate) == "" {
		return nil, newError(KindValidation, "command has no url", nil)
	}
	if cmd.Method == "" {
		return nil, newError(KindValidation, "command has no method", nil)
	}
	if inv.FilePath == "" {
		return nil, newError(KindValidation, "file is required", nil)
	}
	if !filepath.IsAbs(inv.FilePath) {
		return nil, newError(KindValidation, fmt.Sprintf("file path must be absolute: %s", inv.FilePath), nil)
	}

	f, err := openUpload(inv.FilePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	rendered, err := renderer.Render(cmd.URLTemplate, templateVars(inv))
	if err != nil {
		return nil, newError(KindTemplate, "render url", err)
	}
	if err := checkURL(rendered); err != nil {
		return nil, newError(KindTemplate, "rendered url is not usable", err)
	}

	body, contentType, err := encodeMultipart(f, filepath.Base(inv.FilePath), partContentType(cmd, inv.FilePath))
	if err != nil {
		return nil, newError(KindFileNotFound, fmt.Sprintf("read %s", inv.FilePath), err)
	}

	header := make(http.Header, len(cmd.Headers)+1)
	for k, v := range cmd.Headers {
		header.Set(k, v)
	}
	// body encoding headers always come from the encoder
	header.Set("Content-Type", contentType)
	header.Del("Content-Length")

	req := &Request{
		Command: cmd.Name,
		Method:  cmd.Method,
		URL:     rendered,
		Header:  header,
		Body:    body,
	}
	if cmd.Credentials != nil {
		req.username = cmd.Credentials.Username
		req.password = cmd.Credentials.Password
		req.basicAuth = true
	}
	return req, nil
}

// templateVars is the full render context: only what the caller passed in.
func templateVars(inv model.Invocation) map[string]any {
	return map[string]any{"file": inv.FilePath}
}

func openUpload(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(KindFileNotFound, fmt.Sprintf("file not found: %s", path), err)
		}
		return nil, newError(KindFileNotFound, fmt.Sprintf("file not readable: %s", path), err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, newError(KindFileNotFound, fmt.Sprintf("stat %s", path), err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, newError(KindFileNotFound, fmt.Sprintf("not a regular file: %s", path), nil)
	}
	return f, nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func partContentType(cmd model.Command, path string) string {
	if cmd.ContentType != "" {
		return cmd.ContentType
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return defaultPartContentType
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeMultipart(r io.Reader, filename, partType string) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FilePartName, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", partType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
