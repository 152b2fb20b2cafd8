package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/restfile/internal/engine"
	"github.com/msageha/restfile/internal/model"
	"github.com/msageha/restfile/internal/state"
	"github.com/msageha/restfile/internal/uds"
)

// syncBuffer is a bytes.Buffer safe for the daemon's concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// shortTempDir keeps socket paths under the 104 byte limit on macOS.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "rf-d-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, model.ConfigFileName), []byte(content), 0644))
}

func loadConfig(t *testing.T, dir string) model.Config {
	t.Helper()
	cfg, err := model.LoadConfig(filepath.Join(dir, model.ConfigFileName))
	require.NoError(t, err)
	return cfg
}

func uploadServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"name": hdr.Filename, "size": len(b)})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewDaemon(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
rest_file_command:
  upload:
    url: http://example.com/upload
logging:
  level: debug
`)
	var buf syncBuffer
	d, err := newDaemon(dir, loadConfig(t, dir), model.EnvOverrides{}, &buf, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"upload"}, d.registry.Names())
	_, isFile := d.store.(*state.FileStore)
	assert.True(t, isFile, "state is persisted by default")
}

func TestNewDaemon_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
rest_file_command:
  upload:
    method: TRACE
`)
	_, err := newDaemon(dir, loadConfig(t, dir), model.EnvOverrides{}, io.Discard, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rest_file_command.upload.url")
	assert.Contains(t, err.Error(), "rest_file_command.upload.method")
}

func TestNewDaemon_EphemeralState(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "state:\n  persist: false\n")
	d, err := newDaemon(dir, loadConfig(t, dir), model.EnvOverrides{}, io.Discard, nil)
	require.NoError(t, err)

	_, isMem := d.store.(*state.MemoryStore)
	assert.True(t, isMem)
}

func TestDaemonShutdownIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := model.Config{Daemon: model.DaemonConfig{ShutdownTimeoutSec: 1}}

	d, err := newDaemon(dir, cfg, model.EnvOverrides{}, io.Discard, nil)
	require.NoError(t, err)

	d.Shutdown()
	d.Shutdown() // second call should not panic

	select {
	case <-d.stopped:
	default:
		t.Fatal("stopped channel not closed")
	}
}

func TestHandleCall(t *testing.T) {
	srv := uploadServer(t)
	dir := t.TempDir()
	writeConfig(t, dir, `
rest_file_command:
  upload:
    url: "`+srv.URL+`/{{ .file | base }}"
    method: put
    timeout: 5
`)
	d, err := newDaemon(dir, loadConfig(t, dir), model.EnvOverrides{}, io.Discard, nil)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "image.jpg")
	require.NoError(t, os.WriteFile(file, []byte("12345"), 0644))

	req, err := uds.NewRequest(uds.CommandCall, uds.CallParams{Command: "upload", File: file, ResponseVariable: "out"})
	require.NoError(t, err)
	resp := d.handleCall(context.Background(), req)
	require.NoError(t, resp.Err())

	var value model.ServiceResponse
	require.NoError(t, resp.Decode(&value))
	assert.Equal(t, 200, value.Status)
	assert.JSONEq(t, `{"name":"image.jpg","size":5}`, value.Content)

	// persisted under state/last_results
	results, err := state.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "upload", results[0].Command)
	assert.Equal(t, 200, *results[0].StatusCode)

	// no response variable: null payload
	req, _ = uds.NewRequest(uds.CommandCall, uds.CallParams{Command: "upload", File: file})
	resp = d.handleCall(context.Background(), req)
	require.NoError(t, resp.Err())
	assert.Empty(t, resp.Data)
}

func TestHandleCall_Errors(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
rest_file_command:
  upload:
    url: http://127.0.0.1:1/upload
`)
	d, err := newDaemon(dir, loadConfig(t, dir), model.EnvOverrides{}, io.Discard, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		params any
		code   string
	}{
		{"missing params", nil, uds.ErrCodeValidation},
		{"missing command", uds.CallParams{File: "/tmp/x"}, uds.ErrCodeValidation},
		{"unknown command", uds.CallParams{Command: "nope", File: "/tmp/x"}, uds.ErrCodeNotFound},
		{"missing file", uds.CallParams{Command: "upload", File: filepath.Join(dir, "missing.bin")}, uds.ErrCodeFileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := uds.NewRequest(uds.CommandCall, tt.params)
			require.NoError(t, err)
			resp := d.handleCall(context.Background(), req)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestHandleState(t *testing.T) {
	dir := t.TempDir()
	d, err := newDaemon(dir, model.Config{}, model.EnvOverrides{}, io.Discard, nil)
	require.NoError(t, err)

	code := 201
	require.NoError(t, d.store.Put(model.LastResult{Command: "upload", Status: model.ResultStatusOK, StatusCode: &code}))

	req, _ := uds.NewRequest(uds.CommandState, nil)
	var all []model.LastResult
	require.NoError(t, d.handleState(context.Background(), req).Decode(&all))
	require.Len(t, all, 1)

	req, _ = uds.NewRequest(uds.CommandState, uds.StateParams{Command: "upload"})
	var one model.LastResult
	require.NoError(t, d.handleState(context.Background(), req).Decode(&one))
	assert.Equal(t, 201, *one.StatusCode)

	req, _ = uds.NewRequest(uds.CommandState, uds.StateParams{Command: "other"})
	resp := d.handleState(context.Background(), req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, uds.ErrCodeNotFound, resp.Error.Code)
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
rest_file_command:
  a:
    url: http://a.example.com
  b:
    url: http://b.example.com
`)
	var buf syncBuffer
	d, err := newDaemon(dir, loadConfig(t, dir), model.EnvOverrides{}, &buf, nil)
	require.NoError(t, err)

	writeConfig(t, dir, `
rest_file_command:
  b:
    url: http://b2.example.com
    method: patch
  c:
    url: http://c.example.com
`)
	summary, err := d.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, summary.Commands)
	assert.Equal(t, []string{"a"}, summary.Removed)

	b, ok := d.registry.Get("b")
	require.True(t, ok)
	assert.Equal(t, "PATCH", b.Method)
	assert.Equal(t, "http://b2.example.com", b.URLTemplate)
}

func TestReload_InvalidConfigKeepsRegistry(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
rest_file_command:
  a:
    url: http://a.example.com
`)
	var buf syncBuffer
	d, err := newDaemon(dir, loadConfig(t, dir), model.EnvOverrides{}, &buf, nil)
	require.NoError(t, err)

	for _, broken := range []string{
		"rest_file_command: [not, a, map",
		"rest_file_command:\n  a:\n    url: http://a\n    timeout: -1\n",
	} {
		writeConfig(t, dir, broken)
		_, err := d.Reload(context.Background())
		require.Error(t, err)
		assert.Equal(t, []string{"a"}, d.registry.Names())
	}
	assert.Contains(t, buf.String(), "keeping current commands")
}

func TestReload_AppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "rest_file_command: {}\n")
	overrides := model.EnvOverrides{LogLevel: "debug"}
	d, err := newDaemon(dir, loadConfig(t, dir), overrides, io.Discard, nil)
	require.NoError(t, err)

	_, err = d.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, d.registry.Len())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&engine.Error{Kind: engine.KindValidation, Err: engine.ErrUnknownCommand}, uds.ErrCodeNotFound},
		{&engine.Error{Kind: engine.KindValidation}, uds.ErrCodeValidation},
		{&engine.Error{Kind: engine.KindFileNotFound}, uds.ErrCodeFileNotFound},
		{&engine.Error{Kind: engine.KindTemplate}, uds.ErrCodeTemplate},
		{&engine.Error{Kind: engine.KindTimeout}, uds.ErrCodeTimeout},
		{&engine.Error{Kind: engine.KindConnection}, uds.ErrCodeConnection},
		{&engine.Error{Kind: engine.KindTLS}, uds.ErrCodeTLS},
		{&engine.Error{Kind: engine.KindCancelled}, uds.ErrCodeCancelled},
		{io.EOF, uds.ErrCodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCode(tt.err), "%v", tt.err)
	}
}

func TestDaemonRun_Lifecycle(t *testing.T) {
	srv := uploadServer(t)
	dir := shortTempDir(t)
	writeConfig(t, dir, `
rest_file_command:
  upload:
    url: "`+srv.URL+`/upload"
daemon:
  shutdown_timeout_sec: 5
`)
	var buf syncBuffer
	d, err := newDaemon(dir, loadConfig(t, dir), model.EnvOverrides{}, &buf, nil)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run() }()

	client := uds.NewClient(filepath.Join(dir, uds.DefaultSocketName))
	client.SetTimeout(2 * time.Second)
	require.Eventually(t, func() bool {
		return client.Do(uds.CommandPing, nil, nil) == nil
	}, 5*time.Second, 20*time.Millisecond)

	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("abc"), 0644))
	var value model.ServiceResponse
	require.NoError(t, client.Do(uds.CommandCall, uds.CallParams{Command: "upload", File: file, ResponseVariable: "r"}, &value))
	assert.Equal(t, 200, value.Status)

	var services []model.ServiceDescription
	require.NoError(t, client.Do(uds.CommandServices, nil, &services))
	require.Len(t, services, 1)
	assert.Equal(t, "Sends a file to the RESTful API endpoint via a POST request.", services[0].Description)

	// config watcher picks up a new command
	writeConfig(t, dir, `
rest_file_command:
  upload:
    url: "`+srv.URL+`/upload"
  archive:
    url: "`+srv.URL+`/archive"
`)
	require.Eventually(t, func() bool {
		_, ok := d.registry.Get("archive")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, client.Do(uds.CommandShutdown, nil, nil))
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}

	_, err = os.Stat(filepath.Join(dir, uds.DefaultSocketName))
	assert.True(t, os.IsNotExist(err), "socket removed on shutdown")

	audit, err := os.ReadFile(filepath.Join(dir, "logs", auditLogName))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(audit), `"call_service"`), string(audit))
	assert.Contains(t, buf.String(), "daemon stopped")
}

func TestDaemonRun_ShutdownAsSoonAsSocketAccepts(t *testing.T) {
	dir := shortTempDir(t)
	writeConfig(t, dir, `
rest_file_command:
  upload:
    url: http://127.0.0.1:1/upload
api:
  listen: 127.0.0.1:0
daemon:
  shutdown_timeout_sec: 5
`)
	d, err := newDaemon(dir, loadConfig(t, dir), model.EnvOverrides{}, io.Discard, nil)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run() }()

	client := uds.NewClient(filepath.Join(dir, uds.DefaultSocketName))
	client.SetTimeout(2 * time.Second)
	require.Eventually(t, func() bool {
		return client.Do(uds.CommandShutdown, nil, nil) == nil
	}, 5*time.Second, 5*time.Millisecond)

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}

	// Everything started before the socket, so shutdown saw and stopped it.
	require.NotNil(t, d.watcher)
	require.NotNil(t, d.api)
	_, err = net.DialTimeout("tcp", d.api.Addr(), time.Second)
	assert.Error(t, err, "API listener closed on shutdown")
}

func TestDaemonRun_SecondInstanceRefused(t *testing.T) {
	dir := shortTempDir(t)
	first, err := newDaemon(dir, model.Config{}, model.EnvOverrides{}, io.Discard, nil)
	require.NoError(t, err)
	require.NoError(t, first.fileLock.TryLock())
	defer first.fileLock.Unlock()

	second, err := newDaemon(dir, model.Config{}, model.EnvOverrides{}, io.Discard, nil)
	require.NoError(t, err)
	err = second.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon lock")
}
