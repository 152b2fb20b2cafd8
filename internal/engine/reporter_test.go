package engine

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/restfile/internal/events"
	"github.com/msageha/restfile/internal/model"
	"github.com/msageha/restfile/internal/state"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func newTestReporter(store ResultWriter, bus *events.Bus) *Reporter {
	r := NewReporter(store, bus, nil)
	r.now = fixedNow
	return r
}

func textResponse(code int, body string) *Response {
	return &Response{
		StatusCode: code,
		Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte(body),
		URL:        "http://example.com/upload",
	}
}

func TestReportSuccess_WithResponseVariable(t *testing.T) {
	store := state.NewMemoryStore()
	r := newTestReporter(store, nil)

	got := r.ReportSuccess("upload", model.Invocation{ID: "inv_1", ResponseVariable: "out"}, textResponse(200, "done"))
	require.NotNil(t, got)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, "done", got.Content)

	rec, ok := store.Get("upload")
	require.True(t, ok)
	require.NotNil(t, rec.StatusCode)
	assert.Equal(t, 200, *rec.StatusCode)
	assert.Equal(t, "done", rec.Content)
	assert.True(t, rec.OK)
	assert.Equal(t, model.ResultStatusOK, rec.Status)
	assert.Equal(t, "inv_1", rec.InvocationID)
	assert.Equal(t, "2026-01-02T03:04:05Z", rec.UpdatedAt)
}

func TestReportSuccess_WithoutResponseVariable(t *testing.T) {
	store := state.NewMemoryStore()
	r := newTestReporter(store, nil)

	got := r.ReportSuccess("upload", model.Invocation{}, textResponse(204, ""))
	assert.Nil(t, got)

	rec, ok := store.Get("upload")
	require.True(t, ok)
	assert.Equal(t, 204, *rec.StatusCode)
}

func TestReportSuccess_ErrorStatusIsNotOK(t *testing.T) {
	store := state.NewMemoryStore()
	r := newTestReporter(store, nil)

	got := r.ReportSuccess("upload", model.Invocation{ResponseVariable: "out"}, textResponse(503, "busy"))
	require.NotNil(t, got)
	assert.Equal(t, 503, got.Status)
	assert.Equal(t, "busy", got.Content)

	rec, _ := store.Get("upload")
	assert.False(t, rec.OK)
	assert.Equal(t, model.ResultStatusError, rec.Status)
	assert.Equal(t, "busy", rec.Content)
}

func TestReportSuccess_JSONBody(t *testing.T) {
	r := newTestReporter(state.NewMemoryStore(), nil)
	resp := &Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"url":"http://x/y.jpg"}`),
	}

	got := r.ReportSuccess("upload", model.Invocation{ResponseVariable: "out"}, resp)
	require.NotNil(t, got)
	assert.Equal(t, `{"url":"http://x/y.jpg"}`, got.Content)
	assert.Equal(t, map[string]any{"url": "http://x/y.jpg"}, got.JSON)
}

func TestReportSuccess_Charsets(t *testing.T) {
	tests := []struct {
		name         string
		contentType  string
		body         []byte
		wantContent  string
		wantEncoding string
	}{
		{"utf8 default", "text/plain", []byte("héllo"), "héllo", ""},
		{"latin1", "text/plain; charset=iso-8859-1", []byte{'c', 0xe9}, "cé", ""},
		{"binary", "application/octet-stream", []byte{0xff, 0xfe, 0x00, 0x81}, base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0x00, 0x81}), ContentEncodingBase64},
		{"unknown charset falls back to utf8", "text/plain; charset=bogus", []byte("ok"), "ok", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := state.NewMemoryStore()
			r := newTestReporter(store, nil)
			resp := &Response{StatusCode: 200, Header: http.Header{"Content-Type": {tt.contentType}}, Body: tt.body}

			got := r.ReportSuccess("upload", model.Invocation{ResponseVariable: "out"}, resp)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantContent, got.Content)
			assert.Equal(t, tt.wantEncoding, got.ContentEncoding)

			rec, _ := store.Get("upload")
			assert.Equal(t, tt.wantContent, rec.Content)
			assert.Equal(t, tt.wantEncoding, rec.ContentEncoding)
		})
	}
}

func TestReportFailure_RecordsAndReturns(t *testing.T) {
	store := state.NewMemoryStore()
	r := newTestReporter(store, nil)
	cause := &Error{Kind: KindTimeout, URL: "http://example.com/u", Msg: "request timed out"}

	err := r.ReportFailure("upload", model.Invocation{ID: "inv_2"}, cause)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	rec, ok := store.Get("upload")
	require.True(t, ok)
	assert.Nil(t, rec.StatusCode)
	assert.False(t, rec.OK)
	assert.Equal(t, model.ResultStatusFail, rec.Status)
	assert.Equal(t, string(KindTimeout), rec.ErrorKind)
	assert.Equal(t, "http://example.com/u", rec.URL)
	assert.Equal(t, err.Error(), rec.Content)
	assert.Contains(t, rec.Content, "upload: request timed out")
}

type failingStore struct{}

func (failingStore) Put(model.LastResult) error { return errors.New("disk full") }

func TestReporter_StoreFailureDoesNotLoseCallerValue(t *testing.T) {
	r := newTestReporter(failingStore{}, nil)

	got := r.ReportSuccess("upload", model.Invocation{ResponseVariable: "out"}, textResponse(200, "ok"))
	require.NotNil(t, got)
	assert.Equal(t, "ok", got.Content)
}

func TestReporter_PublishesStateChanged(t *testing.T) {
	bus := events.NewBus(8)
	defer bus.Close()
	ch := make(chan events.Event, 1)
	unsubscribe := bus.Subscribe(events.EventStateChanged, func(ev events.Event) { ch <- ev })
	defer unsubscribe()

	r := newTestReporter(state.NewMemoryStore(), bus)
	r.ReportSuccess("upload", model.Invocation{ID: "inv_3"}, textResponse(200, "ok"))

	select {
	case ev := <-ch:
		assert.Equal(t, events.EventStateChanged, ev.Type)
		assert.Equal(t, "upload", ev.Data["command"])
		assert.Equal(t, "inv_3", ev.Data["invocation_id"])
	case <-time.After(time.Second):
		t.Fatal("state_changed not published")
	}
}

func TestReporter_ConcurrentWritesKeepWholeRecord(t *testing.T) {
	store := state.NewMemoryStore()
	r := newTestReporter(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := 200 + i
			r.ReportSuccess("upload", model.Invocation{}, textResponse(code, "status "+strconv.Itoa(code)))
		}(i)
	}
	wg.Wait()

	rec, ok := store.Get("upload")
	require.True(t, ok)
	require.NotNil(t, rec.StatusCode)
	assert.Equal(t, "status "+strconv.Itoa(*rec.StatusCode), rec.Content)
}
