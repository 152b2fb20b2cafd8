package engine

import (
	"errors"
	"net/http"
	"time"

	"github.com/msageha/restfile/internal/events"
	"github.com/msageha/restfile/internal/logging"
	"github.com/msageha/restfile/internal/model"
)

// ResultWriter stores the last result of a command. Put replaces the whole record.
type ResultWriter interface {
	Put(r model.LastResult) error
}

// Reporter turns transport outcomes into last-result records and caller values.
type Reporter struct {
	store  ResultWriter
	bus    *events.Bus
	logger *logging.Logger
	now    func() time.Time
}

func NewReporter(store ResultWriter, bus *events.Bus, logger *logging.Logger) *Reporter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reporter{store: store, bus: bus, logger: logger, now: time.Now}
}

// ReportSuccess records resp and returns the caller value when inv asked for one.
// A status >= 400 is still a success at this level.
func (r *Reporter) ReportSuccess(command string, inv model.Invocation, resp *Response) *model.ServiceResponse {
	if resp.StatusCode < http.StatusBadRequest {
		r.logger.Debugf("Success. command=%s url=%s status_code=%d", command, resp.URL, resp.StatusCode)
	} else {
		r.logger.Warnf("Error. command=%s url=%s status_code=%d", command, resp.URL, resp.StatusCode)
	}

	body := decodeBody(resp.Header, resp.Body)
	code := resp.StatusCode
	status := model.ResultStatusOK
	if !isOK(code) {
		status = model.ResultStatusError
	}

	r.write(model.LastResult{
		Command:         command,
		InvocationID:    inv.ID,
		Status:          status,
		OK:              isOK(code),
		StatusCode:      &code,
		Content:         body.Text,
		ContentEncoding: body.Encoding,
		URL:             resp.URL,
	})

	if !inv.WantsResponse() {
		return nil
	}
	return &model.ServiceResponse{
		Status:          code,
		Content:         body.Text,
		ContentEncoding: body.Encoding,
		JSON:            body.JSON,
	}
}

// ReportFailure records err as the command's last result and hands it back.
func (r *Reporter) ReportFailure(command string, inv model.Invocation, err error) error {
	err = withCommand(err, command)
	r.logger.Errorf("command=%s invocation=%s kind=%s error=%v", command, inv.ID, KindOf(err), err)

	rec := model.LastResult{
		Command:      command,
		InvocationID: inv.ID,
		Status:       model.ResultStatusFail,
		Content:      err.Error(),
		ErrorKind:    string(KindOf(err)),
	}
	var e *Error
	if errors.As(err, &e) {
		rec.URL = e.URL
	}
	r.write(rec)
	return err
}

func (r *Reporter) write(rec model.LastResult) {
	rec.UpdatedAt = r.now().UTC().Format(time.RFC3339Nano)
	if r.store != nil {
		if err := r.store.Put(rec); err != nil {
			r.logger.Warnf("command=%s store last result: %v", rec.Command, err)
			return
		}
	}
	if r.bus != nil {
		r.bus.Publish(events.EventStateChanged, map[string]interface{}{
			"command":       rec.Command,
			"invocation_id": rec.InvocationID,
			"status":        string(rec.Status),
			"status_code":   rec.StatusCode,
			"error_kind":    rec.ErrorKind,
		})
	}
}

// isOK is true iff a response arrived with a status below 400.
func isOK(code int) bool {
	return code > 0 && code < http.StatusBadRequest
}
