// Package httpapi serves the host-facing REST API: invoking commands,
// reloading them, and reading their last results.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/msageha/restfile/internal/engine"
	"github.com/msageha/restfile/internal/model"
)

// Domain is the service domain commands are published under.
const Domain = "rest_file_command"

// defaultResponseVariable is used when the caller asks for the response
// without naming a variable.
const defaultResponseVariable = "service_response"

type Caller interface {
	Call(ctx context.Context, name string, inv model.Invocation) (*model.ServiceResponse, error)
}

type StateReader interface {
	Get(command string) (model.LastResult, bool)
	List() []model.LastResult
}

type Handler struct {
	Engine   Caller
	States   StateReader
	Services func() []model.ServiceDescription
	Reload   func(ctx context.Context) (model.ReloadSummary, error)

	// Base is cancelled on daemon shutdown; in-flight calls stop with it.
	Base context.Context
}

func (h Handler) RegisterRoutes(s *server.Hertz, tokenSecret string) {
	api := s.Group("/api", authMiddleware(tokenSecret))
	api.GET("/services", h.services)
	api.POST("/services/"+Domain+"/:name", h.callService)
	api.GET("/states", h.states)
	api.GET("/states/:name", h.state)
}

type callRequest struct {
	File             string `json:"file"`
	ResponseVariable string `json:"response_variable,omitempty"`
}

type callResponse struct {
	ServiceResponse *model.ServiceResponse `json:"service_response"`
}

func (h Handler) callService(c context.Context, ctx *app.RequestContext) {
	name := ctx.Param("name")
	if name == model.ReloadServiceName {
		h.reload(c, ctx)
		return
	}

	var body callRequest
	if err := decodeJSON(ctx, &body); err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_json", "invalid json")
		return
	}

	returnResponse := ctx.QueryArgs().Has("return_response")
	inv := model.Invocation{FilePath: body.File, ResponseVariable: body.ResponseVariable}
	if returnResponse && inv.ResponseVariable == "" {
		inv.ResponseVariable = defaultResponseVariable
	}

	callCtx, cancel := h.callContext(c)
	defer cancel()

	value, err := h.Engine.Call(callCtx, name, inv)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if !returnResponse {
		ctx.JSON(consts.StatusOK, []any{})
		return
	}
	ctx.JSON(consts.StatusOK, callResponse{ServiceResponse: value})
}

// callContext ties the request context to the daemon lifetime.
func (h Handler) callContext(c context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c)
	if h.Base == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(h.Base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (h Handler) reload(c context.Context, ctx *app.RequestContext) {
	if h.Reload == nil {
		writeErrorBody(ctx, consts.StatusNotImplemented, "not_supported", "reload is not available")
		return
	}
	summary, err := h.Reload(c)
	if err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	ctx.JSON(consts.StatusOK, summary)
}

func (h Handler) services(c context.Context, ctx *app.RequestContext) {
	var descs []model.ServiceDescription
	if h.Services != nil {
		descs = h.Services()
	}
	if descs == nil {
		descs = []model.ServiceDescription{}
	}
	ctx.JSON(consts.StatusOK, map[string]any{Domain: descs})
}

func (h Handler) states(c context.Context, ctx *app.RequestContext) {
	results := h.States.List()
	if results == nil {
		results = []model.LastResult{}
	}
	ctx.JSON(consts.StatusOK, results)
}

func (h Handler) state(c context.Context, ctx *app.RequestContext) {
	name := ctx.Param("name")
	rec, ok := h.States.Get(name)
	if !ok {
		writeErrorBody(ctx, consts.StatusNotFound, "not_found", "no result recorded for "+name)
		return
	}
	ctx.JSON(consts.StatusOK, rec)
}

func decodeJSON(ctx *app.RequestContext, out any) error {
	body := ctx.Request.Body()
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func writeError(ctx *app.RequestContext, err error) {
	if errors.Is(err, engine.ErrUnknownCommand) {
		writeErrorBody(ctx, consts.StatusNotFound, "not_found", err.Error())
		return
	}
	kind := engine.KindOf(err)
	switch kind {
	case engine.KindValidation, engine.KindFileNotFound, engine.KindTemplate:
		writeErrorBody(ctx, consts.StatusBadRequest, string(kind), err.Error())
	case engine.KindTimeout:
		writeErrorBody(ctx, consts.StatusGatewayTimeout, string(kind), err.Error())
	case engine.KindConnection, engine.KindTLS:
		writeErrorBody(ctx, consts.StatusBadGateway, string(kind), err.Error())
	case engine.KindCancelled:
		writeErrorBody(ctx, consts.StatusServiceUnavailable, string(kind), err.Error())
	default:
		writeErrorBody(ctx, consts.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeErrorBody(ctx *app.RequestContext, status int, code, message string) {
	ctx.JSON(status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
