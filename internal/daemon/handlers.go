package daemon

import (
	"context"
	"errors"

	"github.com/msageha/restfile/internal/engine"
	"github.com/msageha/restfile/internal/model"
	"github.com/msageha/restfile/internal/uds"
)

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CommandPing, func(_ context.Context, req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]any{"status": "ok", "commands": d.registry.Len()})
	})

	d.server.Handle(uds.CommandShutdown, func(_ context.Context, req *uds.Request) *uds.Response {
		d.logger.Infof("shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	d.server.Handle(uds.CommandCall, d.handleCall)
	d.server.Handle(uds.CommandReload, d.handleReload)
	d.server.Handle(uds.CommandState, d.handleState)
	d.server.Handle(uds.CommandServices, d.handleServices)
}

func (d *Daemon) handleCall(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.CallParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if p.Command == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "command is required")
	}

	value, err := d.engine.Call(ctx, p.Command, model.Invocation{
		FilePath:         p.File,
		ResponseVariable: p.ResponseVariable,
	})
	if err != nil {
		return uds.ErrorResponse(errorCode(err), err.Error())
	}
	if value == nil {
		return uds.SuccessResponse(nil)
	}
	return uds.SuccessResponse(value)
}

func (d *Daemon) handleReload(ctx context.Context, req *uds.Request) *uds.Response {
	summary, err := d.Reload(ctx)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	return uds.SuccessResponse(summary)
}

func (d *Daemon) handleState(_ context.Context, req *uds.Request) *uds.Response {
	var p uds.StateParams
	if len(req.Params) > 0 {
		if err := req.DecodeParams(&p); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
		}
	}
	if p.Command == "" {
		results := d.store.List()
		if results == nil {
			results = []model.LastResult{}
		}
		return uds.SuccessResponse(results)
	}
	rec, ok := d.store.Get(p.Command)
	if !ok {
		return uds.ErrorResponse(uds.ErrCodeNotFound, "no result recorded for "+p.Command)
	}
	return uds.SuccessResponse(rec)
}

func (d *Daemon) handleServices(_ context.Context, req *uds.Request) *uds.Response {
	return uds.SuccessResponse(d.registry.Describe())
}

// errorCode maps an engine failure onto the UDS error code the CLI reports.
func errorCode(err error) string {
	if errors.Is(err, engine.ErrUnknownCommand) {
		return uds.ErrCodeNotFound
	}
	switch engine.KindOf(err) {
	case engine.KindValidation:
		return uds.ErrCodeValidation
	case engine.KindFileNotFound:
		return uds.ErrCodeFileNotFound
	case engine.KindTemplate:
		return uds.ErrCodeTemplate
	case engine.KindTimeout:
		return uds.ErrCodeTimeout
	case engine.KindConnection:
		return uds.ErrCodeConnection
	case engine.KindTLS:
		return uds.ErrCodeTLS
	case engine.KindCancelled:
		return uds.ErrCodeCancelled
	default:
		return uds.ErrCodeInternal
	}
}
