// Package engine executes configured file-upload commands: it builds the
// multipart request, sends it under the command's timeout and TLS policy, and
// reports the outcome to the last-result store.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/msageha/restfile/internal/events"
	"github.com/msageha/restfile/internal/logging"
	"github.com/msageha/restfile/internal/model"
)

// Phase is the stage an invocation is in.
type Phase string

const (
	PhaseBuilding  Phase = "building"
	PhaseSending   Phase = "sending"
	PhaseReporting Phase = "reporting"
	PhaseDone      Phase = "done"
)

type Options struct {
	Renderer Renderer
	Sender   Sender
	Store    ResultWriter
	Bus      *events.Bus
	Logger   *logging.Logger
}

type Engine struct {
	registry *Registry
	renderer Renderer
	sender   Sender
	reporter *Reporter
	bus      *events.Bus
	logger   *logging.Logger
}

func New(registry *Registry, opts Options) *Engine {
	if opts.Renderer == nil {
		opts.Renderer = TextRenderer{}
	}
	if opts.Sender == nil {
		opts.Sender = &HTTPTransport{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Engine{
		registry: registry,
		renderer: opts.Renderer,
		sender:   opts.Sender,
		reporter: NewReporter(opts.Store, opts.Bus, opts.Logger),
		bus:      opts.Bus,
		logger:   opts.Logger,
	}
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// Call runs one invocation of the named command. The returned value is nil
// unless inv.ResponseVariable is set. Every failure is returned; all but
// cancellation are also recorded as the command's last result.
func (e *Engine) Call(ctx context.Context, name string, inv model.Invocation) (*model.ServiceResponse, error) {
	cmd, ok := e.registry.Get(name)
	if !ok {
		return nil, &Error{Kind: KindValidation, Command: name, Msg: "unknown command", Err: ErrUnknownCommand}
	}

	if inv.ID == "" {
		id, err := model.GenerateID(model.IDTypeInvocation)
		if err != nil {
			return nil, fmt.Errorf("generate invocation id: %w", err)
		}
		inv.ID = id
	}

	if e.bus != nil {
		e.bus.Publish(events.EventCallService, map[string]interface{}{
			"command":       name,
			"invocation_id": inv.ID,
			"file":          inv.FilePath,
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, cancelled(name, err)
	}

	e.trace(inv, name, PhaseBuilding)
	req, err := Build(cmd, inv, e.renderer)
	if err != nil {
		e.trace(inv, name, PhaseReporting)
		return nil, e.reporter.ReportFailure(name, inv, err)
	}

	e.trace(inv, name, PhaseSending)
	resp, err := e.sender.Send(ctx, req, cmd.Timeout, cmd.VerifyTLS)
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) || KindOf(err) == KindCancelled {
		e.logger.Infof("command=%s invocation=%s cancelled", name, inv.ID)
		return nil, cancelled(name, err)
	}
	e.trace(inv, name, PhaseReporting)
	if err != nil {
		return nil, e.reporter.ReportFailure(name, inv, err)
	}

	value := e.reporter.ReportSuccess(name, inv, resp)
	e.trace(inv, name, PhaseDone)
	return value, nil
}

func (e *Engine) trace(inv model.Invocation, name string, p Phase) {
	e.logger.Debugf("command=%s invocation=%s phase=%s", name, inv.ID, p)
}

func cancelled(name string, cause error) error {
	if KindOf(cause) == KindCancelled {
		return withCommand(cause, name)
	}
	return &Error{Kind: KindCancelled, Command: name, Msg: "invocation cancelled", Err: cause}
}
