// Package command turns navigation commands into route dispatches and keeps
// every per-command failure away from the channel.
package command

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/QuadTriangle/navlink/internal/hooks"
	"github.com/QuadTriangle/navlink/internal/route"
	"github.com/QuadTriangle/navlink/internal/types"
)

var ErrMissingPoints = errors.New("navigation command has no points")

// Dispatcher is the part of route.Dispatcher the interpreter needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req route.Request, done func(route.Outcome)) error
}

type Interpreter struct {
	dispatcher Dispatcher
	pipeline   *hooks.Pipeline
}

func NewInterpreter(d Dispatcher, pipeline *hooks.Pipeline) *Interpreter {
	return &Interpreter{dispatcher: d, pipeline: pipeline}
}

// Handle forwards cmd to the dispatcher. Errors are logged and shown on the
// status surface, never returned. done receives the outcome of an accepted
// dispatch.
func (in *Interpreter) Handle(ctx context.Context, cmd *types.Command, done func(route.Outcome)) {
	if cmd == nil || len(cmd.Points) == 0 {
		in.fail(ErrMissingPoints)
		return
	}

	req := route.Request{
		ID:      uuid.NewString(),
		Points:  cmd.Points,
		NavType: cmd.NavType,
	}
	if cmd.Policy != nil {
		req.Policy = *cmd.Policy
	}
	if req.NavType == "" {
		req.NavType = types.NavDriving
	}
	req = in.pipeline.RunBeforeDispatch(req)

	if err := in.dispatcher.Dispatch(ctx, req, done); err != nil {
		in.fail(err)
		return
	}
	log.Printf("Dispatched %s route %s (%d points, policy %d)", req.NavType, req.ID, len(req.Points), req.Policy)
}

// Report publishes a finished dispatch.
func (in *Interpreter) Report(out route.Outcome) {
	in.pipeline.RunAfterDispatch(out)
	if out.Success {
		log.Printf("%s route %s planned in %s", out.NavType.Label(), out.ID, out.Latency)
	} else {
		log.Printf("%s route %s failed: %v", out.NavType.Label(), out.ID, out.Payload)
	}
	in.pipeline.Status(out.Message())
}

// Reject reports a navigation command that could not be decoded.
func (in *Interpreter) Reject(err error) {
	in.fail(err)
}

func (in *Interpreter) fail(err error) {
	log.Printf("Navigation failed: %v", err)
	in.pipeline.Status("Navigation failed: " + err.Error())
}
