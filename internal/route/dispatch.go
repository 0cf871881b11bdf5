package route

import (
	"context"
	"fmt"
	"time"

	"github.com/QuadTriangle/navlink/internal/types"
)

// Result is what a routing engine reports when a search finishes.
// Payload is opaque and only kept for diagnostics.
type Result struct {
	Complete bool
	Payload  any
}

// Planner is one routing-engine variant. Search must not block: the result
// is delivered through done, possibly from another goroutine. id is the
// dispatch ID; anything the search draws is keyed by it.
type Planner interface {
	Search(ctx context.Context, id string, locs []Location, done func(Result))
}

// Engine builds planners for each navigation type.
type Engine interface {
	Driving(policy int) Planner
	Riding() Planner
	Walking() Planner
}

// Surface is the map the engine renders on.
type Surface interface {
	Ready() bool
}

// Request is a validated command handed to the dispatcher.
type Request struct {
	ID      string
	Points  []types.Point
	Policy  int
	NavType types.NavType
}

// Outcome is the completion event of one dispatch.
type Outcome struct {
	ID      string
	NavType types.NavType
	Points  int
	Policy  int
	Success bool
	Payload any
	Latency time.Duration
}

// Message renders the outcome for the status surface.
func (o Outcome) Message() string {
	if o.Success {
		return fmt.Sprintf("%s route planned (%d points)", o.NavType.Label(), o.Points)
	}
	return fmt.Sprintf("%s route planning failed", o.NavType.Label())
}

// Dispatcher picks the engine variant for a request and runs it.
type Dispatcher struct {
	surface Surface
	engine  Engine
}

func NewDispatcher(surface Surface, engine Engine) *Dispatcher {
	return &Dispatcher{surface: surface, engine: engine}
}

// Dispatch validates req and starts the route search. Validation errors are
// returned and the engine is not called. Otherwise done receives exactly one
// Outcome once the engine finishes.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, done func(Outcome)) error {
	if d.surface == nil || d.engine == nil || !d.surface.Ready() {
		return ErrEngineNotReady
	}
	if len(req.Points) < 2 {
		return ErrInsufficientPoints
	}

	var planner Planner
	switch req.NavType {
	case types.NavDriving:
		planner = d.engine.Driving(req.Policy)
	case types.NavRiding:
		planner = d.engine.Riding()
	case types.NavWalking:
		planner = d.engine.Walking()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedNavType, req.NavType)
	}

	// All-or-nothing: one bad point cancels the whole dispatch.
	locs, err := NormalizeAll(req.Points)
	if err != nil {
		return err
	}

	start := time.Now()
	planner.Search(ctx, req.ID, locs, func(res Result) {
		out := Outcome{
			ID:      req.ID,
			NavType: req.NavType,
			Points:  len(req.Points),
			Policy:  req.Policy,
			Success: res.Complete,
			Latency: time.Since(start),
		}
		if !res.Complete {
			out.Payload = res.Payload
		}
		if done != nil {
			done(out)
		}
	})
	return nil
}
