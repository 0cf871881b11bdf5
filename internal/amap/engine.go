package amap

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/QuadTriangle/navlink/internal/mapview"
	"github.com/QuadTriangle/navlink/internal/route"
	"github.com/QuadTriangle/navlink/internal/types"
)

// Summary is the payload of a completed search.
type Summary struct {
	OverlayID string
	Distance  int
	Duration  int
}

// Engine plans routes with the AMap web service and draws them on a surface.
type Engine struct {
	client  *Client
	surface *mapview.Surface
}

func NewEngine(client *Client, surface *mapview.Surface) *Engine {
	return &Engine{client: client, surface: surface}
}

func (e *Engine) Driving(policy int) route.Planner {
	return &planner{engine: e, navType: types.NavDriving, policy: policy}
}

func (e *Engine) Riding() route.Planner {
	return &planner{engine: e, navType: types.NavRiding}
}

func (e *Engine) Walking() route.Planner {
	return &planner{engine: e, navType: types.NavWalking}
}

type planner struct {
	engine  *Engine
	navType types.NavType
	policy  int
}

// Search runs in its own goroutine and always calls done exactly once.
// The overlay is drawn under id, or a fresh one when id is empty.
func (p *planner) Search(ctx context.Context, id string, locs []route.Location, done func(route.Result)) {
	if id == "" {
		id = uuid.NewString()
	}
	go func() {
		done(p.search(ctx, id, locs))
	}()
}

func (p *planner) search(ctx context.Context, id string, locs []route.Location) route.Result {
	coords, err := p.engine.resolve(ctx, locs)
	if err != nil {
		return route.Result{Payload: err.Error()}
	}

	var path Path
	if p.navType == types.NavDriving {
		last := len(coords) - 1
		path, err = p.engine.client.Direction(ctx, p.navType, coords[0], coords[last], coords[1:last], p.policy)
	} else {
		// Riding and walking take no waypoints: plan leg by leg.
		path, err = p.legs(ctx, coords)
	}
	if err != nil {
		return route.Result{Payload: err.Error()}
	}

	overlay := mapview.Overlay{
		ID:       id,
		NavType:  p.navType,
		Path:     path.Polyline,
		Distance: path.Distance,
		Duration: path.Duration,
	}
	p.engine.surface.Draw(overlay)

	return route.Result{
		Complete: true,
		Payload:  Summary{OverlayID: overlay.ID, Distance: path.Distance, Duration: path.Duration},
	}
}

func (p *planner) legs(ctx context.Context, coords []route.LngLat) (Path, error) {
	var total Path
	for i := 0; i+1 < len(coords); i++ {
		leg, err := p.engine.client.Direction(ctx, p.navType, coords[i], coords[i+1], nil, 0)
		if err != nil {
			return Path{}, fmt.Errorf("leg %d: %w", i+1, err)
		}
		total.Distance += leg.Distance
		total.Duration += leg.Duration
		total.Polyline = append(total.Polyline, leg.Polyline...)
	}
	return total, nil
}

func (e *Engine) resolve(ctx context.Context, locs []route.Location) ([]route.LngLat, error) {
	out := make([]route.LngLat, 0, len(locs))
	for _, loc := range locs {
		switch l := loc.(type) {
		case route.LngLat:
			out = append(out, l)
		case route.Keyword:
			ll, err := e.client.Geocode(ctx, l.Keyword, l.City)
			if err != nil {
				return nil, fmt.Errorf("geocode %s: %w", l, err)
			}
			out = append(out, ll)
		default:
			return nil, fmt.Errorf("unknown location %T", loc)
		}
	}
	return out, nil
}
