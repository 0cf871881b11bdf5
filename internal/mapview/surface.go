// Package mapview is the headless map surface routes are drawn on.
package mapview

import (
	"errors"
	"sync"
	"time"

	"github.com/QuadTriangle/navlink/internal/route"
	"github.com/QuadTriangle/navlink/internal/types"
)

var ErrMissingKey = errors.New("map provider key is not set")

// DefaultMaxOverlays bounds how many routes stay drawn at once.
const DefaultMaxOverlays = 100

// Credential identifies the map provider account.
type Credential struct {
	Key string
}

// Options holds the initial viewport and the overlay limit.
type Options struct {
	Center route.LngLat
	Zoom   int
	// MaxOverlays defaults to DefaultMaxOverlays. The oldest overlay is
	// dropped once the limit is reached.
	MaxOverlays int
}

// DefaultOptions centers the map on Beijing.
var DefaultOptions = Options{
	Center:      route.LngLat{Lng: 116.397428, Lat: 39.90923},
	Zoom:        13,
	MaxOverlays: DefaultMaxOverlays,
}

// Overlay is one drawn route.
type Overlay struct {
	ID       string
	NavType  types.NavType
	Path     []route.LngLat
	Distance int // meters
	Duration int // seconds
	DrawnAt  time.Time
}

// Surface holds the map state. Safe for concurrent use.
type Surface struct {
	cred Credential
	opts Options

	mu       sync.RWMutex
	ready    bool
	overlays map[string]Overlay
	order    []string
}

func New(cred Credential, opts Options) *Surface {
	if opts.Zoom == 0 {
		opts.Zoom = DefaultOptions.Zoom
	}
	if opts.MaxOverlays <= 0 {
		opts.MaxOverlays = DefaultMaxOverlays
	}
	return &Surface{
		cred:     cred,
		opts:     opts,
		overlays: make(map[string]Overlay),
	}
}

// Init makes the surface ready. It fails without a provider key.
func (s *Surface) Init() error {
	if s.cred.Key == "" {
		return ErrMissingKey
	}
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Surface) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Viewport returns the center and zoom the map was created with.
func (s *Surface) Viewport() (route.LngLat, int) { return s.opts.Center, s.opts.Zoom }

// Draw adds an overlay, replacing any overlay with the same ID.
func (s *Surface) Draw(o Overlay) {
	if o.DrawnAt.IsZero() {
		o.DrawnAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.overlays[o.ID]; !ok {
		if len(s.order) >= s.opts.MaxOverlays {
			delete(s.overlays, s.order[0])
			s.order = s.order[1:]
		}
		s.order = append(s.order, o.ID)
	}
	s.overlays[o.ID] = o
}

// Overlays returns a copy of all overlays in draw order.
func (s *Surface) Overlays() []Overlay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Overlay, 0, len(s.order))
	for _, id := range s.order {
		o := s.overlays[id]
		o.Path = append([]route.LngLat(nil), o.Path...)
		out = append(out, o)
	}
	return out
}

// Clear removes every overlay.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlays = make(map[string]Overlay)
	s.order = nil
}
