package stats

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/QuadTriangle/navlink/internal/mapview"
)

// JSON response types served by the stats API

type sessionJSON struct {
	Session     string `json:"session"`
	Connected   bool   `json:"connected"`
	Connects    int    `json:"connects"`
	Disconnects int    `json:"disconnects"`
	LastError   string `json:"last_error,omitempty"`
	Commands    int    `json:"commands"`
	ConnectedAt int64  `json:"connected_at"`
}

type routeJSON struct {
	Seq       int     `json:"seq"`
	ID        string  `json:"id"`
	NavType   string  `json:"nav_type"`
	Points    int     `json:"points"`
	Policy    int     `json:"policy"`
	Success   bool    `json:"success"`
	LatencyMs float64 `json:"latency_ms"`
	Detail    string  `json:"detail,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

type summaryJSON struct {
	Sessions      int `json:"sessions"`
	Connected     int `json:"connected"`
	TotalCommands int `json:"total_commands"`
	TotalRoutes   int `json:"total_routes"`
	TotalFailures int `json:"total_failures"`
}

type overlayJSON struct {
	ID       string       `json:"id"`
	NavType  string       `json:"nav_type"`
	Distance int          `json:"distance"`
	Duration int          `json:"duration"`
	Path     [][2]float64 `json:"path"`
	DrawnAt  int64        `json:"drawn_at"`
}

type viewportJSON struct {
	Center [2]float64 `json:"center"`
	Zoom   int        `json:"zoom"`
}

// Server serves the stats API locally.
type Server struct {
	store    *Store
	surface  *mapview.Surface
	listener net.Listener
}

// NewRouter builds the API routes. surface may be nil.
func NewRouter(store *Store, surface *mapview.Surface) *mux.Router {
	s := &Server{store: store, surface: surface}
	return s.router()
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/api/stats/session", s.handleSessions).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/stats/routes", s.handleRoutes).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/stats/summary", s.handleSummary).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/map/overlays", s.handleOverlays).Methods("GET", "OPTIONS")
	return r
}

// StartServer starts the local stats HTTP server on the given port.
func StartServer(store *Store, surface *mapview.Surface, port int) (*Server, error) {
	s := &Server{store: store, surface: surface}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	s.listener = ln

	srv := &http.Server{Handler: s.router()}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[stats] server error: %v", err)
		}
	}()

	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	sessions := make([]sessionJSON, 0, len(snap))
	for _, ss := range snap {
		sessions = append(sessions, sessionJSON{
			Session:     ss.Session,
			Connected:   ss.Connected,
			Connects:    ss.Connects,
			Disconnects: ss.Disconnects,
			LastError:   ss.LastError,
			Commands:    ss.Commands,
			ConnectedAt: ss.ConnectedAt.Unix(),
		})
	}
	writeJSON(w, map[string]any{"sessions": sessions})
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	navType := r.URL.Query().Get("nav_type")
	entries := s.store.RecentRoutes(limit)

	// Newest first, optionally filtered by nav type
	routes := make([]routeJSON, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if navType != "" && string(e.NavType) != navType {
			continue
		}
		routes = append(routes, routeJSON{
			Seq:       e.Seq,
			ID:        e.ID,
			NavType:   string(e.NavType),
			Points:    e.Points,
			Policy:    e.Policy,
			Success:   e.Success,
			LatencyMs: float64(e.Latency.Milliseconds()),
			Detail:    e.Detail,
			CreatedAt: e.Timestamp.Unix(),
		})
	}
	writeJSON(w, map[string]any{"routes": routes})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	var sum summaryJSON
	sum.Sessions = len(snap)
	for _, ss := range snap {
		if ss.Connected {
			sum.Connected++
		}
		sum.TotalCommands += ss.Commands
	}
	sum.TotalRoutes, sum.TotalFailures = s.store.Totals()
	writeJSON(w, map[string]any{"summary": sum})
}

func (s *Server) handleOverlays(w http.ResponseWriter, r *http.Request) {
	overlays := []overlayJSON{}
	var viewport *viewportJSON
	if s.surface != nil {
		center, zoom := s.surface.Viewport()
		viewport = &viewportJSON{Center: [2]float64{center.Lng, center.Lat}, Zoom: zoom}
		for _, o := range s.surface.Overlays() {
			path := make([][2]float64, len(o.Path))
			for i, p := range o.Path {
				path[i] = [2]float64{p.Lng, p.Lat}
			}
			overlays = append(overlays, overlayJSON{
				ID:       o.ID,
				NavType:  string(o.NavType),
				Distance: o.Distance,
				Duration: o.Duration,
				Path:     path,
				DrawnAt:  o.DrawnAt.Unix(),
			})
		}
	}
	writeJSON(w, map[string]any{"viewport": viewport, "overlays": overlays})
}
