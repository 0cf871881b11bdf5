package stats

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/QuadTriangle/navlink/internal/hooks"
	"github.com/QuadTriangle/navlink/internal/mapview"
	"github.com/QuadTriangle/navlink/internal/route"
	"github.com/QuadTriangle/navlink/internal/types"
)

// RouteEntry is a single logged dispatch held in memory.
type RouteEntry struct {
	Seq       int
	ID        string
	NavType   types.NavType
	Points    int
	Policy    int
	Success   bool
	Latency   time.Duration
	Detail    string
	Timestamp time.Time
}

// SessionStats holds aggregate stats for one session token.
type SessionStats struct {
	Session     string
	Connected   bool
	Connects    int
	Disconnects int
	LastError   string
	Commands    int
	ConnectedAt time.Time
}

// Store is the in-memory stats store. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*SessionStats
	order    []string     // insertion order for stable iteration
	logs     []RouteEntry // ring buffer
	maxLogs  int
	nextSeq  int
	routes   int
	failures int
}

func NewStore(maxLogs int) *Store {
	return &Store{
		sessions: make(map[string]*SessionStats),
		maxLogs:  maxLogs,
	}
}

func (s *Store) session(token string) *SessionStats {
	ss, ok := s.sessions[token]
	if !ok {
		ss = &SessionStats{Session: token}
		s.sessions[token] = ss
		s.order = append(s.order, token)
	}
	return ss
}

func (s *Store) RecordConnect(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss := s.session(token)
	ss.Connected = true
	ss.Connects++
	ss.ConnectedAt = time.Now()
}

func (s *Store) RecordDisconnect(token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss := s.session(token)
	ss.Connected = false
	ss.Disconnects++
	if err != nil {
		ss.LastError = err.Error()
	}
}

func (s *Store) RecordCommand(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(token).Commands++
}

func (s *Store) RecordOutcome(out route.Outcome) {
	entry := RouteEntry{
		ID:        out.ID,
		NavType:   out.NavType,
		Points:    out.Points,
		Policy:    out.Policy,
		Success:   out.Success,
		Latency:   out.Latency,
		Timestamp: time.Now(),
	}
	if !out.Success && out.Payload != nil {
		entry.Detail = fmt.Sprint(out.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	entry.Seq = s.nextSeq

	// Ring buffer: keep last maxLogs entries
	if len(s.logs) >= s.maxLogs {
		s.logs = append(s.logs[1:], entry)
	} else {
		s.logs = append(s.logs, entry)
	}

	s.routes++
	if !out.Success {
		s.failures++
	}
}

// Totals returns the number of finished routes and how many of them failed.
func (s *Store) Totals() (routes, failures int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routes, s.failures
}

// Snapshot returns a copy of all session stats in stable insertion order.
func (s *Store) Snapshot() []SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionStats, 0, len(s.order))
	for _, token := range s.order {
		out = append(out, *s.sessions[token])
	}
	return out
}

// RecentRoutes returns the last n route entries.
func (s *Store) RecentRoutes(n int) []RouteEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.logs) {
		n = len(s.logs)
	}
	out := make([]RouteEntry, n)
	copy(out, s.logs[len(s.logs)-n:])
	return out
}

// --- Plugin wiring ---

// Plugin implements hooks.Plugin for in-memory stats collection.
// Controlled by a single --dashboard-port flag: port > 0 enables stats + API, 0 disables everything.
type Plugin struct {
	dashboardPort int
	store         *Store
	surface       *mapview.Surface
	server        *Server
}

func New() *Plugin {
	return &Plugin{
		store: NewStore(1000),
	}
}

func (p *Plugin) Name() string { return "stats" }
func (p *Plugin) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(&p.dashboardPort, "dashboard-port", 9999, "Stats API port (0 to disable stats entirely)")
}
func (p *Plugin) Enabled() bool           { return p.dashboardPort > 0 }
func (p *Plugin) DialHeader() http.Header { return nil }
func (p *Plugin) CommandHooks() []hooks.CommandHook {
	return []hooks.CommandHook{&cmdHook{store: p.store}}
}
func (p *Plugin) ConnectionHooks() []hooks.ConnectionHook {
	return []hooks.ConnectionHook{&connHook{store: p.store, plugin: p}}
}
func (p *Plugin) StatusHooks() []hooks.StatusHook { return nil }

// Store returns the underlying store for external consumers.
func (p *Plugin) Store() *Store { return p.store }

// AttachSurface exposes the map overlays through the API.
func (p *Plugin) AttachSurface(s *mapview.Surface) { p.surface = s }

// startDashboard starts the local HTTP server on first connect.
func (p *Plugin) startDashboard() {
	if p.dashboardPort == 0 || p.server != nil {
		return
	}
	srv, err := StartServer(p.store, p.surface, p.dashboardPort)
	if err != nil {
		log.Printf("[stats] failed to start dashboard server: %v", err)
		return
	}
	p.server = srv
	log.Printf("[stats] dashboard API listening on http://%s", srv.Addr())
}

// --- Hooks ---

type cmdHook struct {
	hooks.NoOpCommandHook
	store *Store
}

func (h *cmdHook) AfterDispatch(out route.Outcome) {
	h.store.RecordOutcome(out)
}

type connHook struct {
	hooks.NoOpConnectionHook
	store  *Store
	plugin *Plugin
}

func (h *connHook) OnConnect(session string) {
	h.store.RecordConnect(session)
	h.plugin.startDashboard()
}

func (h *connHook) OnDisconnect(session string, err error) {
	h.store.RecordDisconnect(session, err)
}

func (h *connHook) OnCommand(session string) {
	h.store.RecordCommand(session)
}
