// Package source is the command source: it issues session tokens, holds one
// channel connection per session and pushes navigation frames to it.
package source

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/QuadTriangle/navlink/internal/route"
	"github.com/QuadTriangle/navlink/internal/types"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNotConnected   = errors.New("session has no open channel")
	ErrMissingCity    = errors.New("keyword points require a city")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one channel connection with a write mutex.
type client struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

type Server struct {
	mu       sync.RWMutex
	sessions map[string]*client // nil client: issued but not connected
}

func NewServer() *Server {
	return &Server{sessions: make(map[string]*client)}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ws/{session}", s.handleWS)
	r.HandleFunc("/api/sessions", s.handleCreate).Methods("POST")
	r.HandleFunc("/api/sessions", s.handleList).Methods("GET")
	r.HandleFunc("/api/sessions/{session}/navigation", s.handleNavigation).Methods("POST")
	return r
}

// CreateSession issues a new session token.
func (s *Server) CreateSession() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = nil
	s.mu.Unlock()
	return id
}

// Sessions returns connected session tokens and the number of known sessions.
func (s *Server) Sessions() types.SessionList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := types.SessionList{Active: []string{}, Total: len(s.sessions)}
	for id, c := range s.sessions {
		if c != nil {
			list.Active = append(list.Active, id)
		}
	}
	sort.Strings(list.Active)
	return list
}

// Validate checks a command before it is pushed and fills in defaults.
func Validate(cmd *types.Command) error {
	if cmd.NavType == "" {
		cmd.NavType = types.NavDriving
	}
	if !cmd.NavType.Valid() {
		return fmt.Errorf("%w: %q", route.ErrUnsupportedNavType, cmd.NavType)
	}
	if cmd.Policy == nil {
		policy := 0
		cmd.Policy = &policy
	}
	if len(cmd.Points) < 2 {
		return route.ErrInsufficientPoints
	}
	for i, p := range cmd.Points {
		if _, err := route.Normalize(p, i); err != nil {
			return err
		}
		if p.Keyword != nil && (p.City == nil || *p.City == "") {
			return fmt.Errorf("point %d: %w", i+1, ErrMissingCity)
		}
	}
	return nil
}

// Push sends a navigation frame to the session's channel.
func (s *Server) Push(session string, cmd types.Command) error {
	s.mu.RLock()
	c, known := s.sessions[session]
	s.mu.RUnlock()
	if !known {
		return ErrUnknownSession
	}
	if c == nil {
		return ErrNotConnected
	}

	if err := c.writeJSON(types.Frame{Type: types.TypeNavigation, Command: &cmd}); err != nil {
		log.Printf("Failed to push navigation to %s: %v", session, err)
		// Drop the broken connection
		s.detach(session, c)
		c.ws.Close()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (s *Server) detach(session string, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[session] == c {
		s.sessions[session] = nil
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	c := &client{ws: ws}

	// At most one channel per session: a new one replaces the old.
	s.mu.Lock()
	prev := s.sessions[session]
	s.sessions[session] = c
	s.mu.Unlock()
	if prev != nil {
		prev.wmu.Lock()
		_ = prev.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced"))
		prev.wmu.Unlock()
		prev.ws.Close()
	}
	log.Printf("Channel connected, session: %s", session)

	defer func() {
		s.detach(session, c)
		ws.Close()
		log.Printf("Channel disconnected, session: %s", session)
	}()

	// Inbound traffic is keepalive only
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := s.CreateSession()
	log.Printf("Session created: %s", id)
	writeJSON(w, http.StatusCreated, types.SessionCreated{SessionID: id, WSPath: "/ws/" + id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sessions())
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]
	res := types.PushResult{SessionID: session}

	s.mu.RLock()
	_, known := s.sessions[session]
	s.mu.RUnlock()
	if !known {
		res.Error = ErrUnknownSession.Error()
		writeJSON(w, http.StatusNotFound, res)
		return
	}

	var cmd types.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		res.Error = "invalid JSON: " + err.Error()
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	if err := Validate(&cmd); err != nil {
		res.Error = err.Error()
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	res.NavType, res.Points, res.Policy = cmd.NavType, len(cmd.Points), *cmd.Policy

	if err := s.Push(session, cmd); err != nil {
		res.Error = err.Error()
		status := http.StatusConflict
		if errors.Is(err, ErrUnknownSession) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
