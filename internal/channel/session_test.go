package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/QuadTriangle/navlink/internal/command"
	"github.com/QuadTriangle/navlink/internal/hooks"
	"github.com/QuadTriangle/navlink/internal/route"
	"github.com/QuadTriangle/navlink/internal/types"
)

// --- fake command source ---

type fakeSource struct {
	conns   chan *websocket.Conn
	dials   chan time.Time
	paths   chan string
	headers chan http.Header
	rejects atomic.Int32
}

func newFakeSource(t *testing.T) (*fakeSource, *httptest.Server) {
	f := &fakeSource{
		conns:   make(chan *websocket.Conn, 16),
		dials:   make(chan time.Time, 64),
		paths:   make(chan string, 64),
		headers: make(chan http.Header, 64),
	}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.dials <- time.Now()
		f.paths <- r.URL.Path
		f.headers <- r.Header.Clone()
		if f.rejects.Load() > 0 {
			f.rejects.Add(-1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- c
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSource) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

func (f *fakeSource) nextDial(t *testing.T) time.Time {
	t.Helper()
	select {
	case d := <-f.dials:
		return d
	case <-time.After(3 * time.Second):
		t.Fatal("no dial")
		return time.Time{}
	}
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// --- fake handler ---

type fakeHandler struct {
	cmds     chan *types.Command
	reports  chan route.Outcome
	rejects  chan error
	complete bool
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		cmds:    make(chan *types.Command, 16),
		reports: make(chan route.Outcome, 16),
		rejects: make(chan error, 16),
	}
}

func (h *fakeHandler) Handle(_ context.Context, cmd *types.Command, done func(route.Outcome)) {
	h.cmds <- cmd
	if h.complete {
		// Completes from inside Handle, like a synchronous engine would.
		done(route.Outcome{ID: "r", NavType: types.NavDriving, Points: len(cmd.Points), Success: true})
	}
}

func (h *fakeHandler) Report(out route.Outcome) { h.reports <- out }
func (h *fakeHandler) Reject(err error)         { h.rejects <- err }

func (h *fakeHandler) nextCommand(t *testing.T) *types.Command {
	t.Helper()
	select {
	case c := <-h.cmds:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no command handled")
		return nil
	}
}

// --- status recorder ---

type statusLog struct {
	mu   sync.Mutex
	msgs []string
}

func (l *statusLog) OnStatus(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *statusLog) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.msgs {
		if m == msg {
			n++
		}
	}
	return n
}

func (l *statusLog) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func start(t *testing.T, opts Options, h Handler) (*Session, *statusLog) {
	t.Helper()
	status := &statusLog{}
	p := &hooks.Pipeline{}
	p.AddStatusHook(status)

	if opts.Token == "" {
		opts.Token = "tok"
	}
	if opts.Keepalive == 0 {
		opts.Keepalive = -1
	}
	s, err := New(opts, h, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	return s, status
}

// --- tests ---

func TestMissingSession(t *testing.T) {
	if _, err := New(Options{Server: "localhost:1"}, newFakeHandler(), nil); !errors.Is(err, ErrMissingSession) {
		t.Fatalf("New err = %v, want ErrMissingSession", err)
	}
	if err := (&Session{}).Run(context.Background()); !errors.Is(err, ErrMissingSession) {
		t.Fatalf("Run err = %v, want ErrMissingSession", err)
	}
}

func TestURL(t *testing.T) {
	cases := map[string]string{
		"localhost:8000":          "ws://localhost:8000/ws/abc",
		"ws://example.com/":       "ws://example.com/ws/abc",
		"http://example.com:8080": "ws://example.com:8080/ws/abc",
		"https://example.com":     "wss://example.com/ws/abc",
		"wss://example.com":       "wss://example.com/ws/abc",
	}
	for server, want := range cases {
		if got := URL(server, "abc"); got != want {
			t.Errorf("URL(%q) = %q, want %q", server, got, want)
		}
	}
}

func TestSession_DispatchesNavigationFrames(t *testing.T) {
	src, srv := newFakeSource(t)
	h := newFakeHandler()
	header := http.Header{}
	header.Set("Authorization", "opaque")
	s, status := start(t, Options{Server: srv.URL, Token: "sess-1", Header: header}, h)

	c := src.accept(t)
	if p := <-src.paths; p != "/ws/sess-1" {
		t.Errorf("path = %q, want /ws/sess-1", p)
	}
	if got := (<-src.headers).Get("Authorization"); got != "opaque" {
		t.Errorf("Authorization = %q, want opaque", got)
	}
	eventually(t, "open state", func() bool { return s.State() == Open })
	eventually(t, "connect status", func() bool { return status.count("Connected to navigation service") == 1 })

	send(t, c, `{"type":"navigation","command":{"points":[{"lng":116.3,"lat":39.9,"keyword":null,"city":null},{"lng":116.4,"lat":40.0,"keyword":null,"city":null}]}}`)
	cmd := h.nextCommand(t)
	if len(cmd.Points) != 2 || *cmd.Points[1].Lng != 116.4 {
		t.Errorf("unexpected command %+v", cmd)
	}

	// Ignored or dropped frames never reach the handler and keep the channel open.
	send(t, c, `{"type":"ping"}`)
	send(t, c, `pong`)
	send(t, c, `{not json`)
	send(t, c, `{"type":"navigation","command":null}`)
	send(t, c, `{"type":"navigation","command":{"points":[{"keyword":"Tiananmen","city":"Beijing"}]}}`)

	cmd = h.nextCommand(t)
	if len(cmd.Points) != 1 || *cmd.Points[0].Keyword != "Tiananmen" {
		t.Errorf("expected the keyword command next, got %+v", cmd)
	}
	if s.State() != Open {
		t.Errorf("state = %v, want open", s.State())
	}
	if status.contains("Disconnected") {
		t.Error("channel should not have disconnected")
	}
	if len(h.rejects) != 0 {
		t.Errorf("rejects = %d, want 0", len(h.rejects))
	}

	// A navigation frame with a mistyped field is rejected, not dropped.
	send(t, c, `{"type":"navigation","command":{"points":[{"lng":"116.3","lat":39.9}]}}`)
	select {
	case err := <-h.rejects:
		var cmdErr *types.CommandError
		if !errors.As(err, &cmdErr) {
			t.Errorf("reject err = %v, want CommandError", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("malformed navigation command was not rejected")
	}
}

func TestSession_ReportsRouteOutcomes(t *testing.T) {
	src, srv := newFakeSource(t)
	h := newFakeHandler()
	h.complete = true
	start(t, Options{Server: srv.URL}, h)

	c := src.accept(t)
	send(t, c, `{"type":"navigation","command":{"points":[{"lng":1,"lat":2},{"lng":3,"lat":4}]}}`)
	h.nextCommand(t)

	select {
	case out := <-h.reports:
		if !out.Success || out.Points != 2 {
			t.Errorf("unexpected outcome %+v", out)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("outcome never reported")
	}
}

func TestSession_ReconnectsAfterFixedDelay(t *testing.T) {
	const delay = 100 * time.Millisecond
	src, srv := newFakeSource(t)
	s, status := start(t, Options{Server: srv.URL, ReconnectDelay: delay}, newFakeHandler())

	var dials []time.Time
	for i := 0; i < 3; i++ {
		dials = append(dials, src.nextDial(t))
		c := src.accept(t)
		// Remote close
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		c.Close()
	}
	dials = append(dials, src.nextDial(t))
	src.accept(t)

	for i := 1; i < len(dials); i++ {
		gap := dials[i].Sub(dials[i-1])
		if gap < delay {
			t.Errorf("reconnect %d after %s, want at least %s", i, gap, delay)
		}
		if gap > delay+time.Second {
			t.Errorf("reconnect %d after %s, delay must not grow", i, gap)
		}
	}
	eventually(t, "open state", func() bool { return s.State() == Open })
	eventually(t, "status events", func() bool {
		return status.count("Disconnected from navigation service") == 3 &&
			status.count("Connected to navigation service") == 4
	})
}

func TestSession_RetriesFailedDials(t *testing.T) {
	src, srv := newFakeSource(t)
	src.rejects.Store(3)
	s, status := start(t, Options{Server: srv.URL, ReconnectDelay: 20 * time.Millisecond}, newFakeHandler())

	src.accept(t)
	eventually(t, "open state", func() bool { return s.State() == Open })
	if n := len(src.dials); n != 4 {
		t.Errorf("dials = %d, want 4", n)
	}
	if got := status.count("Disconnected from navigation service"); got != 3 {
		t.Errorf("disconnect statuses = %d, want 3", got)
	}
}

func TestSession_Keepalive(t *testing.T) {
	src, srv := newFakeSource(t)
	start(t, Options{Server: srv.URL, Keepalive: 20 * time.Millisecond}, newFakeHandler())

	c := src.accept(t)
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	mt, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage || string(data) != "ping" {
		t.Errorf("got %d %q, want text ping", mt, data)
	}
}

func TestSession_ClosesOnCancel(t *testing.T) {
	src, srv := newFakeSource(t)
	status := &statusLog{}
	p := &hooks.Pipeline{}
	p.AddStatusHook(status)
	s, err := New(Options{Server: srv.URL, Token: "tok", Keepalive: -1}, newFakeHandler(), p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	c := src.accept(t)
	eventually(t, "open state", func() bool { return s.State() == Open })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}

	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
	if s.State() != Closed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if status.contains("Disconnected") {
		t.Error("shutdown should not report a disconnect")
	}
}

// --- end to end with the real interpreter and dispatcher ---

type syncPlanner struct{ calls *atomic.Int32 }

func (p syncPlanner) Search(_ context.Context, _ string, _ []route.Location, done func(route.Result)) {
	p.calls.Add(1)
	done(route.Result{Complete: true})
}

type syncEngine struct{ calls atomic.Int32 }

func (e *syncEngine) Driving(int) route.Planner { return syncPlanner{&e.calls} }
func (e *syncEngine) Riding() route.Planner     { return syncPlanner{&e.calls} }
func (e *syncEngine) Walking() route.Planner    { return syncPlanner{&e.calls} }

type readySurface struct{}

func (readySurface) Ready() bool { return true }

func TestSession_FailedCommandDoesNotBlockNext(t *testing.T) {
	src, srv := newFakeSource(t)
	engine := &syncEngine{}

	status := &statusLog{}
	p := &hooks.Pipeline{}
	p.AddStatusHook(status)
	interp := command.NewInterpreter(route.NewDispatcher(readySurface{}, engine), p)

	s, err := New(Options{Server: srv.URL, Token: "tok", Keepalive: -1}, interp, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	c := src.accept(t)
	// One point only, then a malformed point, then unknown nav type.
	send(t, c, `{"type":"navigation","command":{"points":[{"keyword":"Tiananmen","city":"Beijing"}]}}`)
	send(t, c, `{"type":"navigation","command":{"points":[{"lng":116.3},{"lng":116.4,"lat":40.0}]}}`)
	send(t, c, `{"type":"navigation","command":{"points":[{"lng":1,"lat":2},{"lng":3,"lat":4}],"nav_type":"flying"}}`)
	send(t, c, `{"type":"navigation","command":{"points":[{"lng":1,"lat":2},{"lng":3,"lat":4}],"nav_type":5}}`)
	send(t, c, `{"type":"navigation","command":{"points":[{"lng":116.3,"lat":39.9},{"keyword":"Tiananmen","city":"Beijing"}],"nav_type":"walking"}}`)

	eventually(t, "route outcome", func() bool { return status.count("Walking route planned (2 points)") == 1 })
	if n := engine.calls.Load(); n != 1 {
		t.Errorf("engine calls = %d, want 1", n)
	}
	for _, want := range []string{route.ErrInsufficientPoints.Error(), "point 1", route.ErrUnsupportedNavType.Error(), "Navigation failed: invalid navigation command"} {
		if !status.contains(want) {
			t.Errorf("missing status containing %q", want)
		}
	}
	if s.State() != Open {
		t.Errorf("state = %v, want open", s.State())
	}
}
