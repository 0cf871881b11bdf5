// Package channel owns the session-scoped command connection: it connects,
// feeds inbound frames to the interpreter and reconnects after a fixed delay
// whenever the connection is lost.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/QuadTriangle/navlink/internal/hooks"
	"github.com/QuadTriangle/navlink/internal/route"
	"github.com/QuadTriangle/navlink/internal/types"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultKeepalive      = 30 * time.Second
)

var ErrMissingSession = errors.New("missing session token")

// State is the channel state.
type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Handler consumes navigation commands. Handle must not wait for the route
// search; done receives the outcome whenever the engine finishes. Reject
// receives navigation frames whose command could not be decoded.
type Handler interface {
	Handle(ctx context.Context, cmd *types.Command, done func(route.Outcome))
	Report(out route.Outcome)
	Reject(err error)
}

type Options struct {
	// Server is host[:port] of the command source, or a ws(s)/http(s) URL.
	Server string
	Token  string
	// ReconnectDelay defaults to DefaultReconnectDelay.
	ReconnectDelay time.Duration
	// Keepalive is the ping interval; negative disables it.
	Keepalive time.Duration
	Header    http.Header
	Dialer    *websocket.Dialer
}

type eventKind int

const (
	evFrame eventKind = iota
	evReadError
	evTransportError
	evRouteDone
)

type event struct {
	kind    eventKind
	gen     uint64
	data    []byte
	err     error
	outcome route.Outcome
}

// Session is one command channel. All state changes happen on the goroutine
// running Run.
type Session struct {
	token     string
	url       string
	delay     time.Duration
	keepalive time.Duration
	header    http.Header
	dialer    *websocket.Dialer
	handler   Handler
	pipeline  *hooks.Pipeline

	state  atomic.Int32
	gen    uint64
	events chan event
}

// URL builds the channel endpoint for a session token.
func URL(server, token string) string {
	scheme, host := "ws", server
	switch {
	case strings.HasPrefix(server, "ws://"), strings.HasPrefix(server, "http://"):
		host = server[strings.Index(server, "://")+3:]
	case strings.HasPrefix(server, "wss://"), strings.HasPrefix(server, "https://"):
		scheme = "wss"
		host = server[strings.Index(server, "://")+3:]
	}
	host = strings.TrimRight(host, "/")
	return fmt.Sprintf("%s://%s/ws/%s", scheme, host, url.PathEscape(token))
}

func New(opts Options, handler Handler, pipeline *hooks.Pipeline) (*Session, error) {
	if opts.Token == "" {
		return nil, ErrMissingSession
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Keepalive == 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	s := &Session{
		token:     opts.Token,
		url:       URL(opts.Server, opts.Token),
		delay:     opts.ReconnectDelay,
		keepalive: opts.Keepalive,
		header:    opts.Header,
		dialer:    opts.Dialer,
		handler:   handler,
		pipeline:  pipeline,
		events:    make(chan event),
	}
	s.state.Store(int32(Connecting))
	return s, nil
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run connects and keeps the channel alive until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	if s.token == "" {
		return ErrMissingSession
	}

	// Retry loop
	for {
		s.setState(Connecting)
		log.Printf("Connecting to %s...", s.url)
		err := s.connectAndServe(ctx)
		s.setState(Closed)

		if ctx.Err() != nil {
			log.Printf("Session %s shutting down", s.token)
			return nil
		}

		log.Printf("Session %s disconnected: %v. Retrying in %s...", s.token, err, s.delay)
		s.pipeline.NotifyDisconnect(s.token, err)
		s.pipeline.Status("Disconnected from navigation service")

		if !s.wait(ctx, s.delay) {
			log.Printf("Session %s shutting down", s.token)
			return nil
		}
	}
}

// wait sleeps for d while still reporting route completions.
func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case ev := <-s.events:
			// Frames and errors from a dead connection are stale here.
			if ev.kind == evRouteDone {
				s.handler.Report(ev.outcome)
			}
		}
	}
}

func (s *Session) connectAndServe(ctx context.Context) error {
	ws, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return err
	}
	c := &conn{ws: ws}
	defer ws.Close()

	s.gen++
	gen := s.gen
	s.setState(Open)
	log.Printf("Session %s connected", s.token)
	s.pipeline.NotifyConnect(s.token)
	s.pipeline.Status("Connected to navigation service")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.readLoop(connCtx, ws, gen)
	if s.keepalive > 0 {
		go s.keepaliveLoop(connCtx, c, gen)
	}

	for {
		select {
		case <-ctx.Done():
			c.closeNormal("shutdown")
			return ctx.Err()
		case ev := <-s.events:
			switch ev.kind {
			case evRouteDone:
				s.handler.Report(ev.outcome)
			case evFrame:
				if ev.gen == gen {
					s.handleFrame(ctx, ev.data)
				}
			case evTransportError:
				if ev.gen == gen {
					log.Printf("Session %s transport error: %v", s.token, ev.err)
					s.pipeline.Status("Connection error")
				}
			case evReadError:
				if ev.gen == gen {
					return ev.err
				}
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, ws *websocket.Conn, gen uint64) {
	for {
		_, data, err := ws.ReadMessage()
		ev := event{kind: evFrame, gen: gen, data: data}
		if err != nil {
			ev = event{kind: evReadError, gen: gen, err: err}
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Keepalive: ping periodically to prevent idle disconnects. A failed ping is
// reported but the read side decides when the connection is gone.
func (s *Session) keepaliveLoop(ctx context.Context, c *conn, gen uint64) {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeText("ping"); err != nil {
				select {
				case s.events <- event{kind: evTransportError, gen: gen, err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	// Ignore keepalive noise
	if msg := string(data); msg == "ping" || msg == "pong" {
		return
	}

	frame, err := types.DecodeFrame(data)
	var cmdErr *types.CommandError
	if errors.As(err, &cmdErr) {
		s.pipeline.NotifyCommand(s.token)
		s.handler.Reject(err)
		return
	}
	if err != nil {
		log.Printf("Error decoding frame: %v", err)
		return
	}
	cmd, ok := frame.Navigation()
	if !ok {
		return
	}

	s.pipeline.NotifyCommand(s.token)
	s.handler.Handle(ctx, cmd, func(out route.Outcome) {
		// The engine may call back from inside Handle; never block the loop.
		go func() {
			select {
			case s.events <- event{kind: evRouteDone, outcome: out}:
			case <-ctx.Done():
			}
		}()
	})
}
