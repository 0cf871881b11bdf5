package hooks

import (
	"net/http"

	"github.com/spf13/pflag"

	"github.com/QuadTriangle/navlink/internal/route"
)

// --- Hook interfaces ---

// CommandHook intercepts navigation commands around the dispatcher.
type CommandHook interface {
	BeforeDispatch(req route.Request) route.Request
	AfterDispatch(out route.Outcome)
}

// ConnectionHook observes command channel lifecycle events.
type ConnectionHook interface {
	OnConnect(session string)
	OnDisconnect(session string, err error)
	OnCommand(session string)
}

// StatusHook receives every human readable status message.
type StatusHook interface {
	OnStatus(msg string)
}

// NoOpCommandHook is a convenience embed for hooks that only need one method.
type NoOpCommandHook struct{}

func (NoOpCommandHook) BeforeDispatch(req route.Request) route.Request { return req }
func (NoOpCommandHook) AfterDispatch(_ route.Outcome)                  {}

// NoOpConnectionHook is a convenience embed for hooks that only need one method.
type NoOpConnectionHook struct{}

func (NoOpConnectionHook) OnConnect(_ string)             {}
func (NoOpConnectionHook) OnDisconnect(_ string, _ error) {}
func (NoOpConnectionHook) OnCommand(_ string)             {}

// StatusFunc adapts a function to StatusHook.
type StatusFunc func(msg string)

func (f StatusFunc) OnStatus(msg string) { f(msg) }

// --- Plugin interface ---

// Plugin is the self-contained unit of optional functionality.
// Each plugin registers its own CLI flags, decides if it's active,
// contributes headers to the channel dial, and provides hooks.
type Plugin interface {
	// Name returns a short identifier (e.g. "banner", "auth").
	Name() string
	// RegisterFlags is called before the command line is parsed.
	RegisterFlags(fs *pflag.FlagSet)
	// Enabled returns true if the plugin should activate (check your flags).
	Enabled() bool
	// DialHeader returns headers to send when the channel connects, or nil.
	DialHeader() http.Header
	CommandHooks() []CommandHook
	ConnectionHooks() []ConnectionHook
	StatusHooks() []StatusHook
}

// --- Pipeline ---

// Pipeline runs registered hooks in order. Zero-value is ready to use.
// Hooks are only invoked from the session's event loop.
type Pipeline struct {
	plugins     []Plugin
	cmdHooks    []CommandHook
	connHooks   []ConnectionHook
	statusHooks []StatusHook
}

// RegisterPlugin adds a plugin. Call before flags are parsed.
func (p *Pipeline) RegisterPlugin(pl Plugin) {
	p.plugins = append(p.plugins, pl)
}

// RegisterFlags calls RegisterFlags on all plugins.
func (p *Pipeline) RegisterFlags(fs *pflag.FlagSet) {
	for _, pl := range p.plugins {
		pl.RegisterFlags(fs)
	}
}

// Activate checks which plugins are enabled after flags are parsed,
// and collects their hooks into the pipeline.
func (p *Pipeline) Activate() {
	for _, pl := range p.plugins {
		if !pl.Enabled() {
			continue
		}
		p.cmdHooks = append(p.cmdHooks, pl.CommandHooks()...)
		p.connHooks = append(p.connHooks, pl.ConnectionHooks()...)
		p.statusHooks = append(p.statusHooks, pl.StatusHooks()...)
	}
}

// DialHeader merges headers from all enabled plugins.
func (p *Pipeline) DialHeader() http.Header {
	merged := http.Header{}
	for _, pl := range p.plugins {
		if !pl.Enabled() {
			continue
		}
		for k, vals := range pl.DialHeader() {
			for _, v := range vals {
				merged.Add(k, v)
			}
		}
	}
	return merged
}

func (p *Pipeline) AddCommandHook(h CommandHook)       { p.cmdHooks = append(p.cmdHooks, h) }
func (p *Pipeline) AddConnectionHook(h ConnectionHook) { p.connHooks = append(p.connHooks, h) }
func (p *Pipeline) AddStatusHook(h StatusHook)         { p.statusHooks = append(p.statusHooks, h) }

func (p *Pipeline) RunBeforeDispatch(req route.Request) route.Request {
	if p == nil {
		return req
	}
	for _, h := range p.cmdHooks {
		req = h.BeforeDispatch(req)
	}
	return req
}

func (p *Pipeline) RunAfterDispatch(out route.Outcome) {
	if p == nil {
		return
	}
	for _, h := range p.cmdHooks {
		h.AfterDispatch(out)
	}
}

func (p *Pipeline) NotifyConnect(session string) {
	if p == nil {
		return
	}
	for _, h := range p.connHooks {
		h.OnConnect(session)
	}
}

func (p *Pipeline) NotifyDisconnect(session string, err error) {
	if p == nil {
		return
	}
	for _, h := range p.connHooks {
		h.OnDisconnect(session, err)
	}
}

func (p *Pipeline) NotifyCommand(session string) {
	if p == nil {
		return
	}
	for _, h := range p.connHooks {
		h.OnCommand(session)
	}
}

// Status sends msg to the status surface.
func (p *Pipeline) Status(msg string) {
	if p == nil {
		return
	}
	for _, h := range p.statusHooks {
		h.OnStatus(msg)
	}
}
