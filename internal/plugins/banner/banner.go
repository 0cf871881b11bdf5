// Package banner is the status surface: every status message is shown for a
// fixed duration and then dismissed.
package banner

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/QuadTriangle/navlink/internal/hooks"
)

const DefaultDuration = 3 * time.Second

// Banner holds the message currently on display. Safe for concurrent use.
type Banner struct {
	out      io.Writer
	duration time.Duration

	mu      sync.Mutex
	current string
	seq     uint64
	timer   *time.Timer
}

func NewBanner(out io.Writer, duration time.Duration) *Banner {
	if out == nil {
		out = io.Discard
	}
	return &Banner{out: out, duration: duration}
}

// Show displays msg, replacing whatever is on display, and schedules its
// dismissal.
func (b *Banner) Show(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fmt.Fprintf(b.out, "» %s\n", msg)
	b.current = msg
	b.seq++
	seq := b.seq
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.duration, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.seq == seq {
			b.current = ""
		}
	})
}

// Current returns the message on display, or "" once dismissed.
func (b *Banner) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Banner) OnStatus(msg string) { b.Show(msg) }

// --- Plugin wiring ---

// Plugin shows status messages on stderr. A zero duration disables it.
type Plugin struct {
	duration time.Duration
	banner   *Banner
}

func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string { return "banner" }

func (p *Plugin) RegisterFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&p.duration, "status-duration", DefaultDuration, "How long a status message stays on display (0 to disable)")
}

func (p *Plugin) Enabled() bool           { return p.duration > 0 }
func (p *Plugin) DialHeader() http.Header { return nil }

func (p *Plugin) CommandHooks() []hooks.CommandHook       { return nil }
func (p *Plugin) ConnectionHooks() []hooks.ConnectionHook { return nil }

func (p *Plugin) StatusHooks() []hooks.StatusHook {
	return []hooks.StatusHook{p.Banner()}
}

// Banner returns the plugin's banner, creating it on first use.
func (p *Plugin) Banner() *Banner {
	if p.banner == nil {
		p.banner = NewBanner(os.Stderr, p.duration)
	}
	return p.banner
}
