package auth

import (
	"net/http"

	"github.com/spf13/pflag"

	"github.com/QuadTriangle/navlink/internal/hooks"
)

// plugin passes an opaque credential to the command source on every dial.
type plugin struct {
	credential *string
}

func New() hooks.Plugin {
	return &plugin{}
}

func (p *plugin) Name() string { return "auth" }

func (p *plugin) RegisterFlags(fs *pflag.FlagSet) {
	p.credential = fs.String("credential", "", "Opaque credential sent as the Authorization header. Stored as plaintext.")
}

func (p *plugin) Enabled() bool { return p.credential != nil && *p.credential != "" }

func (p *plugin) DialHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", *p.credential)
	return h
}

func (p *plugin) CommandHooks() []hooks.CommandHook       { return nil }
func (p *plugin) ConnectionHooks() []hooks.ConnectionHook { return nil }
func (p *plugin) StatusHooks() []hooks.StatusHook         { return nil }
