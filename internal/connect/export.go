// export.go -- MCP integration config export.
package connect

import (
	"context"
	"sort"
)

// MCPConfigVersion is the config format version consumers expect.
const MCPConfigVersion = "1.0"

// MCPConfig is the integration document handed to MCP clients.
type MCPConfig struct {
	Version      string        `json:"version"`
	Integrations []Integration `json:"integrations"`
}

// Integration is one provider in an MCPConfig. AccessToken is null when disconnected.
type Integration struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Scope       string  `json:"scope"`
	AccessToken *string `json:"accessToken"`
}

// Export renders every enabled or connected provider, ordered by provider id.
func (e *Engine) Export(ctx context.Context) (*MCPConfig, error) {
	view, err := e.View(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(view))
	for id := range view {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cfg := &MCPConfig{Version: MCPConfigVersion, Integrations: []Integration{}}
	for _, id := range ids {
		v := view[id]
		if !v.Enabled && !v.IsConnected {
			continue
		}
		in := Integration{Name: v.DisplayName, Status: "disconnected"}
		if d, err := e.registry.Describe(ctx, id); err == nil {
			in.Scope = d.Scope
		}
		if v.IsConnected {
			in.Status = "connected"
			tok := v.Token.AccessToken
			in.AccessToken = &tok
			if v.Token.Scope != "" {
				in.Scope = v.Token.Scope
			}
		}
		cfg.Integrations = append(cfg.Integrations, in)
	}
	return cfg, nil
}
