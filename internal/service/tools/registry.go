// Package tools hosts the capability registry the agent loop invokes on the
// model's behalf. Capabilities receive the caller's credential and the
// frontend page context alongside their arguments.
package tools

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// PageContext is what the frontend's last UI snapshot tells us about where
// the user is; capabilities use it to refuse actions the page cannot host.
type PageContext struct {
	Type         string
	URL          string
	ClientID     string
	ActiveTab    string
	Capabilities []string
}

// Allows reports whether the page advertises the named capability. An unknown
// page blocks nothing.
func (p PageContext) Allows(name string) bool {
	if p.Type == "" || p.Type == "unknown" {
		return true
	}
	for _, c := range p.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// ExecContext carries per-session call context into a capability.
type ExecContext struct {
	SessionID string
	AuthToken string
	ProfileID string
	Page      PageContext
}

// Capability is one operation the model may request.
type Capability interface {
	// Info describes the capability to the model.
	Info() *schema.ToolInfo
	// Execute runs the capability with parsed arguments.
	Execute(ctx context.Context, ec ExecContext, args map[string]any) Result
}

// Registry holds the registered capabilities plus the mutable call context
// (auth credential, profile, page) installed before each turn.
type Registry struct {
	mu    sync.RWMutex
	caps  map[string]Capability
	order []string

	authToken string
	profileID string
	page      PageContext
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds a capability; a duplicate name replaces the earlier one.
func (r *Registry) Register(c Capability) {
	name := c.Info().Name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[name]; !exists {
		r.order = append(r.order, name)
	}
	r.caps[name] = c
}

// SetAuth installs the credential capabilities act under.
func (r *Registry) SetAuth(token, profileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token != "" {
		r.authToken = token
	}
	if profileID != "" {
		r.profileID = profileID
	}
}

// SetPageContext installs the page context derived from the latest UI state.
func (r *Registry) SetPageContext(page PageContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.page = page
}

// Execute runs the named capability. An unknown name is an error result, not
// a Go error: the model gets told and the turn continues.
func (r *Registry) Execute(ctx context.Context, sessionID, name string, args map[string]any) Result {
	r.mu.RLock()
	c, ok := r.caps[name]
	ec := ExecContext{
		SessionID: sessionID,
		AuthToken: r.authToken,
		ProfileID: r.profileID,
		Page:      r.page,
	}
	r.mu.RUnlock()

	if !ok {
		log.Printf("[tools] unknown capability requested: %s", name)
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	return c.Execute(ctx, ec, args)
}

// Schemas returns the tool descriptions for the given capability names, in
// registration order; nil names selects everything.
func (r *Registry) Schemas(names []string) []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := r.order
	if names != nil {
		selected = names
	}

	infos := make([]*schema.ToolInfo, 0, len(selected))
	for _, name := range selected {
		if c, ok := r.caps[name]; ok {
			infos = append(infos, c.Info())
		}
	}
	return infos
}
