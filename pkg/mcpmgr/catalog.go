package mcpmgr

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

// PromptEntry is one prompt of the merged catalog.
type PromptEntry struct {
	// Server is nil for entries not owned by a connected server.
	Server *ServerIdentity
	Prompt *mcp.Prompt
	// Name is the prefixed reference used with GetPrompt.
	Name string
}

// ResourceEntry is one resource of the merged catalog.
type ResourceEntry struct {
	// Server is nil for entries from the LocalResources collaborator.
	Server   *ServerIdentity
	Resource *mcp.Resource
	// Name is the prefixed reference used with ReadResource.
	Name string
}

// Prompts returns every prompt of every connected server. A non-empty search
// keeps entries whose name, title or description contains it, ignoring case.
// Servers that fail to list prompts are logged and skipped.
func (m *Manager) Prompts(ctx context.Context, search string) ([]PromptEntry, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	servers := m.connectedServers()
	parts := make([][]PromptEntry, len(servers))
	var g errgroup.Group
	for i, s := range servers {
		g.Go(func() error {
			prompts, err := m.agg.Prompts(ctx, s)
			if err != nil {
				m.logger.Warn("list prompts failed", "server", s.Key, "error", err)
				return nil
			}
			id := s.ServerIdentity()
			for _, p := range prompts {
				if p == nil {
					continue
				}
				parts[i] = append(parts[i], PromptEntry{Server: &id, Prompt: p, Name: PromptName(s.Key, p.Name)})
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []PromptEntry
	for _, part := range parts {
		for _, e := range part {
			if matches(search, e.Name, e.Prompt.Name, e.Prompt.Title, e.Prompt.Description) {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Resources returns every resource of every connected server plus the
// entries of the LocalResources collaborator. Search filters server entries
// locally and is passed to the collaborator unfiltered.
func (m *Manager) Resources(ctx context.Context, search string) ([]ResourceEntry, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	servers := m.connectedServers()
	parts := make([][]ResourceEntry, len(servers))
	var local []*mcp.Resource
	var g errgroup.Group
	for i, s := range servers {
		g.Go(func() error {
			resources, err := m.agg.Resources(ctx, s)
			if err != nil {
				m.logger.Warn("list resources failed", "server", s.Key, "error", err)
				return nil
			}
			id := s.ServerIdentity()
			for _, r := range resources {
				if r == nil {
					continue
				}
				parts[i] = append(parts[i], ResourceEntry{Server: &id, Resource: r, Name: ResourceName(s.Key, r.URI)})
			}
			return nil
		})
	}
	if m.opts.LocalResources != nil {
		g.Go(func() error {
			resources, err := m.opts.LocalResources.ListResources(ctx, search)
			if err != nil {
				m.logger.Warn("list local resources failed", "error", err)
				return nil
			}
			local = resources
			return nil
		})
	}
	_ = g.Wait()

	var out []ResourceEntry
	for _, part := range parts {
		for _, e := range part {
			if matches(search, e.Name, e.Resource.Name, e.Resource.Title, e.Resource.Description) {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	for _, r := range local {
		if r == nil {
			continue
		}
		out = append(out, ResourceEntry{Resource: r, Name: ResourceName(RegistryKey, r.URI)})
	}
	return out, nil
}

// ReadResource reads a resource by its prefixed reference, for example
// "docs:file:///guide.md" or "registry:memo://today".
func (m *Manager) ReadResource(ctx context.Context, ref string) (*mcp.ReadResourceResult, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	key, uri, ok := SplitReference(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	if key == RegistryKey {
		if m.opts.LocalResources == nil {
			return nil, ErrNoLocalResources
		}
		return m.opts.LocalResources.ReadResource(ctx, uri)
	}
	s, ok := m.reconciler.Lookup(key)
	if !ok || !s.Connected() {
		return nil, unavailable("resource", ref)
	}
	return s.Client().ReadResource(ctx, uri)
}

// GetPrompt renders a prompt by its prefixed reference.
func (m *Manager) GetPrompt(ctx context.Context, ref string, args map[string]string) (*mcp.GetPromptResult, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	key, name, ok := SplitReference(ref)
	if !ok || key == RegistryKey {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	s, ok := m.reconciler.Lookup(key)
	if !ok || !s.Connected() {
		return nil, unavailable("prompt", ref)
	}
	return s.Client().GetPrompt(ctx, name, args)
}

func (m *Manager) connectedServers() []*ConnectedServer {
	all := m.reconciler.Servers()
	out := all[:0:0]
	for _, s := range all {
		if s.Connected() {
			out = append(out, s)
		}
	}
	return out
}

func matches(search string, fields ...string) bool {
	search = strings.TrimSpace(search)
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}
