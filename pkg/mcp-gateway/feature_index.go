package mcpgateway

import (
	"fmt"
	"maps"
	"net/url"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-catalog-go/pkg/mcpmgr"
)

const (
	metaKeyServer     = "mcpcatalog.server"
	metaKeyNativeName = "mcpcatalog.native_name"
	metaKeyNativeURI  = "mcpcatalog.native_uri"
)

// featureIndex tracks what the gateway currently publishes, keyed by the
// published name (tools, prompts) or URI (resources).
type featureIndex struct {
	mu sync.RWMutex

	tools     map[string]*publishedTool
	prompts   map[string]struct{}
	resources map[string]struct{}
}

type publishedTool struct {
	reg   mcpmgr.ToolRegistration
	calls int
}

type promptRegistration struct {
	Prompt *mcp.Prompt
	Ref    string
}

type resourceRegistration struct {
	Resource *mcp.Resource
	Ref      string
}

func newFeatureIndex() *featureIndex {
	return &featureIndex{
		tools:     make(map[string]*publishedTool),
		prompts:   make(map[string]struct{}),
		resources: make(map[string]struct{}),
	}
}

// PutTool records reg and resets its call budget.
func (f *featureIndex) PutTool(reg mcpmgr.ToolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools[reg.Name] = &publishedTool{reg: reg}
}

// RemoveTools forgets the names published by owner and returns them.
func (f *featureIndex) RemoveTools(owner string, names []string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed []string
	for _, name := range names {
		if t, ok := f.tools[name]; ok && t.reg.Owner == owner {
			delete(f.tools, name)
			removed = append(removed, name)
		}
	}
	return removed
}

// AdmitCall returns the registration for name and counts one call against
// its budget.
func (f *featureIndex) AdmitCall(name string) (mcpmgr.ToolRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tools[name]
	if !ok {
		return mcpmgr.ToolRegistration{}, fmt.Errorf("%w: tool %q", mcpmgr.ErrCapabilityUnavailable, name)
	}
	if t.reg.MaxCalls != nil && t.calls >= *t.reg.MaxCalls {
		return mcpmgr.ToolRegistration{}, fmt.Errorf("%w: %q allows %d calls", mcpmgr.ErrCallBudgetExceeded, name, *t.reg.MaxCalls)
	}
	t.calls++
	return t.reg, nil
}

func (f *featureIndex) ToolNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.tools)
}

func (f *featureIndex) PromptNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.prompts)
}

func (f *featureIndex) ResourceURIs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.resources)
}

// UpdatePrompts replaces the published prompt set. Entries whose name is
// already published are returned in added too; adding replaces them.
func (f *featureIndex) UpdatePrompts(entries []mcpmgr.PromptEntry) (removed []string, added []promptRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Prompt == nil || e.Name == "" {
			continue
		}
		next[e.Name] = struct{}{}
		added = append(added, promptRegistration{Prompt: clonePrompt(e), Ref: e.Name})
	}
	removed = missing(f.prompts, next)
	f.prompts = next
	return removed, added
}

// UpdateResources replaces the published resource set. References that do
// not parse as URIs cannot be published and are returned as skipped.
func (f *featureIndex) UpdateResources(entries []mcpmgr.ResourceEntry) (removed []string, added []resourceRegistration, skipped []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Resource == nil || e.Name == "" {
			continue
		}
		if _, err := url.Parse(e.Name); err != nil {
			skipped = append(skipped, e.Name)
			continue
		}
		next[e.Name] = struct{}{}
		added = append(added, resourceRegistration{Resource: cloneResource(e), Ref: e.Name})
	}
	removed = missing(f.resources, next)
	f.resources = next
	return removed, added, skipped
}

func clonePrompt(e mcpmgr.PromptEntry) *mcp.Prompt {
	clone := *e.Prompt
	clone.Name = e.Name
	clone.Meta = withMeta(e.Prompt.Meta, serverMeta(e.Server), map[string]any{metaKeyNativeName: e.Prompt.Name})
	return &clone
}

func cloneResource(e mcpmgr.ResourceEntry) *mcp.Resource {
	clone := *e.Resource
	clone.URI = e.Name
	clone.Meta = withMeta(e.Resource.Meta, serverMeta(e.Server), map[string]any{metaKeyNativeURI: e.Resource.URI})
	return &clone
}

func serverMeta(s *mcpmgr.ServerIdentity) map[string]any {
	key := mcpmgr.RegistryKey
	if s != nil {
		key = s.Key
	}
	return map[string]any{metaKeyServer: key}
}

func withMeta(base map[string]any, extras ...map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	for _, extra := range extras {
		maps.Copy(out, extra)
	}
	return out
}

func missing(prev, next map[string]struct{}) []string {
	var out []string
	for name := range prev {
		if _, ok := next[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
