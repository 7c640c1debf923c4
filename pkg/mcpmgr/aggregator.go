package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

// maxCallsMetaKey is the tool _meta field carrying a call budget hint.
const maxCallsMetaKey = "maxCalls"

// RefreshResult summarizes one tool refresh.
type RefreshResult struct {
	// Tools are the registrations handed to the registry, sorted by name.
	Tools []ToolRegistration
	// Failures holds the listing error of each server that could not list
	// its tools. Those servers contributed no tools.
	Failures map[string]error
}

type toolOwner struct {
	server string
	raw    string
}

// Aggregator collects capabilities from connected servers. Tools are pushed
// into a ToolRegistry on Refresh; prompts and resources are fetched lazily
// per server through a partitioned QueryCache.
type Aggregator struct {
	registry ToolRegistry
	owner    string
	logger   *slog.Logger
	lookup   func(key string) (*ConnectedServer, bool)
	cache    *QueryCache

	refreshMu sync.Mutex

	mu     sync.RWMutex
	owners map[string]toolOwner
}

// NewAggregator returns an Aggregator that resolves tool owners through
// lookup at call time.
func NewAggregator(registry ToolRegistry, lookup func(key string) (*ConnectedServer, bool), logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		registry: registry,
		owner:    uuid.NewString(),
		logger:   logger,
		lookup:   lookup,
		cache:    NewQueryCache(),
		owners:   make(map[string]toolOwner),
	}
}

// Cache exposes the prompt/resource partitions.
func (a *Aggregator) Cache() *QueryCache { return a.cache }

// Refresh lists tools on every connected server concurrently and replaces
// all registrations from the previous refresh.
func (a *Aggregator) Refresh(ctx context.Context, servers []*ConnectedServer) RefreshResult {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	connected := make([]*ConnectedServer, 0, len(servers))
	for _, s := range servers {
		if s.Connected() {
			connected = append(connected, s)
		}
	}

	listed := make([][]*mcp.Tool, len(connected))
	failures := make([]error, len(connected))
	var g errgroup.Group
	for i, s := range connected {
		g.Go(func() error {
			tools, err := s.Client().ListTools(ctx)
			if err != nil {
				lerr := &ListingError{Server: s.Key, Kind: KindTools, Err: err}
				a.logger.Warn("list tools failed", "server", s.Key, "error", err)
				failures[i] = lerr
				return nil
			}
			listed[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	owners := make(map[string]toolOwner)
	regs := make(map[string]ToolRegistration)
	result := RefreshResult{Failures: make(map[string]error)}
	for i, s := range connected {
		if failures[i] != nil {
			result.Failures[s.Key] = failures[i]
			continue
		}
		for _, tool := range listed[i] {
			if tool == nil || tool.Name == "" {
				continue
			}
			name := ToolName(s.Key, tool.Name, len(connected))
			if name == DescribeCapabilitiesTool {
				// The bare helper name is held by SharedRegistrations.
				name = s.Key + toolSeparator + tool.Name
			}
			// Later entries with the same name win.
			owners[name] = toolOwner{server: s.Key, raw: tool.Name}
			regs[name] = ToolRegistration{
				Name:        name,
				RawName:     tool.Name,
				ServerKey:   s.Key,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
				Invoke:      a.invoker(name),
				MaxCalls:    maxCallsFromMeta(tool.Meta),
				Owner:       a.owner,
			}
		}
	}

	a.mu.Lock()
	var stale []string
	for name := range a.owners {
		if _, ok := owners[name]; !ok {
			stale = append(stale, name)
		}
	}
	a.owners = owners
	a.mu.Unlock()

	if len(stale) > 0 {
		sort.Strings(stale)
		a.registry.UnregisterTools(a.owner, stale...)
	}
	result.Tools = make([]ToolRegistration, 0, len(regs))
	for _, reg := range regs {
		result.Tools = append(result.Tools, reg)
	}
	sort.Slice(result.Tools, func(i, j int) bool { return result.Tools[i].Name < result.Tools[j].Name })
	for _, reg := range result.Tools {
		a.registry.RegisterTool(reg)
	}
	return result
}

// Clear unregisters every tool from the last refresh.
func (a *Aggregator) Clear() {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()
	a.mu.Lock()
	names := make([]string, 0, len(a.owners))
	for name := range a.owners {
		names = append(names, name)
	}
	a.owners = make(map[string]toolOwner)
	a.mu.Unlock()
	if len(names) > 0 {
		sort.Strings(names)
		a.registry.UnregisterTools(a.owner, names...)
	}
	a.cache.Clear()
}

// Owner reports which server and raw tool name currently back name.
func (a *Aggregator) Owner(name string) (server, raw string, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.owners[name]
	return o.server, o.raw, ok
}

// ToolsOf returns the effective names of the tools owned by server, sorted.
func (a *Aggregator) ToolsOf(server string) []string {
	a.mu.RLock()
	var names []string
	for name, o := range a.owners {
		if o.server == server {
			names = append(names, name)
		}
	}
	a.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (a *Aggregator) invoker(name string) ToolInvoker {
	return func(ctx context.Context, args any) (*mcp.CallToolResult, error) {
		key, raw, ok := a.Owner(name)
		if !ok {
			return nil, unavailable("tool", name)
		}
		s, ok := a.lookup(key)
		if !ok || !s.Connected() {
			return nil, unavailable("tool", name)
		}
		res, err := s.Client().CallTool(ctx, raw, args)
		if err != nil {
			return nil, &InvocationError{Tool: name, Server: key, Err: err}
		}
		if res != nil && res.IsError {
			return nil, &InvocationError{Tool: name, Server: key, Message: errorText(res), Result: res}
		}
		return res, nil
	}
}

// Prompts returns the cached prompt list of s, fetching it on first use.
func (a *Aggregator) Prompts(ctx context.Context, s *ConnectedServer) ([]*mcp.Prompt, error) {
	if !s.Connected() {
		return nil, nil
	}
	return cachedQuery(ctx, a.cache, CacheKey{Kind: KindPrompts, Server: s.Key}, func(ctx context.Context) ([]*mcp.Prompt, error) {
		prompts, err := s.Client().ListPrompts(ctx)
		if err != nil {
			return nil, &ListingError{Server: s.Key, Kind: KindPrompts, Err: err}
		}
		return prompts, nil
	})
}

// Resources returns the cached resource list of s, fetching it on first use.
func (a *Aggregator) Resources(ctx context.Context, s *ConnectedServer) ([]*mcp.Resource, error) {
	if !s.Connected() {
		return nil, nil
	}
	return cachedQuery(ctx, a.cache, CacheKey{Kind: KindResources, Server: s.Key}, func(ctx context.Context) ([]*mcp.Resource, error) {
		resources, err := s.Client().ListResources(ctx)
		if err != nil {
			return nil, &ListingError{Server: s.Key, Kind: KindResources, Err: err}
		}
		return resources, nil
	})
}

// errorText extracts a readable message from a tool error result.
func errorText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	if res.StructuredContent != nil {
		if b, err := json.Marshal(res.StructuredContent); err == nil {
			return string(b)
		}
	}
	if len(res.Content) > 0 {
		if b, err := json.Marshal(res.Content); err == nil {
			return string(b)
		}
	}
	return "unknown error"
}

func maxCallsFromMeta(meta mcp.Meta) *int {
	raw, ok := meta[maxCallsMetaKey]
	if !ok {
		return nil
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return nil
		}
		n = int(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	if n < 0 {
		return nil
	}
	return &n
}

func (r RefreshResult) String() string {
	return fmt.Sprintf("%d tools, %d failures", len(r.Tools), len(r.Failures))
}
