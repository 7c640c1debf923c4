package mcpmgr

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DescribeCapabilitiesTool is the name of the helper tool shared by every
// manager attached to one registry.
const DescribeCapabilitiesTool = "describe_capabilities"

// sharedOwner is the registration owner of the shared helpers.
const sharedOwner = "mcpmgr/shared"

// ServerSummary describes one held server for the describe helper.
type ServerSummary struct {
	Key         string   `json:"key"`
	URL         string   `json:"url"`
	DisplayName string   `json:"displayName,omitempty"`
	Connected   bool     `json:"connected"`
	Error       string   `json:"error,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	Prompts     []string `json:"prompts,omitempty"`
	Resources   []string `json:"resources,omitempty"`
}

// CapabilitySummary is the payload returned by the describe helper.
type CapabilitySummary struct {
	Servers []ServerSummary `json:"servers"`
}

// CapabilityDescriber contributes to the describe helper.
type CapabilityDescriber interface {
	DescribeCapabilities(ctx context.Context) (CapabilitySummary, error)
}

// SharedRegistrations reference-counts helpers that several managers publish
// into the same registry. The helper tool is registered by the first Attach
// and removed when the last attachment is released.
type SharedRegistrations struct {
	registry ToolRegistry

	mu         sync.Mutex
	describers map[uint64]CapabilityDescriber
	nextID     uint64
}

// NewSharedRegistrations returns an empty set bound to registry.
func NewSharedRegistrations(registry ToolRegistry) *SharedRegistrations {
	return &SharedRegistrations{registry: registry, describers: make(map[uint64]CapabilityDescriber)}
}

// Attach adds d to the describe helper and returns its release function.
// Release is safe to call more than once.
func (s *SharedRegistrations) Attach(d CapabilityDescriber) (release func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.describers[id] = d
	first := len(s.describers) == 1
	if first {
		s.registry.RegisterTool(s.describeTool())
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.describers, id)
			if len(s.describers) == 0 {
				s.registry.UnregisterTools(sharedOwner, DescribeCapabilitiesTool)
			}
		})
	}
}

// Count returns the number of live attachments.
func (s *SharedRegistrations) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.describers)
}

func (s *SharedRegistrations) describeTool() ToolRegistration {
	return ToolRegistration{
		Name:        DescribeCapabilitiesTool,
		RawName:     DescribeCapabilitiesTool,
		Description: "Lists connected capability servers with their tools, prompts and resources.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		Invoke:      s.describe,
		Owner:       sharedOwner,
	}
}

func (s *SharedRegistrations) describe(ctx context.Context, _ any) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.describers))
	for id := range s.describers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	describers := make([]CapabilityDescriber, 0, len(ids))
	for _, id := range ids {
		describers = append(describers, s.describers[id])
	}
	s.mu.Unlock()

	summary := CapabilitySummary{Servers: []ServerSummary{}}
	for _, d := range describers {
		part, err := d.DescribeCapabilities(ctx)
		if err != nil {
			return nil, err
		}
		summary.Servers = append(summary.Servers, part.Servers...)
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(encoded)}},
		StructuredContent: summary,
	}, nil
}
