package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client is the per-server capability handle the manager drives. The default
// implementation wraps an *mcp.ClientSession; tests and embedders may supply
// their own through a Dialer.
type Client interface {
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	ListPrompts(ctx context.Context) ([]*mcp.Prompt, error)
	ListResources(ctx context.Context) ([]*mcp.Resource, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)
	CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error)
	// UpdateElicitationHandler and UpdateSamplingHandler swap the handler
	// used for server-initiated requests on a live connection. A nil handler
	// makes the client report the request as unsupported.
	UpdateElicitationHandler(ElicitationHandler)
	UpdateSamplingHandler(SamplingHandler)
	Close() error
}

// ConnectedServer is one entry of the held server set. Exactly one of
// Client and ConnectionError is non-nil. Values are never mutated; state
// changes replace the entry.
type ConnectedServer struct {
	ServerDescriptor
	// Key is the effective server key (explicit or derived).
	Key string

	identity Identity
	client   Client
	connErr  error
}

func newConnectedServer(d ServerDescriptor, key string, c Client) *ConnectedServer {
	return &ConnectedServer{ServerDescriptor: d, Key: key, identity: d.Identity(), client: c}
}

func newFailedServer(d ServerDescriptor, key string, err error) *ConnectedServer {
	if err == nil {
		err = errors.New("unknown connection failure")
	}
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		err = &ConnectionError{URL: d.URL, Err: err}
	}
	return &ConnectedServer{ServerDescriptor: d, Key: key, identity: d.Identity(), connErr: err}
}

// withDescriptor returns a copy carrying d's non-identity fields and key,
// sharing the same client or error.
func (s *ConnectedServer) withDescriptor(d ServerDescriptor, key string) *ConnectedServer {
	cp := *s
	cp.ServerDescriptor = d
	cp.Key = key
	return &cp
}

// Client returns the live client, or nil for a failed server.
func (s *ConnectedServer) Client() Client { return s.client }

// ConnectionError returns the connection failure, or nil for a live server.
func (s *ConnectedServer) ConnectionError() error { return s.connErr }

// Connected reports whether the server has a live client.
func (s *ConnectedServer) Connected() bool { return s.client != nil }

// Identity returns the connection identity the entry was created for.
func (s *ConnectedServer) Identity() Identity { return s.identity }

// ServerIdentity returns the read-only identity passed to interactive
// handlers.
func (s *ConnectedServer) ServerIdentity() ServerIdentity {
	return ServerIdentity{URL: s.URL, Key: s.Key, DisplayName: s.DisplayName}
}

// sessionClient adapts an *mcp.ClientSession to Client. Interactive handlers
// are read through a lock on every request so they can be swapped without
// reconnecting.
type sessionClient struct {
	session *mcp.ClientSession

	mu      sync.RWMutex
	elicit  ElicitationHandler
	sample  SamplingHandler
	closeMu sync.Mutex
	closed  bool
}

func newSessionClient() *sessionClient { return &sessionClient{} }

func (c *sessionClient) clientOptions(base mcp.ClientOptions) *mcp.ClientOptions {
	opts := base
	opts.ElicitationHandler = c.handleElicitation
	opts.CreateMessageHandler = c.handleCreateMessage
	return &opts
}

func (c *sessionClient) handleElicitation(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
	c.mu.RLock()
	h := c.elicit
	c.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("elicitation not supported")
	}
	return h(ctx, req)
}

func (c *sessionClient) handleCreateMessage(ctx context.Context, req *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	c.mu.RLock()
	h := c.sample
	c.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("sampling not supported")
	}
	return h(ctx, req)
}

func (c *sessionClient) UpdateElicitationHandler(h ElicitationHandler) {
	c.mu.Lock()
	c.elicit = h
	c.mu.Unlock()
}

func (c *sessionClient) UpdateSamplingHandler(h SamplingHandler) {
	c.mu.Lock()
	c.sample = h
	c.mu.Unlock()
}

func (c *sessionClient) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var tools []*mcp.Tool
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			if isMethodNotFound(err) {
				return []*mcp.Tool{}, nil
			}
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func (c *sessionClient) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	var prompts []*mcp.Prompt
	for prompt, err := range c.session.Prompts(ctx, nil) {
		if err != nil {
			if isMethodNotFound(err) {
				return []*mcp.Prompt{}, nil
			}
			return nil, err
		}
		prompts = append(prompts, prompt)
	}
	return prompts, nil
}

func (c *sessionClient) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	var resources []*mcp.Resource
	for resource, err := range c.session.Resources(ctx, nil) {
		if err != nil {
			if isMethodNotFound(err) {
				return []*mcp.Resource{}, nil
			}
			return nil, err
		}
		resources = append(resources, resource)
	}
	return resources, nil
}

func (c *sessionClient) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return c.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
}

func (c *sessionClient) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return c.session.GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: args})
}

func (c *sessionClient) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	if name == "" {
		return nil, fmt.Errorf("mcpmgr: tool name is required")
	}
	return c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

// Close closes the session once; later calls return nil.
func (c *sessionClient) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed || c.session == nil {
		return nil
	}
	c.closed = true
	return c.session.Close()
}

// isMethodNotFound reports whether err is the JSON-RPC "method not found"
// reply of a server that does not implement the listing at all.
func isMethodNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "method not found")
}
