package mcpmgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type fakeClient struct {
	url       string
	tools     []*mcp.Tool
	prompts   []*mcp.Prompt
	resources []*mcp.Resource
	listErr   error
	callRes   *mcp.CallToolResult
	callErr   error

	listToolCalls     atomic.Int32
	listPromptCalls   atomic.Int32
	listResourceCalls atomic.Int32
	closeCalls        atomic.Int32

	mu       sync.Mutex
	calls    []string
	reads    []string
	elicit   ElicitationHandler
	sample   SamplingHandler
	pushes   int
	lastArgs any
}

func (c *fakeClient) ListTools(context.Context) ([]*mcp.Tool, error) {
	c.listToolCalls.Add(1)
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.tools, nil
}

func (c *fakeClient) ListPrompts(context.Context) ([]*mcp.Prompt, error) {
	c.listPromptCalls.Add(1)
	return c.prompts, nil
}

func (c *fakeClient) ListResources(context.Context) ([]*mcp.Resource, error) {
	c.listResourceCalls.Add(1)
	return c.resources, nil
}

func (c *fakeClient) ReadResource(_ context.Context, uri string) (*mcp.ReadResourceResult, error) {
	c.mu.Lock()
	c.reads = append(c.reads, uri)
	c.mu.Unlock()
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: uri, Text: "from " + c.url}}}, nil
}

func (c *fakeClient) GetPrompt(_ context.Context, name string, _ map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{Description: name}, nil
}

func (c *fakeClient) CallTool(_ context.Context, name string, args any) (*mcp.CallToolResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.lastArgs = args
	c.mu.Unlock()
	if c.callErr != nil {
		return nil, c.callErr
	}
	if c.callRes != nil {
		return c.callRes, nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok"}}}, nil
}

func (c *fakeClient) UpdateElicitationHandler(h ElicitationHandler) {
	c.mu.Lock()
	c.elicit = h
	c.pushes++
	c.mu.Unlock()
}

func (c *fakeClient) UpdateSamplingHandler(h SamplingHandler) {
	c.mu.Lock()
	c.sample = h
	c.mu.Unlock()
}

func (c *fakeClient) Close() error {
	c.closeCalls.Add(1)
	return nil
}

func (c *fakeClient) elicitation() ElicitationHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elicit
}

func (c *fakeClient) calledTools() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// fakeDialer hands out fakeClients built by build, failing URLs listed in
// fail and parking URLs listed in block until their channel is closed.
type fakeDialer struct {
	build func(DialRequest) *fakeClient

	mu     sync.Mutex
	fail   map[string]error
	block  map[string]chan struct{}
	dials  []DialRequest
	opened []*fakeClient
}

func newFakeDialer(build func(DialRequest) *fakeClient) *fakeDialer {
	return &fakeDialer{build: build, fail: map[string]error{}, block: map[string]chan struct{}{}}
}

func (d *fakeDialer) Dial(ctx context.Context, req DialRequest) (Client, error) {
	d.mu.Lock()
	d.dials = append(d.dials, req)
	gate := d.block[req.URL]
	failErr := d.fail[req.URL]
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	var c *fakeClient
	if d.build != nil {
		c = d.build(req)
	}
	if c == nil {
		c = &fakeClient{}
	}
	c.url = req.URL
	d.mu.Lock()
	d.opened = append(d.opened, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) clients() []*fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeClient(nil), d.opened...)
}

func (d *fakeDialer) clientFor(url string) *fakeClient {
	for _, c := range d.clients() {
		if c.url == url {
			return c
		}
	}
	return nil
}

func (d *fakeDialer) totalCloses() int {
	n := 0
	for _, c := range d.clients() {
		n += int(c.closeCalls.Load())
	}
	return n
}

type fakeLocal struct {
	resources []*mcp.Resource
	searches  []string
	mu        sync.Mutex
}

func (l *fakeLocal) ListResources(_ context.Context, search string) ([]*mcp.Resource, error) {
	l.mu.Lock()
	l.searches = append(l.searches, search)
	l.mu.Unlock()
	return l.resources, nil
}

func (l *fakeLocal) ReadResource(_ context.Context, uri string) (*mcp.ReadResourceResult, error) {
	for _, r := range l.resources {
		if r.URI == uri {
			return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: uri, Text: "local"}}}, nil
		}
	}
	return nil, errors.New("not found")
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testTool(name string) *mcp.Tool {
	return &mcp.Tool{Name: name, Description: name + " tool", InputSchema: map[string]any{"type": "object"}}
}

func newTestManager(d Dialer, opts *ManagerOptions) *Manager {
	if opts == nil {
		opts = &ManagerOptions{}
	}
	opts.Dialer = d
	opts.Logger = quietLogger()
	return NewManager(opts)
}

func setServers(t interface {
	Helper()
	Fatalf(string, ...any)
}, m *Manager, sources []Source) *Pass {
	t.Helper()
	pass, err := m.SetServers(context.Background(), sources)
	if err != nil {
		t.Fatalf("SetServers: %v", err)
	}
	pass.Wait()
	return pass
}
