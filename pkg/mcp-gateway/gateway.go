package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-catalog-go/pkg/mcpmgr"
)

// Catalog is the view of a manager the gateway mirrors. *mcpmgr.Manager
// implements it.
type Catalog interface {
	Prompts(ctx context.Context, search string) ([]mcpmgr.PromptEntry, error)
	Resources(ctx context.Context, search string) ([]mcpmgr.ResourceEntry, error)
	GetPrompt(ctx context.Context, ref string, args map[string]string) (*mcp.GetPromptResult, error)
	ReadResource(ctx context.Context, ref string) (*mcp.ReadResourceResult, error)
}

// Gateway exposes a Streamable MCP server that fronts every server managed by
// mcpmgr under a single HTTP endpoint.
type Gateway struct {
	opts Options

	features *featureIndex
	shared   *mcpmgr.SharedRegistrations

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	serverMu     sync.Mutex
	syncMu       sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server

	callsMu sync.Mutex
	calls   map[string][]*mcp.ServerSession
}

var _ mcpmgr.SharedRegistry = (*Gateway)(nil)

// NewGateway builds a Gateway with nothing published. Hand it to
// mcpmgr.NewManager as the registry to publish tools.
func NewGateway(opts *Options) (*Gateway, error) {
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, errors.New("mcpgateway: TokenOptions require a TokenVerifier")
	}
	g := &Gateway{
		opts:     options,
		features: newFeatureIndex(),
		calls:    make(map[string][]*mcp.ServerSession),
	}
	g.shared = mcpmgr.NewSharedRegistrations(g)
	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasPrompts:   true,
		HasResources: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.mountHandler()
	g.httpHandler = g.withCORS(g.mux)
	return g, nil
}

// Server returns the underlying MCP server.
func (g *Gateway) Server() *mcp.Server { return g.server }

// ServeMux returns the mux the Streamable handler is mounted on, so callers
// can add routes such as health checks.
func (g *Gateway) ServeMux() *http.ServeMux { return g.mux }

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// RegisterTool publishes reg on the MCP server, replacing any tool with the
// same name.
func (g *Gateway) RegisterTool(reg mcpmgr.ToolRegistration) {
	tool := &mcp.Tool{
		Name:        reg.Name,
		Description: reg.Description,
		InputSchema: objectSchema(reg.InputSchema),
	}
	if reg.ServerKey != "" {
		tool.Meta = mcp.Meta{metaKeyServer: reg.ServerKey, metaKeyNativeName: reg.RawName}
	}
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	g.features.PutTool(reg)
	g.server.AddTool(tool, g.makeToolHandler(reg.Name, reg.ServerKey))
}

// UnregisterTools removes the named tools published by owner. Unknown names
// and names now held by another owner are ignored.
func (g *Gateway) UnregisterTools(owner string, names ...string) {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if removed := g.features.RemoveTools(owner, names); len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
}

// Shared returns the helper registrations published through this gateway.
func (g *Gateway) Shared() *mcpmgr.SharedRegistrations { return g.shared }

// Tools returns the published tool names sorted.
func (g *Gateway) Tools() []string { return g.features.ToolNames() }

// Prompts returns the published prompt names sorted.
func (g *Gateway) Prompts() []string { return g.features.PromptNames() }

// Resources returns the published resource URIs sorted.
func (g *Gateway) Resources() []string { return g.features.ResourceURIs() }

// SyncCatalog republishes the prompts and resources of c. Prompt and
// resource listing run concurrently; a failure of either leaves that kind
// as it was.
func (g *Gateway) SyncCatalog(ctx context.Context, c Catalog) error {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()
	ctx, cancel := g.syncContext(ctx)
	defer cancel()

	var (
		prompts   []mcpmgr.PromptEntry
		resources []mcpmgr.ResourceEntry
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		prompts, err = c.Prompts(egCtx, "")
		return err
	})
	eg.Go(func() (err error) {
		resources, err = c.Resources(egCtx, "")
		return err
	})
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("mcpgateway: sync catalog: %w", err)
	}

	removedPrompts, addedPrompts := g.features.UpdatePrompts(prompts)
	removedResources, addedResources, skipped := g.features.UpdateResources(resources)
	for _, ref := range skipped {
		g.opts.Logger.Warn("resource reference is not a valid URI; not published", "ref", ref)
	}

	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removedPrompts) > 0 {
		g.server.RemovePrompts(removedPrompts...)
	}
	for _, reg := range addedPrompts {
		g.server.AddPrompt(reg.Prompt, g.makePromptHandler(c, reg.Ref))
	}
	if len(removedResources) > 0 {
		g.server.RemoveResources(removedResources...)
	}
	for _, reg := range addedResources {
		g.server.AddResource(reg.Resource, g.makeResourceHandler(c, reg.Ref))
	}
	g.opts.Logger.Debug("catalog synchronized", "prompts", len(addedPrompts), "resources", len(addedResources))
	return nil
}

// Follow keeps the published prompts and resources in step with m until ctx
// is done. Bursts of manager changes collapse into one synchronization.
func (g *Gateway) Follow(ctx context.Context, m *mcpmgr.Manager) {
	trigger := make(chan struct{}, 1)
	kick := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	unsubscribe := m.Subscribe(func(mcpmgr.Snapshot) { kick() })
	defer unsubscribe()
	kick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			if err := g.SyncCatalog(ctx, m); err != nil && ctx.Err() == nil {
				g.logError("sync catalog", err)
			}
		}
	}
}

// Handlers returns interactive handlers that forward elicitation and
// sampling requests to the downstream session with a tool call in flight on
// the asking server. Install them with Manager.SetDefaultHandlers.
func (g *Gateway) Handlers() *mcpmgr.ServerHandlers {
	return &mcpmgr.ServerHandlers{
		Elicitation: g.forwardElicitation,
		Sampling:    g.forwardSampling,
	}
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

func (g *Gateway) makeToolHandler(name, serverKey string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reg, err := g.features.AdmitCall(name)
		if err != nil {
			return errorResult(err), nil
		}
		var args any
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			args = req.Params.Arguments
		}
		if serverKey != "" && req.Session != nil {
			done := g.trackCall(serverKey, req.Session)
			defer done()
		}
		res, err := reg.Invoke(ctx, args)
		if err == nil {
			return res, nil
		}
		var ie *mcpmgr.InvocationError
		if errors.As(err, &ie) && ie.Result != nil {
			return ie.Result, nil
		}
		return errorResult(err), nil
	}
}

func (g *Gateway) makePromptHandler(c Catalog, ref string) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return c.GetPrompt(ctx, ref, args)
	}
}

func (g *Gateway) makeResourceHandler(c Catalog, ref string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		res, err := c.ReadResource(ctx, ref)
		if err != nil {
			return nil, err
		}
		// Contents answer the published URI, not the upstream one.
		out := *res
		out.Contents = make([]*mcp.ResourceContents, len(res.Contents))
		for i, rc := range res.Contents {
			clone := *rc
			clone.URI = ref
			out.Contents[i] = &clone
		}
		return &out, nil
	}
}

// trackCall records session as calling into serverKey until done is called.
func (g *Gateway) trackCall(serverKey string, session *mcp.ServerSession) (done func()) {
	g.callsMu.Lock()
	g.calls[serverKey] = append(g.calls[serverKey], session)
	g.callsMu.Unlock()
	return func() {
		g.callsMu.Lock()
		defer g.callsMu.Unlock()
		stack := g.calls[serverKey]
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i] == session {
				stack = append(stack[:i], stack[i+1:]...)
				break
			}
		}
		if len(stack) == 0 {
			delete(g.calls, serverKey)
		} else {
			g.calls[serverKey] = stack
		}
	}
}

func (g *Gateway) callingSession(serverKey string) *mcp.ServerSession {
	g.callsMu.Lock()
	defer g.callsMu.Unlock()
	stack := g.calls[serverKey]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

func (g *Gateway) forwardElicitation(ctx context.Context, server mcpmgr.ServerIdentity, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
	session := g.callingSession(server.Key)
	if session == nil {
		return nil, fmt.Errorf("mcpgateway: no downstream session for elicitation from %s", server.Key)
	}
	if req == nil || req.Params == nil {
		return nil, fmt.Errorf("mcpgateway: malformed elicitation payload")
	}
	return session.Elicit(ctx, req.Params)
}

func (g *Gateway) forwardSampling(ctx context.Context, server mcpmgr.ServerIdentity, req *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	session := g.callingSession(server.Key)
	if session == nil {
		return nil, fmt.Errorf("mcpgateway: no downstream session for sampling from %s", server.Key)
	}
	if req == nil || req.Params == nil {
		return nil, fmt.Errorf("mcpgateway: malformed sampling payload")
	}
	return session.CreateMessage(ctx, req.Params)
}

func (g *Gateway) mountHandler() *http.ServeMux {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	mux := http.NewServeMux()
	var endpoint http.Handler = g.streamHandler
	if g.opts.TokenVerifier != nil {
		endpoint = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(endpoint)
		if g.opts.AuthorizationServer != "" {
			mux.HandleFunc(protectedResourcePath, g.serveProtectedResource)
		}
	}
	mux.Handle(path, endpoint)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", endpoint)
	}
	return mux
}

const protectedResourcePath = "/.well-known/oauth-protected-resource"

// serveProtectedResource answers OAuth protected resource metadata
// (RFC 9728) for the MCP endpoint.
func (g *Gateway) serveProtectedResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	metadata := map[string]any{
		"resource":                 scheme + "://" + r.Host + path,
		"authorization_servers":    []string{g.opts.AuthorizationServer},
		"bearer_methods_supported": []string{"header"},
	}
	if g.opts.TokenOptions != nil && len(g.opts.TokenOptions.Scopes) > 0 {
		metadata["scopes_supported"] = g.opts.TokenOptions.Scopes
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		g.logError("write protected resource metadata", err)
	}
}

func (g *Gateway) withCORS(h http.Handler) http.Handler {
	if len(g.opts.AllowedOrigins) == 0 {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins: g.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(h)
}

func (g *Gateway) syncContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if g.opts.SyncTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, g.opts.SyncTimeout)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

// objectSchema coerces an upstream input schema into the object schema the
// MCP server requires. Unusable schemas become the empty object schema.
func objectSchema(schema any) map[string]any {
	var m map[string]any
	switch s := schema.(type) {
	case nil:
	case map[string]any:
		m = s
	default:
		data, err := json.Marshal(s)
		if err == nil {
			_ = json.Unmarshal(data, &m)
		}
	}
	if m == nil {
		return map[string]any{"type": "object"}
	}
	if m["type"] == "object" {
		return m
	}
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["type"] = "object"
	return out
}
