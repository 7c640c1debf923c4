package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DialRequest carries everything needed to open one capability client.
type DialRequest struct {
	Key         string
	URL         string
	Transport   TransportKind
	Headers     map[string]string
	Elicitation ElicitationHandler
	Sampling    SamplingHandler
}

// Dialer opens capability clients.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Client, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(context.Context, DialRequest) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, req DialRequest) (Client, error) { return f(ctx, req) }

// SessionDialer dials MCP servers over Streamable HTTP or SSE using the
// modelcontextprotocol go-sdk.
type SessionDialer struct {
	ClientName    string
	ClientVersion string
	HTTPClient    *http.Client
	// MaxRetries is passed to the Streamable transport's reconnect logic.
	MaxRetries   int
	AuthProvider HTTPAuthProvider
	RPCLogger    RPCLogger
	// ClientOptions are merged into every client; the manager always owns the
	// elicitation and sampling handlers.
	ClientOptions mcp.ClientOptions
}

// Dial connects to req.URL and returns a Client backed by the live session.
func (d *SessionDialer) Dial(ctx context.Context, req DialRequest) (Client, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("mcpmgr: endpoint missing for %q", req.Key)
	}
	sc := newSessionClient()
	sc.UpdateElicitationHandler(req.Elicitation)
	sc.UpdateSamplingHandler(req.Sampling)

	impl := &mcp.Implementation{Name: d.clientName(), Version: d.clientVersion()}
	client := mcp.NewClient(impl, sc.clientOptions(d.ClientOptions))
	httpClient := decorateHTTPClient(d.HTTPClient, headersFrom(req.Headers), d.AuthProvider)

	attempt := func(transport mcp.Transport) (*mcp.ClientSession, error) {
		transport = detachedTransport{delegate: transport}
		if d.RPCLogger != nil {
			transport = &loggingTransport{serverKey: req.Key, delegate: transport, logger: d.RPCLogger}
		}
		return client.Connect(ctx, transport, nil)
	}
	streamable := &mcp.StreamableClientTransport{Endpoint: req.URL, HTTPClient: httpClient, MaxRetries: d.MaxRetries}
	sse := &mcp.SSEClientTransport{Endpoint: req.URL, HTTPClient: httpClient}

	var session *mcp.ClientSession
	var err error
	switch req.Transport {
	case TransportStreamable:
		session, err = attempt(streamable)
	case TransportSSE:
		session, err = attempt(sse)
	default:
		first, second := mcp.Transport(streamable), mcp.Transport(sse)
		if shouldPreferSSE(req.URL) {
			first, second = second, first
		}
		session, err = attempt(first)
		if err != nil {
			firstErr := err
			session, err = attempt(second)
			if err != nil {
				err = fmt.Errorf("%v; fallback: %w", firstErr, err)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	sc.session = session
	return sc, nil
}

func (d *SessionDialer) clientName() string {
	if d.ClientName != "" {
		return d.ClientName
	}
	return "mcp-catalog"
}

func (d *SessionDialer) clientVersion() string {
	if d.ClientVersion != "" {
		return d.ClientVersion
	}
	return "1.0.0"
}

// dialWithRetry dials with a per-attempt timeout, retrying with exponential
// backoff when attempts > 1.
func dialWithRetry(ctx context.Context, d Dialer, req DialRequest, timeout time.Duration, attempts int) (Client, error) {
	dialOnce := func() (Client, error) {
		dctx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		return d.Dial(dctx, req)
	}
	if attempts <= 1 {
		return dialOnce()
	}
	var client Client
	op := func() error {
		c, err := dialOnce()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		client = c
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return client, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func shouldPreferSSE(endpoint string) bool {
	return strings.HasSuffix(strings.TrimRight(strings.TrimSpace(endpoint), "/"), "/sse")
}

func headersFrom(h map[string]string) http.Header {
	if len(h) == 0 {
		return nil
	}
	out := make(http.Header, len(h))
	for k, v := range h {
		out.Set(k, v)
	}
	return out
}

func decorateHTTPClient(base *http.Client, headers http.Header, provider HTTPAuthProvider) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	if len(headers) == 0 && provider == nil {
		return &clone
	}
	clone.Transport = &headerDecorator{
		next:         defaultRoundTripper(base.Transport),
		headers:      headers,
		authProvider: provider,
	}
	return &clone
}

type headerDecorator struct {
	next         http.RoundTripper
	headers      http.Header
	authProvider HTTPAuthProvider
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if d.authProvider != nil && req.Header.Get("Authorization") == "" {
		token, err := d.authProvider(req.Context())
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", token)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

// detachedTransport opens the connection on a context that outlives the
// dial deadline. Only the initialize handshake is bound by ctx; the session
// ends when it is closed.
type detachedTransport struct {
	delegate mcp.Transport
}

func (t detachedTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	return t.delegate.Connect(context.WithoutCancel(ctx))
}

type loggingTransport struct {
	serverKey string
	delegate  mcp.Transport
	logger    RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverKey: t.serverKey, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverKey string
	delegate  mcp.Connection
	logger    RPCLogger
	mu        sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	c.emit(RPCDirectionSend, msg)
	return c.delegate.Write(ctx, msg)
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerKey: c.serverKey})
}
