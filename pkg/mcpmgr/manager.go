package mcpmgr

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Snapshot is the state delivered to subscribers after every change.
type Snapshot struct {
	// Servers are the held entries sorted by key.
	Servers []*ConnectedServer
	// Pending is the number of connection attempts still in flight.
	Pending int
}

// Manager turns a declarative list of capability servers into live
// connections and a single catalog of tools, prompts and resources.
type Manager struct {
	opts       ManagerOptions
	logger     *slog.Logger
	reconciler *Reconciler
	agg        *Aggregator
	shared     *SharedRegistrations
	release    func()

	handlersMu sync.RWMutex
	handlers   *ServerHandlers

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewManager builds a Manager. It holds no servers until SetServers is
// called.
func NewManager(options *ManagerOptions) *Manager {
	opts := options.withDefaults()
	m := &Manager{
		opts:     opts,
		logger:   opts.Logger,
		handlers: opts.Handlers,
		subs:     make(map[int]func(Snapshot)),
	}
	m.reconciler = NewReconciler(ReconcilerOptions{
		Dialer:       opts.Dialer,
		KeyDeriver:   opts.KeyDeriver,
		Logger:       opts.Logger,
		DialTimeout:  opts.DialTimeout,
		DialAttempts: opts.DialAttempts,
		Handlers:     m.defaultHandlers,
		OnChange:     m.onChange,
		OnSettled:    m.onSettled,
	})
	m.agg = NewAggregator(opts.Registry, m.reconciler.Lookup, opts.Logger)
	if sr, ok := opts.Registry.(SharedRegistry); ok {
		m.shared = sr.Shared()
	} else {
		m.shared = NewSharedRegistrations(opts.Registry)
	}
	m.release = m.shared.Attach(m)
	return m
}

// SetServers reconciles the held connections with sources. Kept servers are
// untouched, new ones connect concurrently and removed ones are closed. The
// returned Pass completes after every attempt settled and tools were
// re-registered.
func (m *Manager) SetServers(ctx context.Context, sources []Source) (*Pass, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	return m.reconciler.Reconcile(ctx, sources)
}

// Reconnect drops the connection of the server with key and dials it again.
func (m *Manager) Reconnect(ctx context.Context, key string) (*Pass, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	return m.reconciler.Reconnect(ctx, key)
}

// RefreshTools lists tools on every connected server and replaces the
// registry contents contributed by this manager.
func (m *Manager) RefreshTools(ctx context.Context) RefreshResult {
	return m.agg.Refresh(ctx, m.reconciler.Servers())
}

// Servers returns the held servers sorted by key.
func (m *Manager) Servers() []*ConnectedServer { return m.reconciler.Servers() }

// Server returns the held server with key.
func (m *Manager) Server(key string) (*ConnectedServer, bool) { return m.reconciler.Lookup(key) }

// Registry returns the registry tools are published to.
func (m *Manager) Registry() ToolRegistry { return m.opts.Registry }

// Cache returns the prompt/resource partition cache.
func (m *Manager) Cache() *QueryCache { return m.agg.Cache() }

// SetDefaultHandlers replaces the provider-level interactive handlers and
// pushes the re-resolved handlers into every live client.
func (m *Manager) SetDefaultHandlers(h *ServerHandlers) {
	m.handlersMu.Lock()
	m.handlers = h
	m.handlersMu.Unlock()
	m.reconciler.RefreshHandlers()
}

// Subscribe registers fn to receive a Snapshot after every change of the
// held set and after every tool refresh. The returned function unsubscribes.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// DescribeCapabilities summarizes the held servers. Prompt and resource
// listings go through the partition cache.
func (m *Manager) DescribeCapabilities(ctx context.Context) (CapabilitySummary, error) {
	servers := m.reconciler.Servers()
	summary := CapabilitySummary{Servers: make([]ServerSummary, 0, len(servers))}
	for _, s := range servers {
		entry := ServerSummary{Key: s.Key, URL: s.URL, DisplayName: s.DisplayName, Connected: s.Connected()}
		if err := s.ConnectionError(); err != nil {
			entry.Error = err.Error()
			summary.Servers = append(summary.Servers, entry)
			continue
		}
		entry.Tools = m.agg.ToolsOf(s.Key)
		if prompts, err := m.agg.Prompts(ctx, s); err == nil {
			for _, p := range prompts {
				entry.Prompts = append(entry.Prompts, PromptName(s.Key, p.Name))
			}
		}
		if resources, err := m.agg.Resources(ctx, s); err == nil {
			for _, r := range resources {
				entry.Resources = append(entry.Resources, ResourceName(s.Key, r.URI))
			}
		}
		summary.Servers = append(summary.Servers, entry)
	}
	return summary, nil
}

// Close releases the shared helper, closes every held client exactly once
// and unregisters this manager's tools.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.release()
		m.closeErr = m.reconciler.Close(ctx)
		m.agg.Clear()
	})
	return m.closeErr
}

func (m *Manager) isClosed() bool { return m.closed.Load() }

func (m *Manager) defaultHandlers() *ServerHandlers {
	m.handlersMu.RLock()
	defer m.handlersMu.RUnlock()
	return m.handlers
}

func (m *Manager) onChange(e ChangeEvent) {
	cache := m.agg.Cache()
	for _, s := range e.Removed {
		cache.Invalidate(s.Key)
	}
	for _, s := range e.Added {
		cache.Invalidate(s.Key)
	}
	m.notify()
}

func (m *Manager) onSettled(ctx context.Context, _ *Pass) {
	if m.isClosed() {
		return
	}
	res := m.agg.Refresh(ctx, m.reconciler.Servers())
	m.logger.Debug("tools refreshed", "tools", len(res.Tools), "failures", len(res.Failures))
	m.notify()
}

func (m *Manager) notify() {
	m.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()
	if len(subs) == 0 {
		return
	}
	snap := Snapshot{Servers: m.reconciler.Servers(), Pending: m.reconciler.Pending()}
	for _, fn := range subs {
		fn(snap)
	}
}
