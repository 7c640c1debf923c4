package mcpmgr

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeEvent reports one change of the held server set.
type ChangeEvent struct {
	// Added holds entries that appeared, including failed connects.
	Added []*ConnectedServer
	// Updated holds kept entries whose non-identity fields changed.
	Updated []*ConnectedServer
	// Removed holds entries that are no longer held under their key.
	Removed []*ConnectedServer
}

func (e ChangeEvent) empty() bool {
	return len(e.Added) == 0 && len(e.Updated) == 0 && len(e.Removed) == 0
}

// Pass tracks one reconciliation pass.
type Pass struct {
	// Connects is the number of connection attempts started.
	Connects int
	// Closes is the number of live clients scheduled for closing.
	Closes int
	// Kept is the number of held entries left connected.
	Kept int
	// Updated is the number of kept entries whose key, display name or
	// handlers changed.
	Updated int

	wg   sync.WaitGroup
	done chan struct{}
}

func newPass() *Pass { return &Pass{done: make(chan struct{})} }

// Changed reports whether the pass connected, closed or updated anything.
func (p *Pass) Changed() bool { return p.Connects+p.Closes+p.Updated > 0 }

// Wait blocks until every attempt and close of the pass settled and the
// pass's follow-up work finished.
func (p *Pass) Wait() { <-p.done }

// Done is closed when Wait would return.
func (p *Pass) Done() <-chan struct{} { return p.done }

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Dialer       Dialer
	KeyDeriver   *KeyDeriver
	Logger       *slog.Logger
	DialTimeout  time.Duration
	DialAttempts int
	// Handlers returns the provider-level default handlers.
	Handlers func() *ServerHandlers
	// OnChange is called after each swap of the held set.
	OnChange func(ChangeEvent)
	// OnSettled runs once a changed pass settled, before Wait returns.
	OnSettled func(ctx context.Context, p *Pass)
}

type heldSet struct {
	byID  map[Identity]*ConnectedServer
	byKey map[string]*ConnectedServer
}

func newHeldSet(byID map[Identity]*ConnectedServer) *heldSet {
	byKey := make(map[string]*ConnectedServer, len(byID))
	for _, s := range byID {
		byKey[s.Key] = s
	}
	return &heldSet{byID: byID, byKey: byKey}
}

func (h *heldSet) clone() map[Identity]*ConnectedServer {
	out := make(map[Identity]*ConnectedServer, len(h.byID))
	for id, s := range h.byID {
		out[id] = s
	}
	return out
}

type pendingAttempt struct {
	desc ServerDescriptor
	key  string
}

// Reconciler keeps the held server set in line with a desired descriptor
// list. The held set is immutable and replaced wholesale on every change.
type Reconciler struct {
	opts   ReconcilerOptions
	logger *slog.Logger

	held atomic.Pointer[heldSet]

	mu      sync.Mutex
	pending map[Identity]*pendingAttempt
	closed  bool
	wg      sync.WaitGroup
}

// NewReconciler returns a Reconciler with an empty held set.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.KeyDeriver == nil {
		opts.KeyDeriver = &KeyDeriver{}
	}
	if opts.DialAttempts < 1 {
		opts.DialAttempts = 1
	}
	r := &Reconciler{opts: opts, logger: opts.Logger, pending: make(map[Identity]*pendingAttempt)}
	r.held.Store(newHeldSet(map[Identity]*ConnectedServer{}))
	return r
}

// Reconcile diffs sources against the held set. It returns once connects and
// closes are scheduled; use Pass.Wait to block until they settle. Sources
// with equal identities collapse to the first occurrence.
func (r *Reconciler) Reconcile(ctx context.Context, sources []Source) (*Pass, error) {
	desired := make([]ServerDescriptor, 0, len(sources))
	want := make(map[Identity]ServerDescriptor, len(sources))
	for _, src := range sources {
		d := src.Descriptor()
		id := d.Identity()
		if _, dup := want[id]; dup {
			continue
		}
		want[id] = d
		desired = append(desired, d)
	}

	pass := newPass()
	dialCtx := context.WithoutCancel(ctx)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	cur := r.held.Load()
	next := cur.clone()
	var event ChangeEvent
	var toClose []*ConnectedServer

	for id, s := range cur.byID {
		if _, ok := want[id]; !ok {
			delete(next, id)
			event.Removed = append(event.Removed, s)
			if s.Connected() {
				toClose = append(toClose, s)
			}
		}
	}
	for id := range r.pending {
		if _, ok := want[id]; !ok {
			// The attempt is discarded when it settles.
			delete(r.pending, id)
		}
	}

	taken := map[string]bool{RegistryKey: true}
	for id, s := range next {
		if want[id].ExplicitKey == s.ExplicitKey {
			taken[s.Key] = true
		}
	}
	for id, att := range r.pending {
		if want[id].ExplicitKey == att.desc.ExplicitKey {
			taken[att.key] = true
		}
	}

	type connect struct {
		id  Identity
		att *pendingAttempt
	}
	var connects []connect
	for _, d := range desired {
		id := d.Identity()
		if s, ok := next[id]; ok {
			pass.Kept++
			key := s.Key
			if d.ExplicitKey != s.ExplicitKey {
				key = r.claimKey(d, taken)
			}
			// Handlers compare by pointer; func values have no equality.
			if key != s.Key || d.DisplayName != s.DisplayName || d.Handlers != s.Handlers {
				updated := s.withDescriptor(d, key)
				next[id] = updated
				pass.Updated++
				event.Updated = append(event.Updated, updated)
				if key != s.Key {
					event.Removed = append(event.Removed, s)
				}
				// Handlers see the server identity, so any change re-pushes.
				pushHandlers(updated, r.defaultHandlers())
			}
			continue
		}
		if att, ok := r.pending[id]; ok {
			if d.ExplicitKey != att.desc.ExplicitKey {
				att.key = r.claimKey(d, taken)
			}
			att.desc = d
			continue
		}
		att := &pendingAttempt{desc: d, key: r.claimKey(d, taken)}
		r.pending[id] = att
		connects = append(connects, connect{id: id, att: att})
	}

	r.held.Store(newHeldSet(next))
	pass.Connects = len(connects)
	pass.Closes = len(toClose)
	for _, c := range connects {
		pass.wg.Add(1)
		r.wg.Add(1)
		req := r.dialRequest(c.att)
		go func() {
			defer r.wg.Done()
			defer pass.wg.Done()
			client, err := dialWithRetry(dialCtx, r.opts.Dialer, req, r.opts.DialTimeout, r.opts.DialAttempts)
			r.settle(c.id, c.att, client, err)
		}()
	}
	r.wg.Add(1)
	r.mu.Unlock()

	if !event.empty() {
		r.emit(event)
	}
	for _, s := range toClose {
		pass.wg.Add(1)
		go func() {
			defer pass.wg.Done()
			r.closeServer(s)
		}()
	}
	go r.finish(dialCtx, pass)
	return pass, nil
}

// Reconnect closes the held connection of key and dials it again under the
// same key.
func (r *Reconciler) Reconnect(ctx context.Context, key string) (*Pass, error) {
	pass := newPass()
	dialCtx := context.WithoutCancel(ctx)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	cur := r.held.Load()
	s, ok := cur.byKey[key]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownServer
	}
	id := s.Identity()
	next := cur.clone()
	delete(next, id)
	r.held.Store(newHeldSet(next))
	att := &pendingAttempt{desc: s.ServerDescriptor, key: s.Key}
	r.pending[id] = att
	pass.Connects = 1
	pass.wg.Add(1)
	r.wg.Add(1)
	req := r.dialRequest(att)
	go func() {
		defer r.wg.Done()
		defer pass.wg.Done()
		client, err := dialWithRetry(dialCtx, r.opts.Dialer, req, r.opts.DialTimeout, r.opts.DialAttempts)
		r.settle(id, att, client, err)
	}()
	r.wg.Add(1)
	r.mu.Unlock()

	r.emit(ChangeEvent{Removed: []*ConnectedServer{s}})
	if s.Connected() {
		pass.Closes = 1
		pass.wg.Add(1)
		go func() {
			defer pass.wg.Done()
			r.closeServer(s)
		}()
	}
	go r.finish(dialCtx, pass)
	return pass, nil
}

// RefreshHandlers re-resolves interactive handlers for every held server and
// pushes them into the live clients.
func (r *Reconciler) RefreshHandlers() {
	defaults := r.defaultHandlers()
	for _, s := range r.held.Load().byID {
		pushHandlers(s, defaults)
	}
}

// Servers returns the held entries sorted by key.
func (r *Reconciler) Servers() []*ConnectedServer {
	held := r.held.Load()
	out := make([]*ConnectedServer, 0, len(held.byID))
	for _, s := range held.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Lookup returns the held entry for key.
func (r *Reconciler) Lookup(key string) (*ConnectedServer, bool) {
	s, ok := r.held.Load().byKey[key]
	return s, ok
}

// Pending reports the number of connection attempts in flight.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close closes every held client exactly once and waits for in-flight
// attempts, whose clients are closed as they settle. Close errors are
// logged, not returned; the returned error is ctx's if waiting was cut
// short.
func (r *Reconciler) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cur := r.held.Load()
	r.held.Store(newHeldSet(map[Identity]*ConnectedServer{}))
	clear(r.pending)
	r.mu.Unlock()

	removed := make([]*ConnectedServer, 0, len(cur.byID))
	var wg sync.WaitGroup
	for _, s := range cur.byID {
		removed = append(removed, s)
		if !s.Connected() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.closeServer(s)
		}()
	}
	if len(removed) > 0 {
		r.emit(ChangeEvent{Removed: removed})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) settle(id Identity, att *pendingAttempt, client Client, err error) {
	r.mu.Lock()
	if r.closed || r.pending[id] != att {
		r.mu.Unlock()
		if client != nil {
			r.logger.Debug("discarding connection for removed server", "server", att.key, "url", att.desc.URL)
			r.closeClient(att.key, client)
		}
		return
	}
	delete(r.pending, id)
	var s *ConnectedServer
	if err != nil {
		s = newFailedServer(att.desc, att.key, err)
		r.logger.Warn("server connection failed", "server", att.key, "url", att.desc.URL, "error", err)
	} else {
		s = newConnectedServer(att.desc, att.key, client)
		pushHandlers(s, r.defaultHandlers())
		r.logger.Info("server connected", "server", att.key, "url", att.desc.URL)
	}
	next := r.held.Load().clone()
	next[id] = s
	r.held.Store(newHeldSet(next))
	r.mu.Unlock()

	r.emit(ChangeEvent{Added: []*ConnectedServer{s}})
}

func (r *Reconciler) finish(ctx context.Context, pass *Pass) {
	defer r.wg.Done()
	pass.wg.Wait()
	if pass.Changed() && r.opts.OnSettled != nil {
		r.opts.OnSettled(ctx, pass)
	}
	close(pass.done)
}

func (r *Reconciler) dialRequest(att *pendingAttempt) DialRequest {
	d := att.desc
	id := ServerIdentity{URL: d.URL, Key: att.key, DisplayName: d.DisplayName}
	defaults := r.defaultHandlers()
	return DialRequest{
		Key:         att.key,
		URL:         d.URL,
		Transport:   d.Transport,
		Headers:     d.Headers,
		Elicitation: ResolveElicitation(id, d.Handlers, defaults),
		Sampling:    ResolveSampling(id, d.Handlers, defaults),
	}
}

// claimKey returns the key for d and marks it taken. Explicit keys are used
// verbatim; derived keys get "-2", "-3", ... suffixes on collision.
func (r *Reconciler) claimKey(d ServerDescriptor, taken map[string]bool) string {
	if d.ExplicitKey != "" {
		taken[d.ExplicitKey] = true
		return d.ExplicitKey
	}
	base := r.opts.KeyDeriver.Derive(d)
	key := base
	for i := 2; taken[key]; i++ {
		key = base + "-" + strconv.Itoa(i)
	}
	taken[key] = true
	return key
}

func (r *Reconciler) defaultHandlers() *ServerHandlers {
	if r.opts.Handlers == nil {
		return nil
	}
	return r.opts.Handlers()
}

func (r *Reconciler) emit(e ChangeEvent) {
	if r.opts.OnChange != nil {
		r.opts.OnChange(e)
	}
}

func (r *Reconciler) closeServer(s *ConnectedServer) {
	if c := s.Client(); c != nil {
		r.closeClient(s.Key, c)
	}
}

func (r *Reconciler) closeClient(key string, c Client) {
	if err := c.Close(); err != nil {
		r.logger.Warn("close server connection failed", "server", key, "error", err)
	}
}
