package mcpmgr

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrElicitationDeclined is returned to the server when a parked request is
// answered with a nil result.
var ErrElicitationDeclined = errors.New("mcpmgr: elicitation declined")

// ElicitationEvent surfaces the information required to build a UI for an
// elicitation request.
type ElicitationEvent struct {
	Server    ServerIdentity
	RequestID string
	Message   string
	Schema    any
	Params    *mcp.ElicitParams
	CreatedAt time.Time
}

// PendingElicitations parks elicitation requests until the host answers
// them. Use Handler as a per-server or default elicitation handler.
type PendingElicitations struct {
	// Notify, when set, is called for every newly parked request.
	Notify func(ElicitationEvent)

	mu      sync.Mutex
	pending map[string]*pendingElicitation
}

// NewPendingElicitations returns an empty queue.
func NewPendingElicitations() *PendingElicitations {
	return &PendingElicitations{pending: make(map[string]*pendingElicitation)}
}

// Handler returns a ServerElicitationHandler that parks each request until
// Respond is called or ctx ends.
func (p *PendingElicitations) Handler() ServerElicitationHandler {
	return func(ctx context.Context, server ServerIdentity, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
		event := ElicitationEvent{
			Server:    server,
			RequestID: uuid.NewString(),
			Params:    req.Params,
			CreatedAt: time.Now(),
		}
		if req.Params != nil {
			event.Message = req.Params.Message
			event.Schema = req.Params.RequestedSchema
		}
		pending := &pendingElicitation{event: event, result: make(chan *mcp.ElicitResult, 1)}
		p.mu.Lock()
		p.pending[event.RequestID] = pending
		p.mu.Unlock()
		if p.Notify != nil {
			p.Notify(event)
		}

		select {
		case <-ctx.Done():
			p.remove(event.RequestID)
			return nil, ctx.Err()
		case res := <-pending.result:
			if res == nil {
				return nil, ErrElicitationDeclined
			}
			return res, nil
		}
	}
}

// Pending returns the outstanding requests, oldest first.
func (p *PendingElicitations) Pending() []ElicitationEvent {
	p.mu.Lock()
	out := make([]ElicitationEvent, 0, len(p.pending))
	for _, pe := range p.pending {
		out = append(out, pe.event)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Respond answers the request with requestID. It reports false when no such
// request is pending.
func (p *PendingElicitations) Respond(requestID string, result *mcp.ElicitResult) bool {
	pending := p.remove(requestID)
	if pending == nil {
		return false
	}
	pending.result <- result
	return true
}

func (p *PendingElicitations) remove(requestID string) *pendingElicitation {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending, ok := p.pending[requestID]
	if !ok {
		return nil
	}
	delete(p.pending, requestID)
	return pending
}

type pendingElicitation struct {
	event  ElicitationEvent
	result chan *mcp.ElicitResult
}
