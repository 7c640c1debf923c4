package mcpmgr

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ElicitationHandler mirrors the MCP client elicitation handler signature.
type ElicitationHandler func(context.Context, *mcp.ElicitRequest) (*mcp.ElicitResult, error)

// SamplingHandler mirrors the MCP client sampling (createMessage) handler
// signature.
type SamplingHandler func(context.Context, *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error)

// ServerIdentity is the read-only description of the server that issued an
// interactive request.
type ServerIdentity struct {
	URL         string
	Key         string
	DisplayName string
}

// ServerElicitationHandler answers elicitation requests and is told which
// server asked.
type ServerElicitationHandler func(context.Context, ServerIdentity, *mcp.ElicitRequest) (*mcp.ElicitResult, error)

// ServerSamplingHandler answers sampling requests and is told which server
// asked.
type ServerSamplingHandler func(context.Context, ServerIdentity, *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error)

// ServerHandlers groups the interactive handlers for one server, or the
// provider-level defaults when set on ManagerOptions.
type ServerHandlers struct {
	Elicitation ServerElicitationHandler
	Sampling    ServerSamplingHandler
}

// ResolveElicitation picks the per-server handler, falling back to the
// provider default, and binds it to the server identity. It returns nil when
// neither is configured.
func ResolveElicitation(server ServerIdentity, own, defaults *ServerHandlers) ElicitationHandler {
	var h ServerElicitationHandler
	switch {
	case own != nil && own.Elicitation != nil:
		h = own.Elicitation
	case defaults != nil && defaults.Elicitation != nil:
		h = defaults.Elicitation
	default:
		return nil
	}
	return func(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
		return h(ctx, server, req)
	}
}

// ResolveSampling is the sampling counterpart of ResolveElicitation.
func ResolveSampling(server ServerIdentity, own, defaults *ServerHandlers) SamplingHandler {
	var h ServerSamplingHandler
	switch {
	case own != nil && own.Sampling != nil:
		h = own.Sampling
	case defaults != nil && defaults.Sampling != nil:
		h = defaults.Sampling
	default:
		return nil
	}
	return func(ctx context.Context, req *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
		return h(ctx, server, req)
	}
}

// pushHandlers resolves the handlers for s and installs them on its client.
func pushHandlers(s *ConnectedServer, defaults *ServerHandlers) {
	c := s.Client()
	if c == nil {
		return
	}
	id := s.ServerIdentity()
	c.UpdateElicitationHandler(ResolveElicitation(id, s.Handlers, defaults))
	c.UpdateSamplingHandler(ResolveSampling(id, s.Handlers, defaults))
}
