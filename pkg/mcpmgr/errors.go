package mcpmgr

import (
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	// ErrCapabilityUnavailable is returned when a tool, prompt, or resource is
	// addressed while its owning server is not connected.
	ErrCapabilityUnavailable = errors.New("mcpmgr: capability unavailable")
	// ErrUnknownServer is returned when a server key does not match any held
	// server.
	ErrUnknownServer = errors.New("mcpmgr: unknown server")
	// ErrInvalidReference is returned for prompt/resource references that do
	// not carry a "key:" prefix.
	ErrInvalidReference = errors.New("mcpmgr: invalid capability reference")
	// ErrNoLocalResources is returned when a "registry:" reference is read but
	// no LocalResources collaborator is configured.
	ErrNoLocalResources = errors.New("mcpmgr: no local resource registry configured")
	// ErrCallBudgetExceeded is returned by MemoryRegistry once a tool has been
	// invoked MaxCalls times.
	ErrCallBudgetExceeded = errors.New("mcpmgr: tool call budget exceeded")
	// ErrClosed is returned by operations on a Manager after Close.
	ErrClosed = errors.New("mcpmgr: manager closed")
)

// ConnectionError records why a server's client could not be created. It is
// stored on the failed ConnectedServer rather than returned to callers.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcpmgr: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ListingError reports that a connected server failed to enumerate one kind
// of capability.
type ListingError struct {
	Server string
	Kind   CapabilityKind
	Err    error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("mcpmgr: list %s on %q: %v", e.Kind, e.Server, e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }

// InvocationError is returned when a tool call fails on the remote side. When
// the server reported a tool-level error, Message holds the text extracted
// from the result content and Result holds the raw result.
type InvocationError struct {
	Tool    string
	Server  string
	Message string
	Result  *mcp.CallToolResult
	Err     error
}

func (e *InvocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mcpmgr: tool %q on %q failed: %v", e.Tool, e.Server, e.Err)
	}
	return fmt.Sprintf("mcpmgr: tool %q on %q failed: %s", e.Tool, e.Server, e.Message)
}

func (e *InvocationError) Unwrap() error { return e.Err }

func unavailable(kind, name string) error {
	return fmt.Errorf("%w: %s %q", ErrCapabilityUnavailable, kind, name)
}
