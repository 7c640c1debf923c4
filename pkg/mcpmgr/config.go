package mcpmgr

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerKey string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// HTTPAuthProvider dynamically supplies an Authorization header (for example,
// "Bearer <token>") for outbound HTTP requests initiated by the manager.
type HTTPAuthProvider func(context.Context) (string, error)

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// ClientName is advertised to servers during initialization.
	ClientName string
	// ClientVersion is the semantic version reported to servers.
	ClientVersion string
	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
	// DialAttempts is the number of connection attempts per server before it
	// is recorded as failed. Values below 1 mean a single attempt.
	DialAttempts int
	// Dialer opens capability clients. Defaults to a SessionDialer built from
	// the fields above.
	Dialer Dialer
	// HTTPClient is used by the default dialer.
	HTTPClient *http.Client
	// AuthProvider supplies Authorization headers for the default dialer.
	AuthProvider HTTPAuthProvider
	// RPCLogger receives raw JSON-RPC traffic from the default dialer.
	RPCLogger RPCLogger
	// Registry receives aggregated tool registrations. Defaults to a fresh
	// MemoryRegistry.
	Registry ToolRegistry
	// LocalResources contributes non-protocol resources under the reserved
	// "registry" key.
	LocalResources LocalResources
	// KeyDeriver derives server keys. Defaults to DefaultPlainSuffixes.
	KeyDeriver *KeyDeriver
	// Handlers are the provider-level interactive handlers used when a server
	// does not configure its own.
	Handlers *ServerHandlers
	// Logger receives structured diagnostics.
	Logger *slog.Logger
}

func (o *ManagerOptions) withDefaults() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.ClientName == "" {
		opts.ClientName = "mcp-catalog"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	if opts.DialAttempts < 1 {
		opts.DialAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.KeyDeriver == nil {
		opts.KeyDeriver = &KeyDeriver{}
	}
	if opts.Registry == nil {
		opts.Registry = NewMemoryRegistry()
	}
	if opts.Dialer == nil {
		opts.Dialer = &SessionDialer{
			ClientName:    opts.ClientName,
			ClientVersion: opts.ClientVersion,
			HTTPClient:    opts.HTTPClient,
			AuthProvider:  opts.AuthProvider,
			RPCLogger:     opts.RPCLogger,
		}
	}
	return opts
}
