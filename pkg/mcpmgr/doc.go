// Package mcpmgr turns a declarative list of Model Context Protocol (MCP)
// servers into live connections and presents their tools, prompts, and
// resources as one deduplicated catalog. It layers reconciliation, key
// derivation, name disambiguation, and per-server caching on top of the
// modelcontextprotocol/go-sdk client.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager and call SetServers whenever the desired server list
//     changes; servers whose identity (URL, transport, headers) is unchanged
//     keep their connection.
//   - Source is either URLOnly(url) or FullDescriptor(ServerDescriptor).
//   - ManagerOptions select the Dialer, the ToolRegistry that receives
//     aggregated tools, the LocalResources collaborator, and the default
//     elicitation and sampling handlers.
//
// Tools keep their bare names while a single server is connected and become
// "key__name" once several are. Prompts and resources are always addressed
// as "key:name" (for example "docs:file:///guide.md"); the reserved key
// "registry" routes to LocalResources.
//
// Interactive requests are answered by the per-server handler, else the
// default handler, else reported as unsupported. PendingElicitations parks
// elicitation requests until a UI responds.
package mcpmgr
