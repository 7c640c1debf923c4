// Package mcpgateway republishes the catalog built by mcpmgr as a single
// Streamable HTTP MCP server. A Gateway is an mcpmgr.ToolRegistry: pass it as
// ManagerOptions.Registry and every aggregated tool appears on the server
// under its effective name. Prompts and resources are mirrored from the
// manager's catalog views by SyncCatalog or Follow, using their prefixed
// references as published names and URIs.
package mcpgateway
