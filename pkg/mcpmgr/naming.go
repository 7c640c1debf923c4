package mcpmgr

import "strings"

// RegistryKey is the reserved server key for capabilities contributed by the
// LocalResources collaborator rather than a connected server.
const RegistryKey = "registry"

const (
	toolSeparator      = "__"
	referenceSeparator = ":"
)

// ToolName returns the published name of a tool. Tools keep their bare name
// while exactly one server is connected and are prefixed "key__name"
// otherwise.
func ToolName(serverKey, raw string, connected int) string {
	if connected == 1 {
		return raw
	}
	return serverKey + toolSeparator + raw
}

// PromptName returns the reference of a prompt. Prompts are always prefixed.
func PromptName(serverKey, raw string) string {
	return serverKey + referenceSeparator + raw
}

// ResourceName returns the reference of a resource. The URI is appended
// verbatim, scheme included.
func ResourceName(serverKey, uri string) string {
	return serverKey + referenceSeparator + uri
}

// SplitReference separates a prompt or resource reference into its server
// key and the raw name. Only the first ':' is significant:
//
//	server-a:file:///doc.txt -> ("server-a", "file:///doc.txt")
func SplitReference(ref string) (key, raw string, ok bool) {
	key, raw, ok = strings.Cut(ref, referenceSeparator)
	if !ok || key == "" || raw == "" {
		return "", "", false
	}
	return key, raw, true
}
