package mcpmgr

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// TransportKind identifies how the manager reaches a server URL.
type TransportKind string

const (
	// TransportAuto tries Streamable HTTP first and falls back to SSE. URLs
	// ending in "/sse" try SSE first.
	TransportAuto       TransportKind = "auto"
	TransportStreamable TransportKind = "streamable"
	TransportSSE        TransportKind = "sse"
)

// ParseTransportKind converts user supplied text (for example from a servers
// file) into a TransportKind. The empty string maps to TransportAuto.
func ParseTransportKind(s string) (TransportKind, error) {
	switch TransportKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", TransportAuto:
		return TransportAuto, nil
	case TransportStreamable, "http", "streamable-http":
		return TransportStreamable, nil
	case TransportSSE:
		return TransportSSE, nil
	default:
		return "", fmt.Errorf("mcpmgr: unknown transport %q", s)
	}
}

// ServerDescriptor declares one capability server the host wants connected.
//
// Only URL, Transport and Headers participate in connection identity.
// ExplicitKey, DisplayName and Handlers change behavior but never cause a
// reconnect.
type ServerDescriptor struct {
	URL         string
	ExplicitKey string
	Transport   TransportKind
	Headers     map[string]string
	DisplayName string
	// Handlers are compared by pointer. Reuse the same value across
	// SetServers calls to avoid re-pushing handlers and refreshing tools.
	Handlers    *ServerHandlers
}

func (d ServerDescriptor) normalized() ServerDescriptor {
	d.URL = strings.TrimSpace(d.URL)
	if d.Transport == "" {
		d.Transport = TransportAuto
	}
	return d
}

// Identity returns the value used to decide whether two descriptors refer to
// the same connection.
func (d ServerDescriptor) Identity() Identity {
	n := d.normalized()
	return Identity{URL: n.URL, Transport: n.Transport, Headers: canonicalHeaders(n.Headers)}
}

// Identity is the comparable connection identity of a descriptor. Two
// descriptors with equal identities share one connection; any difference
// closes the old connection and opens a new one.
type Identity struct {
	URL       string
	Transport TransportKind
	// Headers is a canonical encoding of the custom headers: names are
	// canonicalised with http.CanonicalHeaderKey and sorted.
	Headers string
}

func (i Identity) String() string {
	if i.Headers == "" {
		return fmt.Sprintf("%s (%s)", i.URL, i.Transport)
	}
	return fmt.Sprintf("%s (%s, headers)", i.URL, i.Transport)
}

func canonicalHeaders(h map[string]string) string {
	if len(h) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(h))
	for k, v := range h {
		pairs = append(pairs, http.CanonicalHeaderKey(k)+"\x00"+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\x01")
}

// Source is one entry of the desired server list: either a bare URL or a
// full descriptor. It is resolved into a ServerDescriptor once, at the
// reconciler boundary.
type Source struct {
	url  string
	desc *ServerDescriptor
}

// URLOnly declares a server by URL with the default transport.
func URLOnly(url string) Source { return Source{url: url} }

// FullDescriptor declares a server with every field spelled out.
func FullDescriptor(d ServerDescriptor) Source { return Source{desc: &d} }

// URLs is shorthand for a list of URLOnly sources.
func URLs(urls ...string) []Source {
	out := make([]Source, 0, len(urls))
	for _, u := range urls {
		out = append(out, URLOnly(u))
	}
	return out
}

// IsURLOnly reports whether s was declared as a bare URL.
func (s Source) IsURLOnly() bool { return s.desc == nil }

// Descriptor resolves s into a normalized ServerDescriptor.
func (s Source) Descriptor() ServerDescriptor {
	if s.desc == nil {
		return ServerDescriptor{URL: s.url}.normalized()
	}
	return s.desc.normalized()
}
