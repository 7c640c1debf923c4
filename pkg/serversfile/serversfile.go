// Package serversfile loads the desired capability-server list from a YAML
// file and watches it for changes.
//
// Each entry under "servers" is either a bare URL or a mapping:
//
//	servers:
//	  - https://mcp.linear.app/mcp
//	  - url: https://api.github.com/mcp
//	    key: gh
//	    transport: streamable
//	    displayName: GitHub
//	    headers:
//	      Authorization: Bearer ${GITHUB_TOKEN}
//
// URLs and header values are expanded with os.ExpandEnv.
package serversfile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-catalog-go/pkg/mcpmgr"
)

// File is the document layout.
type File struct {
	Servers []Entry `yaml:"servers"`
}

// Entry is one server declaration.
type Entry struct {
	URL         string            `yaml:"url"`
	Key         string            `yaml:"key,omitempty"`
	Transport   string            `yaml:"transport,omitempty"`
	DisplayName string            `yaml:"displayName,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`

	bare bool
}

// UnmarshalYAML accepts either a scalar URL or a mapping.
func (e *Entry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*e = Entry{URL: node.Value, bare: true}
		return nil
	case yaml.MappingNode:
		type plain Entry
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*e = Entry(p)
		return nil
	default:
		return fmt.Errorf("line %d: server entry must be a URL or a mapping", node.Line)
	}
}

// Source converts the entry into an mcpmgr.Source.
func (e Entry) Source() (mcpmgr.Source, error) {
	url := strings.TrimSpace(os.ExpandEnv(e.URL))
	if url == "" {
		return mcpmgr.Source{}, errors.New("url is required")
	}
	if e.bare {
		return mcpmgr.URLOnly(url), nil
	}
	transport, err := mcpmgr.ParseTransportKind(e.Transport)
	if err != nil {
		return mcpmgr.Source{}, err
	}
	var headers map[string]string
	if len(e.Headers) > 0 {
		headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			headers[k] = os.ExpandEnv(v)
		}
	}
	return mcpmgr.FullDescriptor(mcpmgr.ServerDescriptor{
		URL:         url,
		ExplicitKey: strings.TrimSpace(e.Key),
		Transport:   transport,
		Headers:     headers,
		DisplayName: e.DisplayName,
	}), nil
}

// Parse decodes a servers document.
func Parse(data []byte) ([]mcpmgr.Source, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("serversfile: %w", err)
	}
	sources := make([]mcpmgr.Source, 0, len(f.Servers))
	for i, entry := range f.Servers {
		src, err := entry.Source()
		if err != nil {
			return nil, fmt.Errorf("serversfile: servers[%d]: %w", i, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// Load reads and parses the file at path.
func Load(path string) ([]mcpmgr.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("serversfile: %w", err)
	}
	return Parse(data)
}
