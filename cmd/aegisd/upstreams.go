package main

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aegis-proxy/aegis/pkg/aegiserr"
	"github.com/aegis-proxy/aegis/pkg/mcprouter"
)

// upstreamsDocument is the AEGIS_MCP_CONFIG file shape: a name-keyed map
// per spec.md §6 ("upstream-servers map {name → {command,args,env,url,
// transport}}"), kept as a map on disk (so an operator edits one entry
// without reshuffling a list) and flattened into mcprouter.UpstreamConfig
// values, each carrying its own Name, at load time.
type upstreamsDocument struct {
	Upstreams map[string]upstreamEntry `yaml:"upstreams"`
}

type upstreamEntry struct {
	Transport mcprouter.TransportType `yaml:"transport"`
	Command   string                  `yaml:"command,omitempty"`
	Args      []string                `yaml:"args,omitempty"`
	Env       map[string]string       `yaml:"env,omitempty"`
	URL       string                  `yaml:"url,omitempty"`
}

// loadUpstreams reads path (spec.md §6 AEGIS_MCP_CONFIG) into a sorted
// slice of UpstreamConfig. An empty path is not an error: a proxy with no
// upstreams configured yet still serves policy/audit/agent-rpc traffic.
func loadUpstreams(path string) ([]mcprouter.UpstreamConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &aegiserr.ConfigurationError{Field: "AEGIS_MCP_CONFIG", Detail: err.Error()}
	}

	var doc upstreamsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &aegiserr.ConfigurationError{Field: "AEGIS_MCP_CONFIG", Detail: fmt.Sprintf("parse %s: %v", path, err)}
	}

	names := make([]string, 0, len(doc.Upstreams))
	for name := range doc.Upstreams {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic startup order; concurrent Start() fans out regardless

	cfgs := make([]mcprouter.UpstreamConfig, 0, len(names))
	for _, name := range names {
		e := doc.Upstreams[name]
		if e.Transport == "" {
			e.Transport = mcprouter.TransportStdio
		}
		cfgs = append(cfgs, mcprouter.UpstreamConfig{
			Name:      name,
			Transport: e.Transport,
			Command:   e.Command,
			Args:      e.Args,
			Env:       e.Env,
			URL:       e.URL,
		})
	}
	return cfgs, nil
}
