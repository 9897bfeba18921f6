package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aegis-proxy/aegis/pkg/mcprouter"
)

func TestLoadUpstreamsEmptyPath(t *testing.T) {
	cfgs, err := loadUpstreams("")
	if err != nil || cfgs != nil {
		t.Fatalf("loadUpstreams(\"\") = %v, %v; want nil, nil", cfgs, err)
	}
}

func TestLoadUpstreamsParsesSortedByName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upstreams.yaml")
	doc := `
upstreams:
  zeta:
    command: zeta-server
  alpha:
    transport: http
    url: http://localhost:9001
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfgs, err := loadUpstreams(path)
	if err != nil {
		t.Fatalf("loadUpstreams: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("len(cfgs) = %d, want 2", len(cfgs))
	}
	if cfgs[0].Name != "alpha" || cfgs[1].Name != "zeta" {
		t.Fatalf("names not sorted: %v", cfgs)
	}
	if cfgs[0].Transport != "http" {
		t.Fatalf("alpha.Transport = %q, want http", cfgs[0].Transport)
	}
	if cfgs[1].Transport != mcprouter.TransportStdio {
		t.Fatalf("zeta.Transport = %q, want default stdio", cfgs[1].Transport)
	}
}

func TestLoadUpstreamsRejectsUnreadablePath(t *testing.T) {
	if _, err := loadUpstreams(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
