package constraints

import (
	"context"
	"encoding/csv"
	"strings"
	"sync"

	"github.com/aegis-proxy/aegis/pkg/aegiserr"
)

// GeoResolver maps a client IP to an ISO country code. A deployment
// injects its own resolver (MaxMind, a cloud provider's header, etc.);
// CSVGeoResolver ships as a ready-to-use table-backed implementation for
// tests and small deployments (spec.md §4.5 "configurable table").
type GeoResolver interface {
	ResolveCountry(ip string) (country string, ok bool)
}

// CSVGeoResolver resolves IPs against a static "ip,country" table loaded
// once at construction. It caches resolutions per IP so repeat lookups in
// a hot path are a single map read.
type CSVGeoResolver struct {
	mu    sync.RWMutex
	table map[string]string
	cache map[string]string
}

// NewCSVGeoResolver parses "ip,country" rows (no header) from raw.
func NewCSVGeoResolver(raw string) (*CSVGeoResolver, error) {
	r := csv.NewReader(strings.NewReader(raw))
	r.FieldsPerRecord = 2
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	table := make(map[string]string, len(records))
	for _, rec := range records {
		table[strings.TrimSpace(rec[0])] = strings.ToUpper(strings.TrimSpace(rec[1]))
	}
	return &CSVGeoResolver{table: table, cache: make(map[string]string)}, nil
}

// ResolveCountry implements GeoResolver.
func (g *CSVGeoResolver) ResolveCountry(ip string) (string, bool) {
	g.mu.RLock()
	if c, ok := g.cache[ip]; ok {
		g.mu.RUnlock()
		return c, true
	}
	c, ok := g.table[ip]
	g.mu.RUnlock()
	if ok {
		g.mu.Lock()
		g.cache[ip] = c
		g.mu.Unlock()
	}
	return c, ok
}

// GeoRestrictorMode selects whether a directive's list is an allow-list
// or a deny-list.
type GeoRestrictorMode string

const (
	GeoAllow GeoRestrictorMode = "allow"
	GeoDeny  GeoRestrictorMode = "deny"
)

// GeoRestrictor implements the geo-restrictor processor (spec.md §4.5):
// directive grammar "geo:allow:US,CA" / "geo:deny:KP,IR". missingIPDeny
// controls behavior when the request carries no resolvable client IP.
type GeoRestrictor struct {
	resolver      GeoResolver
	missingIPDeny bool
}

// NewGeoRestrictor builds a GeoRestrictor. missingIPDeny fixes spec.md
// §4.5's "default action on missing IP is configurable" knob.
func NewGeoRestrictor(resolver GeoResolver, missingIPDeny bool) *GeoRestrictor {
	return &GeoRestrictor{resolver: resolver, missingIPDeny: missingIPDeny}
}

// Match recognizes "geo:allow:..." and "geo:deny:..." directives.
func (g *GeoRestrictor) Match(directive string) bool {
	return strings.HasPrefix(directive, "geo:allow:") || strings.HasPrefix(directive, "geo:deny:")
}

// Apply enforces the configured country allow/deny list against dc.ClientIP.
func (g *GeoRestrictor) Apply(_ context.Context, directive string, payload Payload, dc DecisionContext) (Payload, error) {
	var mode GeoRestrictorMode
	var list string
	switch {
	case strings.HasPrefix(directive, "geo:allow:"):
		mode, list = GeoAllow, strings.TrimPrefix(directive, "geo:allow:")
	case strings.HasPrefix(directive, "geo:deny:"):
		mode, list = GeoDeny, strings.TrimPrefix(directive, "geo:deny:")
	default:
		return payload, nil
	}
	countries := splitCSVSet(list)

	if dc.ClientIP == "" {
		if g.missingIPDeny {
			return payload, &aegiserr.ConstraintViolationError{Stage: "geo-restrictor", Violation: "no client IP to resolve"}
		}
		return payload, nil
	}

	country, ok := g.resolver.ResolveCountry(dc.ClientIP)
	if !ok {
		if g.missingIPDeny {
			return payload, &aegiserr.ConstraintViolationError{Stage: "geo-restrictor", Violation: "client IP " + dc.ClientIP + " not in geo table"}
		}
		return payload, nil
	}

	_, inList := countries[country]
	blocked := (mode == GeoAllow && !inList) || (mode == GeoDeny && inList)
	if blocked {
		return payload, &aegiserr.ConstraintViolationError{Stage: "geo-restrictor", Violation: "country " + country + " blocked by " + string(mode) + "-list"}
	}
	return payload, nil
}

func splitCSVSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out[part] = true
		}
	}
	return out
}
