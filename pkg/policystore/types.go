// Package policystore implements the Policy Store (C7): a file-backed,
// versioned JSON document serving the active policy set, generalized
// from the teacher's AgentPolicy Kubernetes CRD (id/version/priority/
// tags/createdBy metadata shape) to spec.md §4.7's plain-file store — no
// Kubernetes scheme or controller involved, just load/reload/CRUD over
// one JSON document with a capped version-history ring per policy.
package policystore

import (
	"encoding/json"
	"time"
)

// Status is a policy record's lifecycle state (spec.md §4.7).
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDraft    Status = "draft"
)

// Metadata carries the administrative fields spec.md §4.7 names.
type Metadata struct {
	Priority       int       `json:"priority"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	CreatedBy      string    `json:"createdBy,omitempty"`
	LastModified   time.Time `json:"lastModified,omitempty"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
}

// Record is a single stored policy document. Policy is kept as raw JSON
// because a record may carry either the declarative ODRL shape or an
// opaque natural-language string (spec.md §3); Decode below classifies
// and parses it into the pkg/policy wire types the evaluator/PDP consume.
type Record struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Status      Status          `json:"status"`
	Description string          `json:"description,omitempty"`
	Policy      json.RawMessage `json:"policy"`
	Metadata    Metadata        `json:"metadata"`
}

// Document is the store's on-disk shape: one JSON document, one top-level
// array (spec.md §4.7).
type Document struct {
	Policies []Record `json:"policies"`
}

// HistoryEntry is one row in a policy's version ring buffer, capped at 50
// (spec.md §4.7 "appends a version row, ring-buffer capped at 50").
type HistoryEntry struct {
	Version   string          `json:"version"`
	Policy    json.RawMessage `json:"policy"`
	Status    Status          `json:"status"`
	ChangedAt time.Time       `json:"changedAt"`
	ChangedBy string          `json:"changedBy,omitempty"`
}

const maxHistoryEntries = 50
