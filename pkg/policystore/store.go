package policystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the immutable, copy-on-write view readers consult; a new
// Snapshot is published on every mutation (spec.md §5 "copy-on-write:
// readers never block writers; writers publish a new immutable snapshot").
type Snapshot struct {
	Version  string // monotonically increasing, used as the PDP's cache-key version component
	Policies []Record
}

// ListActive returns the active-status records sorted by descending
// Metadata.Priority (spec.md §4.7 "listActive").
func (s *Snapshot) ListActive() []Record {
	var active []Record
	for _, r := range s.Policies {
		if r.Status == StatusActive {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Metadata.Priority > active[j].Metadata.Priority
	})
	return active
}

// Store owns the backing JSON document, the per-policy version history,
// and the currently published Snapshot. All mutation methods are
// write-through: the in-memory state and the on-disk file are updated in
// the same call before a new Snapshot is published.
type Store struct {
	mu       sync.RWMutex
	path     string
	snapshot *Snapshot
	history  map[string][]HistoryEntry
	revision uint64
	onReload []func(*Snapshot)
}

// New builds a Store backed by path. If path does not exist, a minimal
// default policy document is created (spec.md §4.7 "Missing file creates
// a minimal default policy").
func New(path string) (*Store, error) {
	s := &Store{path: path, history: make(map[string][]HistoryEntry)}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the backing file into memory, creating a default document if
// absent, and publishes the initial Snapshot.
func (s *Store) Load() error {
	doc, err := readOrDefault(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.revision++
	s.snapshot = &Snapshot{Version: strconv.FormatUint(s.revision, 10), Policies: doc.Policies}
	s.mu.Unlock()
	return nil
}

// Reload re-reads the backing file and republishes a Snapshot, invoking
// every registered hot-reload callback (spec.md §7 "policy hot-reload
// never drops in-flight requests" — a Reload call only ever swaps the
// snapshot pointer, it never mutates a Snapshot in place, so in-flight
// readers holding the old pointer are unaffected).
func (s *Store) Reload() error {
	doc, err := readOrDefault(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.revision++
	snap := &Snapshot{Version: strconv.FormatUint(s.revision, 10), Policies: doc.Policies}
	s.snapshot = snap
	callbacks := append([]func(*Snapshot){}, s.onReload...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(snap)
	}
	return nil
}

// OnReload registers a callback invoked with the new Snapshot every time
// one is published, by Reload or by a store mutation such as Create (e.g.
// the Decision Cache's InvalidateAll).
func (s *Store) OnReload(cb func(*Snapshot)) {
	s.mu.Lock()
	s.onReload = append(s.onReload, cb)
	s.mu.Unlock()
}

// Snapshot returns the currently published Snapshot. Callers must treat
// it as immutable.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// ListActive is a convenience wrapper over Snapshot().ListActive().
func (s *Store) ListActive() []Record {
	return s.Snapshot().ListActive()
}

// Get returns a single record by id.
func (s *Store) Get(id string) (Record, bool) {
	snap := s.Snapshot()
	for _, r := range snap.Policies {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Create adds a new record, assigning it an ID if none is set and an
// initial version "1.0.0".
func (s *Store) Create(r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Version == "" {
		r.Version = "1.0.0"
	}
	if r.Status == "" {
		r.Status = StatusDraft
	}
	r.Metadata.CreatedAt = time.Now()

	s.mu.Lock()
	for _, existing := range s.snapshot.Policies {
		if existing.ID == r.ID {
			s.mu.Unlock()
			return Record{}, fmt.Errorf("policy %s already exists", r.ID)
		}
	}
	policies := append(append([]Record(nil), s.snapshot.Policies...), r)
	s.appendHistoryLocked(r.ID, HistoryEntry{Version: r.Version, Policy: r.Policy, Status: r.Status, ChangedAt: r.Metadata.CreatedAt})
	s.mu.Unlock()

	if err := s.publishAndPersist(policies); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Update replaces record id's mutable fields, bumps its patch version,
// and appends a history row (spec.md §4.7 "bumps patch version; appends a
// version row, ring-buffer capped at 50").
func (s *Store) Update(id string, mutate func(*Record)) (Record, error) {
	s.mu.Lock()
	idx := indexOf(s.snapshot.Policies, id)
	if idx < 0 {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("policy %s not found", id)
	}
	policies := append([]Record(nil), s.snapshot.Policies...)
	updated := policies[idx]
	mutate(&updated)
	updated.Version = bumpPatch(policies[idx].Version)
	updated.Metadata.LastModified = time.Now()
	policies[idx] = updated
	s.appendHistoryLocked(id, HistoryEntry{Version: updated.Version, Policy: updated.Policy, Status: updated.Status, ChangedAt: updated.Metadata.LastModified, ChangedBy: updated.Metadata.LastModifiedBy})
	s.mu.Unlock()

	if err := s.publishAndPersist(policies); err != nil {
		return Record{}, err
	}
	return updated, nil
}

// Delete removes a record by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	idx := indexOf(s.snapshot.Policies, id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("policy %s not found", id)
	}
	policies := append(append([]Record(nil), s.snapshot.Policies[:idx]...), s.snapshot.Policies[idx+1:]...)
	s.mu.Unlock()

	return s.publishAndPersist(policies)
}

// History returns the capped version-history ring for id, oldest first.
func (s *Store) History(id string) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryEntry, len(s.history[id]))
	copy(out, s.history[id])
	return out
}

// Rollback restores id to a prior version from its history by writing a
// new version row (write-through, bumps to a new patch version rather
// than mutating history in place — SPEC_FULL.md §9's supplemented-feature
// resolution).
func (s *Store) Rollback(id, version string) (Record, error) {
	s.mu.RLock()
	var target *HistoryEntry
	for i := range s.history[id] {
		if s.history[id][i].Version == version {
			target = &s.history[id][i]
			break
		}
	}
	s.mu.RUnlock()
	if target == nil {
		return Record{}, fmt.Errorf("policy %s has no history entry for version %s", id, version)
	}

	return s.Update(id, func(r *Record) {
		r.Policy = target.Policy
		r.Status = target.Status
	})
}

// Export serializes the active document for backup or transfer.
func (s *Store) Export() ([]byte, error) {
	snap := s.Snapshot()
	return json.MarshalIndent(Document{Policies: snap.Policies}, "", "  ")
}

// Import replaces the entire document from raw JSON (spec.md §4.7
// "import"). Record IDs are preserved; callers building a fresh store
// from an export round trip get listActive() equal up to ID renaming
// (spec.md §8 round-trip law) since IDs are carried through unchanged.
func (s *Store) Import(raw []byte) error {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("import policy document: %w", err)
	}
	return s.publishAndPersist(doc.Policies)
}

func (s *Store) appendHistoryLocked(id string, entry HistoryEntry) {
	h := append(s.history[id], entry)
	if len(h) > maxHistoryEntries {
		h = h[len(h)-maxHistoryEntries:]
	}
	s.history[id] = h
}

func (s *Store) publishAndPersist(policies []Record) error {
	if err := writeDocument(s.path, Document{Policies: policies}); err != nil {
		return err
	}
	s.mu.Lock()
	s.revision++
	snap := &Snapshot{Version: strconv.FormatUint(s.revision, 10), Policies: policies}
	s.snapshot = snap
	callbacks := append([]func(*Snapshot){}, s.onReload...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(snap)
	}
	return nil
}

func indexOf(records []Record, id string) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// bumpPatch increments the final dot-separated component of a semver-ish
// "X.Y.Z" string; malformed versions are treated as "1.0.0" before bumping.
func bumpPatch(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return "1.0.1"
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		patch = 0
	}
	return fmt.Sprintf("%s.%s.%d", parts[0], parts[1], patch+1)
}

func readOrDefault(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		def := defaultDocument()
		if writeErr := writeDocument(path, def); writeErr != nil {
			return Document{}, writeErr
		}
		return def, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read policy store %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse policy store %s: %w", path, err)
	}
	return doc, nil
}

func writeDocument(path string, doc Document) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create policy store dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal policy store: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write policy store: %w", err)
	}
	return os.Rename(tmp, path)
}

func defaultDocument() Document {
	return Document{
		Policies: []Record{
			{
				ID:      "default-deny-all",
				Name:    "Default Deny All",
				Version: "1.0.0",
				Status:  StatusActive,
				Policy:  json.RawMessage(`{"uid":"default-deny-all","priority":0,"prohibition":[{"action":"*"}]}`),
				Metadata: Metadata{
					Priority:  0,
					Tags:      []string{"default"},
					CreatedAt: time.Now(),
				},
			},
		},
	}
}
