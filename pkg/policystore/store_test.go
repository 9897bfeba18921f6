package policystore

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.json")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_CreatesDefaultDocument(t *testing.T) {
	s := newTestStore(t)
	active := s.ListActive()
	if len(active) != 1 || active[0].ID != "default-deny-all" {
		t.Fatalf("expected default-deny-all seed record, got %#v", active)
	}
}

func TestCreateUpdateDelete(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Create(Record{
		Name:   "allow reads",
		Status: StatusActive,
		Policy: json.RawMessage(`{"uid":"allow-reads","permission":[{"action":"read"}]}`),
		Metadata: Metadata{
			Priority: 10,
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Version != "1.0.0" {
		t.Fatalf("expected initial version 1.0.0, got %s", rec.Version)
	}

	active := s.ListActive()
	if len(active) != 2 {
		t.Fatalf("expected 2 active records (default + new), got %d", len(active))
	}
	if active[0].ID != rec.ID {
		t.Fatalf("expected higher-priority record first, got %#v", active)
	}

	updated, err := s.Update(rec.ID, func(r *Record) {
		r.Description = "updated"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != "1.0.1" {
		t.Fatalf("expected patch bump to 1.0.1, got %s", updated.Version)
	}

	history := s.History(rec.ID)
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows (create + update), got %d", len(history))
	}

	if err := s.Delete(rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get(rec.ID); ok {
		t.Fatalf("expected record to be gone after Delete")
	}
}

func TestHistory_CappedAtMax(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create(Record{Name: "churn", Status: StatusActive, Policy: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < maxHistoryEntries+10; i++ {
		if _, err := s.Update(rec.ID, func(r *Record) {}); err != nil {
			t.Fatalf("Update iteration %d: %v", i, err)
		}
	}

	history := s.History(rec.ID)
	if len(history) != maxHistoryEntries {
		t.Fatalf("expected history capped at %d, got %d", maxHistoryEntries, len(history))
	}
}

func TestRollback(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create(Record{
		Name:   "rollback-target",
		Status: StatusActive,
		Policy: json.RawMessage(`{"v":1}`),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	originalVersion := rec.Version

	if _, err := s.Update(rec.ID, func(r *Record) {
		r.Policy = json.RawMessage(`{"v":2}`)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rolledBack, err := s.Rollback(rec.ID, originalVersion)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if string(rolledBack.Policy) != `{"v":1}` {
		t.Fatalf("expected rollback to restore v1 policy body, got %s", rolledBack.Policy)
	}
	if rolledBack.Version == originalVersion {
		t.Fatalf("expected rollback to write a new version, not reuse %s", originalVersion)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create(Record{Name: "extra", Status: StatusActive, Policy: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	exported, err := s.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	s2 := newTestStore(t)
	if err := s2.Import(exported); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if len(s2.ListActive()) != len(s.ListActive()) {
		t.Fatalf("expected imported store to have the same active count")
	}
}

func TestCreate_InvokesOnReloadCallbacks(t *testing.T) {
	s := newTestStore(t)
	fired := make(chan *Snapshot, 1)
	s.OnReload(func(snap *Snapshot) { fired <- snap })

	if _, err := s.Create(Record{Name: "triggers-reload", Status: StatusActive, Policy: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case snap := <-fired:
		if len(snap.Policies) != 2 {
			t.Fatalf("expected callback snapshot to include the new record, got %d policies", len(snap.Policies))
		}
	default:
		t.Fatalf("expected OnReload callback to fire on mutation")
	}
}
