// Package audit implements the Audit Recorder (C10): an append-only,
// structured log of every PDP decision, generalized from the teacher's
// SELinux-AVC-style audit emitter (sinks, AVC/JSON formatting, stats) to
// this spec's full DecisionContext/Decision shape, plus the filtered
// query and statistics-summary surface spec.md §4.10 calls for.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

// Outcome is the terminal result of the request span an audit entry
// describes, independent of the PDP verdict: a PERMIT can still end in
// FAILURE if enforcement or the upstream call subsequently errors.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeError   Outcome = "ERROR"
)

// Entry is a single audit record (spec.md §4.10).
type Entry struct {
	ID             string             `json:"id"`
	Timestamp      time.Time          `json:"timestamp"`
	Context        policy.DecisionContext `json:"context"`
	Decision       policy.Decision    `json:"decision"`
	PolicyUsed     string             `json:"policyUsed,omitempty"`
	ProcessingTime time.Duration      `json:"processingTime"`
	Outcome        Outcome            `json:"outcome"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
}

// Sink receives every entry the Recorder appends, in addition to the
// Recorder's own in-memory ring. Obligations' audit-log executor does not
// implement Sink; it imports this package and writes through a *Recorder.
type Sink interface {
	Record(e Entry)
}

// Recorder is the Audit Recorder: an append-only in-memory ring (bounded,
// oldest dropped) plus zero or more external sinks (a JSON-lines file, a
// test double, a future log-shipping adapter). The actual log/metrics
// sink product is an external collaborator per spec.md §1 — Recorder
// only defines the interface an operator plugs one into.
type Recorder struct {
	mu      sync.RWMutex
	ring    []Entry
	head    int
	count   int
	cap     int
	sinks   []Sink

	total, permits, denies, indeterminates, notApplicable uint64
}

// NewRecorder builds a Recorder with the given ring capacity.
func NewRecorder(capacity int, sinks ...Sink) *Recorder {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Recorder{ring: make([]Entry, capacity), cap: capacity, sinks: sinks}
}

// AddSink registers an additional sink at runtime.
func (r *Recorder) AddSink(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Record appends an entry atomically, assigning it an ID if it has none.
func (r *Recorder) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.ring[r.head] = e
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
	r.total++
	switch e.Decision.Verdict {
	case policy.Permit:
		r.permits++
	case policy.Deny:
		r.denies++
	case policy.Indeterminate:
		r.indeterminates++
	default:
		r.notApplicable++
	}
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.Unlock()

	for _, s := range sinks {
		s.Record(e)
	}
}

// Query filters stored entries; see Filter for the supported predicates.
type Filter struct {
	From, To      time.Time
	Agents        []string
	Policies      []string
	Decisions     []policy.Verdict
	MinConfidence float64
	Limit, Offset int
	OrderBy       string // "timestamp" | "confidence" | "processingTime"
	OrderDesc     bool
}

// Query returns the entries matching f, ordered by f.OrderBy (timestamp by
// default), oldest first unless f.OrderDesc is set.
func (r *Recorder) Query(f Filter) []Entry {
	r.mu.RLock()
	snapshot := r.snapshotLocked()
	r.mu.RUnlock()

	agentSet := toSet(f.Agents)
	policySet := toSet(f.Policies)
	verdictSet := make(map[policy.Verdict]bool, len(f.Decisions))
	for _, v := range f.Decisions {
		verdictSet[v] = true
	}

	var matched []Entry
	for _, e := range snapshot {
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			continue
		}
		if len(agentSet) > 0 && !agentSet[e.Context.AgentID] {
			continue
		}
		if len(policySet) > 0 && !policySet[e.Decision.Metadata.PolicyUID] {
			continue
		}
		if len(verdictSet) > 0 && !verdictSet[e.Decision.Verdict] {
			continue
		}
		if f.MinConfidence > 0 && e.Decision.Confidence < f.MinConfidence {
			continue
		}
		matched = append(matched, e)
	}

	sortEntries(matched, f.OrderBy, f.OrderDesc)

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched
}

func sortEntries(entries []Entry, orderBy string, desc bool) {
	less := func(i, j int) bool {
		switch orderBy {
		case "confidence":
			return entries[i].Decision.Confidence < entries[j].Decision.Confidence
		case "processingTime":
			return entries[i].ProcessingTime < entries[j].ProcessingTime
		default:
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
	}
	if desc {
		orig := less
		less = func(i, j int) bool { return !orig(i, j) && i != j }
	}
	sort.SliceStable(entries, less)
}

func toSet(ss []string) map[string]bool {
	if len(ss) == 0 {
		return nil
	}
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}

// snapshotLocked returns the ring's entries in insertion order. Caller
// must hold r.mu (read or write).
func (r *Recorder) snapshotLocked() []Entry {
	out := make([]Entry, 0, r.count)
	start := (r.head - r.count + r.cap) % r.cap
	for i := 0; i < r.count; i++ {
		out = append(out, r.ring[(start+i)%r.cap])
	}
	return out
}

// Summary is the statistics breakdown spec.md §4.10 requires.
type Summary struct {
	Total               uint64             `json:"total"`
	ByVerdict           map[string]uint64  `json:"byVerdict"`
	ByPolicy            map[string]uint64  `json:"byPolicy"`
	ByAgent             map[string]uint64  `json:"byAgent"`
	HourlyDistribution  map[int]uint64     `json:"hourlyDistribution"`
	AvgProcessingTimeMs float64            `json:"avgProcessingTimeMs"`
	AvgConfidence       float64            `json:"avgConfidence"`
	RiskDistribution    map[string]uint64  `json:"riskDistribution"` // high/medium/low
}

// StatisticsSummary computes the derived summary over entries currently
// in the ring (or, if f is non-nil, over the filtered subset).
func (r *Recorder) StatisticsSummary(f *Filter) Summary {
	var entries []Entry
	if f != nil {
		entries = r.Query(*f)
	} else {
		r.mu.RLock()
		entries = r.snapshotLocked()
		r.mu.RUnlock()
	}

	summary := Summary{
		ByVerdict:          make(map[string]uint64),
		ByPolicy:           make(map[string]uint64),
		ByAgent:            make(map[string]uint64),
		HourlyDistribution: make(map[int]uint64),
		RiskDistribution:   make(map[string]uint64),
	}

	var totalProcessing time.Duration
	var totalConfidence float64

	for _, e := range entries {
		summary.Total++
		summary.ByVerdict[e.Decision.Verdict.String()]++
		if e.Decision.Metadata.PolicyUID != "" {
			summary.ByPolicy[e.Decision.Metadata.PolicyUID]++
		}
		if e.Context.AgentID != "" {
			summary.ByAgent[e.Context.AgentID]++
		}
		summary.HourlyDistribution[e.Timestamp.Hour()]++
		totalProcessing += e.ProcessingTime
		totalConfidence += e.Decision.Confidence

		switch {
		case e.Decision.Confidence >= 0.8:
			summary.RiskDistribution["low"]++
		case e.Decision.Confidence >= 0.5:
			summary.RiskDistribution["medium"]++
		default:
			summary.RiskDistribution["high"]++
		}
	}

	if summary.Total > 0 {
		summary.AvgProcessingTimeMs = float64(totalProcessing.Milliseconds()) / float64(summary.Total)
		summary.AvgConfidence = totalConfidence / float64(summary.Total)
	}
	return summary
}

// Counts returns the running verdict counters maintained incrementally on
// every Record call (cheap, O(1), unlike StatisticsSummary's full scan).
func (r *Recorder) Counts() (total, permits, denies, indeterminates, notApplicable uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total, r.permits, r.denies, r.indeterminates, r.notApplicable
}

// JSONLinesSink writes one JSON-encoded Entry per line to w, in the
// teacher's JSONAuditSink register, generalized to this spec's full
// DecisionContext/Decision shape rather than the tool/agent-type subset.
type JSONLinesSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLinesSink wraps an io.Writer (an *os.File in production).
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{w: w}
}

// Record writes e as a single JSON line.
func (s *JSONLinesSink) Record(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write(data)
	s.w.Write([]byte("\n"))
}

// FileSink opens a JSON-lines sink backed by a path, append-only.
func FileSink(path string) (*JSONLinesSink, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return NewJSONLinesSink(f), f.Close, nil
}

// NullSink discards every entry; used when auditing is explicitly disabled.
type NullSink struct{}

// Record implements Sink by doing nothing.
func (NullSink) Record(Entry) {}
