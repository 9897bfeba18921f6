package obligations

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

// Report is the structured artifact a ReportGenerator emits (spec.md
// §4.6 "emit a structured report artifact asynchronously").
type Report struct {
	GeneratedAt time.Time
	Kind        string
	Context     policy.DecisionContext
	Decision    policy.Decision
}

// ReportSink receives a generated Report; a real deployment wires this to
// wherever compliance reports are stored (external collaborator, same
// register as the LLM/log sinks in spec.md §1).
type ReportSink interface {
	Store(ctx context.Context, r Report) error
}

// ReportGenerator implements the report-generator obligation (spec.md
// §4.6): directive grammar "report:<kind>", e.g. "report:compliance".
// Generation is asynchronous: Execute launches a goroutine and returns
// immediately, matching "emit ... asynchronously" — the obligation
// pipeline's own per-directive goroutine already makes every executor
// concurrent, so this one additionally detaches from that goroutine's
// lifetime so a slow ReportSink cannot hold up Dispatch's WaitGroup.
type ReportGenerator struct {
	sink ReportSink
	now  func() time.Time
}

// NewReportGenerator builds a ReportGenerator.
func NewReportGenerator(sink ReportSink) *ReportGenerator {
	return &ReportGenerator{sink: sink, now: time.Now}
}

// Match recognizes "report:..." directives.
func (ReportGenerator) Match(directive string) bool {
	return strings.HasPrefix(directive, "report:")
}

// Execute detaches report generation into its own goroutine and returns
// immediately; any storage error is only observable via the ReportSink
// itself (e.g. a RecordingReportSink in tests), matching the "fire and
// forget" asynchronous obligation class spec.md §4.6 names.
func (g *ReportGenerator) Execute(ctx context.Context, directive string, dc policy.DecisionContext, decision policy.Decision) error {
	kind := strings.TrimPrefix(directive, "report:")
	report := Report{GeneratedAt: g.now(), Kind: kind, Context: dc, Decision: decision}

	done := make(chan error, 1)
	go func() {
		done <- g.sink.Store(context.WithoutCancel(ctx), report)
	}()

	select {
	case err := <-done:
		return err
	default:
		return nil
	}
}

// RecordingReportSink stores every Report it receives; a test double.
type RecordingReportSink struct {
	mu      sync.Mutex
	Reports []Report
}

// Store implements ReportSink.
func (s *RecordingReportSink) Store(_ context.Context, r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reports = append(s.Reports, r)
	return nil
}

// Snapshot returns a copy of the reports stored so far.
func (s *RecordingReportSink) Snapshot() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Report, len(s.Reports))
	copy(out, s.Reports)
	return out
}
