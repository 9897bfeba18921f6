package constraints

import (
	"context"
	"testing"
	"time"
)

func TestGeoRestrictor_AllowList(t *testing.T) {
	resolver, err := NewCSVGeoResolver("1.2.3.4,US\n5.6.7.8,KP\n")
	if err != nil {
		t.Fatalf("NewCSVGeoResolver: %v", err)
	}
	g := NewGeoRestrictor(resolver, false)

	if _, err := g.Apply(context.Background(), "geo:allow:US,CA", Payload{}, DecisionContext{ClientIP: "1.2.3.4"}); err != nil {
		t.Fatalf("expected US to be allowed, got %v", err)
	}
	if _, err := g.Apply(context.Background(), "geo:allow:US,CA", Payload{}, DecisionContext{ClientIP: "5.6.7.8"}); err == nil {
		t.Fatalf("expected KP to be blocked by allow-list")
	}
}

func TestGeoRestrictor_MissingIPDefault(t *testing.T) {
	resolver, _ := NewCSVGeoResolver("1.2.3.4,US\n")
	permissive := NewGeoRestrictor(resolver, false)
	if _, err := permissive.Apply(context.Background(), "geo:deny:KP", Payload{}, DecisionContext{}); err != nil {
		t.Fatalf("missingIPDeny=false should pass through, got %v", err)
	}
	strict := NewGeoRestrictor(resolver, true)
	if _, err := strict.Apply(context.Background(), "geo:deny:KP", Payload{}, DecisionContext{}); err == nil {
		t.Fatalf("missingIPDeny=true should block a request with no client IP")
	}
}

func TestFieldFilter(t *testing.T) {
	f := NewFieldFilter()
	out, err := f.Apply(context.Background(), "fieldFilter:name,email", Payload{"name": "a", "email": "b", "ssn": "c"}, DecisionContext{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := out["ssn"]; ok {
		t.Fatalf("expected ssn to be filtered out")
	}
	if out["name"] != "a" || out["email"] != "b" {
		t.Fatalf("expected allow-listed fields preserved, got %#v", out)
	}
	if _, ok := out["_fieldsRemoved"]; !ok {
		t.Fatalf("expected _fieldsRemoved annotation")
	}
}

func TestRecordCountLimit(t *testing.T) {
	l := NewRecordCountLimit()
	out, err := l.Apply(context.Background(), "recordLimit:2", Payload{"items": []any{1, 2, 3, 4}}, DecisionContext{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	items := out["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected truncation to 2 items, got %d", len(items))
	}
	if out["_truncated"] != true {
		t.Fatalf("expected _truncated annotation")
	}
}

func TestSizeLimit(t *testing.T) {
	s := NewSizeLimit("body")
	out, err := s.Apply(context.Background(), "sizeLimit:5", Payload{"body": "hello world"}, DecisionContext{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out["body"] != "hello" {
		t.Fatalf("expected truncated body, got %v", out["body"])
	}
	if out["_originalSize"] != 11 {
		t.Fatalf("expected _originalSize=11, got %v", out["_originalSize"])
	}
}

func TestExecutionTimeLimit_RunWithTimeout(t *testing.T) {
	_, err := RunWithTimeout(context.Background(), "timeLimit:20ms", func(ctx context.Context) (Payload, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return Payload{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err == nil {
		t.Fatalf("expected timeout error for a call exceeding the bound")
	}

	out, err := RunWithTimeout(context.Background(), "timeLimit:50ms", func(ctx context.Context) (Payload, error) {
		return Payload{"ok": true}, nil
	})
	if err != nil {
		t.Fatalf("expected fast call to succeed, got %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("expected payload to pass through")
	}
}

func TestPipeline_RequiredDirectiveUnrecognized(t *testing.T) {
	p := NewPipeline(NewFieldFilter())
	_, _, err := p.Run(context.Background(), []string{"!unknownDirective:x"}, Payload{}, DecisionContext{})
	if err == nil {
		t.Fatalf("expected a required-but-unmatched directive to abort")
	}
}

func TestPipeline_OptionalDirectiveUnrecognizedSkipped(t *testing.T) {
	p := NewPipeline(NewFieldFilter())
	_, skipped, err := p.Run(context.Background(), []string{"unknownDirective:x"}, Payload{}, DecisionContext{})
	if err != nil {
		t.Fatalf("expected unmatched optional directive to be skipped, got error %v", err)
	}
	if len(skipped) != 1 {
		t.Fatalf("expected 1 skipped directive, got %d", len(skipped))
	}
}
