package constraints

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// AnonymizeMode is one of the four transforms the directive grammar
// "anonymize:<mode>" selects.
type AnonymizeMode string

const (
	ModeRedact   AnonymizeMode = "redact"
	ModeMask     AnonymizeMode = "mask"
	ModeHash     AnonymizeMode = "hash"
	ModeTokenize AnonymizeMode = "tokenize"
)

// DefaultSensitiveFields is spec.md §4.5's configurable sensitive-field
// set; callers may supply their own via NewAnonymizer.
var DefaultSensitiveFields = []string{
	"name", "email", "phone", "address", "ssn", "creditCard", "passport", "bankAccount", "taxId",
}

// Anonymizer recurses into objects and arrays, transforming configured
// sensitive fields in place. Its token store is process-wide and must be
// cleared on Shutdown (spec.md §6 "Persisted state").
type Anonymizer struct {
	mu              sync.Mutex
	sensitiveFields map[string]bool
	tokens          map[string]string
	nextToken       uint64
}

// NewAnonymizer builds an Anonymizer over the given sensitive-field set
// (case-insensitive); an empty set uses DefaultSensitiveFields.
func NewAnonymizer(fields []string) *Anonymizer {
	if len(fields) == 0 {
		fields = DefaultSensitiveFields
	}
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = true
	}
	return &Anonymizer{sensitiveFields: set, tokens: make(map[string]string)}
}

// Match recognizes "anonymize:<mode>" directives.
func (a *Anonymizer) Match(directive string) bool {
	return strings.HasPrefix(directive, "anonymize:")
}

// Apply walks payload, transforming any sensitive field's string value per
// the directive's mode.
func (a *Anonymizer) Apply(_ context.Context, directive string, payload Payload, _ DecisionContext) (Payload, error) {
	mode := AnonymizeMode(strings.TrimPrefix(directive, "anonymize:"))
	out := a.walk(payload, mode).(Payload)
	return out, nil
}

func (a *Anonymizer) walk(v any, mode AnonymizeMode) any {
	switch val := v.(type) {
	case Payload:
		out := make(Payload, len(val))
		for k, sub := range val {
			if a.sensitiveFields[strings.ToLower(k)] {
				out[k] = a.transform(k, sub, mode)
			} else {
				out[k] = a.walk(sub, mode)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = a.walk(sub, mode)
		}
		return out
	default:
		return v
	}
}

func (a *Anonymizer) transform(field string, v any, mode AnonymizeMode) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch mode {
	case ModeRedact:
		return "[REDACTED]"
	case ModeMask:
		return formatPreservingMask(field, s)
	case ModeHash:
		h := sha256.Sum256([]byte(s))
		return hex.EncodeToString(h[:])
	case ModeTokenize:
		return a.tokenize(s)
	default:
		return v
	}
}

// tokenize returns a stable per-session token for a given input: the same
// input always yields the same token, and distinct inputs never collide
// (spec.md §8's round-trip law), because it is a simple counter keyed by
// the original value.
func (a *Anonymizer) tokenize(s string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tok, ok := a.tokens[s]; ok {
		return tok
	}
	a.nextToken++
	tok := fmt.Sprintf("tok_%016x", a.nextToken)
	a.tokens[s] = tok
	return tok
}

// Shutdown clears the in-memory token store (spec.md §6 "Persisted state").
func (a *Anonymizer) Shutdown() {
	a.mu.Lock()
	a.tokens = make(map[string]string)
	a.mu.Unlock()
}

// formatPreservingMask keeps a recognizable shape for common PII fields
// while hiding the bulk of the content.
func formatPreservingMask(field, s string) string {
	switch strings.ToLower(field) {
	case "email":
		at := strings.IndexByte(s, '@')
		if at <= 0 {
			return maskMiddle(s)
		}
		local, domain := s[:at], s[at:]
		if len(local) <= 1 {
			return "*" + domain
		}
		return local[:1] + strings.Repeat("*", len(local)-1) + domain
	case "phone":
		return maskTail(s, 4)
	case "creditcard":
		return maskTail(s, 4)
	case "ssn":
		return maskTail(s, 4)
	default:
		return maskMiddle(s)
	}
}

func maskTail(s string, keep int) string {
	if len(s) <= keep {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keep) + s[len(s)-keep:]
}

func maskMiddle(s string) string {
	if len(s) <= 2 {
		return strings.Repeat("*", len(s))
	}
	return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
}
