package constraints

import (
	"context"
	"strconv"
	"strings"
)

// FieldFilter implements the field-filter processor (spec.md §4.5):
// directive grammar "fieldFilter:field1,field2" keeps only the named
// top-level fields of a map payload, annotating removals.
type FieldFilter struct{}

// NewFieldFilter builds a FieldFilter.
func NewFieldFilter() *FieldFilter { return &FieldFilter{} }

// Match recognizes "fieldFilter:..." directives.
func (FieldFilter) Match(directive string) bool {
	return strings.HasPrefix(directive, "fieldFilter:")
}

// Apply drops any top-level field not in the directive's allow-list.
func (FieldFilter) Apply(_ context.Context, directive string, payload Payload, _ DecisionContext) (Payload, error) {
	allowed := splitCSVSet(strings.TrimPrefix(directive, "fieldFilter:"))
	if payload == nil {
		return payload, nil
	}
	out := make(Payload, len(payload))
	var dropped []string
	for k, v := range payload {
		if allowed[strings.ToUpper(k)] {
			out[k] = v
		} else {
			dropped = append(dropped, k)
		}
	}
	if len(dropped) > 0 {
		out["_fieldsRemoved"] = dropped
	}
	return out, nil
}

// RecordCountLimit implements the record-count-limit processor (spec.md
// §4.5): directive grammar "recordLimit:<n>" truncates any top-level
// slice-valued field to at most n elements.
type RecordCountLimit struct{}

// NewRecordCountLimit builds a RecordCountLimit.
func NewRecordCountLimit() *RecordCountLimit { return &RecordCountLimit{} }

// Match recognizes "recordLimit:<n>" directives.
func (RecordCountLimit) Match(directive string) bool {
	return strings.HasPrefix(directive, "recordLimit:")
}

// Apply truncates every top-level slice to at most n records.
func (RecordCountLimit) Apply(_ context.Context, directive string, payload Payload, _ DecisionContext) (Payload, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(directive, "recordLimit:"))
	if err != nil || n < 0 {
		return payload, nil
	}
	if payload == nil {
		return payload, nil
	}
	out := make(Payload, len(payload))
	truncated := false
	for k, v := range payload {
		if records, ok := v.([]any); ok && len(records) > n {
			out[k] = records[:n]
			truncated = true
		} else {
			out[k] = v
		}
	}
	if truncated {
		out["_truncated"] = true
	}
	return out, nil
}

// SizeLimit implements the size-limit processor (spec.md §4.5): directive
// grammar "sizeLimit:<bytes>" truncates a payload's JSON-ish string
// representation to the configured byte bound, annotating the original
// size. Unlike record count, this operates on a single named field
// ("body" by default) since "the payload" as a whole has no single string
// shape.
type SizeLimit struct {
	Field string
}

// NewSizeLimit builds a SizeLimit over the given payload field (default
// "body" when empty).
func NewSizeLimit(field string) *SizeLimit {
	if field == "" {
		field = "body"
	}
	return &SizeLimit{Field: field}
}

// Match recognizes "sizeLimit:<bytes>" directives.
func (SizeLimit) Match(directive string) bool {
	return strings.HasPrefix(directive, "sizeLimit:")
}

// Apply truncates s.Field if it's a string longer than the configured bound.
func (s *SizeLimit) Apply(_ context.Context, directive string, payload Payload, _ DecisionContext) (Payload, error) {
	maxBytes, err := strconv.Atoi(strings.TrimPrefix(directive, "sizeLimit:"))
	if err != nil || maxBytes < 0 || payload == nil {
		return payload, nil
	}
	raw, ok := payload[s.Field].(string)
	if !ok || len(raw) <= maxBytes {
		return payload, nil
	}
	out := make(Payload, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	out[s.Field] = raw[:maxBytes]
	out["_truncated"] = true
	out["_originalSize"] = len(raw)
	return out, nil
}
