package pdp

import "strings"

// Format is the detected shape of a stored policy document.
type Format int

const (
	FormatUnknown Format = iota
	FormatDeclarative
	FormatNaturalLanguage
)

func (f Format) String() string {
	switch f {
	case FormatDeclarative:
		return "DECLARATIVE"
	case FormatNaturalLanguage:
		return "NATURAL_LANGUAGE"
	default:
		return "UNKNOWN"
	}
}

// declarativeMarkers are JSON keys that only appear in the structured
// ODRL-shaped policy document.
var declarativeMarkers = []string{`"permission"`, `"prohibition"`, `"leftOperand"`, `"rightOperand"`}

// DetectFormat heuristically classifies raw policy text as declarative
// JSON or natural language prose, returning a confidence in [0,1]. The
// PDP does not compare this confidence with Config.FormatDetectionThreshold;
// cmd/aegisd's compileSnapshot uses only the returned Format.
func DetectFormat(raw string) (Format, float64) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return FormatUnknown, 0
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		hits := 0
		for _, marker := range declarativeMarkers {
			if strings.Contains(trimmed, marker) {
				hits++
			}
		}
		confidence := 0.5 + 0.125*float64(hits)
		if confidence > 1.0 {
			confidence = 1.0
		}
		return FormatDeclarative, confidence
	}

	words := strings.Fields(trimmed)
	if len(words) >= 4 {
		return FormatNaturalLanguage, 0.75
	}
	return FormatUnknown, 0.3
}
