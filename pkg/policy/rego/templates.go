// Package rego generates Rego modules from declarative (ODRL-shaped)
// policy specifications, and compiles them into prepared OPA queries.
//
// The native Go rule evaluator (pkg/policy.Evaluator) is the evaluator of
// record for every request; this package exists so each loaded policy can
// be cross-checked at load time against an independently-compiled Rego
// rendering of the same rules (SPEC_FULL.md §3's "declarative policy wire
// schema" consistency check), without putting a Rego compile on the
// request hot path.
package rego

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// PolicySpec is the input to Rego generation: a flattened view of a single
// pkg/policy.DeclarativePolicy.
type PolicySpec struct {
	UID         string
	Permission  []RuleSpec
	Prohibition []RuleSpec
}

// RuleSpec is one permission/prohibition entry, reduced to the subset of
// constraint shapes this generator renders directly into Rego (path,
// domain, port, size, numeric). Constraint kinds it cannot render are
// skipped here and left to the native evaluator; the divergence check
// only flags rules where both sides disagree on the renderable subset.
type RuleSpec struct {
	Action         string
	Target         string
	PathPatterns   []string
	AllowedDomains []string
	DeniedDomains  []string
	AllowedPorts   []int
	MaxSizeBytes   int64
}

func (r RuleSpec) hasAnyConstraint() bool {
	return len(r.PathPatterns) > 0 || len(r.AllowedDomains) > 0 ||
		len(r.DeniedDomains) > 0 || len(r.AllowedPorts) > 0 || r.MaxSizeBytes > 0
}

// regoTemplate renders a single policy's permission/prohibition rules into
// a self-contained Rego module exposing a "decision" object shaped like
// {allow, deny, reason}, mirroring the evaluator's own Permit/Deny/NOT_
// APPLICABLE verdicts.
const regoTemplate = `# Generated from declarative policy {{.UID}} — do not edit by hand.
package aegis_policy_{{.PackageSuffix}}

import future.keywords.if
import future.keywords.in

default allow := false
default deny := false

{{range .AllowRules}}
allow if {
    input.action == "{{.Action}}"
{{- if .HasConstraints}}
    {{.ConstraintRego}}
{{- end}}
}
{{end}}

{{range .DenyRules}}
deny if {
    input.action == "{{.Action}}"
{{- if .HasConstraints}}
    {{.ConstraintRego}}
{{- end}}
}
{{end}}

{{range .PathHelpers}}
path_allowed_{{.SafeName}}(path) if {
{{- range .Patterns}}
    glob.match("{{.}}", [], path)
}

path_allowed_{{.SafeName}}(path) if {
{{- end}}
    false
}
{{end}}

{{range .DomainHelpers}}
domain_allowed_{{.SafeName}}(domain) if {
{{- range .AllowedDomains}}
    {{if hasPrefix . "*."}}endswith(domain, "{{trimPrefix . "*"}}"){{else}}domain == "{{.}}"{{end}}
{{- end}}
}

domain_denied_{{.SafeName}}(domain) if {
{{- range .DeniedDomains}}
    {{if hasPrefix . "*."}}endswith(domain, "{{trimPrefix . "*"}}"){{else}}domain == "{{.}}"{{end}}
{{- end}}
}
{{end}}

decision := {
    "allow": allow,
    "deny": deny,
    "reason": reason,
}

reason := "permission matched" if {
    allow
    not deny
}

reason := "prohibition matched" if {
    deny
}

reason := "no rule matched" if {
    not allow
    not deny
}
`

type templateData struct {
	UID           string
	PackageSuffix string
	AllowRules    []ruleData
	DenyRules     []ruleData
	PathHelpers   []pathHelperData
	DomainHelpers []domainHelperData
}

type ruleData struct {
	Action         string
	HasConstraints bool
	ConstraintRego string
}

type pathHelperData struct {
	SafeName string
	Patterns []string
}

type domainHelperData struct {
	SafeName       string
	AllowedDomains []string
	DeniedDomains  []string
}

// CompileToRego renders spec into a complete Rego module.
func CompileToRego(spec *PolicySpec) (string, error) {
	data := processSpec(spec)

	funcMap := template.FuncMap{
		"hasPrefix":  strings.HasPrefix,
		"trimPrefix": strings.TrimPrefix,
	}

	tmpl, err := template.New("rego").Funcs(funcMap).Parse(regoTemplate)
	if err != nil {
		return "", fmt.Errorf("parse rego template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute rego template: %w", err)
	}
	return buf.String(), nil
}

func processSpec(spec *PolicySpec) templateData {
	data := templateData{
		UID:           spec.UID,
		PackageSuffix: makeSafeName(spec.UID),
	}

	for _, r := range spec.Permission {
		safeName := makeSafeName(r.Action)
		rule := ruleData{Action: r.Action, HasConstraints: r.hasAnyConstraint()}
		if rule.HasConstraints {
			rule.ConstraintRego = generateConstraintRego(r, safeName)
			registerHelpers(&data, r, safeName)
		}
		data.AllowRules = append(data.AllowRules, rule)
	}

	for _, r := range spec.Prohibition {
		safeName := makeSafeName(r.Action)
		rule := ruleData{Action: r.Action, HasConstraints: r.hasAnyConstraint()}
		if rule.HasConstraints {
			rule.ConstraintRego = generateConstraintRego(r, safeName)
			registerHelpers(&data, r, safeName)
		}
		data.DenyRules = append(data.DenyRules, rule)
	}

	return data
}

func registerHelpers(data *templateData, r RuleSpec, safeName string) {
	if len(r.PathPatterns) > 0 {
		data.PathHelpers = append(data.PathHelpers, pathHelperData{SafeName: safeName, Patterns: r.PathPatterns})
	}
	if len(r.AllowedDomains) > 0 || len(r.DeniedDomains) > 0 {
		data.DomainHelpers = append(data.DomainHelpers, domainHelperData{
			SafeName:       safeName,
			AllowedDomains: r.AllowedDomains,
			DeniedDomains:  r.DeniedDomains,
		})
	}
}

func generateConstraintRego(r RuleSpec, safeName string) string {
	var lines []string
	if len(r.PathPatterns) > 0 {
		lines = append(lines, fmt.Sprintf("    path_allowed_%s(input.resource)", safeName))
	}
	if len(r.AllowedDomains) > 0 {
		lines = append(lines, fmt.Sprintf("    domain_allowed_%s(input.resource)", safeName))
	}
	if len(r.DeniedDomains) > 0 {
		lines = append(lines, fmt.Sprintf("    not domain_denied_%s(input.resource)", safeName))
	}
	if len(r.AllowedPorts) > 0 {
		ports := make([]string, len(r.AllowedPorts))
		for i, p := range r.AllowedPorts {
			ports[i] = fmt.Sprintf("%d", p)
		}
		lines = append(lines, fmt.Sprintf("    input.port in {%s}", strings.Join(ports, ", ")))
	}
	if r.MaxSizeBytes > 0 {
		lines = append(lines, fmt.Sprintf("    input.size <= %d", r.MaxSizeBytes))
	}
	return strings.Join(lines, "\n")
}

// makeSafeName converts an arbitrary id/action into a safe Rego identifier.
func makeSafeName(s string) string {
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "__", "_")
	s = strings.ReplaceAll(s, "*", "star")
	return s
}

// ValidateRegoModule does a syntax-only sanity check: every generated
// module must define a "decision" rule. Full compilation is exercised by
// the caller via rego.New/PrepareForEval at load time.
func ValidateRegoModule(module string) error {
	if !strings.Contains(module, "decision := {") {
		return fmt.Errorf("rego module missing decision rule")
	}
	return nil
}
