// Package masking redacts credential-shaped content out of tool output
// before it is persisted as a ToolExecution's OutputPayload — a
// remediation tool's stdout (a `kubectl get secret -o yaml`, a
// connection string echoed by a diagnostic script) is operator-visible
// once stored, so it must never carry live secrets. Generalized from
// tarsy's pkg/masking MCP-result masking service: the per-server
// pattern-group registry and alert-specific masking are dropped since
// this domain's tool declarations carry no equivalent per-tool
// configuration (see DESIGN.md); the fixed built-in sweep and the
// structural Kubernetes Secret masker are kept.
package masking

// Service applies code-based maskers then regex patterns to content,
// fail-closed: a masking failure redacts the whole payload rather than
// risking a partially-masked secret reaching storage.
type Service struct {
	maskers  []Masker
	patterns []*CompiledPattern
}

// NewService builds a Service with the fixed built-in masker/pattern set.
func NewService() *Service {
	return &Service{
		maskers:  []Masker{&KubernetesSecretMasker{}},
		patterns: builtinPatterns,
	}
}

// Mask applies every registered masker and pattern to content in order.
func (s *Service) Mask(content string) string {
	if content == "" {
		return content
	}
	masked := content
	for _, m := range s.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
