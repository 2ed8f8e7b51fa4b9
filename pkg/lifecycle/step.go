package lifecycle

import "github.com/ajitpratap0/gatehits/pkg/hits"

// Step is one hit-worthy transport step reported by the host. The host decides
// which steps are hit-worthy; the controller only selects the configured
// attributes from each.
type Step interface {
	// Attribute returns the value of a named attribute, or false if the step
	// does not carry it.
	Attribute(name string) (interface{}, bool)
}

// StepValues is a map-backed Step.
type StepValues map[string]interface{}

// Attribute implements Step.
func (s StepValues) Attribute(name string) (interface{}, bool) {
	v, ok := s[name]
	return v, ok
}

// FieldStep is a slice-backed Step, cheaper than a map for a handful of attributes.
type FieldStep []hits.Field

// Attribute implements Step.
func (s FieldStep) Attribute(name string) (interface{}, bool) {
	for _, f := range s {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}
