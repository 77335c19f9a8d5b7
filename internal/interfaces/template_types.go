package interfaces

import (
	"encoding/json"
	"fmt"
	"sort"
)

// StepKind identifies the type of work a deployment step performs
type StepKind string

// StepKind constants represent the supported deployment step types
const (
	StepKindFileDeployment  StepKind = "file_deployment"
	StepKindSQLDeployment   StepKind = "sql_deployment"
	StepKindServiceRestart  StepKind = "service_restart"
	StepKindAnsiblePlaybook StepKind = "ansible_playbook"
	StepKindHelmUpgrade     StepKind = "helm_upgrade"
)

// KnownStepKinds lists every step kind the sequencer can dispatch
var KnownStepKinds = []StepKind{
	StepKindFileDeployment,
	StepKindSQLDeployment,
	StepKindServiceRestart,
	StepKindAnsiblePlaybook,
	StepKindHelmUpgrade,
}

// TemplateMetadata describes a deployment template
type TemplateMetadata struct {
	FTNumber    string `json:"ft_number"`
	Description string `json:"description"`
	TotalSteps  int    `json:"total_steps"`
}

// Template is a declarative, ordered list of deployment steps.
// It is immutable once loaded; a sequencer run never mutates it.
type Template struct {
	Metadata TemplateMetadata `json:"metadata"`
	Steps    []Step           `json:"steps"`
}

// Step is one unit of work within a template. The common fields are typed;
// the kind-specific payload is retained as the raw JSON object in Spec and
// decoded by the matching step handler.
type Step struct {
	Order       int      `json:"order"`
	Type        StepKind `json:"type"`
	Description string   `json:"description"`

	// Spec holds the full raw step object for kind-specific decoding
	Spec map[string]interface{} `json:"-"`
}

// UnmarshalJSON captures both the typed common fields and the raw object
func (s *Step) UnmarshalJSON(data []byte) error {
	type common struct {
		Order       int      `json:"order"`
		Type        StepKind `json:"type"`
		Description string   `json:"description"`
	}

	var c common
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("failed to unmarshal step: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal step spec: %w", err)
	}

	s.Order = c.Order
	s.Type = c.Type
	s.Description = c.Description
	s.Spec = raw
	return nil
}

// MarshalJSON re-emits the raw step object so templates round-trip unchanged
func (s Step) MarshalJSON() ([]byte, error) {
	if s.Spec != nil {
		data, err := json.Marshal(s.Spec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal step spec: %w", err)
		}
		return data, nil
	}

	type common struct {
		Order       int      `json:"order"`
		Type        StepKind `json:"type"`
		Description string   `json:"description"`
	}
	data, err := json.Marshal(common{Order: s.Order, Type: s.Type, Description: s.Description})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step: %w", err)
	}
	return data, nil
}

// SortedSteps returns the template's steps in execution order.
// The sort is stable: steps with equal Order keep their input order.
func (t *Template) SortedSteps() []Step {
	steps := make([]Step, len(t.Steps))
	copy(steps, t.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
	return steps
}
