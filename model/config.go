package model

import "fmt"

// StepTemplate represents a configured approval step.
type StepTemplate struct {
	Role       string `json:"role" yaml:"role"`
	Order      int    `json:"order" yaml:"order"`
	IsParallel bool   `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// WorkflowConfig is the resolved, read-only approval configuration.
// Conditions are informational annotations (for example lien holds) carried
// into the instance; they never alter state transitions.
type WorkflowConfig struct {
	Name       string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Steps      []*StepTemplate        `json:"steps" yaml:"steps"`
	Conditions map[string]interface{} `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Validate returns the first structural issue or nil.
func (c *WorkflowConfig) Validate() error {
	if c == nil || len(c.Steps) == 0 {
		return fmt.Errorf("workflow config has no steps")
	}
	for i, step := range c.Steps {
		if step == nil {
			return fmt.Errorf("step[%d] was nil", i)
		}
		if step.Role == "" {
			return fmt.Errorf("step[%d] role was empty", i)
		}
		if step.Order < 1 {
			return fmt.Errorf("step[%d] order must be >= 1, got %d", i, step.Order)
		}
	}
	return nil
}
