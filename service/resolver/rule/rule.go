package rule

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr/vm"
	"github.com/viant/approver/model"
	"github.com/viant/toolbox"
)

// Rule maps matching transaction criteria to an approval configuration.
type Rule struct {
	Name             string                 `yaml:"name"`
	Priority         int                    `yaml:"priority,omitempty"`
	When             string                 `yaml:"when,omitempty"`
	MinAmount        interface{}            `yaml:"minAmount,omitempty"`
	MaxAmount        interface{}            `yaml:"maxAmount,omitempty"`
	Currencies       []string               `yaml:"currencies,omitempty"`
	Facilities       []string               `yaml:"facilities,omitempty"`
	TransactionTypes []string               `yaml:"transactionTypes,omitempty"`
	BusinessModels   []string               `yaml:"businessModels,omitempty"`
	Steps            []*model.StepTemplate  `yaml:"steps"`
	Conditions       map[string]interface{} `yaml:"conditions,omitempty"`

	minAmount *float64
	maxAmount *float64
	program   *vm.Program
}

func (r *Rule) clone() *Rule {
	ret := *r
	config := r.Config()
	ret.Steps, ret.Conditions = config.Steps, config.Conditions
	ret.Currencies = append([]string(nil), r.Currencies...)
	ret.Facilities = append([]string(nil), r.Facilities...)
	ret.TransactionTypes = append([]string(nil), r.TransactionTypes...)
	ret.BusinessModels = append([]string(nil), r.BusinessModels...)
	return &ret
}

// Document is the persisted rule set.
type Document struct {
	Rules []*Rule `yaml:"rules"`
}

// Config returns the workflow configuration produced by the rule.
func (r *Rule) Config() *model.WorkflowConfig {
	ret := &model.WorkflowConfig{Name: r.Name, Steps: make([]*model.StepTemplate, 0, len(r.Steps))}
	for _, step := range r.Steps {
		clone := *step
		ret.Steps = append(ret.Steps, &clone)
	}
	if len(r.Conditions) > 0 {
		ret.Conditions = make(map[string]interface{}, len(r.Conditions))
		for k, v := range r.Conditions {
			ret.Conditions[k] = v
		}
	}
	return ret
}

func (r *Rule) init() error {
	if r.Name == "" {
		return fmt.Errorf("rule name was empty")
	}
	if err := (&model.WorkflowConfig{Steps: r.Steps}).Validate(); err != nil {
		return fmt.Errorf("rule %v: %w", r.Name, err)
	}
	var err error
	if r.minAmount, err = asAmount(r.MinAmount); err != nil {
		return fmt.Errorf("rule %v minAmount: %w", r.Name, err)
	}
	if r.maxAmount, err = asAmount(r.MaxAmount); err != nil {
		return fmt.Errorf("rule %v maxAmount: %w", r.Name, err)
	}
	return nil
}

// matches checks the declarative filters; the when expression is evaluated
// by the service.
func (r *Rule) matches(criteria *model.Criteria) bool {
	if r.minAmount != nil && criteria.Amount < *r.minAmount {
		return false
	}
	if r.maxAmount != nil && criteria.Amount >= *r.maxAmount {
		return false
	}
	return oneOf(r.Currencies, criteria.Currency) &&
		oneOf(r.Facilities, criteria.Facility) &&
		oneOf(r.TransactionTypes, criteria.TransactionType) &&
		oneOf(r.BusinessModels, criteria.BusinessModel)
}

func oneOf(candidates []string, value string) bool {
	if len(candidates) == 0 {
		return true
	}
	for _, candidate := range candidates {
		if strings.EqualFold(candidate, value) {
			return true
		}
	}
	return false
}

// asAmount accepts YAML numbers as well as numeric strings such as "250000".
func asAmount(value interface{}) (*float64, error) {
	if value == nil {
		return nil, nil
	}
	if text, ok := value.(string); ok && strings.TrimSpace(text) == "" {
		return nil, nil
	}
	amount, err := toolbox.ToFloat(value)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}
