// Package resolver defines how approval configurations are resolved from
// transaction criteria.
package resolver

import (
	"context"

	"github.com/viant/approver/model"
)

// Resolver returns the workflow configuration matching criteria or an error
// matching model.ErrConfigurationNotFound.
type Resolver interface {
	Resolve(ctx context.Context, criteria *model.Criteria) (*model.WorkflowConfig, error)
}

// Func adapts a function to Resolver.
type Func func(ctx context.Context, criteria *model.Criteria) (*model.WorkflowConfig, error)

// Resolve calls f.
func (f Func) Resolve(ctx context.Context, criteria *model.Criteria) (*model.WorkflowConfig, error) {
	return f(ctx, criteria)
}

// Static resolves every criteria to the same configuration.
type Static struct {
	Config *model.WorkflowConfig
}

// Resolve returns the static configuration.
func (s *Static) Resolve(_ context.Context, _ *model.Criteria) (*model.WorkflowConfig, error) {
	if s == nil || s.Config == nil || len(s.Config.Steps) == 0 {
		return nil, model.NewError(model.KindConfigurationNotFound, "Resolve", "no static configuration")
	}
	return s.Config, nil
}

// NewStatic creates a resolver returning config.
func NewStatic(config *model.WorkflowConfig) *Static {
	return &Static{Config: config}
}
