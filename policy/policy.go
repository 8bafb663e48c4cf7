package policy

import (
	"context"
	"strings"

	"github.com/viant/approver/model"
)

// Self-approval modes.
const (
	ModeForbid = "forbid" // initiator may not act on own instance (default)
	ModeAllow  = "allow"  // initiator may act like any other approver
	ModeAsk    = "ask"    // Ask decides per step
)

// AskFunc is invoked when Mode==ask and the actor initiated the instance.
// Returning true permits the action.
type AskFunc func(ctx context.Context, actor *model.Actor, step *model.Step, instance *model.Instance) bool

// Policy represents approval authorization settings.
//
//   - Mode controls self-approval (forbid / allow / ask).
//   - AllowList names actors that may always self-approve.
//   - BlockList names actors that may never act.
//
// A nil *Policy behaves like Mode==forbid with empty lists.
type Policy struct {
	Mode      string
	AllowList []string
	BlockList []string
	Ask       AskFunc
}

// Config represents the declarative, serialisable part of a Policy.
type Config struct {
	Mode      string   `json:"mode,omitempty" yaml:"mode,omitempty" mapstructure:"mode"`
	AllowList []string `json:"allow,omitempty" yaml:"allow,omitempty" mapstructure:"allow"`
	BlockList []string `json:"block,omitempty" yaml:"block,omitempty" mapstructure:"block"`
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		Mode:      p.Mode,
		AllowList: append([]string(nil), p.AllowList...),
		BlockList: append([]string(nil), p.BlockList...),
	}
}

// FromConfig converts a stored Config back to a runtime Policy (without
// AskFunc).
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	return &Policy{
		Mode:      c.Mode,
		AllowList: append([]string(nil), c.AllowList...),
		BlockList: append([]string(nil), c.BlockList...),
	}
}

// Validate checks the mode.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	switch strings.ToLower(c.Mode) {
	case "", ModeForbid, ModeAllow:
		return nil
	case ModeAsk:
		return model.NewError(model.KindInvalidRequest, "policy", "mode %q needs a runtime AskFunc", c.Mode)
	}
	return model.NewError(model.KindInvalidRequest, "policy", "unsupported mode %q", c.Mode)
}

// Authorize checks, in order, the block list, the actor capability set, that
// the step belongs to the current group and the self-approval rule.
func (p *Policy) Authorize(ctx context.Context, actor *model.Actor, step *model.Step, instance *model.Instance) error {
	const op = "Authorize"
	if actor == nil || actor.ID == "" {
		return model.NewError(model.KindUnauthorized, op, "actor was empty")
	}
	if p != nil && contains(p.BlockList, actor.ID) {
		return model.NewError(model.KindUnauthorized, op, "actor %v is blocked", actor.ID)
	}
	if !actor.HasRole(step.Role) {
		return model.NewError(model.KindUnauthorized, op, "actor %v lacks role %v required by step %v", actor.ID, step.Role, step.ID)
	}
	if step.Order != instance.CurrentOrder {
		return model.NewError(model.KindUnauthorized, op, "step %v at order %v is not current (current order %v)", step.ID, step.Order, instance.CurrentOrder)
	}
	if actor.ID != instance.InitiatorID || p.allowsSelfApproval(ctx, actor, step, instance) {
		return nil
	}
	return model.NewError(model.KindSelfApprovalForbidden, op, "initiator %v may not act on step %v", actor.ID, step.ID)
}

func (p *Policy) allowsSelfApproval(ctx context.Context, actor *model.Actor, step *model.Step, instance *model.Instance) bool {
	if p == nil {
		return false
	}
	if contains(p.AllowList, actor.ID) {
		return true
	}
	switch strings.ToLower(p.Mode) {
	case ModeAllow:
		return true
	case ModeAsk:
		return p.Ask != nil && p.Ask(ctx, actor, step, instance)
	}
	return false
}

func contains(list []string, id string) bool {
	for _, candidate := range list {
		if strings.EqualFold(candidate, id) {
			return true
		}
	}
	return false
}

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPolicy embeds policy in ctx.
func WithPolicy(ctx context.Context, p *Policy) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, p)
}

// FromContext extracts policy from ctx or nil.
func FromContext(ctx context.Context) *Policy {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKey).(*Policy); ok {
		return v
	}
	return nil
}
