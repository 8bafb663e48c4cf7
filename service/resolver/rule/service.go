package rule

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/viant/afs"
	"github.com/viant/approver/model"
	"github.com/viant/approver/service/resolver"
	"gopkg.in/yaml.v3"
)

// Service resolves configurations from an ordered rule set. Rules are tried
// by ascending priority, then declaration order; the first match wins.
type Service struct {
	URL      string
	fs       afs.Service
	rules    []*Rule
	programs map[string]*vm.Program
	mu       sync.RWMutex
}

var _ resolver.Resolver = (*Service)(nil)

// Resolve returns the configuration of the first matching rule.
func (s *Service) Resolve(_ context.Context, criteria *model.Criteria) (*model.WorkflowConfig, error) {
	if criteria == nil {
		return nil, model.NewError(model.KindInvalidRequest, "Resolve", "criteria were empty")
	}
	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()

	env := environment(criteria)
	for _, rule := range rules {
		if !rule.matches(criteria) {
			continue
		}
		if rule.program != nil {
			output, err := expr.Run(rule.program, env)
			if err != nil {
				return nil, fmt.Errorf("rule %v: failed to evaluate %q: %w", rule.Name, rule.When, err)
			}
			if matched, _ := output.(bool); !matched {
				continue
			}
		}
		return rule.Config(), nil
	}
	return nil, model.NewError(model.KindConfigurationNotFound, "Resolve",
		"no rule matches %v %v %v", criteria.TransactionType, criteria.Amount, criteria.Currency)
}

// Rules returns copies of the active rules in evaluation order.
func (s *Service) Rules() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		ret = append(ret, rule.clone())
	}
	return ret
}

// Reload re-reads the rule document from URL.
func (s *Service) Reload(ctx context.Context) error {
	if s.URL == "" {
		return fmt.Errorf("rules URL was empty")
	}
	data, err := s.fs.DownloadWithURL(ctx, s.URL)
	if err != nil {
		return fmt.Errorf("failed to download rules %v: %w", s.URL, err)
	}
	return s.Upsert(data)
}

// Upsert replaces the rule set with the supplied YAML document after
// ${env.NAME} expansion. The active rules stay unchanged when the document is
// invalid.
func (s *Service) Upsert(data []byte) error {
	document := &Document{}
	if err := yaml.Unmarshal(expandEnv(data), document); err != nil {
		return fmt.Errorf("failed to decode rules: %w", err)
	}
	return s.SetRules(document.Rules...)
}

// SetRules validates, compiles and activates copies of rules; the supplied
// values are not modified.
func (s *Service) SetRules(rules ...*Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := make([]*Rule, 0, len(rules))
	for _, source := range rules {
		if source == nil {
			return fmt.Errorf("rule was nil")
		}
		rule := source.clone()
		if err := rule.init(); err != nil {
			return err
		}
		if rule.When != "" {
			program, err := s.program(rule.When)
			if err != nil {
				return fmt.Errorf("rule %v: failed to compile %q: %w", rule.Name, rule.When, err)
			}
			rule.program = program
		}
		ordered = append(ordered, rule)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	s.rules = ordered
	return nil
}

func (s *Service) program(expression string) (*vm.Program, error) {
	if program, ok := s.programs[expression]; ok {
		return program, nil
	}
	program, err := expr.Compile(expression, expr.Env(environment(&model.Criteria{})), expr.AsBool())
	if err != nil {
		return nil, err
	}
	s.programs[expression] = program
	return program, nil
}

func environment(criteria *model.Criteria) map[string]interface{} {
	attributes := criteria.Attributes
	if attributes == nil {
		attributes = map[string]interface{}{}
	}
	return map[string]interface{}{
		"amount":          criteria.Amount,
		"facility":        criteria.Facility,
		"currency":        criteria.Currency,
		"businessModel":   criteria.BusinessModel,
		"transactionType": criteria.TransactionType,
		"attributes":      attributes,
	}
}

// Option customises the service.
type Option func(*Service)

// WithURL sets the rule document location (any afs supported URL).
func WithURL(URL string) Option {
	return func(s *Service) {
		s.URL = URL
	}
}

// WithFs sets the file service used to load rules.
func WithFs(fs afs.Service) Option {
	return func(s *Service) {
		s.fs = fs
	}
}

// New creates a rule resolver. Call Reload, Upsert or SetRules to load rules.
func New(options ...Option) *Service {
	ret := &Service{programs: map[string]*vm.Program{}}
	for _, opt := range options {
		opt(ret)
	}
	if ret.fs == nil {
		ret.fs = afs.New()
	}
	return ret
}

// Load creates a rule resolver and loads rules from URL.
func Load(ctx context.Context, URL string, options ...Option) (*Service, error) {
	ret := New(append(options, WithURL(URL))...)
	if err := ret.Reload(ctx); err != nil {
		return nil, err
	}
	return ret, nil
}
