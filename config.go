package approver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/viant/approver/policy"
	"github.com/viant/approver/runtime/orchestrator"
	"github.com/viant/approver/service/messaging"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFs     = "fs"
	StoreMySQL  = "mysql"
)

// Config is a serialisable representation of the approver configuration. It
// can be populated from YAML, JSON or environment variables; the CLI loads it
// with viper.
type Config struct {
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator" mapstructure:"orchestrator"`
	Store        StoreConfig        `json:"store" yaml:"store" mapstructure:"store"`
	Resolver     ResolverConfig     `json:"resolver" yaml:"resolver" mapstructure:"resolver"`
	Policy       *policy.Config     `json:"policy,omitempty" yaml:"policy,omitempty" mapstructure:"policy"`
	Events       EventsConfig       `json:"events" yaml:"events" mapstructure:"events"`
	Log          LogConfig          `json:"log" yaml:"log" mapstructure:"log"`
	Tracing      TracingConfig      `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
}

type OrchestratorConfig struct {
	MaxRetries int `json:"maxRetries" yaml:"maxRetries" mapstructure:"maxRetries"`
}

// StoreConfig selects the persistence backend. For mysql either DSN or
// SecretURL (a scy encrypted credential expanded into DSN) is required.
type StoreConfig struct {
	Kind      string `json:"kind" yaml:"kind" mapstructure:"kind"`
	BaseURL   string `json:"baseURL,omitempty" yaml:"baseURL,omitempty" mapstructure:"baseURL"`
	DSN       string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`
	SecretURL string `json:"secretURL,omitempty" yaml:"secretURL,omitempty" mapstructure:"secretURL"`
	SecretKey string `json:"secretKey,omitempty" yaml:"secretKey,omitempty" mapstructure:"secretKey"`
	Migrate   bool   `json:"migrate,omitempty" yaml:"migrate,omitempty" mapstructure:"migrate"`
}

type ResolverConfig struct {
	RulesURL string `json:"rulesURL" yaml:"rulesURL" mapstructure:"rulesURL"`
}

// EventsConfig enables lifecycle notifications.
type EventsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Vendor  string `json:"vendor" yaml:"vendor" mapstructure:"vendor"`
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty" mapstructure:"baseURL"`
	// Steps also publishes an event for every persisted step action.
	Steps bool `json:"steps,omitempty" yaml:"steps,omitempty" mapstructure:"steps"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" mapstructure:"level"`
}

type TracingConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty" mapstructure:"output"`
}

// DefaultConfig returns a Config with in-memory storage and no rules.
// Callers may modify the returned struct before passing it to NewFromConfig.
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{MaxRetries: orchestrator.DefaultRetries},
		Store:        StoreConfig{Kind: StoreMemory},
		Events:       EventsConfig{Vendor: string(messaging.VendorMemory)},
		Log:          LogConfig{Level: "info"},
	}
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Orchestrator.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.maxRetries must be > 0"))
	}
	switch strings.ToLower(c.Store.Kind) {
	case StoreMemory:
	case StoreFs:
		if c.Store.BaseURL == "" {
			errs = append(errs, fmt.Errorf("store.baseURL is required for fs store"))
		}
	case StoreMySQL:
		if c.Store.DSN == "" && c.Store.SecretURL == "" {
			errs = append(errs, fmt.Errorf("store.dsn or store.secretURL is required for mysql store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store.kind %q", c.Store.Kind))
	}
	if c.Resolver.RulesURL == "" {
		errs = append(errs, fmt.Errorf("resolver.rulesURL is required"))
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Events.Enabled {
		switch messaging.Vendor(c.Events.Vendor) {
		case messaging.VendorMemory:
		case messaging.VendorFs:
			if c.Events.BaseURL == "" {
				errs = append(errs, fmt.Errorf("events.baseURL is required for fs events"))
			}
		default:
			errs = append(errs, fmt.Errorf("unsupported events.vendor %q", c.Events.Vendor))
		}
	}
	return errors.Join(errs...)
}
