package model

import (
	"fmt"
	"strings"
)

// Criteria represents the transaction attributes used to resolve the
// workflow configuration.
type Criteria struct {
	Amount          float64                `json:"amount" yaml:"amount"`
	Facility        string                 `json:"facility,omitempty" yaml:"facility,omitempty"`
	Currency        string                 `json:"currency" yaml:"currency"`
	BusinessModel   string                 `json:"businessModel,omitempty" yaml:"businessModel,omitempty"`
	TransactionType string                 `json:"transactionType" yaml:"transactionType"`
	Attributes      map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Validate performs default domain validation.
func (c *Criteria) Validate() error {
	if c == nil {
		return fmt.Errorf("criteria were empty")
	}
	if c.Amount < 0 {
		return fmt.Errorf("amount must be >= 0, got %v", c.Amount)
	}
	if strings.TrimSpace(c.Currency) == "" {
		return fmt.Errorf("currency was empty")
	}
	if strings.TrimSpace(c.TransactionType) == "" {
		return fmt.Errorf("transactionType was empty")
	}
	return nil
}

// Clone returns a copy of the criteria.
func (c *Criteria) Clone() *Criteria {
	if c == nil {
		return nil
	}
	ret := *c
	if c.Attributes != nil {
		ret.Attributes = make(map[string]interface{}, len(c.Attributes))
		for k, v := range c.Attributes {
			ret.Attributes[k] = v
		}
	}
	return &ret
}
