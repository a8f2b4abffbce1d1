package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrStageMissing is returned when a contract is registered without one of its stages.
var ErrStageMissing = errors.New("contract stage missing")

// Stage is one step of a contract pipeline. It receives the output of the previous stage
// (the call payload for the first one).
type Stage func(ctx context.Context, payload interface{}) (interface{}, error)

// Contract is the three-stage handler bundle registered under a name.
type Contract struct {
	Validate   Stage
	Middleware Stage
	Service    Stage
}

// Identity passes its input through unchanged. Handy as a no-op validate or middleware.
func Identity(_ context.Context, payload interface{}) (interface{}, error) {
	return payload, nil
}

// Registry maps contract names to contracts. It is filled during setup and only read once
// the dispatcher is live, so it carries no lock of its own.
type Registry struct {
	contracts map[string]Contract
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{contracts: make(map[string]Contract)}
}

// Register adds c under name, replacing any previous contract with that name.
func (r *Registry) Register(name string, c Contract) error {
	if name == "" {
		return fmt.Errorf("contract name is empty")
	}
	if c.Validate == nil {
		return fmt.Errorf("validate for contract %s must be a function: %w", name, ErrStageMissing)
	}
	if c.Middleware == nil {
		return fmt.Errorf("middleware for contract %s must be a function: %w", name, ErrStageMissing)
	}
	if c.Service == nil {
		return fmt.Errorf("the service for contract %s must be a function: %w", name, ErrStageMissing)
	}
	r.contracts[name] = c
	return nil
}

// Resolve returns the contract registered under name.
func (r *Registry) Resolve(name string) (Contract, bool) {
	c, ok := r.contracts[name]
	return c, ok
}

// Names returns the registered contract names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered contracts.
func (r *Registry) Len() int {
	return len(r.contracts)
}
