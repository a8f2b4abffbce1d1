package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/njavilas2015/onbbu/pkg/caller"
	"github.com/njavilas2015/onbbu/pkg/core"
)

const poolLogPrefix = "gateway:pool"

// Signaler forwards one request to a contract and returns its response.
type Signaler interface {
	SendSignal(ctx context.Context, payload interface{}, name string) (*core.Response, error)
}

// Lookup returns the Signaler for a subject.
type Lookup func(subject string) (Signaler, bool)

// Pool holds one Caller per subject.
type Pool struct {
	callers map[string]*caller.Caller
}

// NewPool creates a Caller for each subject with the same options.
func NewPool(subjects []string, opts ...caller.Option) (*Pool, error) {
	p := &Pool{callers: make(map[string]*caller.Caller, len(subjects))}
	for _, subject := range subjects {
		if _, ok := p.callers[subject]; ok {
			continue
		}
		c, err := caller.New(subject, opts...)
		if err != nil {
			return nil, fmt.Errorf("%s - %w", poolLogPrefix, err)
		}
		p.callers[subject] = c
	}
	return p, nil
}

// Connect connects every caller. It stops at the first failure.
func (p *Pool) Connect(ctx context.Context) error {
	for subject, c := range p.callers {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("%s - caller for %s: %w", poolLogPrefix, subject, err)
		}
	}
	slog.Info(fmt.Sprintf("%s - %d callers connected", poolLogPrefix, len(p.callers)))
	return nil
}

// Lookup implements the Lookup signature.
func (p *Pool) Lookup(subject string) (Signaler, bool) {
	c, ok := p.callers[subject]
	if !ok {
		return nil, false
	}
	return c, true
}

// Die closes every caller and joins their errors.
func (p *Pool) Die(ctx context.Context) error {
	var errs []error
	for _, c := range p.callers {
		if err := c.Die(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
