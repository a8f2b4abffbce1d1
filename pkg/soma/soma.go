// Package soma defines services as sets of contract types served by one dispatcher, with
// optional cortex tables created on setup and closed on shutdown.
package soma

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/njavilas2015/onbbu/pkg/core"
	"github.com/njavilas2015/onbbu/pkg/cortex"
	"github.com/njavilas2015/onbbu/pkg/dispatcher"
)

const logPrefix = "soma:soma"

// Contract is one named operation of a service.
type Contract interface {
	Name() string
	Validate(ctx context.Context, payload interface{}) (interface{}, error)
	Middleware(ctx context.Context, payload interface{}) (interface{}, error)
	Service(ctx context.Context, payload interface{}) (interface{}, error)
}

// Base gives contracts pass-through Validate and Middleware and a Service that answers
// success with empty data. Embed it and override what the contract needs.
type Base struct{}

func (Base) Validate(_ context.Context, payload interface{}) (interface{}, error) {
	return payload, nil
}

func (Base) Middleware(_ context.Context, payload interface{}) (interface{}, error) {
	return payload, nil
}

func (Base) Service(context.Context, interface{}) (interface{}, error) {
	return core.Success(""), nil
}

// Soma serves contracts on one subject.
type Soma struct {
	d *dispatcher.Dispatcher

	mu     sync.Mutex
	tables []*cortex.Table
}

// New creates a Soma for subject.
func New(subject string, opts ...dispatcher.Option) (*Soma, error) {
	d, err := dispatcher.New(subject, opts...)
	if err != nil {
		return nil, err
	}
	return &Soma{d: d}, nil
}

// Dispatcher returns the underlying dispatcher.
func (s *Soma) Dispatcher() *dispatcher.Dispatcher { return s.d }

// Exceptions sets the error classifier.
func (s *Soma) Exceptions(fn dispatcher.Classifier) {
	s.d.SetClassifier(fn)
}

// Use registers contracts under their names. It stops at the first failure.
func (s *Soma) Use(contracts ...Contract) error {
	for _, c := range contracts {
		if c == nil {
			return fmt.Errorf("%s - nil contract", logPrefix)
		}
		err := s.d.Register(c.Name(), dispatcher.Contract{
			Validate:   c.Validate,
			Middleware: c.Middleware,
			Service:    c.Service,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Cortex creates table if needed and closes it on Die.
func (s *Soma) Cortex(ctx context.Context, table *cortex.Table) error {
	if err := table.CreateTable(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.tables = append(s.tables, table)
	s.mu.Unlock()
	return nil
}

// Live serves registered contracts until Die or until ctx ends.
func (s *Soma) Live(ctx context.Context) error {
	return s.d.Live(ctx)
}

// Die stops the dispatcher and closes the tables given to Cortex.
func (s *Soma) Die(ctx context.Context) error {
	err := s.d.Die(ctx)

	s.mu.Lock()
	tables := s.tables
	s.tables = nil
	s.mu.Unlock()
	for _, t := range tables {
		t.Close()
		slog.Info(fmt.Sprintf("%s - Closed %s", logPrefix, t.Name()))
	}
	return err
}
