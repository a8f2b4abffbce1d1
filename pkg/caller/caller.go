// Package caller invokes contracts served by dispatchers on a COMMS subject.
package caller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/njavilas2015/onbbu/pkg/commsutil"
	"github.com/njavilas2015/onbbu/pkg/core"
	"github.com/njavilas2015/onbbu/pkg/envelope"
)

const logPrefix = "caller:caller"

const defaultRequestTimeout = 10 * time.Second

var (
	// ErrNotConnected is returned by calls made before Connect or after Die.
	ErrNotConnected = errors.New("caller not connected")
	// ErrTimeout is returned when no reply arrives in time.
	ErrTimeout = errors.New("call timed out")
	// ErrNoResponders is returned when no dispatcher listens on the subject.
	ErrNoResponders = errors.New("no dispatcher on subject")
)

// State is the connection state of a caller.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a Caller.
type Option func(*Caller)

// WithURL sets the COMMS server URL.
func WithURL(url string) Option {
	return func(c *Caller) { c.url = url }
}

// WithName sets the client name announced to the COMMS server.
func WithName(name string) Option {
	return func(c *Caller) { c.name = name }
}

// WithConn makes the caller use an existing connection. Die does not close it.
func WithConn(nc *comms.Conn) Option {
	return func(c *Caller) { c.nc = nc }
}

// WithConnOptions appends COMMS connection options.
func WithConnOptions(opts ...comms.Option) Option {
	return func(c *Caller) { c.connOpts = append(c.connOpts, opts...) }
}

// WithRequestTimeout sets the timeout applied to calls whose context has no deadline.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Caller) { c.timeout = timeout }
}

// Caller sends calls to the dispatchers of one subject.
type Caller struct {
	subject  string
	url      string
	name     string
	timeout  time.Duration
	connOpts []comms.Option

	mu       sync.Mutex
	state    State
	nc       *comms.Conn
	ownsConn bool
}

// New creates a Caller for subject. It does not connect; call Connect before the first call.
func New(subject string, opts ...Option) (*Caller, error) {
	if err := commsutil.ValidateSubject(subject); err != nil {
		return nil, fmt.Errorf("%s - invalid subject: %w", logPrefix, err)
	}

	c := &Caller{
		subject: subject,
		url:     comms.DefaultURL,
		name:    subject + "-caller",
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = defaultRequestTimeout
	}
	if c.nc != nil && c.nc.IsConnected() {
		c.state = StateConnected
	}
	return c, nil
}

// Subject returns the subject calls are sent to.
func (c *Caller) Subject() string { return c.subject }

// State returns the current connection state.
func (c *Caller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the COMMS connection, or does nothing when already connected.
func (c *Caller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnected:
		return nil
	case StateClosed:
		return fmt.Errorf("%s - caller for %s is closed: %w", logPrefix, c.subject, ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.state = StateConnecting
	if c.nc == nil {
		nc, err := commsutil.Connect(c.url, c.name, c.connOpts...)
		if err != nil {
			c.state = StateUnconnected
			return fmt.Errorf("%s - failed to connect: %w", logPrefix, err)
		}
		c.nc = nc
		c.ownsConn = true
	}
	c.state = StateConnected
	return nil
}

func (c *Caller) conn() (*comms.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil, fmt.Errorf("%s - %s is %s: %w", logPrefix, c.subject, c.state, ErrNotConnected)
	}
	return c.nc, nil
}

// Call sends payload to contract name and waits for the reply. A ctx without a deadline gets
// the request timeout. Transport failures are returned as errors, never as a Response.
func (c *Caller) Call(ctx context.Context, payload interface{}, name string) (*core.Response, error) {
	nc, err := c.conn()
	if err != nil {
		return nil, err
	}
	data, err := envelope.EncodeCall(name, payload)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := nc.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		switch {
		case errors.Is(err, comms.ErrNoResponders):
			return nil, fmt.Errorf("%s - call %s on %s: %w", logPrefix, name, c.subject, ErrNoResponders)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, comms.ErrTimeout):
			return nil, fmt.Errorf("%s - call %s on %s: %w", logPrefix, name, c.subject, ErrTimeout)
		default:
			return nil, fmt.Errorf("%s - call %s on %s failed: %w", logPrefix, name, c.subject, err)
		}
	}

	resp, err := envelope.DecodeResponse(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("%s - reply to %s on %s: %w", logPrefix, name, c.subject, err)
	}
	slog.Debug(fmt.Sprintf("%s - %s/%s -> %s", logPrefix, c.subject, name, resp.StatusCode))
	return resp, nil
}

// CallAsync sends payload to contract name without waiting. The reply, if any, goes to a
// fresh inbox nobody listens on.
func (c *Caller) CallAsync(ctx context.Context, payload interface{}, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nc, err := c.conn()
	if err != nil {
		return err
	}
	data, err := envelope.EncodeCall(name, payload)
	if err != nil {
		return err
	}
	if err := nc.PublishRequest(c.subject, nc.NewRespInbox(), data); err != nil {
		return fmt.Errorf("%s - failed to publish %s on %s: %w", logPrefix, name, c.subject, err)
	}
	return nil
}

// SendSignal is Call under the name gateways use.
func (c *Caller) SendSignal(ctx context.Context, payload interface{}, name string) (*core.Response, error) {
	return c.Call(ctx, payload, name)
}

// SendSignalAsync is CallAsync under the name gateways use.
func (c *Caller) SendSignalAsync(ctx context.Context, payload interface{}, name string) error {
	return c.CallAsync(ctx, payload, name)
}

// Die flushes pending publishes and closes the connection. Calling it more than once is a
// no-op.
func (c *Caller) Die(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	c.state = StateClosed
	if prev != StateConnected {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var err error
	if ferr := c.nc.FlushWithContext(ctx); ferr != nil {
		err = fmt.Errorf("%s - flush failed: %w", logPrefix, ferr)
	}
	if c.ownsConn {
		c.nc.Close()
	}
	slog.Info(fmt.Sprintf("%s - Caller for %s closed", logPrefix, c.subject))
	return err
}
