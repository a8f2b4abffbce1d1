// Package dispatcher serves contracts on a COMMS subject as one member of the shared
// "worker" queue group.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/njavilas2015/onbbu/pkg/commsutil"
	"github.com/njavilas2015/onbbu/pkg/core"
	"github.com/njavilas2015/onbbu/pkg/envelope"
)

const logPrefix = "dispatcher:dispatch"

const (
	// ParseErrorMessage is the message for payloads that are not a valid envelope.
	ParseErrorMessage = "Error parser data in api"
	// ContractNotFoundMessage is the message for envelopes naming an unknown contract.
	ContractNotFoundMessage = "Contract not found"

	defaultDrainTimeout = 10 * time.Second
	defaultPending      = 1024
)

// Replies that are sent without going through the codec, so they cannot fail.
var (
	parseErrorReply       = []byte(`{"statusCode":"error","message":"Error parser data in api"}`)
	contractNotFoundReply = []byte(`{"statusCode":"error","message":"Contract not found"}`)
	fallbackReply         = []byte(`{"statusCode":"error","message":"InternalError"}`)
)

var (
	// ErrClosed is returned by operations on a dispatcher after Die.
	ErrClosed = errors.New("dispatcher closed")
	// ErrLive is returned when registering contracts once the dispatcher is live.
	ErrLive = errors.New("dispatcher already live")
)

// State is the connection state of a dispatcher.
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

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithURL sets the COMMS server URL.
func WithURL(url string) Option {
	return func(d *Dispatcher) { d.url = url }
}

// WithName sets the client name announced to the COMMS server.
func WithName(name string) Option {
	return func(d *Dispatcher) { d.name = name }
}

// WithConnOptions appends COMMS connection options.
func WithConnOptions(opts ...comms.Option) Option {
	return func(d *Dispatcher) { d.connOpts = append(d.connOpts, opts...) }
}

// WithConn makes the dispatcher use an existing connection. Die does not close it.
func WithConn(nc *comms.Conn) Option {
	return func(d *Dispatcher) { d.nc = nc }
}

// WithClassifier replaces the default error classifier.
func WithClassifier(c Classifier) Option {
	return func(d *Dispatcher) { d.classifier = c }
}

// WithDrainTimeout bounds how long Die waits for in-flight calls.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.drainTimeout = timeout }
}

// WithMetrics records calls on m.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher subscribes to one subject and runs the validate, middleware and service stages
// of the contract each call names.
type Dispatcher struct {
	subject      string
	url          string
	name         string
	connOpts     []comms.Option
	drainTimeout time.Duration
	metrics      *Metrics
	tracer       trace.Tracer

	registry   *Registry
	classifier Classifier

	mu       sync.Mutex
	state    State
	nc       *comms.Conn
	ownsConn bool
	sub      *comms.Subscription
	running  bool

	ready    chan struct{}
	done     chan struct{}
	loopDone chan struct{}
	inFlight sync.WaitGroup
}

// New creates a Dispatcher for subject. Nothing is connected until Connect or Live.
func New(subject string, opts ...Option) (*Dispatcher, error) {
	if err := commsutil.ValidateSubject(subject); err != nil {
		return nil, fmt.Errorf("%s - invalid subject: %w", logPrefix, err)
	}

	d := &Dispatcher{
		subject:      subject,
		url:          comms.DefaultURL,
		name:         subject,
		drainTimeout: defaultDrainTimeout,
		registry:     NewRegistry(),
		classifier:   DefaultClassifier,
		tracer:       otel.Tracer("github.com/njavilas2015/onbbu/pkg/dispatcher"),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.classifier == nil {
		d.classifier = DefaultClassifier
	}
	if d.nc != nil && d.nc.IsConnected() {
		d.state = StateConnected
	}
	return d, nil
}

// Subject returns the subject the dispatcher serves.
func (d *Dispatcher) Subject() string { return d.subject }

// State returns the current connection state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Registry exposes the contract registry (read-only once live).
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Ready is closed once Live has subscribed and the subscription reached the server.
func (d *Dispatcher) Ready() <-chan struct{} { return d.ready }

// Register adds a contract. It must be called before Live.
func (d *Dispatcher) Register(name string, c Contract) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateClosed {
		return ErrClosed
	}
	if d.running {
		return fmt.Errorf("%s - cannot register %s: %w", logPrefix, name, ErrLive)
	}
	if err := d.registry.Register(name, c); err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}
	slog.Debug(fmt.Sprintf("%s - Registered contract %s on %s", logPrefix, name, d.subject))
	return nil
}

// SetClassifier replaces the error classifier. nil restores DefaultClassifier.
func (d *Dispatcher) SetClassifier(c Classifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c == nil {
		c = DefaultClassifier
	}
	d.classifier = c
}

// Connect establishes the COMMS connection, or does nothing when already connected.
func (d *Dispatcher) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.state = StateConnecting
	if d.nc == nil {
		nc, err := commsutil.Connect(d.url, d.name, d.connOpts...)
		if err != nil {
			d.state = StateUnconnected
			return fmt.Errorf("%s - failed to connect: %w", logPrefix, err)
		}
		d.nc = nc
		d.ownsConn = true
	}
	d.state = StateConnected
	return nil
}

// Live connects if needed, subscribes to the subject in the "worker" queue group and
// consumes messages, each in its own goroutine. It returns nil after Die, or ctx.Err()
// when ctx ends first.
func (d *Dispatcher) Live(ctx context.Context) error {
	if err := d.Connect(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("%s - %s: %w", logPrefix, d.subject, ErrLive)
	}
	msgs := make(chan *comms.Msg, defaultPending)
	sub, err := d.nc.ChanQueueSubscribe(d.subject, commsutil.QueueGroup, msgs)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, d.subject, err)
	}
	d.sub = sub
	d.running = true
	nc := d.nc
	d.mu.Unlock()

	defer close(d.loopDone)

	if err := nc.Flush(); err != nil {
		slog.Warn(fmt.Sprintf("%s - flush after subscribe failed: %v", logPrefix, err))
	}
	slog.Info(fmt.Sprintf("%s - Serving %d contracts on %s (queue %s)", logPrefix, d.registry.Len(), d.subject, commsutil.QueueGroup))
	close(d.ready)

	// Calls outlive the Live context so that Die can drain them.
	callCtx := context.WithoutCancel(ctx)

	for {
		select {
		case msg := <-msgs:
			d.spawn(callCtx, msg)
		case <-d.done:
			// Messages already delivered before the unsubscribe are still served.
			for {
				select {
				case msg := <-msgs:
					d.spawn(callCtx, msg)
				default:
					return nil
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) spawn(ctx context.Context, msg *comms.Msg) {
	d.inFlight.Add(1)
	go func() {
		defer d.inFlight.Done()
		d.handle(ctx, msg)
	}()
}

func (d *Dispatcher) handle(ctx context.Context, msg *comms.Msg) {
	reply, err := d.Process(ctx, msg.Data)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - no reply sent on %s: %v", logPrefix, d.subject, err))
		return
	}
	if msg.Reply == "" {
		slog.Debug(fmt.Sprintf("%s - message on %s has no reply subject, reply dropped", logPrefix, d.subject))
		return
	}
	if err := msg.Respond(reply); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond on %s: %v", logPrefix, d.subject, err))
	}
}

// Process runs one raw call through decode, lookup, pipeline and classification and returns
// the reply bytes. An error means no reply can be produced (the service output could not be
// encoded).
func (d *Dispatcher) Process(ctx context.Context, data []byte) ([]byte, error) {
	started := time.Now()
	d.metrics.begin(d.subject)

	env, err := envelope.DecodeCall(data)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - rejected call on %s: %v", logPrefix, d.subject, err))
		d.metrics.end(d.subject, "-", string(core.StatusError), started)
		return parseErrorReply, nil
	}

	contract, ok := d.registry.Resolve(env.Name)
	if !ok {
		slog.Debug(fmt.Sprintf("%s - contract %s not found on %s", logPrefix, env.Name, d.subject))
		d.metrics.end(d.subject, "-", string(core.StatusError), started)
		return contractNotFoundReply, nil
	}

	slog.Debug(fmt.Sprintf("%s - contract=%s subject=%s", logPrefix, env.Name, d.subject))

	out, err := d.run(ctx, env.Name, contract, env.Payload)
	if err != nil {
		reply, status := d.classify(ctx, env.Name, err)
		d.metrics.end(d.subject, env.Name, status, started)
		return reply, nil
	}

	// Service output is the reply as-is; contracts shape their own responses.
	reply, err := commsutil.EncodePayload(out)
	if err != nil {
		d.metrics.end(d.subject, env.Name, "unencodable", started)
		return nil, fmt.Errorf("contract %s: %w", env.Name, err)
	}
	d.metrics.end(d.subject, env.Name, statusLabel(out), started)
	return reply, nil
}

func (d *Dispatcher) run(ctx context.Context, name string, c Contract, payload interface{}) (out interface{}, err error) {
	ctx, span := d.tracer.Start(ctx, "contract "+name, trace.WithAttributes(
		attribute.String("onbbu.subject", d.subject),
		attribute.String("onbbu.contract", name),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("contract %s panicked: %v", name, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "contract failed")
		}
		span.End()
	}()

	raw, err := c.Validate(ctx, payload)
	if err != nil {
		return nil, err
	}
	raw, err = c.Middleware(ctx, raw)
	if err != nil {
		return nil, err
	}
	return c.Service(ctx, raw)
}

// classify never fails: a broken classifier yields the fallback reply.
func (d *Dispatcher) classify(ctx context.Context, name string, failure error) (reply []byte, status string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - classifier panicked for %s: %v", logPrefix, name, r))
			reply, status = fallbackReply, string(core.StatusError)
		}
	}()

	d.mu.Lock()
	classifier := d.classifier
	d.mu.Unlock()

	if core.StatusOf(failure) == core.StatusError {
		slog.Error(fmt.Sprintf("%s - contract %s on %s failed: %v", logPrefix, name, d.subject, failure))
	}

	resp, err := classifier(ctx, d.subject, name, failure)
	if err != nil || resp == nil {
		slog.Error(fmt.Sprintf("%s - classifier failed for %s: %v", logPrefix, name, err))
		return fallbackReply, string(core.StatusError)
	}
	data, err := envelope.EncodeResponse(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - classified response for %s not encodable: %v", logPrefix, name, err))
		return fallbackReply, string(core.StatusError)
	}
	return data, string(resp.StatusCode)
}

// Die stops consuming, waits up to the drain timeout for in-flight calls, then flushes and
// closes the connection. Calling it more than once is a no-op.
func (d *Dispatcher) Die(ctx context.Context) error {
	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return nil
	}
	prev := d.state
	d.state = StateClosed
	sub, running, nc, owns := d.sub, d.running, d.nc, d.ownsConn
	d.mu.Unlock()

	close(d.done)
	if prev != StateConnected {
		return nil
	}

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe from %s failed: %v", logPrefix, d.subject, err))
		}
	}
	if running {
		<-d.loopDone
	}

	if !d.drain(ctx) {
		slog.Warn(fmt.Sprintf("%s - in-flight calls on %s still running after %s", logPrefix, d.subject, d.drainTimeout))
	}

	flushCtx, cancel := context.WithTimeout(ctx, d.drainTimeout)
	defer cancel()
	var err error
	if ferr := nc.FlushWithContext(flushCtx); ferr != nil {
		err = fmt.Errorf("%s - flush failed: %w", logPrefix, ferr)
	}
	if owns {
		nc.Close()
	}
	slog.Info(fmt.Sprintf("%s - Dispatcher for %s closed", logPrefix, d.subject))
	return err
}

func (d *Dispatcher) drain(ctx context.Context) bool {
	idle := make(chan struct{})
	go func() {
		d.inFlight.Wait()
		close(idle)
	}()

	timer := time.NewTimer(d.drainTimeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// asResponse passes service output through untouched unless it is a Response value.
func asResponse(out interface{}) *core.Response {
	switch v := out.(type) {
	case *core.Response:
		return v
	case core.Response:
		return &v
	default:
		return nil
	}
}

func statusLabel(out interface{}) string {
	if resp := asResponse(out); resp != nil {
		return string(resp.StatusCode)
	}
	if m, ok := out.(map[string]interface{}); ok {
		if s, ok := m["statusCode"].(string); ok {
			return s
		}
	}
	return "unknown"
}
