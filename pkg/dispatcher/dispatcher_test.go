package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/njavilas2015/onbbu/pkg/commsutil"
	"github.com/njavilas2015/onbbu/pkg/core"
	"github.com/njavilas2015/onbbu/pkg/envelope"
)

const dispatcherTestPrefix = "dispatcher:dispatcher_test"

func echoContract() Contract {
	return Contract{
		Validate:   Identity,
		Middleware: Identity,
		Service: func(_ context.Context, payload interface{}) (interface{}, error) {
			return core.Success(payload), nil
		},
	}
}

func failingContract(err error) Contract {
	return Contract{
		Validate:   Identity,
		Middleware: Identity,
		Service: func(context.Context, interface{}) (interface{}, error) {
			return nil, err
		},
	}
}

func newTestDispatcher(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New("svc.test", opts...)
	if err != nil {
		t.Fatalf("%s - New: %v", dispatcherTestPrefix, err)
	}
	return d
}

func decodeReply(t *testing.T, data []byte) *core.Response {
	t.Helper()
	resp, err := envelope.DecodeResponse(data)
	if err != nil {
		t.Fatalf("%s - reply %s is not a response: %v", dispatcherTestPrefix, data, err)
	}
	return resp
}

func TestNew_InvalidSubject(t *testing.T) {
	for _, subject := range []string{"", "a..b", "svc.*", "svc >"} {
		if _, err := New(subject); err == nil {
			t.Errorf("%s - New(%q) should fail", dispatcherTestPrefix, subject)
		}
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("b", echoContract()); err != nil {
		t.Fatalf("%s - unexpected error: %v", dispatcherTestPrefix, err)
	}
	if err := r.Register("a", echoContract()); err != nil {
		t.Fatalf("%s - unexpected error: %v", dispatcherTestPrefix, err)
	}
	if got := strings.Join(r.Names(), ","); got != "a,b" {
		t.Errorf("%s - Names = %s, want a,b", dispatcherTestPrefix, got)
	}
	if _, ok := r.Resolve("c"); ok {
		t.Errorf("%s - Resolve(c) should miss", dispatcherTestPrefix)
	}

	missing := []Contract{
		{Middleware: Identity, Service: Identity},
		{Validate: Identity, Service: Identity},
		{Validate: Identity, Middleware: Identity},
	}
	for i, c := range missing {
		if err := r.Register("broken", c); !errors.Is(err, ErrStageMissing) {
			t.Errorf("%s - case %d: error = %v, want ErrStageMissing", dispatcherTestPrefix, i, err)
		}
	}
	if err := r.Register("", echoContract()); err == nil {
		t.Errorf("%s - empty name should fail", dispatcherTestPrefix)
	}
	if r.Len() != 2 {
		t.Errorf("%s - Len = %d, want 2", dispatcherTestPrefix, r.Len())
	}
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    core.StatusCode
		message string
	}{
		{"internal", core.NewInternalError("db password is hunter2"), core.StatusError, core.InternalErrorMessage},
		{"not authenticated", core.NewNotAuthenticatedError("token expired"), core.StatusNotAuthenticated, "token expired"},
		{"not found", core.NewNotFoundError("user missing"), core.StatusNotFound, "user missing"},
		{"validation", core.NewValidationError("email invalid"), core.StatusValidationError, "email invalid"},
		{"wrapped", fmt.Errorf("repo: %w", core.NewNotFoundError("row")), core.StatusNotFound, "row"},
		{"not permitted", core.NewNotPermittedError("admins only"), core.StatusError, core.InternalErrorMessage},
		{"plain", errors.New("stack trace here"), core.StatusError, core.InternalErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DefaultClassifier(context.Background(), "svc", "c", tt.err)
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", dispatcherTestPrefix, err)
			}
			if resp.StatusCode != tt.code || resp.Message != tt.message {
				t.Errorf("%s - got {%s %q}, want {%s %q}", dispatcherTestPrefix, resp.StatusCode, resp.Message, tt.code, tt.message)
			}
		})
	}
}

func TestProcess_Echo(t *testing.T) {
	d := newTestDispatcher(t)
	if err := d.Register("echo", echoContract()); err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}

	data, err := d.Process(context.Background(), []byte(`{"name":"echo","payload":{"v":1}}`))
	if err != nil {
		t.Fatalf("%s - Process: %v", dispatcherTestPrefix, err)
	}
	if string(data) != `{"statusCode":"success","data":{"v":1}}` {
		t.Errorf("%s - reply = %s", dispatcherTestPrefix, data)
	}
}

func TestProcess_ServiceOutputVerbatim(t *testing.T) {
	d := newTestDispatcher(t)
	err := d.Register("raw", Contract{
		Validate:   Identity,
		Middleware: Identity,
		Service: func(context.Context, interface{}) (interface{}, error) {
			return map[string]interface{}{"hello": "world"}, nil
		},
	})
	if err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}

	data, err := d.Process(context.Background(), []byte(`{"name":"raw","payload":{}}`))
	if err != nil {
		t.Fatalf("%s - Process: %v", dispatcherTestPrefix, err)
	}
	if string(data) != `{"hello":"world"}` {
		t.Errorf("%s - reply = %s, want service output untouched", dispatcherTestPrefix, data)
	}
}

func TestProcess_UnknownContract(t *testing.T) {
	d := newTestDispatcher(t)
	if err := d.Register("echo", echoContract()); err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}

	data, err := d.Process(context.Background(), []byte(`{"name":"ghost","payload":{}}`))
	if err != nil {
		t.Fatalf("%s - Process: %v", dispatcherTestPrefix, err)
	}
	resp := decodeReply(t, data)
	if resp.StatusCode != core.StatusError || resp.Message != ContractNotFoundMessage {
		t.Errorf("%s - got %+v, want contract not found", dispatcherTestPrefix, resp)
	}
}

func TestProcess_Malformed(t *testing.T) {
	var called atomic.Int32
	d := newTestDispatcher(t)
	err := d.Register("echo", Contract{
		Validate: func(_ context.Context, p interface{}) (interface{}, error) {
			called.Add(1)
			return p, nil
		},
		Middleware: Identity,
		Service:    Identity,
	})
	if err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}

	for _, raw := range []string{`not json`, ``, `[]`, `{"payload":{}}`, `{"name":"echo"}`, `{"name":"echo","payload":[]}`} {
		data, err := d.Process(context.Background(), []byte(raw))
		if err != nil {
			t.Fatalf("%s - Process(%q): %v", dispatcherTestPrefix, raw, err)
		}
		resp := decodeReply(t, data)
		if resp.StatusCode != core.StatusError || resp.Message != ParseErrorMessage {
			t.Errorf("%s - Process(%q) = %+v, want parse error", dispatcherTestPrefix, raw, resp)
		}
	}
	if called.Load() != 0 {
		t.Errorf("%s - no stage may run for malformed calls, ran %d", dispatcherTestPrefix, called.Load())
	}
}

func TestProcess_StageOrder(t *testing.T) {
	var trace []string
	step := func(label string) Stage {
		return func(_ context.Context, p interface{}) (interface{}, error) {
			trace = append(trace, label)
			m := p.(map[string]interface{})
			m[label] = true
			return m, nil
		}
	}
	d := newTestDispatcher(t)
	err := d.Register("ordered", Contract{
		Validate:   step("validate"),
		Middleware: step("middleware"),
		Service: func(ctx context.Context, p interface{}) (interface{}, error) {
			out, _ := step("service")(ctx, p)
			return core.Success(out), nil
		},
	})
	if err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}

	data, err := d.Process(context.Background(), []byte(`{"name":"ordered","payload":{}}`))
	if err != nil {
		t.Fatalf("%s - Process: %v", dispatcherTestPrefix, err)
	}
	if got := strings.Join(trace, ">"); got != "validate>middleware>service" {
		t.Errorf("%s - stage order = %s", dispatcherTestPrefix, got)
	}
	want := `{"statusCode":"success","data":{"middleware":true,"service":true,"validate":true}}`
	if string(data) != want {
		t.Errorf("%s - reply = %s, want %s", dispatcherTestPrefix, data, want)
	}
}

func TestProcess_ValidateFailureStopsPipeline(t *testing.T) {
	var ran atomic.Int32
	count := func(_ context.Context, p interface{}) (interface{}, error) {
		ran.Add(1)
		return p, nil
	}
	d := newTestDispatcher(t)
	err := d.Register("signup", Contract{
		Validate: func(context.Context, interface{}) (interface{}, error) {
			return nil, core.NewValidationError("email: invalid")
		},
		Middleware: count,
		Service:    count,
	})
	if err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}

	data, err := d.Process(context.Background(), []byte(`{"name":"signup","payload":{"email":"x"}}`))
	if err != nil {
		t.Fatalf("%s - Process: %v", dispatcherTestPrefix, err)
	}
	resp := decodeReply(t, data)
	if resp.StatusCode != core.StatusValidationError || resp.Message != "email: invalid" {
		t.Errorf("%s - got %+v", dispatcherTestPrefix, resp)
	}
	if ran.Load() != 0 {
		t.Errorf("%s - later stages ran %d times", dispatcherTestPrefix, ran.Load())
	}
}

func TestProcess_ClassifiedFailures(t *testing.T) {
	d := newTestDispatcher(t)
	contracts := map[string]error{
		"missing": core.NewNotFoundError("user missing"),
		"secret":  core.NewInternalError("connection refused 10.0.0.3"),
		"anon":    core.NewNotAuthenticatedError("Unauthorized, Invalid Token"),
		"plain":   errors.New("nil pointer somewhere"),
	}
	for name, err := range contracts {
		if rerr := d.Register(name, failingContract(err)); rerr != nil {
			t.Fatalf("%s - Register: %v", dispatcherTestPrefix, rerr)
		}
	}

	want := map[string]core.Response{
		"missing": {StatusCode: core.StatusNotFound, Message: "user missing"},
		"secret":  {StatusCode: core.StatusError, Message: core.InternalErrorMessage},
		"anon":    {StatusCode: core.StatusNotAuthenticated, Message: "Unauthorized, Invalid Token"},
		"plain":   {StatusCode: core.StatusError, Message: core.InternalErrorMessage},
	}
	for name, w := range want {
		data, err := d.Process(context.Background(), []byte(fmt.Sprintf(`{"name":%q,"payload":{}}`, name)))
		if err != nil {
			t.Fatalf("%s - Process(%s): %v", dispatcherTestPrefix, name, err)
		}
		resp := decodeReply(t, data)
		if resp.StatusCode != w.StatusCode || resp.Message != w.Message {
			t.Errorf("%s - %s: got {%s %q}, want {%s %q}", dispatcherTestPrefix, name, resp.StatusCode, resp.Message, w.StatusCode, w.Message)
		}
	}
}

func TestProcess_PanickingStage(t *testing.T) {
	d := newTestDispatcher(t)
	err := d.Register("boom", Contract{
		Validate:   Identity,
		Middleware: func(context.Context, interface{}) (interface{}, error) { panic("kaboom") },
		Service:    Identity,
	})
	if err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}

	data, err := d.Process(context.Background(), []byte(`{"name":"boom","payload":{}}`))
	if err != nil {
		t.Fatalf("%s - Process: %v", dispatcherTestPrefix, err)
	}
	resp := decodeReply(t, data)
	if resp.StatusCode != core.StatusError || resp.Message != core.InternalErrorMessage {
		t.Errorf("%s - got %+v, want generic internal error", dispatcherTestPrefix, resp)
	}
}

func TestProcess_BrokenClassifier(t *testing.T) {
	classifiers := map[string]Classifier{
		"error": func(context.Context, string, string, error) (*core.Response, error) {
			return nil, errors.New("classifier down")
		},
		"nil": func(context.Context, string, string, error) (*core.Response, error) {
			return nil, nil
		},
		"panic": func(context.Context, string, string, error) (*core.Response, error) {
			panic("classifier bug")
		},
	}
	for name, c := range classifiers {
		t.Run(name, func(t *testing.T) {
			d := newTestDispatcher(t, WithClassifier(c))
			if err := d.Register("fail", failingContract(errors.New("x"))); err != nil {
				t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
			}
			data, err := d.Process(context.Background(), []byte(`{"name":"fail","payload":{}}`))
			if err != nil {
				t.Fatalf("%s - Process: %v", dispatcherTestPrefix, err)
			}
			if string(data) != `{"statusCode":"error","message":"InternalError"}` {
				t.Errorf("%s - reply = %s, want fallback", dispatcherTestPrefix, data)
			}
		})
	}
}

func TestProcess_CustomClassifier(t *testing.T) {
	d := newTestDispatcher(t)
	d.SetClassifier(func(_ context.Context, origin, stage string, err error) (*core.Response, error) {
		var forbidden *core.NotPermittedError
		if errors.As(err, &forbidden) {
			return core.Fail(core.StatusNotPermitted, origin+"/"+stage+": "+forbidden.Message), nil
		}
		return DefaultClassifier(context.Background(), origin, stage, err)
	})
	if err := d.Register("admin", failingContract(core.NewNotPermittedError("admins only"))); err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}

	data, err := d.Process(context.Background(), []byte(`{"name":"admin","payload":{}}`))
	if err != nil {
		t.Fatalf("%s - Process: %v", dispatcherTestPrefix, err)
	}
	resp := decodeReply(t, data)
	if resp.StatusCode != core.StatusNotPermitted || resp.Message != "svc.test/admin: admins only" {
		t.Errorf("%s - got %+v", dispatcherTestPrefix, resp)
	}
}

func TestProcess_UnencodableOutput(t *testing.T) {
	d := newTestDispatcher(t)
	err := d.Register("chan", Contract{
		Validate:   Identity,
		Middleware: Identity,
		Service: func(context.Context, interface{}) (interface{}, error) {
			return make(chan int), nil
		},
	})
	if err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}
	if _, err := d.Process(context.Background(), []byte(`{"name":"chan","payload":{}}`)); err == nil {
		t.Errorf("%s - expected encode error", dispatcherTestPrefix)
	}
}

func TestProcess_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("%s - NewMetrics: %v", dispatcherTestPrefix, err)
	}
	d := newTestDispatcher(t, WithMetrics(m))
	if err := d.Register("echo", echoContract()); err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}

	for i := 0; i < 3; i++ {
		if _, err := d.Process(context.Background(), []byte(`{"name":"echo","payload":{}}`)); err != nil {
			t.Fatalf("%s - Process: %v", dispatcherTestPrefix, err)
		}
	}
	if _, err := d.Process(context.Background(), []byte(`{"name":"ghost","payload":{}}`)); err != nil {
		t.Fatalf("%s - Process: %v", dispatcherTestPrefix, err)
	}

	if got := testutil.ToFloat64(m.calls.WithLabelValues("svc.test", "echo", "success")); got != 3 {
		t.Errorf("%s - echo success calls = %v, want 3", dispatcherTestPrefix, got)
	}
	if got := testutil.ToFloat64(m.calls.WithLabelValues("svc.test", "-", "error")); got != 1 {
		t.Errorf("%s - unknown contract calls = %v, want 1", dispatcherTestPrefix, got)
	}
	if got := testutil.ToFloat64(m.inFlight.WithLabelValues("svc.test")); got != 0 {
		t.Errorf("%s - in flight = %v, want 0", dispatcherTestPrefix, got)
	}

	again, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("%s - second NewMetrics should reuse collectors: %v", dispatcherTestPrefix, err)
	}
	if again.calls != m.calls {
		t.Errorf("%s - expected collectors to be shared", dispatcherTestPrefix)
	}
}

func startServer(t *testing.T, port int) *commsserver.Server {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", dispatcherTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", dispatcherTestPrefix)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

// goLive starts d and waits until its subscription is active.
func goLive(t *testing.T, d *Dispatcher) <-chan error {
	t.Helper()
	errs := make(chan error, 1)
	go func() { errs <- d.Live(context.Background()) }()
	select {
	case <-d.Ready():
	case err := <-errs:
		t.Fatalf("%s - Live returned early: %v", dispatcherTestPrefix, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - dispatcher not ready", dispatcherTestPrefix)
	}
	return errs
}

func request(t *testing.T, nc *comms.Conn, subject, name string, payload interface{}) *core.Response {
	t.Helper()
	data, err := envelope.EncodeCall(name, payload)
	if err != nil {
		t.Fatalf("%s - EncodeCall: %v", dispatcherTestPrefix, err)
	}
	msg, err := nc.Request(subject, data, 5*time.Second)
	if err != nil {
		t.Fatalf("%s - request %s: %v", dispatcherTestPrefix, name, err)
	}
	return decodeReply(t, msg.Data)
}

func TestLive_ConcurrentContracts(t *testing.T) {
	ns := startServer(t, 14260)

	release := make(chan struct{})
	d := newTestDispatcher(t, WithURL(ns.ClientURL()), WithConnOptions(comms.MaxReconnects(0)))
	err := d.Register("slow", Contract{
		Validate:   Identity,
		Middleware: Identity,
		Service: func(context.Context, interface{}) (interface{}, error) {
			<-release
			return core.Success("slow"), nil
		},
	})
	if err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}
	if err := d.Register("fast", echoContract()); err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}
	errs := goLive(t, d)

	if d.State() != StateConnected {
		t.Errorf("%s - State = %s, want connected", dispatcherTestPrefix, d.State())
	}
	if err := d.Register("late", echoContract()); !errors.Is(err, ErrLive) {
		t.Errorf("%s - Register after Live = %v, want ErrLive", dispatcherTestPrefix, err)
	}

	nc, err := commsutil.Connect(ns.ClientURL(), "dispatcher-test-client")
	if err != nil {
		t.Fatalf("%s - connect: %v", dispatcherTestPrefix, err)
	}
	defer nc.Close()

	slowDone := make(chan *core.Response, 1)
	go func() {
		data, _ := envelope.EncodeCall("slow", nil)
		msg, err := nc.Request("svc.test", data, 5*time.Second)
		if err != nil {
			slowDone <- nil
			return
		}
		resp, _ := envelope.DecodeResponse(msg.Data)
		slowDone <- resp
	}()

	resp := request(t, nc, "svc.test", "fast", map[string]interface{}{"n": 1})
	if resp.StatusCode != core.StatusSuccess {
		t.Errorf("%s - fast reply = %+v", dispatcherTestPrefix, resp)
	}
	select {
	case <-slowDone:
		t.Fatalf("%s - slow contract finished before release", dispatcherTestPrefix)
	default:
	}

	close(release)
	select {
	case resp := <-slowDone:
		if resp == nil || resp.StatusCode != core.StatusSuccess || resp.Data != "slow" {
			t.Errorf("%s - slow reply = %+v", dispatcherTestPrefix, resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - slow reply never arrived", dispatcherTestPrefix)
	}

	if err := d.Die(context.Background()); err != nil {
		t.Errorf("%s - Die: %v", dispatcherTestPrefix, err)
	}
	if err := <-errs; err != nil {
		t.Errorf("%s - Live returned %v after Die", dispatcherTestPrefix, err)
	}
	if d.State() != StateClosed {
		t.Errorf("%s - State = %s, want closed", dispatcherTestPrefix, d.State())
	}
	if err := d.Die(context.Background()); err != nil {
		t.Errorf("%s - second Die: %v", dispatcherTestPrefix, err)
	}
}

func TestLive_QueueGroupDeliversOnce(t *testing.T) {
	ns := startServer(t, 14261)

	var handled [2]atomic.Int32
	workers := make([]*Dispatcher, 2)
	for i := range workers {
		i := i
		d := newTestDispatcher(t, WithURL(ns.ClientURL()), WithName(fmt.Sprintf("worker-%d", i)))
		err := d.Register("count", Contract{
			Validate:   Identity,
			Middleware: Identity,
			Service: func(context.Context, interface{}) (interface{}, error) {
				handled[i].Add(1)
				return core.Success(i), nil
			},
		})
		if err != nil {
			t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
		}
		goLive(t, d)
		workers[i] = d
	}
	defer func() {
		for _, d := range workers {
			_ = d.Die(context.Background())
		}
	}()

	nc, err := commsutil.Connect(ns.ClientURL(), "queue-test-client")
	if err != nil {
		t.Fatalf("%s - connect: %v", dispatcherTestPrefix, err)
	}
	defer nc.Close()

	const calls = 40
	var wg sync.WaitGroup
	var replies atomic.Int32
	for n := 0; n < calls; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, _ := envelope.EncodeCall("count", nil)
			if _, err := nc.Request("svc.test", data, 5*time.Second); err == nil {
				replies.Add(1)
			}
		}()
	}
	wg.Wait()

	if replies.Load() != calls {
		t.Errorf("%s - replies = %d, want %d", dispatcherTestPrefix, replies.Load(), calls)
	}
	if total := handled[0].Load() + handled[1].Load(); total != calls {
		t.Errorf("%s - handled %d calls across workers, want exactly %d", dispatcherTestPrefix, total, calls)
	}
}

func TestDie_DrainsInFlight(t *testing.T) {
	ns := startServer(t, 14262)

	started := make(chan struct{})
	d := newTestDispatcher(t, WithURL(ns.ClientURL()), WithDrainTimeout(5*time.Second))
	err := d.Register("work", Contract{
		Validate:   Identity,
		Middleware: Identity,
		Service: func(context.Context, interface{}) (interface{}, error) {
			close(started)
			time.Sleep(200 * time.Millisecond)
			return core.Success("done"), nil
		},
	})
	if err != nil {
		t.Fatalf("%s - Register: %v", dispatcherTestPrefix, err)
	}
	goLive(t, d)

	nc, err := commsutil.Connect(ns.ClientURL(), "drain-test-client")
	if err != nil {
		t.Fatalf("%s - connect: %v", dispatcherTestPrefix, err)
	}
	defer nc.Close()

	got := make(chan *core.Response, 1)
	go func() {
		data, _ := envelope.EncodeCall("work", nil)
		msg, err := nc.Request("svc.test", data, 5*time.Second)
		if err != nil {
			got <- nil
			return
		}
		resp, _ := envelope.DecodeResponse(msg.Data)
		got <- resp
	}()

	<-started
	if err := d.Die(context.Background()); err != nil {
		t.Errorf("%s - Die: %v", dispatcherTestPrefix, err)
	}

	resp := <-got
	if resp == nil || resp.Data != "done" {
		t.Errorf("%s - in-flight call lost on Die: %+v", dispatcherTestPrefix, resp)
	}
}

func TestLive_AfterDie(t *testing.T) {
	d := newTestDispatcher(t)
	if err := d.Die(context.Background()); err != nil {
		t.Fatalf("%s - Die: %v", dispatcherTestPrefix, err)
	}
	if err := d.Live(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("%s - Live after Die = %v, want ErrClosed", dispatcherTestPrefix, err)
	}
	if err := d.Register("x", echoContract()); !errors.Is(err, ErrClosed) {
		t.Errorf("%s - Register after Die = %v, want ErrClosed", dispatcherTestPrefix, err)
	}
}

func TestState_String(t *testing.T) {
	want := map[State]string{
		StateUnconnected: "unconnected",
		StateConnecting:  "connecting",
		StateConnected:   "connected",
		StateClosed:      "closed",
		State(9):         "state(9)",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("%s - %d.String() = %s, want %s", dispatcherTestPrefix, int(s), s.String(), w)
		}
	}
}
