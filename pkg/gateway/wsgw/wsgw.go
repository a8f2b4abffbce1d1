// Package wsgw exposes contracts over websockets. Clients send {event, payload} frames; each
// known event is forwarded to its contract and answered with {event: event_out, payload:
// response}.
package wsgw

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/njavilas2015/onbbu/pkg/commsutil"
	"github.com/njavilas2015/onbbu/pkg/core"
	"github.com/njavilas2015/onbbu/pkg/gateway"
)

const logPrefix = "wsgw:wsgw"

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	maxFrameBytes       = 1 << 20
)

// Options configures a Gateway.
type Options struct {
	// PingInterval is how often clients are pinged. A client that did not answer the previous
	// ping is disconnected.
	PingInterval time.Duration
	// CheckOrigin overrides the upgrader origin check. nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
	// RequestTimeout bounds each forwarded call. Zero leaves it to the caller's own timeout.
	RequestTimeout time.Duration
}

// Frame is an inbound or outbound websocket message.
type Frame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type binding struct {
	eventOut string
	name     string
	signaler gateway.Signaler
}

// Gateway upgrades HTTP requests to websockets and routes their frames to contracts.
type Gateway struct {
	opts     Options
	upgrader websocket.Upgrader
	routes   map[string]binding

	mu    sync.Mutex
	conns map[string]*conn
	wg    sync.WaitGroup
	dying bool
}

// New creates a Gateway with no routes.
func New(opts Options) *Gateway {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Gateway{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		routes:   make(map[string]binding),
		conns:    make(map[string]*conn),
	}
}

// Define registers every websocket contract of routes.
func (g *Gateway) Define(routes []gateway.WSRoute, lookup gateway.Lookup) error {
	for _, route := range routes {
		signaler, ok := lookup(route.Name)
		if !ok {
			return fmt.Errorf("%s - no caller for subject %s", logPrefix, route.Name)
		}
		for _, c := range route.Contracts {
			g.routes[c.EventIn] = binding{eventOut: c.EventOut, name: c.Name, signaler: signaler}
		}
	}
	return nil
}

func (g *Gateway) closing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dying
}

// Connections returns the number of open connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.closing() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - upgrade failed: %v", logPrefix, err))
		return
	}

	c := &conn{
		id: gateway.NewID() + "::" + gateway.ClientIP(r),
		ip: gateway.ClientIP(r),
		ws: ws,
	}
	c.alive.Store(true)

	g.mu.Lock()
	if g.dying {
		g.mu.Unlock()
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	g.conns[c.id] = c
	g.wg.Add(1)
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.conns, c.id)
		g.mu.Unlock()
		g.wg.Done()
	}()

	g.serve(c)
}

func (g *Gateway) serve(c *conn) {
	slog.Debug(fmt.Sprintf("%s - connection %s opened", logPrefix, c.id))

	c.ws.SetReadLimit(maxFrameBytes)
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	stop := make(chan struct{})
	go g.heartbeat(c, stop)

	var calls sync.WaitGroup
	defer func() {
		close(stop)
		calls.Wait()
		_ = c.ws.Close()
		slog.Debug(fmt.Sprintf("%s - connection %s closed", logPrefix, c.id))
	}()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		frame, ok := parseFrame(data)
		if !ok {
			continue
		}
		b, ok := g.routes[frame.Event]
		if !ok {
			continue
		}
		calls.Add(1)
		go func() {
			defer calls.Done()
			g.forward(c, b, frame.Payload)
		}()
	}
}

// heartbeat pings c every interval and drops it when the previous ping went unanswered.
func (g *Gateway) heartbeat(c *conn, stop <-chan struct{}) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.alive.Swap(false) {
				slog.Debug(fmt.Sprintf("%s - connection %s missed a pong, terminating", logPrefix, c.id))
				_ = c.ws.Close()
				return
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (g *Gateway) forward(c *conn, b binding, payload map[string]interface{}) {
	ctx := context.Background()
	if g.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.RequestTimeout)
		defer cancel()
	}

	req := core.Request{
		Params: payload,
		MetaData: core.Metadata{
			ID:       gateway.NewID(),
			Protocol: core.ProtocolWS,
			IP:       c.ip,
		},
	}

	resp, err := b.signaler.SendSignal(ctx, req, b.name)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %s on %s: %v", logPrefix, b.name, c.id, err))
		c.send(internalErrorFrame)
		return
	}

	data, err := commsutil.EncodePayload(Frame{Event: b.eventOut, Payload: resp})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode %s reply: %v", logPrefix, b.eventOut, err))
		c.send(internalErrorFrame)
		return
	}
	c.send(data)
}

// Die refuses new connections, closes the open ones and waits for them until ctx ends.
func (g *Gateway) Die(ctx context.Context) error {
	g.mu.Lock()
	g.dying = true
	for _, c := range g.conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s - connections still open: %w", logPrefix, ctx.Err())
	}
}

// parseFrame accepts a JSON object whose event is 8 to 128 characters and whose payload is an
// object.
func parseFrame(data []byte) (*inbound, bool) {
	var raw map[string]interface{}
	if err := commsutil.DecodePayload(data, &raw); err != nil || raw == nil {
		return nil, false
	}
	event, ok := raw["event"].(string)
	if !ok || !gateway.ValidEvent(event) {
		return nil, false
	}
	payload, ok := raw["payload"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	return &inbound{Event: event, Payload: payload}, true
}

type inbound struct {
	Event   string
	Payload map[string]interface{}
}

var internalErrorFrame = mustEncode(core.InternalErrorMessage)

func mustEncode(v interface{}) []byte {
	data, err := commsutil.EncodePayload(v)
	if err != nil {
		panic(err)
	}
	return data
}

type conn struct {
	id    string
	ip    string
	ws    *websocket.Conn
	alive atomic.Bool

	writeMu sync.Mutex
}

func (c *conn) send(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug(fmt.Sprintf("%s - write to %s failed: %v", logPrefix, c.id, err))
	}
}

func (c *conn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.ws.Close()
}
