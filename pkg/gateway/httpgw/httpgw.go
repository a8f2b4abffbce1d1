// Package httpgw exposes contracts over HTTP. Each route forwards the request body (POST, PUT)
// or query string (GET, DELETE) to a contract and maps the reply status onto an HTTP status.
package httpgw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/njavilas2015/onbbu/pkg/caller"
	"github.com/njavilas2015/onbbu/pkg/commsutil"
	"github.com/njavilas2015/onbbu/pkg/core"
	"github.com/njavilas2015/onbbu/pkg/gateway"
)

const logPrefix = "httpgw:httpgw"

const maxBodyBytes = 1 << 20

// Options configures a Gateway.
type Options struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string
	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string
	TLSKey  string
	// Limiter throttles requests per client IP. nil disables throttling.
	Limiter *gateway.Limiter
	// Extra handlers mounted next to the routes, e.g. the websocket endpoint.
	Mount map[string]http.Handler
}

// Gateway is an HTTP server whose routes forward to contracts.
type Gateway struct {
	opts   Options
	mux    *http.ServeMux
	server *http.Server
	now    func() time.Time
}

// New creates a Gateway with no routes.
func New(opts Options) *Gateway {
	g := &Gateway{
		opts: opts,
		mux:  http.NewServeMux(),
		now:  time.Now,
	}
	for pattern, h := range opts.Mount {
		g.mux.Handle(pattern, h)
	}
	g.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Define registers every HTTP contract of routes. lookup resolves a route name (subject) to
// the Signaler that forwards to it.
func (g *Gateway) Define(routes []gateway.HTTPRoute, lookup gateway.Lookup) error {
	for _, route := range routes {
		signaler, ok := lookup(route.Name)
		if !ok {
			return fmt.Errorf("%s - no caller for subject %s", logPrefix, route.Name)
		}
		for _, c := range route.Contracts {
			method := strings.ToUpper(c.Method)
			path, params := muxPath(c.URL)
			if err := g.handle(method+" "+path, g.contractHandler(method, params, c.Name, signaler)); err != nil {
				return err
			}
			slog.Debug(fmt.Sprintf("%s - %s %s -> %s/%s", logPrefix, method, c.URL, route.Name, c.Name))
		}
	}
	return nil
}

// handle turns the mux panic on conflicting patterns into an error.
func (g *Gateway) handle(pattern string, h http.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s - cannot route %s: %v", logPrefix, pattern, r)
		}
	}()
	g.mux.Handle(pattern, h)
	return nil
}

// Handler returns the routes wrapped with CORS and rate limiting.
func (g *Gateway) Handler() http.Handler {
	return cors(g.rateLimit(g.mux))
}

// Live serves until Die. It returns nil on a clean shutdown.
func (g *Gateway) Live() error {
	var err error
	if g.opts.TLSCert != "" && g.opts.TLSKey != "" {
		slog.Info(fmt.Sprintf("%s - HTTPS gateway listening on %s", logPrefix, g.opts.Addr))
		err = g.server.ListenAndServeTLS(g.opts.TLSCert, g.opts.TLSKey)
	} else {
		slog.Info(fmt.Sprintf("%s - HTTP gateway listening on %s", logPrefix, g.opts.Addr))
		err = g.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Die stops accepting requests and waits for active ones until ctx ends.
func (g *Gateway) Die(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

// muxPath turns "/users/:id" into "/users/{id}" and returns the parameter names.
func muxPath(raw string) (string, []string) {
	segments := strings.Split(raw, "/")
	var params []string
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") && len(seg) > 1 {
			params = append(params, seg[1:])
			segments[i] = "{" + seg[1:] + "}"
		}
	}
	path := strings.Join(segments, "/")
	if path == "/" {
		return "/{$}", params
	}
	// Without a trailing slash the pattern matches the exact path only.
	path = strings.TrimSuffix(path, "/")
	return path, params
}

func (g *Gateway) contractHandler(method string, pathParams []string, name string, signaler gateway.Signaler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, err := readParams(method, r)
		if err != nil {
			writeBody(w, http.StatusBadRequest, err.Error())
			return
		}
		for _, p := range pathParams {
			params[p] = r.PathValue(p)
		}

		req := core.Request{
			Params: params,
			MetaData: core.Metadata{
				ID:       gateway.NewID(),
				Protocol: core.ProtocolHTTP,
				IP:       gateway.ClientIP(r),
				Token:    r.Header.Get("Authorization"),
			},
		}

		resp, err := signaler.SendSignal(r.Context(), req, name)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, caller.ErrTimeout):
				status = http.StatusGatewayTimeout
			case errors.Is(err, caller.ErrNoResponders):
				status = http.StatusServiceUnavailable
			}
			slog.Error(fmt.Sprintf("%s - %s %s: %v", logPrefix, method, r.URL.Path, err))
			writeBody(w, status, core.InternalErrorMessage)
			return
		}
		writeBody(w, core.HTTPStatus(resp.StatusCode), resp.Body())
	})
}

// readParams returns the body of POST and PUT requests and the query of GET and DELETE.
func readParams(method string, r *http.Request) (map[string]interface{}, error) {
	if method == http.MethodGet || method == http.MethodDelete {
		return valuesToMap(r.URL.Query()), nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]interface{}{}, nil
	}

	ctype, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ctype == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("body is not a valid form")
		}
		return valuesToMap(form), nil
	}

	var params map[string]interface{}
	if err := commsutil.DecodePayload(body, &params); err != nil || params == nil {
		return nil, fmt.Errorf("body must be a JSON object")
	}
	return params, nil
}

// valuesToMap keeps single values as strings and repeated keys as lists.
func valuesToMap(values url.Values) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		list := make([]interface{}, len(v))
		for i := range v {
			list[i] = v[i]
		}
		out[k] = list
	}
	return out
}

// writeBody sends strings as plain text and everything else as JSON.
func writeBody(w http.ResponseWriter, status int, body interface{}) {
	if s, ok := body.(string); ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, s)
		return
	}
	data, err := commsutil.EncodePayload(body)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode reply body: %v", logPrefix, err))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, core.InternalErrorMessage)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type tooManyRequests struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	limiter := g.opts.Limiter
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || limiter.Allow(gateway.ClientIP(r), g.now()) {
			next.ServeHTTP(w, r)
			return
		}
		writeBody(w, http.StatusTooManyRequests, tooManyRequests{
			Code:  http.StatusTooManyRequests,
			Error: "Too Many Requests",
			Message: fmt.Sprintf("You have exceeded the request limit of %d requests per %s. Try again later.",
				limiter.Max(), limiter.Window()),
		})
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
		if r.Method == http.MethodOptions {
			if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
				h.Set("Access-Control-Allow-Headers", req)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
