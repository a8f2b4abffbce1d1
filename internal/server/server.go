// Package server wires the onbbu components into runnable processes: the gateway, a worker
// and one-shot calls, each with a health and metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/njavilas2015/onbbu/pkg/commsutil"
)

const logPrefix = "server:server"

const shutdownGrace = 5 * time.Second

// SetupLogging installs a text slog handler at level (debug, info, warn or error) and
// returns the level used.
func SetupLogging(level string) slog.Level {
	var logLevel slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
	return logLevel
}

// newRegistry returns a metrics registry carrying the Go runtime and process collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

type healthBody struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// healthHandler serves /health (always 200 while the process runs), /ready (200 once ready
// reports true, 503 before) and /metrics from gatherer.
func healthHandler(service string, ready func() bool, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, code int, status string) {
		data, err := commsutil.EncodePayload(healthBody{
			Status:    status,
			Service:   service,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write(data)
	}
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		write(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) {
		if ready == nil || !ready() {
			write(w, http.StatusServiceUnavailable, "unready")
			return
		}
		write(w, http.StatusOK, "ready")
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// startHealth listens on port in the background. A port of zero disables it.
func startHealth(port int, h http.Handler) *http.Server {
	if port <= 0 {
		return nil
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info(fmt.Sprintf("%s - Health server listening on %s", logPrefix, srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - Health server error: %v", logPrefix, err))
		}
	}()
	return srv
}

func stopHealth(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - Health server shutdown: %v", logPrefix, err))
	}
}
