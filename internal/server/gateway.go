package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/njavilas2015/onbbu/internal/config"
	"github.com/njavilas2015/onbbu/pkg/caller"
	"github.com/njavilas2015/onbbu/pkg/gateway"
	"github.com/njavilas2015/onbbu/pkg/gateway/httpgw"
	"github.com/njavilas2015/onbbu/pkg/gateway/wsgw"
)

// WSPath is where the websocket gateway is mounted.
const WSPath = "/ws"

const limiterIdleTTL = 10 * time.Minute

// RunGateway serves the routes of cfg.RoutesFile over HTTP and websockets until ctx ends.
func RunGateway(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateForGateway(); err != nil {
		return err
	}
	routes, err := gateway.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		return err
	}

	pool, err := gateway.NewPool(routes.Subjects(),
		caller.WithURL(cfg.ServersURL()),
		caller.WithName(cfg.COMMSName+"-gateway"),
		caller.WithRequestTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		return err
	}
	if err := pool.Connect(ctx); err != nil {
		_ = pool.Die(context.Background())
		return err
	}

	ws := wsgw.New(wsgw.Options{PingInterval: cfg.WSPingInterval, RequestTimeout: cfg.RequestTimeout})
	if err := ws.Define(routes.WS, pool.Lookup); err != nil {
		_ = pool.Die(context.Background())
		return err
	}

	var limiter *gateway.Limiter
	if cfg.RateLimitEnabled {
		limiter = gateway.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, limiterIdleTTL)
	}
	port := cfg.HTTPPort
	if cfg.TLSEnabled() {
		port = cfg.HTTPSPort
	}
	web := httpgw.New(httpgw.Options{
		Addr:    fmt.Sprintf(":%d", port),
		TLSCert: cfg.TLSCert,
		TLSKey:  cfg.TLSKey,
		Limiter: limiter,
		Mount:   map[string]http.Handler{WSPath: ws},
	})
	if err := web.Define(routes.HTTP, pool.Lookup); err != nil {
		_ = pool.Die(context.Background())
		return err
	}

	var serving atomic.Bool
	health := startHealth(cfg.HealthPort, healthHandler("gateway", serving.Load, newRegistry()))
	defer stopHealth(health)

	errs := make(chan error, 1)
	go func() { errs <- web.Live() }()
	serving.Store(true)

	var runErr error
	select {
	case err := <-errs:
		if err != nil {
			runErr = fmt.Errorf("%s - gateway stopped: %w", logPrefix, err)
		}
	case <-ctx.Done():
	}
	serving.Store(false)

	slog.Info(fmt.Sprintf("%s - Shutting down gateway", logPrefix))
	dieCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+shutdownGrace)
	defer cancel()
	return errors.Join(runErr, web.Die(dieCtx), ws.Die(dieCtx), pool.Die(dieCtx))
}
