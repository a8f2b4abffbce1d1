package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/njavilas2015/onbbu/internal/config"
	"github.com/njavilas2015/onbbu/pkg/dispatcher"
	"github.com/njavilas2015/onbbu/pkg/kv"
	"github.com/njavilas2015/onbbu/pkg/sign"
	"github.com/njavilas2015/onbbu/pkg/soma"
)

// RunWorker serves the built-in contracts on cfg.Subject until ctx ends, then drains
// in-flight calls. echo and health are always served. token.sign and token.verify need
// SECRET_KEY, and store.set, store.get and store.delete need REDIS_URL.
func RunWorker(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateForWorker(); err != nil {
		return err
	}

	reg := newRegistry()
	metrics, err := dispatcher.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("%s - failed to register metrics: %w", logPrefix, err)
	}

	s, err := soma.New(cfg.Subject,
		dispatcher.WithURL(cfg.ServersURL()),
		dispatcher.WithName(cfg.COMMSName),
		dispatcher.WithDrainTimeout(cfg.DrainTimeout),
		dispatcher.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	contracts := []soma.Contract{
		echoContract{},
		healthContract{subject: cfg.Subject, started: time.Now()},
	}
	if cfg.SecretKey != "" {
		if err := cfg.ValidateForSign(); err != nil {
			return err
		}
		signer, err := sign.New(cfg.SecretKey, cfg.TokenTTL)
		if err != nil {
			return err
		}
		contracts = append(contracts, signContract{signer: signer}, verifyContract{signer: signer})
	}
	if cfg.RedisURL != "" {
		client, err := kv.Connect(ctx, cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer client.Close()
		store := kv.NewAdapter[interface{}](client, cfg.Subject)
		contracts = append(contracts, storeSet{store: store}, storeGet{store: store}, storeDelete{store: store})
	}
	if err := s.Use(contracts...); err != nil {
		return err
	}

	d := s.Dispatcher()
	ready := func() bool {
		select {
		case <-d.Ready():
			return d.State() == dispatcher.StateConnected
		default:
			return false
		}
	}
	health := startHealth(cfg.HealthPort, healthHandler(cfg.Subject, ready, reg))
	defer stopHealth(health)

	slog.Info(fmt.Sprintf("%s - Starting worker on %s", logPrefix, cfg.Subject))

	errs := make(chan error, 1)
	go func() { errs <- s.Live(ctx) }()

	select {
	case err := <-errs:
		// Live ended on its own: either it failed to start or ctx ended.
		_ = s.Die(context.Background())
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("%s - worker stopped: %w", logPrefix, err)
		}
	case <-ctx.Done():
	}

	slog.Info(fmt.Sprintf("%s - Shutting down worker on %s", logPrefix, cfg.Subject))
	dieCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout+shutdownGrace)
	defer cancel()
	return s.Die(dieCtx)
}
