package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oshokin/countdown/internal/authority"
	"github.com/oshokin/countdown/internal/authority/memory"
	"github.com/oshokin/countdown/internal/authority/redis"
	"github.com/oshokin/countdown/internal/config"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/logger"
	"github.com/oshokin/countdown/internal/metrics"
	"github.com/oshokin/countdown/internal/service/timers"
)

const (
	// changeBuffer is how far the MQTT publisher may lag behind commits.
	changeBuffer = 64
	// metricsShutdownTimeout bounds the graceful stop of the metrics endpoint.
	metricsShutdownTimeout = 5 * time.Second
	// metricsReadHeaderTimeout protects the metrics endpoint from slow clients.
	metricsReadHeaderTimeout = 5 * time.Second
)

// statePublisher receives committed timer changes.
type statePublisher interface {
	Publish(t *domain.Timer, deleted bool) error
}

// openAuthority creates the alarm authority selected by the settings.
// The returned function releases its resources.
//
//nolint:ireturn // The driver is chosen at runtime.
func openAuthority(ctx context.Context, settings config.AuthorityConfig) (authority.Authority, func(), error) {
	switch settings.Driver {
	case config.AuthorityDriverMemory, "":
		a := memory.New(memory.WithOnFire(func(id string) {
			logger.InfoKV(ctx, "Alarm fired", "timer_id", id)
		}))

		return a, func() {}, nil
	case config.AuthorityDriverRedis:
		client := redis.NewClient(settings.RedisAddress, settings.RedisPassword, settings.RedisDB)
		a := redis.New(client, redis.Options{
			KeyPrefix:    settings.KeyPrefix,
			PollInterval: settings.PollInterval,
		})

		closeFn := func() {
			if err := a.Close(); err != nil {
				logger.ErrorKV(ctx, "Failed to close Redis authority", "error", err)
			}
		}

		return a, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported authority driver %q", settings.Driver)
	}
}

// forwardChanges publishes every committed change until ctx is done.
func forwardChanges(ctx context.Context, changes <-chan timers.Change, publisher statePublisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}

			if err := publisher.Publish(change.Timer, change.Deleted); err != nil {
				logger.WarnKV(ctx, "Failed to publish timer state", "timer_id", change.Timer.ID, "error", err)
			}
		}
	}
}

// serveMetrics exposes Prometheus metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx) //nolint:errcheck // Best effort on exit.
	}()

	logger.InfoKV(ctx, "Metrics endpoint listening", "metrics_address", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.ErrorKV(ctx, "Metrics endpoint failed", "error", err)
	}
}
