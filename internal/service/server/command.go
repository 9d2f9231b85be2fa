package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"

	api "github.com/oshokin/countdown/internal/api/grpc/timer"
	"github.com/oshokin/countdown/internal/api/grpc/timerpb"
	"github.com/oshokin/countdown/internal/config"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/guard"
	"github.com/oshokin/countdown/internal/logger"
	"github.com/oshokin/countdown/internal/metrics"
	"github.com/oshokin/countdown/internal/remote/mqtt"
	repository "github.com/oshokin/countdown/internal/repository/timer"
	"github.com/oshokin/countdown/internal/service/timers"
)

// Options controls the countdown-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// StorePath overrides the database file of the bolt and file store drivers.
	StorePath string
}

// gracefulStopTimeout bounds how long open calls may delay the shutdown.
const gracefulStopTimeout = 5 * time.Second

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// Run starts the gRPC server and blocks until context is canceled or server stops.
// Timers are restored before the first request is accepted.
//
//nolint:cyclop,funlen // Startup wiring is sequential and reads best in one place.
func Run(ctx context.Context, opts *Options) error {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err = logger.Configure(settings.LogLevel, logger.Options{Format: settings.LogFormat}); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	ctx = logger.WithName(ctx, "countdown-server")

	if opts.StorePath != "" {
		settings.Store.Path = opts.StorePath
	}

	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	metrics.Init()

	store, err := repository.Open(ctx, settings.Store)
	if err != nil {
		return fmt.Errorf("open timer store: %w", err)
	}

	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.ErrorKV(ctx, "Failed to close timer store", "error", closeErr)
		}
	}()

	alarms, closeAuthority, err := openAuthority(ctx, settings.Authority)
	if err != nil {
		return fmt.Errorf("open alarm authority: %w", err)
	}

	defer closeAuthority()

	g := guard.New(alarms)
	svc := timers.New(store, g, timers.WithSweepInterval(settings.SweepInterval))

	// A denial is remembered by the guard; timers then count down locally.
	_ = g.Authorize(ctx) //nolint:errcheck // Logged by the guard.

	if err = svc.Restore(ctx); err != nil {
		return fmt.Errorf("restore timers: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	var (
		wg       sync.WaitGroup
		requests <-chan domain.Request
	)

	if settings.MQTT.Enabled() {
		bridge, dialErr := mqtt.Dial(runCtx, settings.MQTT)
		if dialErr != nil {
			cancel()
			return fmt.Errorf("connect to MQTT broker: %w", dialErr)
		}

		defer bridge.Close()

		requests = bridge.Requests()
		changes := svc.Subscribe(runCtx, changeBuffer)

		wg.Go(func() {
			forwardChanges(runCtx, changes, bridge)
		})
	}

	if settings.MetricsAddress != "" {
		wg.Go(func() {
			serveMetrics(runCtx, settings.MetricsAddress)
		})
	}

	wg.Go(func() {
		svc.Run(runCtx, requests)
	})

	// Stop background work before the bridge, the authority and the store close.
	defer func() {
		cancel()
		wg.Wait()
		svc.Wait()
	}()

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	grpcServer := grpc.NewServer()
	timerpb.RegisterTimerServiceServer(grpcServer, api.NewServer(svc))

	logger.InfoKV(
		ctx,
		"Countdown server listening",
		"listen_address", listenAddress,
		"store", settings.Store.Driver,
		"authority", settings.Authority.Driver,
		"authorized", g.Authorized(),
	)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-runCtx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		stopGRPC(grpcServer, gracefulStopTimeout)
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// stopGRPC stops the server gracefully. Watch streams never end on their
// own, so after timeout the remaining calls are cut off.
func stopGRPC(srv *grpc.Server, timeout time.Duration) {
	stopped := make(chan struct{})

	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		srv.Stop()
		<-stopped
	}
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr.
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	// Bind on all interfaces.
	return ":" + port, nil
}
