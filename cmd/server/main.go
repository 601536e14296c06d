// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opd-ai/go-contagion/pkg/config"
	"github.com/opd-ai/go-contagion/pkg/engine"
	"github.com/opd-ai/go-contagion/pkg/event"
	"github.com/opd-ai/go-contagion/pkg/health"
	"github.com/opd-ai/go-contagion/pkg/logging"
	"github.com/opd-ai/go-contagion/pkg/network"
)

func main() {
	logger := logging.NewLogger()
	ctx := context.Background()

	env, err := config.LoadConfigFromEnv()
	if err != nil {
		logger.Error(ctx, "Failed to load environment configuration", err)
		os.Exit(1)
	}

	bus := event.NewEventBus()
	bus.Subscribe(event.SimulationFinished, func(e event.Event) {
		run := e.(*event.RunEvent)
		logger.Info(ctx, "Run finished",
			"run_id", run.RunID,
			"time", run.Time,
			"dead", run.Metrics.Dead,
			"immune", run.Metrics.Immune,
		)
	})

	factory := network.PresetRunnerFactory(env.Preset, env.SampleSteps, logger, bus)
	server, err := network.NewStreamServer(env, factory,
		network.WithServerEventBus(bus),
		network.WithServerLogger(logger),
	)
	if err != nil {
		logger.Error(ctx, "Failed to create stream server", err, "preset", env.Preset)
		os.Exit(1)
	}

	// A running simulation is stale once it missed a few seconds of ticks
	staleAfter := max(time.Second/time.Duration(env.TickRate)*30, 2*time.Second)

	healthChecker := health.NewHealthChecker()
	healthChecker.AddCheck(health.NewSimulationHealthCheck(
		func() engine.Status { return server.Runner().Status() },
		staleAfter,
	))
	healthChecker.AddCheck(health.NewStreamHealthCheck(server.Listening))
	healthChecker.AddCheck(health.NewMemoryHealthCheck(int64(env.MaxMemoryMB), nil))

	healthServer := &http.Server{
		Addr:         net.JoinHostPort(env.ServerAddr, strconv.Itoa(env.HealthPort)),
		Handler:      healthChecker.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Starting health check server", "address", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Health check server failed", err)
		}
	}()

	address := net.JoinHostPort(env.ServerAddr, strconv.Itoa(env.ServerPort))
	logger.Info(ctx, "Starting stream server",
		"address", address,
		"preset", env.Preset,
		"max_clients", env.MaxClients,
		"tick_rate", env.TickRate,
	)
	if err := server.Start(address); err != nil {
		logger.Error(ctx, "Failed to start stream server", err, "address", address)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
	defer cancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Health check server shutdown failed", err)
	}
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error(ctx, "Stream server shutdown failed", err)
	}
}
