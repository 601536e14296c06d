// cmd/client/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/opd-ai/go-contagion/pkg/config"
	"github.com/opd-ai/go-contagion/pkg/logging"
	"github.com/opd-ai/go-contagion/pkg/network"
	"github.com/opd-ai/go-contagion/pkg/render"
	"github.com/opd-ai/go-contagion/pkg/validation"
)

func main() {
	logger := logging.NewLogger()
	ctx := context.Background()

	serverURL := flag.String("server", "ws://localhost:8080"+network.StreamPath, "Stream server URL")
	preset := flag.String("preset", "", "Preset requested when pressing r (empty keeps the server's)")
	flag.Parse()

	normalized, err := validation.ValidatePresetName(*preset)
	if err != nil {
		logger.Error(ctx, "Invalid preset", err, "preset", *preset)
		os.Exit(1)
	}

	env, err := config.LoadConfigFromEnv()
	if err != nil {
		logger.Error(ctx, "Failed to load environment configuration", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := network.NewStreamClient(env, logging.Discard())
	if err := client.Connect(ctx, *serverURL); err != nil {
		logger.Error(ctx, "Failed to connect to server", err, "server", *serverURL)
		os.Exit(1)
	}
	defer client.Close()

	if err := view(ctx, client, normalized, env.WriteTimeout); err != nil {
		logger.Error(ctx, "Viewer failed", err)
		os.Exit(1)
	}
	if err := client.Err(); err != nil {
		logger.Error(ctx, "Connection lost", err, "server", *serverURL)
		os.Exit(1)
	}
}

// view draws received frames until the user quits or the stream ends. The
// r key restarts the simulation.
func view(ctx context.Context, client *network.StreamClient, preset string, timeout time.Duration) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	viewer, err := render.NewViewer(screen, render.DefaultPalette())
	if err != nil {
		return err
	}
	defer viewer.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-viewer.Quit():
			return nil
		case frame, ok := <-client.Frames():
			if !ok {
				return nil
			}
			viewer.Draw(frame.Time, frame.Metrics, frame.AgentList())
		case key := <-viewer.Keys():
			if key != 'r' && key != 'R' {
				continue
			}
			restartCtx, cancel := context.WithTimeout(ctx, timeout)
			err := client.Restart(restartCtx, preset, nil)
			cancel()
			if err != nil {
				return err
			}
		case <-client.Errors():
			// The server rejected a restart; keep showing the current run
		}
	}
}
