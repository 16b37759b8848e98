// Package app assembles the textcast process: history, event fanout,
// metrics, the session controller with its observation hook, and the
// HTTP boundary, started and stopped in dependency order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"firestige.xyz/textcast/internal/api"
	"firestige.xyz/textcast/internal/config"
	"firestige.xyz/textcast/internal/core"
	"firestige.xyz/textcast/internal/event"
	"firestige.xyz/textcast/internal/history"
	"firestige.xyz/textcast/internal/log"
	"firestige.xyz/textcast/internal/metrics"
	"firestige.xyz/textcast/internal/observe"
	"firestige.xyz/textcast/internal/session"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-lived component and their start/stop order.
type App struct {
	cfg    *config.Config
	logger log.Logger

	store         *history.Store
	async         *event.Async
	hub           *api.Hub
	controller    *session.Controller
	observer      *observe.Observer
	apiServer     *api.Server
	metricsServer *metrics.Server

	sigChan chan os.Signal
}

// New loads the configuration and prepares an app ready to Start.
func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg}, nil
}

// Start brings the components up in order: logging, metrics, history,
// the event fanout, the controller with its observation hook, then the
// HTTP server. A failure leaves already-started components for Stop.
func (a *App) Start() error {
	// 1. Logging first, everything below logs through it.
	if err := log.Init(&a.cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	a.logger = log.GetLogger()
	a.logger.Infof("starting textcast, device %s", a.cfg.Device.Target().Label())

	// 2. Metrics server.
	if a.cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(a.cfg.Metrics.Listen, a.cfg.Metrics.Path)
		if err := a.metricsServer.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// 3. History store. Best-effort from here on: a broken store logs
	// and the process runs without persistence.
	if a.cfg.History.Enabled {
		store, err := history.Open(history.Config{Path: a.cfg.History.Path})
		if err != nil {
			a.logger.WithError(err).Warn("history disabled, store failed to open")
		} else {
			a.store = store
		}
	}

	// 4. Event sinks behind the async fanout. The hub snapshot closure
	// runs on subscribe, after the controller below exists.
	a.hub = api.NewHub(a.wsSnapshot)
	targets := []event.Publisher{a.hub}
	if a.store != nil {
		targets = append(targets, history.NewPublisher(a.store))
	}
	targets = append(targets, event.NewLogPublisher())
	a.async = event.NewAsync(event.NewFanout(targets...), 256)

	// 5. Observation pipeline, hooked into the session lifecycle.
	a.observer = observe.New(observe.Config{
		Enabled:         a.cfg.Capture.Enabled,
		Interface:       a.cfg.Capture.Interface,
		SnapLen:         a.cfg.Capture.SnapLen,
		PollTimeout:     a.cfg.Capture.PollTimeout,
		ChannelCapacity: a.cfg.Capture.ChannelCapacity,
		LocalHost:       a.cfg.HTTP.AdvertiseHost,
		DeviceHost:      a.cfg.Device.Host,
		Window:          a.cfg.Capture.Window,
		BatchSize:       a.cfg.Capture.BatchSize,
		FlushInterval:   a.cfg.Capture.FlushInterval,
	}, a.async)

	// 6. Session controller.
	displayURL, err := displayURL(a.cfg.HTTP.AdvertiseHost, a.cfg.HTTP.Listen)
	if err != nil {
		return err
	}
	a.controller = session.New(session.Config{
		Device:         a.cfg.Device.Target(),
		ReceiverAppID:  a.cfg.Controller.ReceiverAppID,
		DisplayURL:     displayURL,
		ConnectTimeout: a.cfg.Controller.ConnectTimeout,
		SendTimeout:    a.cfg.Controller.SendTimeout,
		RestoreTimeout: a.cfg.Controller.RestoreTimeout,
		QueryTimeout:   a.cfg.Controller.QueryTimeout,
		MaxTextLen:     a.cfg.Controller.MaxTextLen,
	}, a.async, a.observer)

	// 7. HTTP boundary last, so requests never see a half-built app.
	var hist api.History
	if a.store != nil {
		hist = a.store
	}
	a.apiServer = api.New(api.Config{
		Listen:         a.cfg.HTTP.Listen,
		MaxConns:       a.cfg.HTTP.MaxConns,
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
	}, a.controller, a.observer, hist, a.hub)
	if err := a.apiServer.Start(context.Background()); err != nil {
		return err
	}

	a.logger.Infof("textcast started, display page at %s", displayURL)
	return nil
}

// Run blocks until SIGINT or SIGTERM, then stops everything.
func (a *App) Run() error {
	a.sigChan = make(chan os.Signal, 1)
	signal.Notify(a.sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-a.sigChan
	a.logger.Infof("received %s, shutting down", sig)
	a.Stop()
	return nil
}

// Stop tears down in reverse order: HTTP first so no new commands
// arrive, then the session, the pipeline, the event queue, and the
// stores. Every step is best-effort.
func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.apiServer != nil {
		if err := a.apiServer.Stop(ctx); err != nil {
			a.logger.WithError(err).Warn("api server stop failed")
		}
	}

	if a.controller != nil {
		if err := a.controller.Disconnect(ctx); err != nil && !errors.Is(err, core.ErrNotConnected) {
			a.logger.WithError(err).Warn("disconnect on shutdown failed")
		}
	}

	if a.observer != nil {
		a.observer.Stop()
	}

	if a.async != nil {
		if err := a.async.Close(ctx); err != nil {
			a.logger.WithError(err).Warn("event queue drain timed out")
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("history close failed")
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(ctx); err != nil {
			a.logger.WithError(err).Warn("metrics server stop failed")
		}
	}

	if a.sigChan != nil {
		signal.Stop(a.sigChan)
	}

	a.logger.Info("textcast stopped")
}

// wsSnapshot builds the state message a fresh WebSocket subscriber
// receives before any live events.
func (a *App) wsSnapshot() any {
	if a.controller == nil {
		return nil
	}
	snap := map[string]any{
		"status": a.controller.GetStatus(),
	}
	if a.observer != nil {
		snap["traffic"] = a.observer.Snapshot()
	}
	return snap
}

// displayURL is the page address the device loads: the advertise host
// joined with the HTTP listen port.
func displayURL(advertiseHost, listen string) (string, error) {
	_, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("%w: http.listen %q: %v", core.ErrConfigInvalid, listen, err)
	}
	return fmt.Sprintf("http://%s/display", net.JoinHostPort(advertiseHost, port)), nil
}
