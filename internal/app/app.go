package app

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/stripd/internal/config"
)

// RebootExitCode is the exit status that asks the supervisor to restart the daemon
// into the newly activated slot.
const RebootExitCode = 3

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
	reboot   atomic.Bool
}

// New creates a new App instance with storage opened but nothing started.
func New(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	services, err := NewServices(cfg, a.requestReboot)
	if err != nil {
		return nil, err
	}
	a.services = services
	return a, nil
}

// Start builds and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		a.cancel()
		return err
	}

	log.Info().
		Str("device", a.cfg.Device.ID).
		Str("slot", a.services.Flash.BootSlot()).
		Msg("stripd started")
	return nil
}

// Stop gracefully shuts down all services.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ClearState resets the stored light state.
// This is used by the -reset-state flag before Start.
func (a *App) ClearState() error {
	if a.services != nil {
		return a.services.ClearState()
	}
	return nil
}

// RebootRequested reports whether shutdown was caused by an activated update.
func (a *App) RebootRequested() bool {
	return a.reboot.Load()
}

// requestReboot is the host's reboot: it stops the app and leaves the restart
// to the process supervisor.
func (a *App) requestReboot() {
	a.reboot.Store(true)
	log.Warn().
		Str("next_slot", a.services.Flash.Boot.Next().Label()).
		Msg("Update activated, restarting")
	if a.cancel != nil {
		a.cancel()
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
