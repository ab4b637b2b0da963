package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/stripd/internal/api"
	"github.com/dokzlo13/stripd/internal/config"
	"github.com/dokzlo13/stripd/internal/db"
	"github.com/dokzlo13/stripd/internal/eventbus"
	"github.com/dokzlo13/stripd/internal/flash"
	"github.com/dokzlo13/stripd/internal/ledger"
	"github.com/dokzlo13/stripd/internal/light"
)

// Services is a container for all application services.
// Storage is opened in NewServices; the engine and its adapters are built in
// Start so a cleared state is picked up.
type Services struct {
	cfg      *config.Config
	defaults light.DeviceConfig

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus
	Flash  *FlashService

	// Built in Start
	Light  *LightService
	MQTT   *MQTTService
	API    *APIService
	Script *ScriptService

	ready atomic.Bool
	wg    sync.WaitGroup
}

// NewServices opens the database and the flash image.
// reboot is called once an update has been activated.
func NewServices(cfg *config.Config, reboot func()) (*Services, error) {
	defaults, err := defaultDeviceConfig(cfg)
	if err != nil {
		return nil, err
	}
	s := &Services{cfg: cfg, defaults: defaults}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)

	s.Flash, err = NewFlashService(cfg, s.Ledger, reboot)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	return s, nil
}

// ClearState resets the stored light state. Must be called before Start.
func (s *Services) ClearState() error {
	return s.Flash.ClearState()
}

// Start loads persisted state, builds the engine and adapters and starts
// every background goroutine.
func (s *Services) Start(ctx context.Context) error {
	initial := s.Flash.LoadState()
	device := s.Flash.LoadConfig(s.defaults)

	var err error
	s.Light, err = NewLightService(s.cfg, initial, device, s.publishState)
	if err != nil {
		return err
	}
	s.MQTT = NewMQTTService(s.cfg, s.Light.Engine, device.MQTT)
	s.API = NewAPIService(s.cfg, api.Deps{
		Light:          s.Light.Engine,
		Flash:          s.Flash.Actor,
		History:        s.Ledger,
		Config:         device,
		OnConfigChange: s.publishConfig,
		ChunkSize:      s.cfg.Flash.ChunkSize,
		BootSlot:       s.Flash.BootSlot,
		Ready:          s.ready.Load,
		MaxLedCount:    s.Light.Strip.Capacity,
	})
	s.Script = NewScriptService(s.cfg, s.cfg.Path, s.Light.Engine)
	if err := s.Script.LoadScript(); err != nil {
		return err
	}

	s.subscribe()

	s.spawn(ctx, s.Flash.Run)
	s.spawn(ctx, s.Flash.RunVerify)
	s.spawn(ctx, s.Light.Run)
	s.spawn(ctx, s.MQTT.Run)
	s.spawn(ctx, s.API.Run)
	s.spawn(ctx, s.Script.Run)
	s.spawn(ctx, func(ctx context.Context) { runLedgerCleanup(ctx, s.cfg, s.Ledger) })

	s.ready.Store(true)
	return nil
}

func (s *Services) spawn(ctx context.Context, run func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run(ctx)
	}()
}

// publishState runs on the engine goroutine and must not block.
func (s *Services) publishState(st light.State) {
	s.Bus.Publish(eventbus.Event{Type: eventbus.EventTypeStateCommitted, Data: st})
}

func (s *Services) publishConfig(c light.DeviceConfig) {
	s.Bus.Publish(eventbus.Event{Type: eventbus.EventTypeConfigChanged, Data: c})
}

func (s *Services) subscribe() {
	s.Bus.Subscribe(eventbus.EventTypeStateCommitted, func(e eventbus.Event) {
		st, ok := e.Data.(light.State)
		if !ok {
			return
		}
		if err := s.Flash.Actor.PersistState(st); err != nil {
			if errors.Is(err, flash.ErrOTAActive) || errors.Is(err, flash.ErrStopped) {
				log.Debug().Err(err).Msg("Light state not persisted")
			} else {
				log.Warn().Err(err).Msg("Failed to queue light state for persistence")
			}
		}
	})
	s.Bus.Subscribe(eventbus.EventTypeStateCommitted, func(eventbus.Event) {
		s.MQTT.NotifyState()
	})
	s.Bus.Subscribe(eventbus.EventTypeConfigChanged, func(e eventbus.Event) {
		c, ok := e.Data.(light.DeviceConfig)
		if !ok {
			return
		}
		s.Light.Reconfigure(c)
		s.MQTT.Reconfigure(c.MQTT)
	})
}

// Stop waits for background goroutines, then releases all resources.
// The caller cancels the context passed to Start first.
func (s *Services) Stop() error {
	s.ready.Store(false)

	timeout := s.cfg.GetShutdownTimeout()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("timed out waiting for services to stop")
		log.Warn().Dur("timeout", timeout).Msg("Services did not stop in time")
	}

	s.Close()
	return err
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Script != nil {
		s.Script.Close()
	}
	if s.Light != nil {
		s.Light.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Flash != nil {
		s.Flash.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
