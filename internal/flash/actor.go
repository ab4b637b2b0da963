// Package flash serializes every write to the storage peripheral through one goroutine.
//
// The Actor is the only owner of the storage drivers and the OTA updater.
// Light-state writes are debounced, config writes go out on the next idle turn,
// and an OTA session holds the flash exclusively until it finishes or aborts.
package flash

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/stripd/internal/ledger"
	"github.com/dokzlo13/stripd/internal/light"
	"github.com/dokzlo13/stripd/internal/storage"
)

const (
	DefaultDebounce  = 5 * time.Second
	DefaultQueueSize = 8
	wordSize         = 4
)

// State is what the actor is doing right now.
type State uint32

const (
	Idle State = iota
	PersistingState
	PersistingConfig
	OTAActive
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PersistingState:
		return "persisting_state"
	case PersistingConfig:
		return "persisting_config"
	case OTAActive:
		return "ota_active"
	default:
		return "unknown"
	}
}

// Partition is an erasable, word-writable firmware slot.
type Partition interface {
	Label() string
	Capacity() uint32
	SectorSize() uint32
	Erase(offset, length uint32) error
	Write(offset uint32, data []byte) error
}

// Updater resolves the inactive firmware slot and switches boot to it.
type Updater interface {
	NextPartition() (Partition, error)
	// Activate marks p bootable and pending verification. The running slot
	// must stay bootable if this fails.
	Activate(p Partition) error
}

// Journal records flash events for auditing.
type Journal interface {
	Append(eventType ledger.EventType, source string, payload map[string]any) error
}

// Options configure an Actor.
type Options struct {
	Debounce  time.Duration
	QueueSize int
	// Reboot is called after a successful OTA finish.
	Reboot  func()
	Journal Journal
}

// Actor owns the storage drivers. Start it with Run; everything else is safe for concurrent use.
type Actor struct {
	stateDrv  storage.Driver
	configDrv storage.Driver
	updater   Updater
	opts      Options

	stateCh  chan light.State
	configCh chan light.DeviceConfig
	otaCh    chan otaRequest

	status    atomic.Uint32
	otaActive atomic.Bool
	running   atomic.Bool
}

// New creates an actor. The drivers and updater must not be used by anyone else afterwards.
func New(stateDrv, configDrv storage.Driver, updater Updater, opts Options) *Actor {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Actor{
		stateDrv:  stateDrv,
		configDrv: configDrv,
		updater:   updater,
		opts:      opts,
		stateCh:   make(chan light.State, opts.QueueSize),
		configCh:  make(chan light.DeviceConfig, opts.QueueSize),
		otaCh:     make(chan otaRequest),
	}
}

// LoadState reads the stored light state. It must be called before Run.
func (a *Actor) LoadState() (light.State, error) {
	a.mustNotRun("LoadState")
	return storage.LoadState(a.stateDrv)
}

// LoadConfig reads the stored device config. It must be called before Run.
func (a *Actor) LoadConfig() (light.DeviceConfig, error) {
	a.mustNotRun("LoadConfig")
	return storage.LoadConfig(a.configDrv)
}

// ClearState overwrites the stored light state with defaults. It must be called before Run.
func (a *Actor) ClearState() error {
	a.mustNotRun("ClearState")
	return storage.SaveState(a.stateDrv, light.DefaultState())
}

func (a *Actor) mustNotRun(op string) {
	if a.running.Load() {
		panic("flash: " + op + " called while actor is running")
	}
}

// State reports the actor's current activity.
func (a *Actor) State() State {
	return State(a.status.Load())
}

// PersistState submits s for a debounced write. It is rejected while an OTA session is active.
func (a *Actor) PersistState(s light.State) error {
	if a.otaActive.Load() {
		return ErrOTAActive
	}
	select {
	case a.stateCh <- s:
		return nil
	default:
		return ErrBusy
	}
}

// PersistConfig submits c to be written on the next idle turn.
func (a *Actor) PersistConfig(c light.DeviceConfig) error {
	if a.otaActive.Load() {
		return ErrOTAActive
	}
	select {
	case a.configCh <- c:
		return nil
	default:
		return ErrBusy
	}
}

// Run services requests until ctx is cancelled. A pending state write is flushed on exit.
func (a *Actor) Run(ctx context.Context) error {
	a.running.Store(true)
	defer a.running.Store(false)

	var (
		pending *light.State
		timer   = time.NewTimer(a.opts.Debounce)
		fire    <-chan time.Time
	)
	timer.Stop()
	defer timer.Stop()

	flush := func(reason string) {
		if pending == nil {
			return
		}
		timer.Stop()
		fire = nil
		a.writeState(*pending, reason)
		pending = nil
	}

	log.Info().Dur("debounce", a.opts.Debounce).Msg("Flash actor started")

	for {
		select {
		case <-ctx.Done():
			flush("shutdown")
			log.Info().Msg("Flash actor stopped")
			return nil

		case s := <-a.stateCh:
			pending = &s
			timer.Reset(a.opts.Debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			flush("debounce")

		case c := <-a.configCh:
			a.writeConfig(c)

		case req := <-a.otaCh:
			if req.kind != otaBegin {
				req.reply <- otaReply{err: ErrNoSession}
				continue
			}
			// Reject new persistence before draining; the erase can be long.
			a.otaActive.Store(true)
			if s, ok := a.drainPersistence(); ok {
				pending = &s
			}
			flush("ota")
			a.runSession(ctx, req)
		}
	}
}

func (a *Actor) writeState(s light.State, reason string) {
	a.status.Store(uint32(PersistingState))
	defer a.status.Store(uint32(Idle))

	if err := storage.SaveState(a.stateDrv, s); err != nil {
		log.Error().Err(err).Msg("Failed to persist light state")
		return
	}
	log.Debug().
		Str("reason", reason).
		Bool("power", s.Power).
		Uint8("brightness", s.Brightness).
		Uint8("mode", s.ModeID).
		Msg("Light state persisted")
	a.record(ledger.EventStatePersisted, map[string]any{
		"reason":     reason,
		"power":      s.Power,
		"brightness": s.Brightness,
		"mode":       s.ModeID,
	})
}

func (a *Actor) writeConfig(c light.DeviceConfig) {
	a.status.Store(uint32(PersistingConfig))
	defer a.status.Store(uint32(Idle))

	if err := storage.SaveConfig(a.configDrv, c); err != nil {
		log.Error().Err(err).Msg("Failed to persist device config")
		return
	}
	log.Info().Uint16("leds", c.Light.LedCount).Str("mqtt_host", c.MQTT.Host).Msg("Device config persisted")
	a.record(ledger.EventConfigPersisted, map[string]any{
		"leds":      c.Light.LedCount,
		"mqtt_host": c.MQTT.Host,
	})
}

// drainPersistence services requests queued before a session takes over the flash.
// Config writes go out immediately; the newest queued state is returned for flushing.
func (a *Actor) drainPersistence() (latest light.State, ok bool) {
	for {
		select {
		case s := <-a.stateCh:
			latest, ok = s, true
		case c := <-a.configCh:
			a.writeConfig(c)
		default:
			return latest, ok
		}
	}
}

func (a *Actor) record(eventType ledger.EventType, payload map[string]any) {
	if a.opts.Journal == nil {
		return
	}
	if err := a.opts.Journal.Append(eventType, "flash", payload); err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to record flash event")
	}
}
