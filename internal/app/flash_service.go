package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/stripd/internal/config"
	"github.com/dokzlo13/stripd/internal/flash"
	"github.com/dokzlo13/stripd/internal/ledger"
	"github.com/dokzlo13/stripd/internal/light"
	"github.com/dokzlo13/stripd/internal/nor"
)

// FlashService owns the flash image, the boot manager and the flash actor.
type FlashService struct {
	cfg *config.Config

	Device     *nor.Device
	Partitions *nor.Partitions
	Boot       *nor.BootManager
	Actor      *flash.Actor
	ledger     *ledger.Ledger
}

// NewFlashService opens the image, runs the boot-time slot transition and
// creates the actor. reboot is called after a successful update.
func NewFlashService(cfg *config.Config, l *ledger.Ledger, reboot func()) (*FlashService, error) {
	layout := nor.Layout{
		SectorSize:  uint32(cfg.Flash.SectorSize),
		NVSSize:     uint32(cfg.Flash.NVSSize),
		OTADataSize: uint32(cfg.Flash.OTADataSize),
		SlotSize:    uint32(cfg.Flash.SlotSize),
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	dev, err := nor.Open(cfg.Flash.Image, layout.Size(), layout.SectorSize)
	if err != nil {
		return nil, err
	}
	parts, err := layout.Mount(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	boot, err := nor.Boot(parts.OTAData, parts.Slots)
	if err != nil {
		dev.Close()
		return nil, err
	}

	actor := flash.New(parts.State.Record(), parts.Config.Record(), boot, flash.Options{
		Debounce:  cfg.Flash.Debounce.Duration(),
		QueueSize: cfg.Flash.QueueSize,
		Reboot:    reboot,
		Journal:   l,
	})

	log.Info().
		Str("image", cfg.Flash.Image).
		Uint32("size", layout.Size()).
		Str("slot", boot.Running().Label()).
		Str("boot_state", boot.State().String()).
		Msg("Flash image mounted")

	return &FlashService{
		cfg:        cfg,
		Device:     dev,
		Partitions: parts,
		Boot:       boot,
		Actor:      actor,
		ledger:     l,
	}, nil
}

// LoadState returns the persisted light state, or the default state when none is usable.
func (s *FlashService) LoadState() light.State {
	st, err := s.Actor.LoadState()
	if err != nil {
		log.Warn().Err(err).Msg("No usable stored light state, using defaults")
		return light.DefaultState()
	}
	return st
}

// LoadConfig returns the persisted device config, or fallback when none is usable.
func (s *FlashService) LoadConfig(fallback light.DeviceConfig) light.DeviceConfig {
	c, err := s.Actor.LoadConfig()
	if err != nil {
		log.Warn().Err(err).Msg("No usable stored device config, using config file")
		return fallback
	}
	return c
}

// ClearState erases the stored light state.
func (s *FlashService) ClearState() error {
	return s.Actor.ClearState()
}

// BootSlot reports the running slot for health output.
func (s *FlashService) BootSlot() string {
	return s.Boot.Running().Label()
}

// Run runs the actor until ctx is cancelled.
func (s *FlashService) Run(ctx context.Context) {
	if err := s.Actor.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Flash actor error")
	}
}

// RunVerify confirms an updated slot once the daemon has stayed up for the
// configured grace period. It returns immediately when nothing is pending.
func (s *FlashService) RunVerify(ctx context.Context) {
	if !s.Boot.Pending() {
		return
	}
	grace := s.cfg.Flash.VerifyAfter.Duration()
	log.Info().Str("slot", s.BootSlot()).Dur("after", grace).Msg("Updated slot pending verification")

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		log.Warn().Str("slot", s.BootSlot()).Msg("Shut down before slot was verified")
		return
	case <-t.C:
	}

	if err := s.Boot.MarkValid(); err != nil {
		log.Error().Err(err).Msg("Failed to mark slot valid")
		return
	}
	if s.Boot.Pending() {
		// An update was activated meanwhile.
		return
	}
	log.Info().Str("slot", s.BootSlot()).Msg("Slot marked valid")
	if s.ledger != nil {
		if err := s.ledger.Append(ledger.EventBootValidated, "boot", map[string]any{"slot": s.BootSlot()}); err != nil {
			log.Warn().Err(err).Msg("Failed to record boot validation")
		}
	}
}

// Close releases the image. Call after Run returned.
func (s *FlashService) Close() {
	if err := s.Device.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close flash image")
	}
}
