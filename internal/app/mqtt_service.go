package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/stripd/internal/config"
	"github.com/dokzlo13/stripd/internal/light"
	"github.com/dokzlo13/stripd/internal/mqtt"
)

// MQTTService wraps the Home Assistant MQTT adapter.
type MQTTService struct {
	cfg    *config.Config
	Client *mqtt.Client
}

// NewMQTTService creates the adapter. Broker settings come from the device config.
func NewMQTTService(cfg *config.Config, ctrl mqtt.Controller, broker light.MQTTConfig) *MQTTService {
	if !cfg.MQTT.Enabled {
		return &MQTTService{cfg: cfg}
	}
	client := mqtt.New(ctrl, mqtt.Options{
		DeviceID:        cfg.Device.ID,
		Name:            cfg.Device.Name,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		Broker:          broker,
		KeepAlive:       cfg.MQTT.KeepAlive.Duration(),
		PublishRate:     cfg.MQTT.PublishRate,
		RefreshInterval: cfg.MQTT.RefreshInterval.Duration(),
		RetryWait:       cfg.MQTT.ConnectRetryWait.Duration(),
	})
	return &MQTTService{cfg: cfg, Client: client}
}

// Enabled reports whether the adapter runs.
func (s *MQTTService) Enabled() bool {
	return s.Client != nil
}

// NotifyState schedules a state publish.
func (s *MQTTService) NotifyState() {
	if s.Client != nil {
		s.Client.NotifyState()
	}
}

// Reconfigure switches to new broker settings.
func (s *MQTTService) Reconfigure(broker light.MQTTConfig) {
	if s.Client != nil {
		s.Client.Reconfigure(broker)
	}
}

// Run keeps the broker session alive until ctx is cancelled.
func (s *MQTTService) Run(ctx context.Context) {
	if s.Client == nil {
		log.Debug().Msg("MQTT disabled")
		return
	}
	if err := s.Client.Run(ctx); err != nil {
		log.Error().Err(err).Msg("MQTT adapter error")
	}
}
