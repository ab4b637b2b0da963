// Package mqtt exposes the light to Home Assistant over MQTT using the JSON light schema.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/stripd/internal/light"
)

// Controller is the part of the engine the adapter drives.
type Controller interface {
	ApplyIntent(light.Intent) error
	State() light.State
}

// Options configure the adapter.
type Options struct {
	DeviceID        string
	Name            string
	DiscoveryPrefix string
	Broker          light.MQTTConfig
	KeepAlive       time.Duration
	PublishRate     float64
	RefreshInterval time.Duration
	RetryWait       time.Duration
}

// publisher is the subset of autopaho.ConnectionManager used for outbound messages.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Client keeps a broker session alive, mirrors committed state and forwards commands.
type Client struct {
	opts    Options
	topics  Topics
	light   Controller
	limiter *rate.Limiter

	notify   chan struct{}
	reconfig chan light.MQTTConfig
}

func New(ctrl Controller, opts Options) *Client {
	if opts.PublishRate <= 0 {
		opts.PublishRate = 5
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 5 * time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}
	return &Client{
		opts:     opts,
		topics:   NewTopics(opts.DiscoveryPrefix, opts.DeviceID),
		light:    ctrl,
		limiter:  rate.NewLimiter(rate.Limit(opts.PublishRate), 1),
		notify:   make(chan struct{}, 1),
		reconfig: make(chan light.MQTTConfig, 1),
	}
}

func (c *Client) Topics() Topics {
	return c.topics
}

// NotifyState schedules a state publish. Bursts collapse into one message.
func (c *Client) NotifyState() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Reconfigure reconnects with new broker settings. Only the latest pending settings are kept.
func (c *Client) Reconfigure(b light.MQTTConfig) {
	for {
		select {
		case c.reconfig <- b:
			return
		default:
		}
		select {
		case <-c.reconfig:
		default:
		}
	}
}

// Run maintains the broker session until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	broker := c.opts.Broker
	for {
		next, err := c.session(ctx, broker)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Info().Str("host", next.Host).Uint16("port", next.Port).Msg("MQTT broker settings changed, reconnecting")
		broker = next
	}
}

// session runs one connection manager. It returns when ctx ends or new settings arrive.
func (c *Client) session(ctx context.Context, broker light.MQTTConfig) (light.MQTTConfig, error) {
	if broker.Host == "" {
		log.Warn().Msg("MQTT broker host not configured, waiting for config")
		select {
		case <-ctx.Done():
			return broker, nil
		case next := <-c.reconfig:
			return next, nil
		}
	}

	connCtx, cancelConn := context.WithCancel(context.Background())
	defer cancelConn()

	cm, err := autopaho.NewConnection(connCtx, c.clientConfig(ctx, broker))
	if err != nil {
		return broker, fmt.Errorf("failed to start MQTT connection: %w", err)
	}

	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()

	next := broker
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case next = <-c.reconfig:
			done = true
		case <-c.notify:
			if err := c.limiter.Wait(ctx); err != nil {
				continue
			}
			c.publishState(ctx, cm)
		case <-ticker.C:
			c.publishState(ctx, cm)
		}
	}

	c.disconnect(cm)
	return next, nil
}

func (c *Client) clientConfig(ctx context.Context, broker light.MQTTConfig) autopaho.ClientConfig {
	server := &url.URL{Scheme: "mqtt", Host: fmt.Sprintf("%s:%d", broker.Host, broker.Port)}

	return autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{server},
		KeepAlive:                     uint16(c.opts.KeepAlive / time.Second),
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.opts.RetryWait),
		ConnectUsername:               broker.Username,
		ConnectPassword:               []byte(broker.Password),
		WillMessage: &paho.WillMessage{
			Retain:  true,
			QoS:     1,
			Topic:   c.topics.Availability,
			Payload: []byte(PayloadOffline),
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			log.Info().Str("broker", server.String()).Msg("MQTT connected")
			c.onConnectionUp(ctx, cm)
		},
		OnConnectError: func(err error) {
			log.Warn().Err(err).Str("broker", server.String()).Msg("MQTT connection error")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "stripd-" + c.opts.DeviceID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					if pr.Packet.Topic != c.topics.Command {
						return false, nil
					}
					c.handleCommand(pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				log.Error().Err(err).Msg("MQTT client error")
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				ev := log.Warn().Int("reason", int(d.ReasonCode))
				if d.Properties != nil {
					ev = ev.Str("reason_string", d.Properties.ReasonString)
				}
				ev.Msg("Disconnected by MQTT server")
			},
		},
	}
}

// onConnectionUp subscribes and announces the device. It runs on every (re)connect.
func (c *Client) onConnectionUp(ctx context.Context, cm *autopaho.ConnectionManager) {
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: c.topics.Command, QoS: 1}},
	}); err != nil {
		log.Error().Err(err).Str("topic", c.topics.Command).Msg("Failed to subscribe to command topic")
	}

	c.announce(ctx, cm)
	c.publishState(ctx, cm)
}

func (c *Client) announce(ctx context.Context, pub publisher) {
	discovery, err := discoveryPayload(c.topics, c.opts.DeviceID, c.opts.Name)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode discovery document")
		return
	}
	c.publish(ctx, pub, c.topics.Discovery, discovery, true)
	c.publish(ctx, pub, c.topics.Availability, []byte(PayloadOnline), true)
}

func (c *Client) publishState(ctx context.Context, pub publisher) {
	payload, err := json.Marshal(light.NewStateMessage(c.light.State()))
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode state")
		return
	}
	c.publish(ctx, pub, c.topics.State, payload, true)
}

func (c *Client) publish(ctx context.Context, pub publisher, topic string, payload []byte, retain bool) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Retain:  retain,
		Payload: payload,
	}); err != nil {
		log.Debug().Err(err).Str("topic", topic).Msg("MQTT publish failed")
		return
	}
	log.Trace().Str("topic", topic).RawJSON("payload", jsonOrString(payload)).Msg("MQTT published")
}

func (c *Client) handleCommand(payload []byte) {
	cmd, err := light.ParseCommand(payload)
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring malformed MQTT command")
		return
	}
	in := cmd.Intent()
	if in.IsEmpty() {
		log.Debug().Str("payload", string(payload)).Msg("MQTT command carried no changes")
		return
	}
	if err := c.light.ApplyIntent(in); err != nil {
		log.Warn().Err(err).Object("intent", in).Msg("Dropped MQTT command")
		return
	}
	log.Debug().Object("intent", in).Msg("MQTT command applied")
}

func (c *Client) disconnect(cm *autopaho.ConnectionManager) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c.publish(ctx, cm, c.topics.Availability, []byte(PayloadOffline), true)
	if err := cm.Disconnect(ctx); err != nil {
		log.Debug().Err(err).Msg("MQTT disconnect")
	}
	log.Info().Msg("MQTT disconnected")
}

func jsonOrString(b []byte) []byte {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
