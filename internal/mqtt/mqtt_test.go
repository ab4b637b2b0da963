package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/effect"
	"github.com/dokzlo13/stripd/internal/light"
)

type fakeLight struct {
	mu      sync.Mutex
	state   light.State
	intents []light.Intent
	err     error
}

func (f *fakeLight) ApplyIntent(in light.Intent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.intents = append(f.intents, in)
	return nil
}

func (f *fakeLight) State() light.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type fakePublisher struct {
	published []*paho.Publish
}

func (p *fakePublisher) Publish(_ context.Context, pub *paho.Publish) (*paho.PublishResponse, error) {
	p.published = append(p.published, pub)
	return &paho.PublishResponse{}, nil
}

func newTestClient(l *fakeLight) *Client {
	return New(l, Options{DeviceID: "desk", Name: "Desk Strip", DiscoveryPrefix: "homeassistant"})
}

func TestTopics(t *testing.T) {
	topics := NewTopics("homeassistant", "desk")
	assert.Equal(t, "desk/light", topics.State)
	assert.Equal(t, "desk/light/set", topics.Command)
	assert.Equal(t, "desk/availability", topics.Availability)
	assert.Equal(t, "homeassistant/light/desk_light/config", topics.Discovery)
}

func TestDiscoveryDocument(t *testing.T) {
	payload, err := discoveryPayload(NewTopics("homeassistant", "desk"), "desk", "Desk Strip")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(payload, &doc))
	assert.Equal(t, "json", doc["schema"])
	assert.Equal(t, "desk_light", doc["unique_id"])
	assert.Equal(t, true, doc["brightness"])
	assert.Equal(t, []any{"static", "rainbow", "rainbow_flow"}, doc["effect_list"])
	assert.Equal(t, []any{"rgb", "color_temp"}, doc["supported_color_modes"])
	assert.Equal(t, float64(153), doc["min_mireds"])
	assert.Equal(t, float64(666), doc["max_mireds"])
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    *light.Intent
	}{
		{
			name:    "power and brightness",
			payload: `{"state":"ON","brightness":128}`,
			want:    ptr(light.Intent{}.WithPower(true).WithBrightness(128)),
		},
		{
			name:    "color wins over temperature",
			payload: `{"color":{"r":255,"g":0,"b":10},"color_temp":250}`,
			want:    ptr(light.Intent{}.WithColor(color.RGB{R: 255, B: 10})),
		},
		{
			name:    "effect by name",
			payload: `{"effect":"rainbow_flow"}`,
			want:    ptr(light.Intent{}.WithMode(uint8(effect.RainbowFlow))),
		},
		{name: "unknown effect only", payload: `{"effect":"strobe"}`},
		{name: "malformed", payload: `{"state":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &fakeLight{}
			c := newTestClient(l)
			c.handleCommand([]byte(tt.payload))

			if tt.want == nil {
				assert.Empty(t, l.intents)
				return
			}
			require.Len(t, l.intents, 1)
			assert.Equal(t, *tt.want, l.intents[0])
		})
	}
}

func TestPublishStateAndAnnounce(t *testing.T) {
	s := light.DefaultState()
	s.Power = false
	s.Brightness = 42
	l := &fakeLight{state: s}
	c := newTestClient(l)
	pub := &fakePublisher{}

	c.announce(context.Background(), pub)
	c.publishState(context.Background(), pub)

	require.Len(t, pub.published, 3)
	assert.Equal(t, "homeassistant/light/desk_light/config", pub.published[0].Topic)
	assert.True(t, pub.published[0].Retain)
	assert.Equal(t, "desk/availability", pub.published[1].Topic)
	assert.Equal(t, PayloadOnline, string(pub.published[1].Payload))

	state := pub.published[2]
	assert.Equal(t, "desk/light", state.Topic)
	var msg light.StateMessage
	require.NoError(t, json.Unmarshal(state.Payload, &msg))
	assert.Equal(t, light.StateOff, msg.State)
	assert.Equal(t, uint8(42), msg.Brightness)
	assert.Equal(t, "rainbow", msg.Effect)
}

func TestNotifyStateCoalesces(t *testing.T) {
	c := newTestClient(&fakeLight{})
	for i := 0; i < 5; i++ {
		c.NotifyState()
	}
	assert.Len(t, c.notify, 1)
}

func TestReconfigureKeepsLatest(t *testing.T) {
	c := newTestClient(&fakeLight{})
	c.Reconfigure(light.MQTTConfig{Host: "a"})
	c.Reconfigure(light.MQTTConfig{Host: "b"})

	require.Len(t, c.reconfig, 1)
	assert.Equal(t, "b", (<-c.reconfig).Host)
}

func TestSessionWithoutHostWaitsForConfig(t *testing.T) {
	c := newTestClient(&fakeLight{})
	c.Reconfigure(light.MQTTConfig{Host: "broker", Port: 1883})

	next, err := c.session(context.Background(), light.MQTTConfig{})
	require.NoError(t, err)
	assert.Equal(t, "broker", next.Host)
}

func ptr[T any](v T) *T {
	return &v
}
