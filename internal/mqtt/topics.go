package mqtt

import (
	"encoding/json"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/effect"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics are the MQTT topics used by one device.
type Topics struct {
	State        string
	Command      string
	Availability string
	Discovery    string
}

func NewTopics(discoveryPrefix, deviceID string) Topics {
	return Topics{
		State:        deviceID + "/light",
		Command:      deviceID + "/light/set",
		Availability: deviceID + "/availability",
		Discovery:    discoveryPrefix + "/light/" + deviceID + "_light/config",
	}
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// discoveryConfig is the Home Assistant MQTT light discovery document for the JSON schema.
type discoveryConfig struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	Schema              string          `json:"schema"`
	StateTopic          string          `json:"state_topic"`
	CommandTopic        string          `json:"command_topic"`
	AvailabilityTopic   string          `json:"availability_topic"`
	Brightness          bool            `json:"brightness"`
	Effect              bool            `json:"effect"`
	EffectList          []string        `json:"effect_list"`
	SupportedColorModes []string        `json:"supported_color_modes"`
	MinMireds           uint16          `json:"min_mireds"`
	MaxMireds           uint16          `json:"max_mireds"`
	Device              discoveryDevice `json:"device"`
}

func discoveryPayload(topics Topics, deviceID, name string) ([]byte, error) {
	return json.Marshal(discoveryConfig{
		Name:                name,
		UniqueID:            deviceID + "_light",
		Schema:              "json",
		StateTopic:          topics.State,
		CommandTopic:        topics.Command,
		AvailabilityTopic:   topics.Availability,
		Brightness:          true,
		Effect:              true,
		EffectList:          effect.Names(),
		SupportedColorModes: []string{"rgb", "color_temp"},
		MinMireds:           color.KelvinToMireds(color.MaxKelvin),
		MaxMireds:           color.KelvinToMireds(color.MinKelvin),
		Device: discoveryDevice{
			Identifiers:  []string{deviceID},
			Name:         name,
			Manufacturer: "stripd",
			Model:        "Addressable LED strip",
		},
	})
}
