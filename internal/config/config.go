package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Device          DeviceConfig      `yaml:"device"`
	Log             LogConfig         `yaml:"log"`
	Strip           StripConfig       `yaml:"strip"`
	Transitions     TransitionsConfig `yaml:"transitions"`
	Effects         EffectsConfig     `yaml:"effects"`
	Flash           FlashConfig       `yaml:"flash"`
	Database        DatabaseConfig    `yaml:"database"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	API             APIConfig         `yaml:"api"`
	Script          ScriptConfig      `yaml:"script"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops

	// Path is the file the config was loaded from, used to resolve relative paths
	Path string `yaml:"-"`
}

// DeviceConfig identifies this controller on the network
type DeviceConfig struct {
	ID   string `yaml:"id"`   // Used as MQTT topic prefix and discovery id
	Name string `yaml:"name"` // Friendly name advertised to Home Assistant
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

// StripConfig describes the LED hardware. These are first-boot defaults;
// a config stored in flash takes precedence.
type StripConfig struct {
	Driver          string `yaml:"driver"` // null, log or ws281x
	GPIOPin         int    `yaml:"gpio_pin"`
	LedCount        int    `yaml:"led_count"`
	SkipLeds        int    `yaml:"skip_leds"`
	FPS             int    `yaml:"fps"`
	ColorOrder      string `yaml:"color_order"`
	ColorCorrection string `yaml:"color_correction"` // #rrggbb
	BrightnessMin   int    `yaml:"brightness_min"`
	BrightnessMax   int    `yaml:"brightness_max"`
	IntentQueue     int    `yaml:"intent_queue"`
	OperationQueue  int    `yaml:"operation_queue"`
}

// TransitionsConfig contains animation durations
type TransitionsConfig struct {
	FadeIn      Duration `yaml:"fade_in"`
	FadeOut     Duration `yaml:"fade_out"`
	ColorChange Duration `yaml:"color_change"`
	Brightness  Duration `yaml:"brightness"`
}

// EffectsConfig contains effect tuning
type EffectsConfig struct {
	RainbowCycle Duration `yaml:"rainbow_cycle"`
}

// FlashConfig describes the emulated flash image and persistence behaviour
type FlashConfig struct {
	Image       string   `yaml:"image"`
	SectorSize  int      `yaml:"sector_size"`
	NVSSize     int      `yaml:"nvs_size"`
	OTADataSize int      `yaml:"otadata_size"`
	SlotSize    int      `yaml:"slot_size"`
	Debounce    Duration `yaml:"debounce"`       // Delay before a light state change is written
	QueueSize   int      `yaml:"queue_size"`     // Pending persistence requests
	VerifyAfter Duration `yaml:"verify_after"`   // Healthy uptime before an updated slot is marked valid
	ChunkSize   int      `yaml:"ota_chunk_size"` // Upload chunk size handed to the flash actor
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 32)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 32
	}
	return c.QueueSize
}

// MQTTConfig contains broker settings. Host and credentials are first-boot
// defaults; the stored device config overrides them.
type MQTTConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DiscoveryPrefix  string   `yaml:"discovery_prefix"`
	KeepAlive        Duration `yaml:"keep_alive"`
	PublishRate      float64  `yaml:"publish_rate"`     // State publishes per second
	RefreshInterval  Duration `yaml:"refresh_interval"` // Periodic state republish
	ConnectRetryWait Duration `yaml:"connect_retry_wait"`
}

// APIConfig contains REST server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// GetHost returns the host with default
func (c *APIConfig) GetHost() string {
	if c.Host == "" {
		return "0.0.0.0"
	}
	return c.Host
}

// GetPort returns the port with default
func (c *APIConfig) GetPort() int {
	if c.Port == 0 {
		return 8080
	}
	return c.Port
}

// ScriptConfig contains automation script settings
type ScriptConfig struct {
	Path      string `yaml:"path"` // Empty disables scripting
	QueueSize int    `yaml:"queue_size"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// GetShutdownTimeout returns the shutdown timeout with default
func (c *Config) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout.Duration()
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// Parse parses configuration from YAML and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Device.ID == "" {
		cfg.Device.ID = "stripd"
	}
	if cfg.Device.Name == "" {
		cfg.Device.Name = "LED Strip"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Strip defaults
	if cfg.Strip.Driver == "" {
		cfg.Strip.Driver = "null"
	}
	if cfg.Strip.GPIOPin == 0 {
		cfg.Strip.GPIOPin = 18
	}
	if cfg.Strip.LedCount == 0 {
		cfg.Strip.LedCount = 60
	}
	if cfg.Strip.FPS == 0 {
		cfg.Strip.FPS = 90
	}
	if cfg.Strip.ColorOrder == "" {
		cfg.Strip.ColorOrder = "GRB"
	}
	if cfg.Strip.ColorCorrection == "" {
		cfg.Strip.ColorCorrection = "#ffffff"
	}
	if cfg.Strip.BrightnessMax == 0 {
		cfg.Strip.BrightnessMax = 255
	}
	if cfg.Strip.IntentQueue == 0 {
		cfg.Strip.IntentQueue = 10
	}
	if cfg.Strip.OperationQueue == 0 {
		cfg.Strip.OperationQueue = 10
	}

	// Transition defaults
	if cfg.Transitions.FadeIn == 0 {
		cfg.Transitions.FadeIn = Duration(500 * time.Millisecond)
	}
	if cfg.Transitions.FadeOut == 0 {
		cfg.Transitions.FadeOut = Duration(800 * time.Millisecond)
	}
	if cfg.Transitions.ColorChange == 0 {
		cfg.Transitions.ColorChange = Duration(200 * time.Millisecond)
	}
	if cfg.Transitions.Brightness == 0 {
		cfg.Transitions.Brightness = Duration(300 * time.Millisecond)
	}
	if cfg.Effects.RainbowCycle == 0 {
		cfg.Effects.RainbowCycle = Duration(12 * time.Second)
	}

	// Flash defaults
	if cfg.Flash.Image == "" {
		cfg.Flash.Image = "./stripd-flash.bin"
	}
	if cfg.Flash.SectorSize == 0 {
		cfg.Flash.SectorSize = 4096
	}
	if cfg.Flash.NVSSize == 0 {
		cfg.Flash.NVSSize = 4 * cfg.Flash.SectorSize
	}
	if cfg.Flash.OTADataSize == 0 {
		cfg.Flash.OTADataSize = 2 * cfg.Flash.SectorSize
	}
	if cfg.Flash.SlotSize == 0 {
		cfg.Flash.SlotSize = 1 << 20
	}
	if cfg.Flash.Debounce == 0 {
		cfg.Flash.Debounce = Duration(5 * time.Second)
	}
	if cfg.Flash.QueueSize == 0 {
		cfg.Flash.QueueSize = 8
	}
	if cfg.Flash.VerifyAfter == 0 {
		cfg.Flash.VerifyAfter = Duration(30 * time.Second)
	}
	if cfg.Flash.ChunkSize == 0 {
		cfg.Flash.ChunkSize = 4096
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "./stripd.sqlite"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// MQTT defaults
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = Duration(30 * time.Second)
	}
	if cfg.MQTT.PublishRate == 0 {
		cfg.MQTT.PublishRate = 5
	}
	if cfg.MQTT.RefreshInterval == 0 {
		cfg.MQTT.RefreshInterval = Duration(60 * time.Second)
	}
	if cfg.MQTT.ConnectRetryWait == 0 {
		cfg.MQTT.ConnectRetryWait = Duration(5 * time.Second)
	}

	if cfg.Script.QueueSize == 0 {
		cfg.Script.QueueSize = 64
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
