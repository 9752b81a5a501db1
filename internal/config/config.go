package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Speakers        []SpeakerConfig   `yaml:"speakers"`
	HomeKit         HomeKitConfig     `yaml:"homekit"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	API             APIConfig         `yaml:"api"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Metrics         MetricsConfig     `yaml:"metrics"`
	InfluxDB        InfluxDBConfig    `yaml:"influxdb"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// SpeakerConfig describes one Fidelio speaker
type SpeakerConfig struct {
	Name         string      `yaml:"name"`
	Host         string      `yaml:"host"`
	Port         int         `yaml:"port"`
	Timeout      Duration    `yaml:"timeout"`        // HTTP timeout per command
	RateLimitRPS float64     `yaml:"rate_limit_rps"` // 0 = unlimited
	Channels     []string    `yaml:"channels"`       // Command path per channel, index 1 first
	Cache        CacheSeed   `yaml:"cache"`
	RestoreState bool        `yaml:"restore_state"` // Seed the cache from the last stored snapshot
	PollInterval Duration    `yaml:"poll_interval"` // HomeKit refresh of power and volume (0 = disabled)
	ALSA         ALSAConfig  `yaml:"alsa"`
	Feed         FeedConfig  `yaml:"feed"`
	Info         SpeakerInfo `yaml:"info"`
}

// CacheSeed is the initial cache content; unset facets use the built-in seed
type CacheSeed struct {
	On      *bool `yaml:"on"`
	Volume  *int  `yaml:"volume"`
	Channel *int  `yaml:"channel"`
}

// ALSAConfig enables following the local system mixer
type ALSAConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Card     string   `yaml:"card"`
	Control  string   `yaml:"control"`
	Follow   bool     `yaml:"follow"`   // Push mixer changes to the speaker
	Debounce Duration `yaml:"debounce"` // Minimum time between pushed changes
}

// FeedConfig watches a file for commands
type FeedConfig struct {
	Path   string   `yaml:"path"`
	Script string   `yaml:"script"` // Optional Lua script with a parse(content, channels) function
	Quiet  Duration `yaml:"quiet"`  // How long the file must stay unchanged before it is read
}

// SpeakerInfo is reported to HomeKit
type SpeakerInfo struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	SerialNumber string `yaml:"serial_number"`
}

// HomeKitConfig contains HomeKit bridge settings
type HomeKitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Name        string `yaml:"name"`
	Pin         string `yaml:"pin"`
	Addr        string `yaml:"addr"`
	StoragePath string `yaml:"storage_path"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Broker         string   `yaml:"broker"` // tcp://host:1883
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	TopicPrefix    string   `yaml:"topic_prefix"`
	QoS            byte     `yaml:"qos"`
	KeepAlive      Duration `yaml:"keep_alive"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// APIConfig contains REST API server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// LedgerConfig contains apply ledger settings
type LedgerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MetricsConfig controls the Prometheus endpoint on the health server
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// InfluxDBConfig contains the optional state history sink
type InfluxDBConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     uint     `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Per-worker queue size (default: 100)
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

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables, decodes YAML and applies defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./fideliod.sqlite"
	}

	for i := range cfg.Speakers {
		s := &cfg.Speakers[i]
		if s.Port == 0 {
			s.Port = 8889
		}
		if s.Timeout == 0 {
			s.Timeout = Duration(5 * time.Second)
		}
		if s.ALSA.Control == "" {
			s.ALSA.Control = "Master"
		}
		if s.ALSA.Debounce == 0 {
			s.ALSA.Debounce = Duration(250 * time.Millisecond)
		}
		if s.Feed.Quiet == 0 {
			s.Feed.Quiet = Duration(200 * time.Millisecond)
		}
		if s.Info.Manufacturer == "" {
			s.Info.Manufacturer = "Philips"
		}
		if s.Info.Model == "" {
			s.Info.Model = "Fidelio"
		}
	}

	// HomeKit defaults
	if cfg.HomeKit.Name == "" {
		cfg.HomeKit.Name = "Fidelio Bridge"
	}
	if cfg.HomeKit.Pin == "" {
		cfg.HomeKit.Pin = "00102003"
	}
	if cfg.HomeKit.StoragePath == "" {
		cfg.HomeKit.StoragePath = "./homekit"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "fideliod"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "fidelio"
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = Duration(30 * time.Second)
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}

	// API defaults
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// InfluxDB defaults
	if cfg.InfluxDB.BatchSize == 0 {
		cfg.InfluxDB.BatchSize = 100
	}
	if cfg.InfluxDB.FlushInterval == 0 {
		cfg.InfluxDB.FlushInterval = Duration(10 * time.Second)
	}

	// Event bus defaults
	if cfg.EventBus.Workers <= 0 {
		cfg.EventBus.Workers = 4
	}
	if cfg.EventBus.QueueSize <= 0 {
		cfg.EventBus.QueueSize = 100
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks structural problems that defaults cannot fix
func (cfg *Config) Validate() error {
	var errs []error

	if len(cfg.Speakers) == 0 {
		errs = append(errs, errors.New("at least one speaker is required"))
	}

	seen := make(map[string]bool)
	for i, s := range cfg.Speakers {
		where := fmt.Sprintf("speakers[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", where))
		} else {
			where = fmt.Sprintf("speaker %q", s.Name)
			if seen[s.Name] {
				errs = append(errs, fmt.Errorf("%s: duplicate name", where))
			}
			seen[s.Name] = true
		}
		if s.Host == "" {
			errs = append(errs, fmt.Errorf("%s: host is required", where))
		}
		if s.Port < 1 || s.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s: port %d out of range", where, s.Port))
		}
		if s.RateLimitRPS < 0 {
			errs = append(errs, fmt.Errorf("%s: rate_limit_rps must not be negative", where))
		}
		for j, ch := range s.Channels {
			if strings.TrimSpace(ch) == "" {
				errs = append(errs, fmt.Errorf("%s: channels[%d] is empty", where, j))
			}
		}
		if v := s.Cache.Volume; v != nil && (*v < 0 || *v > 100) {
			errs = append(errs, fmt.Errorf("%s: cache.volume %d not in [0, 100]", where, *v))
		}
		if c := s.Cache.Channel; c != nil && len(s.Channels) > 0 && (*c < 1 || *c > len(s.Channels)) {
			errs = append(errs, fmt.Errorf("%s: cache.channel %d not in [1, %d]", where, *c, len(s.Channels)))
		}
		if s.ALSA.Follow && !s.ALSA.Enabled {
			errs = append(errs, fmt.Errorf("%s: alsa.follow requires alsa.enabled", where))
		}
		if s.Feed.Script != "" && s.Feed.Path == "" {
			errs = append(errs, fmt.Errorf("%s: feed.script requires feed.path", where))
		}
	}

	if cfg.HomeKit.Enabled && !validPin(cfg.HomeKit.Pin) {
		errs = append(errs, errors.New("homekit: pin must be 8 digits"))
	}
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt: broker is required"))
		}
		if cfg.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt: qos %d not in [0, 2]", cfg.MQTT.QoS))
		}
	}
	if cfg.InfluxDB.Enabled && (cfg.InfluxDB.URL == "" || cfg.InfluxDB.Org == "" || cfg.InfluxDB.Bucket == "") {
		errs = append(errs, errors.New("influxdb: url, org and bucket are required"))
	}
	if cfg.Metrics.Enabled && !cfg.Healthcheck.Enabled {
		errs = append(errs, errors.New("metrics: served by the healthcheck server, enable healthcheck"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Speaker returns the named speaker configuration
func (cfg *Config) Speaker(name string) (SpeakerConfig, bool) {
	for _, s := range cfg.Speakers {
		if s.Name == name {
			return s, true
		}
	}
	return SpeakerConfig{}, false
}

func validPin(pin string) bool {
	if len(pin) != 8 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
