// Package config loads proctor settings from a YAML file, an optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/andresmejia3/proctor/internal/objects"
	"github.com/andresmejia3/proctor/internal/tracker"
	"github.com/andresmejia3/proctor/internal/utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// DefaultDatabaseURL is used when neither the file nor the environment names a database.
const DefaultDatabaseURL = "postgres://localhost:5432/proctor"

// Config represents the complete proctor configuration
type Config struct {
	Database DatabaseConfig     `yaml:"database"`
	Logging  LoggingConfig      `yaml:"logging"`
	Session  SessionConfig      `yaml:"session"`
	Objects  objects.Thresholds `yaml:"objects"`
	Capture  CaptureConfig      `yaml:"capture"`
	MQTT     MQTTConfig         `yaml:"mqtt"`
}

// DatabaseConfig points at the PostgreSQL instance holding session history
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SessionConfig contains check cadences and debounce windows
type SessionConfig struct {
	FaceInterval   time.Duration `yaml:"face_interval"`
	ObjectInterval time.Duration `yaml:"object_interval"`
	tracker.Config `yaml:",inline"`
}

// CaptureConfig contains ffmpeg decoder settings
type CaptureConfig struct {
	FFmpeg   string  `yaml:"ffmpeg"`
	Format   string  `yaml:"format"` // e.g. v4l2, avfoundation; empty lets ffmpeg probe
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	FPS      float64 `yaml:"fps"`
	Realtime bool    `yaml:"realtime"`
}

// Decoder converts the section into decoder options.
func (c CaptureConfig) Decoder() utils.DecoderOptions {
	return utils.DecoderOptions{
		FFmpeg:   c.FFmpeg,
		Format:   c.Format,
		Width:    c.Width,
		Height:   c.Height,
		FPS:      c.FPS,
		Realtime: c.Realtime,
	}
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	Encoding       string        `yaml:"encoding"` // json or msgpack
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Session: SessionConfig{
			FaceInterval:   time.Second,
			ObjectInterval: 3 * time.Second,
			Config:         tracker.DefaultConfig(),
		},
		Objects: objects.DefaultThresholds(),
		Capture: CaptureConfig{FFmpeg: "ffmpeg", FPS: 5},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			ClientID:       "proctor",
			TopicPrefix:    "proctor",
			QoS:            1,
			Encoding:       "json",
			ConnectTimeout: 5 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given files (default ".env"). Missing files are not an error.
func LoadDotEnv(paths ...string) (bool, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	if len(existing) == 0 {
		return false, nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return false, fmt.Errorf("failed to load %v: %w", existing, err)
	}
	return true, nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c.Database.URL == "" {
		if host := getenv("POSTGRES_HOST"); host != "" {
			port := getenv("POSTGRES_PORT")
			if port == "" {
				port = "5432"
			}
			c.Database.URL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
				getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD"), host, port, getenv("POSTGRES_DB"))
		} else {
			c.Database.URL = DefaultDatabaseURL
		}
	}
	if v := getenv("PROCTOR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("PROCTOR_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	s := c.Session
	check(s.FaceInterval > 0, "session.face_interval must be positive")
	check(s.ObjectInterval > 0, "session.object_interval must be positive")
	check(s.NoFaceAfter > 0, "session.no_face_after must be positive")
	check(s.NoFaceConfirm >= 0, "session.no_face_confirm must not be negative")
	check(s.LookingAwayAfter > 0, "session.looking_away_after must be positive")

	thresholds := []struct {
		name string
		v    float64
	}{
		{"phone", c.Objects.Phone},
		{"book", c.Objects.Book},
		{"laptop", c.Objects.Laptop},
		{"min_confidence", c.Objects.Min},
	}
	for _, th := range thresholds {
		check(th.v >= 0 && th.v <= 1, "objects.%s must be within [0,1], got %v", th.name, th.v)
	}

	check(c.Capture.Width >= 0 && c.Capture.Height >= 0, "capture dimensions must not be negative")
	check(c.Capture.FPS >= 0, "capture.fps must not be negative")

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		check(false, "logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	check(c.Logging.Format == "text" || c.Logging.Format == "json", "logging.format %q is not text or json", c.Logging.Format)

	if c.MQTT.Enabled {
		check(c.MQTT.Broker != "", "mqtt.broker is required when mqtt is enabled")
		check(c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1 or 2")
		check(c.MQTT.Encoding == "json" || c.MQTT.Encoding == "msgpack", "mqtt.encoding %q is not json or msgpack", c.MQTT.Encoding)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
