package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "STUDYHALL_"

// FileEnvVar names the optional JSON config file consulted before the environment.
const FileEnvVar = EnvPrefix + "CONFIG_FILE"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator.
// Precedence is defaults, then the JSON file, then the environment.
type Config struct {
	HTTP      HTTPConfig      `json:"http" envPrefix:"HTTP_"`
	WebSocket WebSocketConfig `json:"websocket" envPrefix:"WEBSOCKET_"`
	Database  DatabaseConfig  `json:"database" envPrefix:"DATABASE_"`
	Auth      AuthConfig      `json:"auth" envPrefix:"AUTH_"`
	Lifecycle LifecycleConfig `json:"lifecycle" envPrefix:"LIFECYCLE_"`
	Mentor    MentorConfig    `json:"mentor" envPrefix:"MENTOR_"`
	RateLimit RateLimitConfig `json:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Log       LogConfig       `json:"log" envPrefix:"LOG_"`
}

type HTTPConfig struct {
	Host            string        `json:"host" env:"HOST"`
	Port            int           `json:"port" env:"PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FUNCTIONAL DISCOVERY: WebSocket settings mirror the transport's keepalive model,
// pings every PingInterval and a dead peer detected after PongWait.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration `json:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	PingInterval     time.Duration `json:"ping_interval" env:"PING_INTERVAL"`
	PongWait         time.Duration `json:"pong_wait" env:"PONG_WAIT"`
	WriteTimeout     time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	BufferSize       int           `json:"buffer_size" env:"BUFFER_SIZE"`
	MaxMessageBytes  int64         `json:"max_message_bytes" env:"MAX_MESSAGE_BYTES"`
	AllowedOrigins   []string      `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

type DatabaseConfig struct {
	Path            string        `json:"path" env:"PATH"`
	MaxConnections  int           `json:"max_connections" env:"MAX_CONNECTIONS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	RetryDelay      time.Duration `json:"retry_delay" env:"RETRY_DELAY"`
}

type AuthConfig struct {
	JWTSecret     string        `json:"jwt_secret" env:"JWT_SECRET"`
	Issuer        string        `json:"issuer" env:"ISSUER"`
	VerifyTimeout time.Duration `json:"verify_timeout" env:"VERIFY_TIMEOUT"`
}

// LifecycleConfig drives the background scheduler.
type LifecycleConfig struct {
	SweepInterval       time.Duration `json:"sweep_interval" env:"SWEEP_INTERVAL"`
	InactivityThreshold time.Duration `json:"inactivity_threshold" env:"INACTIVITY_THRESHOLD"`
	AnalyticsInterval   time.Duration `json:"analytics_interval" env:"ANALYTICS_INTERVAL"`
	SchedulerResolution time.Duration `json:"scheduler_resolution" env:"SCHEDULER_RESOLUTION"`
}

type MentorConfig struct {
	ReplyTimeout time.Duration `json:"reply_timeout" env:"REPLY_TIMEOUT"`
}

// RateLimitConfig bounds inbound events per user. EventsPerMinute of zero disables limiting.
type RateLimitConfig struct {
	EventsPerMinute int `json:"events_per_minute" env:"EVENTS_PER_MINUTE"`
	Burst           int `json:"burst" env:"BURST"`
}

type LogConfig struct {
	Development bool   `json:"development" env:"DEVELOPMENT"`
	Level       string `json:"level" env:"LEVEL"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults. The JWT secret has no default
// and must come from the file or the environment.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
			PongWait:         60 * time.Second,
			WriteTimeout:     10 * time.Second,
			BufferSize:       100,
			MaxMessageBytes:  64 * 1024,
		},
		Database: DatabaseConfig{
			Path:            "./data/studyhall.db",
			MaxConnections:  10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
			WriteTimeout:    30 * time.Second,
			RetryDelay:      5 * time.Second,
		},
		Auth: AuthConfig{
			VerifyTimeout: 5 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			SweepInterval:       10 * time.Minute,
			InactivityThreshold: 30 * time.Minute,
			AnalyticsInterval:   5 * time.Second,
			SchedulerResolution: time.Second,
		},
		Mentor: MentorConfig{
			ReplyTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			EventsPerMinute: 120,
			Burst:           20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.HTTP.Host != "", "HTTP host cannot be empty")
	check(c.HTTP.Port > 0 && c.HTTP.Port <= 65535, "HTTP port must be between 1 and 65535")
	check(c.HTTP.ReadTimeout > 0, "HTTP read timeout must be positive")
	check(c.HTTP.WriteTimeout > 0, "HTTP write timeout must be positive")
	check(c.HTTP.ShutdownTimeout > 0, "HTTP shutdown timeout must be positive")

	check(c.WebSocket.HandshakeTimeout > 0, "WebSocket handshake timeout must be positive")
	check(c.WebSocket.PingInterval > 0, "WebSocket ping interval must be positive")
	check(c.WebSocket.PongWait > c.WebSocket.PingInterval, "WebSocket pong wait must exceed the ping interval")
	check(c.WebSocket.WriteTimeout > 0, "WebSocket write timeout must be positive")
	check(c.WebSocket.BufferSize > 0, "WebSocket buffer size must be positive")
	check(c.WebSocket.MaxMessageBytes > 0, "WebSocket max message size must be positive")

	check(c.Database.Path != "", "database path cannot be empty")
	check(c.Database.MaxConnections > 0, "database max connections must be positive")
	check(c.Database.ConnMaxLifetime > 0, "database connection max lifetime must be positive")
	check(c.Database.ConnMaxIdleTime > 0, "database connection max idle time must be positive")
	check(c.Database.WriteTimeout > 0, "database write timeout must be positive")
	check(c.Database.RetryDelay >= 0, "database retry delay cannot be negative")

	check(c.Auth.JWTSecret != "", "auth JWT secret cannot be empty")
	check(c.Auth.VerifyTimeout > 0, "auth verify timeout must be positive")

	check(c.Lifecycle.SweepInterval > 0, "lifecycle sweep interval must be positive")
	check(c.Lifecycle.InactivityThreshold > 0, "lifecycle inactivity threshold must be positive")
	check(c.Lifecycle.AnalyticsInterval > 0, "lifecycle analytics interval must be positive")
	check(c.Lifecycle.SchedulerResolution > 0, "lifecycle scheduler resolution must be positive")

	check(c.Mentor.ReplyTimeout > 0, "mentor reply timeout must be positive")

	check(c.RateLimit.EventsPerMinute >= 0, "rate limit events per minute cannot be negative")
	check(c.RateLimit.EventsPerMinute == 0 || c.RateLimit.Burst > 0, "rate limit burst must be positive when limiting is enabled")

	return errors.Join(errs...)
}

// LoadFromEnv overlays STUDYHALL_* variables onto cfg. Unset variables leave
// the current value untouched.
func LoadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Database  *DatabaseConfigFile  `json:"database"`
	Auth      *AuthConfigFile      `json:"auth"`
	Lifecycle *LifecycleConfigFile `json:"lifecycle"`
	Mentor    *MentorConfigFile    `json:"mentor"`
	RateLimit *RateLimitConfig     `json:"rate_limit"`
	Log       *LogConfig           `json:"log"`
}

type HTTPConfigFile struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	HandshakeTimeout string   `json:"handshake_timeout"`
	PingInterval     string   `json:"ping_interval"`
	PongWait         string   `json:"pong_wait"`
	WriteTimeout     string   `json:"write_timeout"`
	BufferSize       int      `json:"buffer_size"`
	MaxMessageBytes  int64    `json:"max_message_bytes"`
	AllowedOrigins   []string `json:"allowed_origins"`
}

type DatabaseConfigFile struct {
	Path            string `json:"path"`
	MaxConnections  int    `json:"max_connections"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
	ConnMaxIdleTime string `json:"conn_max_idle_time"`
	WriteTimeout    string `json:"write_timeout"`
	RetryDelay      string `json:"retry_delay"`
}

type AuthConfigFile struct {
	JWTSecret     string `json:"jwt_secret"`
	Issuer        string `json:"issuer"`
	VerifyTimeout string `json:"verify_timeout"`
}

type LifecycleConfigFile struct {
	SweepInterval       string `json:"sweep_interval"`
	InactivityThreshold string `json:"inactivity_threshold"`
	AnalyticsInterval   string `json:"analytics_interval"`
	SchedulerResolution string `json:"scheduler_resolution"`
}

type MentorConfigFile struct {
	ReplyTimeout string `json:"reply_timeout"`
}

// durations collects duration parse failures so a file reports every bad field.
type durations struct {
	errs []error
}

func (d *durations) set(dst *time.Duration, field, raw string) {
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: %w", field, err))
		return
	}
	*dst = v
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt[T int | int64](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// apply overlays the non-zero fields of the file onto cfg.
func (f *ConfigFile) apply(cfg *Config) error {
	var d durations

	if h := f.HTTP; h != nil {
		setString(&cfg.HTTP.Host, h.Host)
		setInt(&cfg.HTTP.Port, h.Port)
		d.set(&cfg.HTTP.ReadTimeout, "http.read_timeout", h.ReadTimeout)
		d.set(&cfg.HTTP.WriteTimeout, "http.write_timeout", h.WriteTimeout)
		d.set(&cfg.HTTP.ShutdownTimeout, "http.shutdown_timeout", h.ShutdownTimeout)
	}

	if w := f.WebSocket; w != nil {
		d.set(&cfg.WebSocket.HandshakeTimeout, "websocket.handshake_timeout", w.HandshakeTimeout)
		d.set(&cfg.WebSocket.PingInterval, "websocket.ping_interval", w.PingInterval)
		d.set(&cfg.WebSocket.PongWait, "websocket.pong_wait", w.PongWait)
		d.set(&cfg.WebSocket.WriteTimeout, "websocket.write_timeout", w.WriteTimeout)
		setInt(&cfg.WebSocket.BufferSize, w.BufferSize)
		setInt(&cfg.WebSocket.MaxMessageBytes, w.MaxMessageBytes)
		if len(w.AllowedOrigins) > 0 {
			cfg.WebSocket.AllowedOrigins = w.AllowedOrigins
		}
	}

	if db := f.Database; db != nil {
		setString(&cfg.Database.Path, db.Path)
		setInt(&cfg.Database.MaxConnections, db.MaxConnections)
		d.set(&cfg.Database.ConnMaxLifetime, "database.conn_max_lifetime", db.ConnMaxLifetime)
		d.set(&cfg.Database.ConnMaxIdleTime, "database.conn_max_idle_time", db.ConnMaxIdleTime)
		d.set(&cfg.Database.WriteTimeout, "database.write_timeout", db.WriteTimeout)
		d.set(&cfg.Database.RetryDelay, "database.retry_delay", db.RetryDelay)
	}

	if a := f.Auth; a != nil {
		setString(&cfg.Auth.JWTSecret, a.JWTSecret)
		setString(&cfg.Auth.Issuer, a.Issuer)
		d.set(&cfg.Auth.VerifyTimeout, "auth.verify_timeout", a.VerifyTimeout)
	}

	if l := f.Lifecycle; l != nil {
		d.set(&cfg.Lifecycle.SweepInterval, "lifecycle.sweep_interval", l.SweepInterval)
		d.set(&cfg.Lifecycle.InactivityThreshold, "lifecycle.inactivity_threshold", l.InactivityThreshold)
		d.set(&cfg.Lifecycle.AnalyticsInterval, "lifecycle.analytics_interval", l.AnalyticsInterval)
		d.set(&cfg.Lifecycle.SchedulerResolution, "lifecycle.scheduler_resolution", l.SchedulerResolution)
	}

	if m := f.Mentor; m != nil {
		d.set(&cfg.Mentor.ReplyTimeout, "mentor.reply_timeout", m.ReplyTimeout)
	}

	if r := f.RateLimit; r != nil {
		cfg.RateLimit = *r
	}

	if lg := f.Log; lg != nil {
		cfg.Log.Development = lg.Development
		setString(&cfg.Log.Level, lg.Level)
	}

	return errors.Join(d.errs...)
}

// LoadFromFile overlays the JSON file at path onto cfg.
// FUNCTIONAL DISCOVERY: JSON format chosen for readability and tooling support
func LoadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := file.apply(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

// Load builds the runtime configuration: defaults, then the file named by
// STUDYHALL_CONFIG_FILE when set, then the environment. The result is validated.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(FileEnvVar); path != "" {
		if err := LoadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
