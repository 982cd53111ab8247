// Package config provides configuration loading and validation for the notifier.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration constants.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8081
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultAPIBaseURL = "http://localhost:8080/api"
	DefaultAPITimeout = 30 * time.Second

	DefaultPushURL              = "ws://localhost:8080/ws/websocket"
	DefaultNotificationTopic    = "/user/queue/notifications"
	DefaultUnreadCountTopic     = "/user/queue/notifications/unread-count"
	DefaultHeartBeat            = 10 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 3 * time.Second

	DefaultPollInterval = 120 * time.Second

	DefaultRedisPoolSize = 10

	DefaultRateLimit       = 6
	DefaultRateLimitWindow = time.Minute

	DefaultWSBufferSize   = 1024
	DefaultWSPingInterval = 30 * time.Second
	DefaultWSPongTimeout  = 60 * time.Second
)

// TokenSourceKind selects where the access token is read from.
type TokenSourceKind string

// Token source kinds.
const (
	TokenSourceStatic  TokenSourceKind = "static"
	TokenSourceEnv     TokenSourceKind = "env"
	TokenSourceKeyring TokenSourceKind = "keyring"
	TokenSourceRedis   TokenSourceKind = "redis"
)

// Config holds the complete application configuration.
type Config struct {
	App         AppConfig         `yaml:"app"`
	API         APIConfig         `yaml:"api"`
	Push        PushConfig        `yaml:"push"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Auth        AuthConfig        `yaml:"auth"`
	Redis       RedisConfig       `yaml:"redis"`
	EventBus    EventBusConfig    `yaml:"eventbus"`
	Server      ServerConfig      `yaml:"server"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	// Name is the application name used in logs.
	Name string `yaml:"name" env:"APP_NAME"`
}

// APIConfig configures the library REST API client.
//
//nolint:golines // Struct tags require longer lines for readability
type APIConfig struct {
	BaseURL string        `yaml:"base_url" env:"API_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"API_TIMEOUT"`
}

// PushConfig configures the STOMP-over-WebSocket push channel.
//
//nolint:golines // Struct tags require longer lines for readability
type PushConfig struct {
	Enabled              bool          `yaml:"enabled" env:"PUSH_ENABLED"`
	URL                  string        `yaml:"url" env:"PUSH_URL"`
	NotificationTopic    string        `yaml:"notification_topic" env:"PUSH_NOTIFICATION_TOPIC"`
	UnreadCountTopic     string        `yaml:"unread_count_topic" env:"PUSH_UNREAD_COUNT_TOPIC"`
	HeartBeatSend        time.Duration `yaml:"heart_beat_send" env:"PUSH_HEART_BEAT_SEND"`
	HeartBeatReceive     time.Duration `yaml:"heart_beat_receive" env:"PUSH_HEART_BEAT_RECEIVE"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" env:"PUSH_HANDSHAKE_TIMEOUT"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env:"PUSH_MAX_RECONNECT_ATTEMPTS"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay" env:"PUSH_RECONNECT_DELAY"`
}

// CoordinatorConfig configures the notification state coordinator.
type CoordinatorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"COORDINATOR_POLL_INTERVAL"`
}

// AuthConfig selects and parameterizes the token source.
//
//nolint:golines // Struct tags require longer lines for readability
type AuthConfig struct {
	Source TokenSourceKind `yaml:"source" env:"AUTH_SOURCE"` // static | env | keyring | redis

	// Token is used by the static source.
	Token string `yaml:"token" env:"AUTH_TOKEN"`

	// EnvVariable is read on every attempt by the env source.
	EnvVariable string `yaml:"env_variable" env:"AUTH_ENV_VARIABLE"`

	KeyringService      string `yaml:"keyring_service" env:"AUTH_KEYRING_SERVICE"`
	KeyringKey          string `yaml:"keyring_key" env:"AUTH_KEYRING_KEY"`
	KeyringFileDir      string `yaml:"keyring_file_dir" env:"AUTH_KEYRING_FILE_DIR"`
	KeyringFilePassword string `yaml:"keyring_file_password" env:"AUTH_KEYRING_FILE_PASSWORD"`

	// RedisKeyPrefix and Subject form the Redis key "<prefix><subject>".
	RedisKeyPrefix string `yaml:"redis_key_prefix" env:"AUTH_REDIS_KEY_PREFIX"`
	Subject        string `yaml:"subject" env:"AUTH_SUBJECT"`
}

// RedisConfig holds Redis connection configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	PoolSize int    `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
}

// EventBusConfig holds event bus configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type EventBusConfig struct {
	Type               string `yaml:"type" env:"EVENTBUS_TYPE"` // redis | inmemory
	RedisChannelPrefix string `yaml:"redis_channel_prefix" env:"EVENTBUS_REDIS_CHANNEL_PREFIX"`
	DeadLetter         bool   `yaml:"dead_letter" env:"EVENTBUS_DEAD_LETTER"`
}

// ServerConfig holds the local display API server configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`

	// CORSOrigins lists the browser origins allowed to call the display API
	// and open the stream. Empty means same-origin only.
	CORSOrigins []string `yaml:"cors_origins" env:"SERVER_CORS_ORIGINS"`
}

// RateLimitConfig throttles the refresh and retry commands of the display
// API so a misbehaving display cannot hammer the library backend.
//
//nolint:golines // Struct tags require longer lines for readability
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	Limit   int           `yaml:"limit" env:"RATE_LIMIT_LIMIT"`
	Window  time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW"`
	Store   string        `yaml:"store" env:"RATE_LIMIT_STORE"` // memory | redis
}

// Address returns the full server address (host:port).
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WebSocketConfig holds the display stream configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" env:"WS_READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" env:"WS_WRITE_BUFFER_SIZE"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"WS_PING_INTERVAL"`
	PongTimeout     time.Duration `yaml:"pong_timeout" env:"WS_PONG_TIMEOUT"`
}

// LogConfig holds logging configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json | text
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `yaml:"path" env:"METRICS_PATH"`
}

// Configuration errors.
var (
	ErrConfigNotFound      = errors.New("configuration file not found")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrInvalidDuration     = errors.New("invalid duration format")
	ErrInvalidLogLevel     = errors.New("invalid log level: must be debug, info, warn, or error")
	ErrInvalidLogFormat    = errors.New("invalid log format: must be json or text")
	ErrInvalidEventBusType = errors.New("invalid event bus type: must be redis or inmemory")
	ErrInvalidTokenSource  = errors.New("invalid auth source: must be static, env, keyring or redis")
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "libranotify",
		},
		API: APIConfig{
			BaseURL: DefaultAPIBaseURL,
			Timeout: DefaultAPITimeout,
		},
		Push: PushConfig{
			Enabled:              true,
			URL:                  DefaultPushURL,
			NotificationTopic:    DefaultNotificationTopic,
			UnreadCountTopic:     DefaultUnreadCountTopic,
			HeartBeatSend:        DefaultHeartBeat,
			HeartBeatReceive:     DefaultHeartBeat,
			HandshakeTimeout:     DefaultHandshakeTimeout,
			MaxReconnectAttempts: DefaultMaxReconnectAttempts,
			ReconnectDelay:       DefaultReconnectDelay,
		},
		Coordinator: CoordinatorConfig{
			PollInterval: DefaultPollInterval,
		},
		Auth: AuthConfig{
			Source:         TokenSourceEnv,
			EnvVariable:    "LIBRARY_ACCESS_TOKEN",
			KeyringService: "libranotify",
			KeyringKey:     "access_token",
			RedisKeyPrefix: "auth:access_token:",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: DefaultRedisPoolSize,
		},
		EventBus: EventBusConfig{
			Type:               "inmemory",
			RedisChannelPrefix: "libranotify:events:",
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   DefaultRateLimit,
			Window:  DefaultRateLimitWindow,
			Store:   "memory",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  DefaultWSBufferSize,
			WriteBufferSize: DefaultWSBufferSize,
			PingInterval:    DefaultWSPingInterval,
			PongTimeout:     DefaultWSPongTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errs []error

	errs = c.validateAPI(errs)
	errs = c.validatePush(errs)
	errs = c.validateCoordinator(errs)
	errs = c.validateAuth(errs)
	errs = c.validateEventBus(errs)
	errs = c.validateRedis(errs)
	errs = c.validateServer(errs)
	errs = c.validateRateLimit(errs)
	errs = c.validateWebSocket(errs)
	errs = c.validateLog(errs)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}

	return nil
}

func (c *Config) validateAPI(errs []error) []error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	return errs
}

func (c *Config) validatePush(errs []error) []error {
	if !c.Push.Enabled {
		return errs
	}
	u, err := url.Parse(c.Push.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errs = append(errs, fmt.Errorf("push.url must be a ws(s) URL, got %q", c.Push.URL))
	}
	if c.Push.NotificationTopic == "" || c.Push.UnreadCountTopic == "" {
		errs = append(errs, errors.New("push topics are required"))
	}
	if c.Push.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("push.max_reconnect_attempts must not be negative"))
	}
	if c.Push.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("push.reconnect_delay must be positive"))
	}
	if c.Push.HeartBeatSend < 0 || c.Push.HeartBeatReceive < 0 {
		errs = append(errs, errors.New("push heart-beats must not be negative"))
	}
	return errs
}

func (c *Config) validateCoordinator(errs []error) []error {
	if c.Coordinator.PollInterval <= 0 {
		errs = append(errs, errors.New("coordinator.poll_interval must be positive"))
	}
	return errs
}

func (c *Config) validateAuth(errs []error) []error {
	switch c.Auth.Source {
	case TokenSourceStatic:
		if c.Auth.Token == "" {
			errs = append(errs, errors.New("auth.token is required for the static source"))
		}
	case TokenSourceEnv:
		if c.Auth.EnvVariable == "" {
			errs = append(errs, errors.New("auth.env_variable is required for the env source"))
		}
	case TokenSourceKeyring:
		if c.Auth.KeyringService == "" || c.Auth.KeyringKey == "" {
			errs = append(errs, errors.New("auth.keyring_service and auth.keyring_key are required for the keyring source"))
		}
	case TokenSourceRedis:
		if c.Auth.Subject == "" {
			errs = append(errs, errors.New("auth.subject is required for the redis source"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidTokenSource, c.Auth.Source))
	}
	return errs
}

func (c *Config) validateEventBus(errs []error) []error {
	validEventBusTypes := map[string]bool{"redis": true, "inmemory": true}
	if !validEventBusTypes[strings.ToLower(c.EventBus.Type)] {
		errs = append(errs, ErrInvalidEventBusType)
	}
	return errs
}

// validateRedis requires an address only when something uses Redis.
func (c *Config) validateRedis(errs []error) []error {
	if c.UsesRedis() && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	return errs
}

func (c *Config) validateServer(errs []error) []error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}
	return errs
}

func (c *Config) validateRateLimit(errs []error) []error {
	if !c.RateLimit.Enabled {
		return errs
	}
	if c.RateLimit.Limit <= 0 {
		errs = append(errs, errors.New("rate_limit.limit must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	validStores := map[string]bool{"memory": true, "redis": true}
	if !validStores[strings.ToLower(c.RateLimit.Store)] {
		errs = append(errs, fmt.Errorf("rate_limit.store must be memory or redis, got %q", c.RateLimit.Store))
	}
	return errs
}

func (c *Config) validateWebSocket(errs []error) []error {
	if c.WebSocket.ReadBufferSize <= 0 || c.WebSocket.WriteBufferSize <= 0 {
		errs = append(errs, errors.New("websocket buffer sizes must be positive"))
	}
	if c.WebSocket.PingInterval <= 0 {
		errs = append(errs, errors.New("websocket.ping_interval must be positive"))
	}
	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		errs = append(errs, errors.New("websocket.pong_timeout must exceed websocket.ping_interval"))
	}
	return errs
}

func (c *Config) validateLog(errs []error) []error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ErrInvalidLogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ErrInvalidLogFormat)
	}
	return errs
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return strings.EqualFold(c.EventBus.Type, "redis") ||
		c.Auth.Source == TokenSourceRedis ||
		(c.RateLimit.Enabled && strings.EqualFold(c.RateLimit.Store, "redis"))
}

// IsDevelopment returns true if the log level indicates a development environment.
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Log.Level) == "debug"
}

// Load loads configuration from the default config file and environment variables.
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath loads configuration from a specific file path.
// If path is empty, it tries to find the config file in standard locations.
func LoadFromPath(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Loader handles configuration loading from files and environment variables.
type Loader struct {
	configPaths []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		configPaths: []string{
			"configs/config.yaml",
			"config.yaml",
			"/etc/libranotify/config.yaml",
		},
	}
}

// WithConfigPaths sets custom config paths to search.
func (l *Loader) WithConfigPaths(paths []string) *Loader {
	l.configPaths = paths
	return l
}

// Load applies defaults, then the YAML file, then environment variables, and
// validates the result. A missing file is an error only when the path was
// given explicitly or through CONFIG_PATH.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	configPath := path
	if configPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			configPath = envPath
			explicit = true
		} else {
			configPath = l.findConfig()
		}
	}

	if configPath != "" {
		if err := l.loadFromFile(cfg, configPath); err != nil && explicit {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	if err := l.loadEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (l *Loader) findConfig() string {
	for _, p := range l.configPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (l *Loader) loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
		return fmt.Errorf("failed to parse config file: %w", unmarshalErr)
	}

	return nil
}

// loadEnvToStruct walks nested structs and applies every non-empty `env` tag.
func (l *Loader) loadEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := range v.NumField() {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.loadEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

//nolint:exhaustive // Only the kinds used by Config are supported
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeFor[time.Duration]() {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidDuration, value)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", value)
		}
		field.SetInt(i)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %s", value)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}
