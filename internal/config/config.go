package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/neurondb/NeuronGateway/internal/validation"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	CORS      CORSConfig      `yaml:"cors"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            string        `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"SERVER_MAX_BODY_BYTES"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DB_HOST"`
	Port            string        `yaml:"port" env:"DB_PORT"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	Name            string        `yaml:"name" env:"DB_NAME"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

// CORSConfig holds CORS configuration. Lists are comma separated in the environment.
type CORSConfig struct {
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	AllowedMethods string `yaml:"allowed_methods" env:"CORS_ALLOWED_METHODS"`
	AllowedHeaders string `yaml:"allowed_headers" env:"CORS_ALLOWED_HEADERS"`
}

// AuthConfig holds credential configuration
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer      string        `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	SessionTTL     time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	AllowAnonymous bool          `yaml:"allow_anonymous" env:"GATEWAY_ALLOW_ANONYMOUS"`
	// StrictIdentities rejects identities unknown to the profile store instead of provisioning them
	StrictIdentities  bool `yaml:"strict_identities" env:"GATEWAY_STRICT_IDENTITIES"`
	IdentityCacheSize int  `yaml:"identity_cache_size" env:"GATEWAY_IDENTITY_CACHE_SIZE"`
	// ProtectControlEndpoints requires credentials on the connection status and broadcast endpoints
	ProtectControlEndpoints bool `yaml:"protect_control_endpoints" env:"GATEWAY_PROTECT_CONTROL"`
}

// RateLimitConfig holds admission control configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"RATE_LIMIT_REQUESTS_PER_MINUTE"`
	BurstSize         int           `yaml:"burst_size" env:"RATE_LIMIT_BURST_SIZE"`
	Backend           string        `yaml:"backend" env:"RATE_LIMIT_BACKEND"` // "memory", "redis"
	RedisAddr         string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisKeyPrefix    string        `yaml:"redis_key_prefix" env:"RATE_LIMIT_REDIS_PREFIX"`
	SweepInterval     time.Duration `yaml:"sweep_interval" env:"RATE_LIMIT_SWEEP_INTERVAL"`
	// FrameLimit enables per-identity admission on inbound websocket frames
	FrameLimit             bool `yaml:"frame_limit" env:"GATEWAY_FRAME_RATE_LIMIT"`
	FrameRequestsPerMinute int  `yaml:"frame_requests_per_minute" env:"GATEWAY_FRAME_REQUESTS_PER_MINUTE"`
	FrameBurstSize         int  `yaml:"frame_burst_size" env:"GATEWAY_FRAME_BURST_SIZE"`
}

// GatewayConfig holds session loop and message handler configuration
type GatewayConfig struct {
	HandlerEndpoint      string        `yaml:"handler_endpoint" env:"GATEWAY_HANDLER_ENDPOINT"`
	HandlerAPIKey        string        `yaml:"handler_api_key" env:"GATEWAY_HANDLER_API_KEY"`
	HandlerTimeout       time.Duration `yaml:"handler_timeout" env:"GATEWAY_HANDLER_TIMEOUT"`
	WriteWait            time.Duration `yaml:"write_wait" env:"GATEWAY_WRITE_WAIT"`
	PongWait             time.Duration `yaml:"pong_wait" env:"GATEWAY_PONG_WAIT"`
	MaxMessageSize       int64         `yaml:"max_message_size" env:"GATEWAY_MAX_MESSAGE_SIZE"`
	BroadcastConcurrency int           `yaml:"broadcast_concurrency" env:"GATEWAY_BROADCAST_CONCURRENCY"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8082",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "neurongateway",
			Password:        "neurongateway",
			Name:            "neurongateway",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		CORS: CORSConfig{
			AllowedOrigins: "*",
			AllowedMethods: "GET,POST,OPTIONS",
			AllowedHeaders: "Content-Type,Authorization,X-API-Key",
		},
		Auth: AuthConfig{
			JWTIssuer:               "neurongateway",
			SessionTTL:              24 * time.Hour,
			AllowAnonymous:          true,
			IdentityCacheSize:       10000,
			ProtectControlEndpoints: true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute:      60,
			BurstSize:              10,
			Backend:                "memory",
			RedisAddr:              "localhost:6379",
			RedisKeyPrefix:         "neurongateway:ratelimit:",
			SweepInterval:          time.Minute,
			FrameRequestsPerMinute: 30,
			FrameBurstSize:         5,
		},
		Gateway: GatewayConfig{
			HandlerTimeout:       30 * time.Second,
			WriteWait:            10 * time.Second,
			PongWait:             60 * time.Second,
			MaxMessageSize:       64 * 1024,
			BroadcastConcurrency: 32,
		},
	}
}

// Load loads configuration: defaults, then CONFIG_FILE (if set), then environment variables
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays values from a YAML file
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks for settings the gateway cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.burst_size must be positive"))
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend must be memory or redis, got %q", c.RateLimit.Backend))
	}
	if c.RateLimit.FrameLimit && (c.RateLimit.FrameRequestsPerMinute <= 0 || c.RateLimit.FrameBurstSize <= 0) {
		errs = append(errs, fmt.Errorf("frame rate limits must be positive when enabled"))
	}
	if c.Gateway.HandlerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("gateway.handler_timeout must be positive"))
	}
	if err := validation.ValidateOptionalURL(c.Gateway.HandlerEndpoint, "gateway.handler_endpoint"); err != nil {
		errs = append(errs, err)
	}
	if c.Gateway.BroadcastConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("gateway.broadcast_concurrency must be positive"))
	}

	return errors.Join(errs...)
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// SplitList splits a comma separated setting, dropping blanks
func SplitList(value string) []string {
	var parts []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
