package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/idsite/pkg/nonce"
	"github.com/platinummonkey/idsite/pkg/observability"
)

// Nonce store types
const (
	NonceMemory   = "memory"
	NonceRedis    = "redis"
	NoncePostgres = "postgres"
	NonceSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// ID Site protocol configuration
	IDSite IDSiteConfig `yaml:"idsite"`

	// Replay protection storage
	Nonce NonceConfig `yaml:"nonce"`

	// Per-client limits on the ID Site routes
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// BaseURL is the externally visible origin, used to derive the callback URI
	BaseURL string `yaml:"base_url"`
}

// IDSiteConfig holds the application's ID Site settings
type IDSiteConfig struct {
	ApplicationHref string `yaml:"application_href"`

	// Either KeyFile (an apiKey.properties file) or KeyID/KeySecret
	KeyID     string `yaml:"key_id"`
	KeySecret string `yaml:"key_secret"`
	KeyFile   string `yaml:"key_file"`

	CallbackPath    string `yaml:"callback_path"`
	LoginNextURI    string `yaml:"login_next_uri"`
	RegisterNextURI string `yaml:"register_next_uri"`
	LogoutNextURI   string `yaml:"logout_next_uri"`

	OrganizationNameKey   string `yaml:"organization_name_key"`
	UseSubdomain          bool   `yaml:"use_subdomain"`
	ShowOrganizationField bool   `yaml:"show_organization_field"`

	ClockSkew   time.Duration `yaml:"clock_skew"`
	TokenMaxAge time.Duration `yaml:"token_max_age"`
}

// NonceConfig selects and configures the nonce store
type NonceConfig struct {
	Type string        `yaml:"type"`
	TTL  time.Duration `yaml:"ttl"`

	MemorySize int `yaml:"memory_size"`

	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPoolSize int    `yaml:"redis_pool_size"`
	RedisPrefix   string `yaml:"redis_prefix"`

	// DSN for the postgres and sqlite types
	DSN           string `yaml:"dsn"`
	PurgeSchedule string `yaml:"purge_schedule"`
}

// RateLimitConfig limits requests per client IP. Zero Requests disables it.
// The limiter shares Redis with the nonce store when the store is redis.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Burst    int           `yaml:"burst"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			BaseURL:         "http://localhost:8080",
		},
		IDSite: IDSiteConfig{
			CallbackPath:    "/idsite/callback",
			LoginNextURI:    "/",
			RegisterNextURI: "/",
			LogoutNextURI:   "/",
			TokenMaxAge:     time.Minute,
		},
		Nonce: NonceConfig{
			Type:          NonceMemory,
			TTL:           nonce.DefaultTTL,
			MemorySize:    nonce.DefaultMemorySize,
			RedisPrefix:   nonce.DefaultRedisPrefix,
			PurgeSchedule: nonce.DefaultPurgeSchedule,
		},
		RateLimit: RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
			Burst:    10,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "idsite",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from defaults, the optional YAML file named by
// IDSITE_CONFIG_FILE, and environment variables, in that order of precedence.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("IDSITE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	s := &c.Server
	s.Host = getEnv("IDSITE_HOST", s.Host)
	s.Port = getEnv("IDSITE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("IDSITE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("IDSITE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("IDSITE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("IDSITE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("IDSITE_HEALTH_PORT", s.HealthPort)
	s.BaseURL = getEnv("IDSITE_BASE_URL", s.BaseURL)

	i := &c.IDSite
	i.ApplicationHref = getEnv("IDSITE_APPLICATION_HREF", i.ApplicationHref)
	i.KeyID = getEnv("IDSITE_API_KEY_ID", i.KeyID)
	i.KeySecret = getEnv("IDSITE_API_KEY_SECRET", i.KeySecret)
	i.KeyFile = getEnv("IDSITE_API_KEY_FILE", i.KeyFile)
	i.CallbackPath = getEnv("IDSITE_CALLBACK_PATH", i.CallbackPath)
	i.LoginNextURI = getEnv("IDSITE_LOGIN_NEXT_URI", i.LoginNextURI)
	i.RegisterNextURI = getEnv("IDSITE_REGISTER_NEXT_URI", i.RegisterNextURI)
	i.LogoutNextURI = getEnv("IDSITE_LOGOUT_NEXT_URI", i.LogoutNextURI)
	i.OrganizationNameKey = getEnv("IDSITE_ORGANIZATION_NAME_KEY", i.OrganizationNameKey)
	i.UseSubdomain = getEnvBool("IDSITE_USE_SUBDOMAIN", i.UseSubdomain)
	i.ShowOrganizationField = getEnvBool("IDSITE_SHOW_ORGANIZATION_FIELD", i.ShowOrganizationField)
	i.ClockSkew = getEnvDuration("IDSITE_CLOCK_SKEW", i.ClockSkew)
	i.TokenMaxAge = getEnvDuration("IDSITE_TOKEN_MAX_AGE", i.TokenMaxAge)

	n := &c.Nonce
	n.Type = strings.ToLower(getEnv("IDSITE_NONCE_STORE", n.Type))
	n.TTL = getEnvDuration("IDSITE_NONCE_TTL", n.TTL)
	n.MemorySize = getEnvInt("IDSITE_NONCE_MEMORY_SIZE", n.MemorySize)
	n.RedisURL = getEnv("IDSITE_REDIS_URL", n.RedisURL)
	n.RedisPassword = getEnv("IDSITE_REDIS_PASSWORD", n.RedisPassword)
	n.RedisDB = getEnvInt("IDSITE_REDIS_DB", n.RedisDB)
	n.RedisPoolSize = getEnvInt("IDSITE_REDIS_POOL_SIZE", n.RedisPoolSize)
	n.RedisPrefix = getEnv("IDSITE_REDIS_PREFIX", n.RedisPrefix)
	n.DSN = getEnv("IDSITE_NONCE_DSN", n.DSN)
	n.PurgeSchedule = getEnv("IDSITE_NONCE_PURGE_SCHEDULE", n.PurgeSchedule)

	r := &c.RateLimit
	r.Requests = getEnvInt("IDSITE_RATE_LIMIT_REQUESTS", r.Requests)
	r.Window = getEnvDuration("IDSITE_RATE_LIMIT_WINDOW", r.Window)
	r.Burst = getEnvInt("IDSITE_RATE_LIMIT_BURST", r.Burst)

	o := &c.Observability
	o.LogLevel = getEnv("IDSITE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("IDSITE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("IDSITE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("IDSITE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("IDSITE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("IDSITE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("IDSITE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("IDSITE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if !isAbsoluteURL(c.Server.BaseURL) {
		return fmt.Errorf("base URL must be absolute: %q", c.Server.BaseURL)
	}

	// Validate ID Site config
	if c.IDSite.KeyFile == "" && (c.IDSite.KeyID == "" || c.IDSite.KeySecret == "") {
		return fmt.Errorf("API key id and secret, or a key file, are required")
	}
	if !isAbsoluteURL(c.IDSite.ApplicationHref) {
		return fmt.Errorf("application href must be absolute: %q", c.IDSite.ApplicationHref)
	}
	if !strings.HasPrefix(c.IDSite.CallbackPath, "/") {
		return fmt.Errorf("callback path must start with /: %q", c.IDSite.CallbackPath)
	}
	if c.IDSite.ClockSkew < 0 {
		return fmt.Errorf("clock skew must not be negative")
	}

	// Validate nonce store config based on type
	switch c.Nonce.Type {
	case NonceMemory:
		if c.Nonce.MemorySize <= 0 {
			return fmt.Errorf("memory nonce store size must be positive")
		}
	case NonceRedis:
		if c.Nonce.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis nonce store")
		}
	case NoncePostgres, NonceSQLite:
		if c.Nonce.DSN == "" {
			return fmt.Errorf("DSN is required for %s nonce store", c.Nonce.Type)
		}
	default:
		return fmt.Errorf("invalid nonce store type: %s (must be memory, redis, postgres, or sqlite)", c.Nonce.Type)
	}
	if err := nonce.ValidateTTL(c.Nonce.TTL, c.IDSite.TokenMaxAge, c.IDSite.ClockSkew); err != nil {
		return err
	}

	if c.RateLimit.Requests < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit requests and burst must not be negative")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// CallbackURI is the absolute URI ID Site redirects back to
func (c *Config) CallbackURI() string {
	return strings.TrimRight(c.Server.BaseURL, "/") + c.IDSite.CallbackPath
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Redis converts the settings for nonce.NewRedisClient
func (n NonceConfig) Redis() nonce.RedisConfig {
	return nonce.RedisConfig{
		URL:      n.RedisURL,
		Password: n.RedisPassword,
		DB:       n.RedisDB,
		PoolSize: n.RedisPoolSize,
	}
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
