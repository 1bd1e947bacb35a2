package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AWS      AWSConfig      `yaml:"aws"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	SOS      SOSConfig      `yaml:"sos"`
	Security SecurityConfig `yaml:"security"`
	APNs     APNsConfig     `yaml:"apns"`
	Redis    RedisConfig    `yaml:"redis"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Migrate  bool   `yaml:"migrate"`
}

// AWSConfig holds the S3-compatible storage used for delivery reports.
// An empty bucket disables archiving.
type AWSConfig struct {
	Region    string `yaml:"region"`
	S3Bucket  string `yaml:"s3_bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
}

// JWTConfig holds the auth provider's token signing secret
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// SOSConfig holds the tunables of the SOS pipeline
type SOSConfig struct {
	AccessTTL           time.Duration `yaml:"access_ttl"`
	ChannelTimeout      time.Duration `yaml:"channel_timeout"`
	FanoutConcurrency   int           `yaml:"fanout_concurrency"`
	DefaultPlaceRadiusM float64       `yaml:"default_place_radius_m"`
	RestrictedCountry   string        `yaml:"restricted_country"`
}

// SecurityConfig holds the shared secret for internal callers
type SecurityConfig struct {
	InternalSecret string `yaml:"internal_secret"`
}

// APNsConfig holds token-based APNs credentials. An empty key path disables push.
type APNsConfig struct {
	KeyPath    string `yaml:"key_path"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// RedisConfig enables cross-instance realtime relay when Addr is set
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MetricsConfig toggles the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnv lets deployments keep secrets out of the YAML file
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	if v := os.Getenv("INTERNAL_SECRET"); v != "" {
		c.Security.InternalSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.SOS.AccessTTL <= 0 {
		c.SOS.AccessTTL = 24 * time.Hour
	}
	if c.SOS.ChannelTimeout <= 0 {
		c.SOS.ChannelTimeout = 5 * time.Second
	}
	if c.SOS.FanoutConcurrency <= 0 {
		c.SOS.FanoutConcurrency = 8
	}
	if c.SOS.DefaultPlaceRadiusM <= 0 {
		c.SOS.DefaultPlaceRadiusM = 150
	}
	if c.SOS.RestrictedCountry == "" {
		c.SOS.RestrictedCountry = "ES"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
