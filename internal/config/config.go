// Package config provides configuration for the mapkit service.
// Values come from defaults, an optional config file and MAPKIT_* environment
// variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/eduard256/mapkit/internal/models"
)

// Host source kinds.
const (
	SourceMemory = "memory"
	SourceFile   = "file"
	SourceRedis  = "redis"
)

// Config holds all configuration for the mapkit service.
type Config struct {
	// Provider
	Provider        models.Provider
	GoogleAPIKey    string
	AzureKey        string
	TileURL         string
	TileAttribution string
	TileCacheDir    string
	LoaderTimeout   time.Duration

	// External services
	NominatimURL       string
	NominatimRateLimit time.Duration
	GeolocationURL     string
	GeolocationTimeout time.Duration

	// Host source
	HostSource  string
	HostFile    string
	RedisURL    string
	RedisPrefix string

	// Lifecycle
	RetryInterval    time.Duration
	RetryMaxAttempts int
	FrameInterval    time.Duration

	// API server
	APIPort         int
	ShutdownTimeout time.Duration
	RateLimit       int // mutating requests per minute per client, 0 = unlimited
	JWTSecret       []byte
	JWTExpiry       time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", string(models.ProviderOSM))
	v.SetDefault("google.api_key", "")
	v.SetDefault("azure.key", "")
	v.SetDefault("tile.url", "")
	v.SetDefault("tile.attribution", "")
	v.SetDefault("tile.cache_dir", "")
	v.SetDefault("loader.timeout", 15*time.Second)

	v.SetDefault("nominatim.url", "https://nominatim.openstreetmap.org")
	v.SetDefault("nominatim.rate_limit", 1100*time.Millisecond)
	v.SetDefault("geolocation.url", "")
	v.SetDefault("geolocation.timeout", 3*time.Second)

	v.SetDefault("host.source", SourceMemory)
	v.SetDefault("host.file", "maps.json")
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("redis.prefix", "mapkit")

	v.SetDefault("retry.interval", 200*time.Millisecond)
	v.SetDefault("retry.max_attempts", 25)
	v.SetDefault("frame.interval", 16*time.Millisecond)

	v.SetDefault("api.port", 8004)
	v.SetDefault("api.shutdown_timeout", 30*time.Second)
	v.SetDefault("api.rate_limit", 120)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. configFile is optional; when empty only defaults
// and the environment are used.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAPKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Provider:        models.Provider(strings.ToLower(v.GetString("provider"))),
		GoogleAPIKey:    v.GetString("google.api_key"),
		AzureKey:        v.GetString("azure.key"),
		TileURL:         v.GetString("tile.url"),
		TileAttribution: v.GetString("tile.attribution"),
		TileCacheDir:    v.GetString("tile.cache_dir"),
		LoaderTimeout:   v.GetDuration("loader.timeout"),

		NominatimURL:       v.GetString("nominatim.url"),
		NominatimRateLimit: v.GetDuration("nominatim.rate_limit"),
		GeolocationURL:     v.GetString("geolocation.url"),
		GeolocationTimeout: v.GetDuration("geolocation.timeout"),

		HostSource:  strings.ToLower(v.GetString("host.source")),
		HostFile:    v.GetString("host.file"),
		RedisURL:    v.GetString("redis.url"),
		RedisPrefix: v.GetString("redis.prefix"),

		RetryInterval:    v.GetDuration("retry.interval"),
		RetryMaxAttempts: v.GetInt("retry.max_attempts"),
		FrameInterval:    v.GetDuration("frame.interval"),

		APIPort:         v.GetInt("api.port"),
		ShutdownTimeout: v.GetDuration("api.shutdown_timeout"),
		RateLimit:       v.GetInt("api.rate_limit"),
		JWTSecret:       []byte(v.GetString("jwt.secret")),
		JWTExpiry:       v.GetDuration("jwt.expiry"),

		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Provider.Valid() {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	switch c.HostSource {
	case SourceMemory, SourceRedis:
	case SourceFile:
		if c.HostFile == "" {
			return errors.New("host file is required for the file source")
		}
	default:
		return fmt.Errorf("unknown host source %q", c.HostSource)
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid API port %d", c.APIPort)
	}
	return nil
}

// AuthEnabled reports whether mutating routes require a bearer token.
func (c *Config) AuthEnabled() bool {
	return len(c.JWTSecret) > 0
}
