package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "LEXSYNC"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "lexsync.db"
	defaultLogLevel          = "info"
	defaultTokenTTLMinutes   = 60
	defaultCVRCacheTTL       = 24 * time.Hour
	defaultCVRCacheCapacity  = 10000
	defaultHeartbeatInterval = 30 * time.Second
)

// AppConfig captures runtime configuration for the sync API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	SigningSecret     string
	TokenTTL          time.Duration
	LogLevel          string
	CVRCacheTTL       time.Duration
	CVRCacheCapacity  uint64
	HeartbeatInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("cvr.cache_ttl", defaultCVRCacheTTL)
	configViper.SetDefault("cvr.cache_capacity", defaultCVRCacheCapacity)
	configViper.SetDefault("poke.heartbeat_interval", defaultHeartbeatInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenTTL:          time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		LogLevel:          configViper.GetString("log.level"),
		CVRCacheTTL:       configViper.GetDuration("cvr.cache_ttl"),
		CVRCacheCapacity:  configViper.GetUint64("cvr.cache_capacity"),
		HeartbeatInterval: configViper.GetDuration("poke.heartbeat_interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.CVRCacheTTL <= 0 {
		return fmt.Errorf("cvr.cache_ttl must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("poke.heartbeat_interval must be positive")
	}
	return nil
}
