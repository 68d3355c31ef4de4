package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "KAMF"
	defaultHTTPAddress       = "0.0.0.0:8000"
	defaultDatabasePath      = "kamf.db"
	defaultLogLevel          = "info"
	defaultTokenIssuer       = "kamf-auth"
	defaultTokenAudience     = "kamf-api"
	defaultAccessTTLMinutes  = 30
	defaultRefreshTTLMinutes = 14 * 24 * 60
	defaultCORSOrigin        = "http://localhost:3000"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	CORSOrigins   []string
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
	configViper.SetDefault("auth.token_issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.token_audience", defaultTokenAudience)
	configViper.SetDefault("auth.access_ttl_minutes", defaultAccessTTLMinutes)
	configViper.SetDefault("auth.refresh_ttl_minutes", defaultRefreshTTLMinutes)
	configViper.SetDefault("cors.origins", defaultCORSOrigin)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenIssuer:   configViper.GetString("auth.token_issuer"),
		TokenAudience: configViper.GetString("auth.token_audience"),
		AccessTTL:     time.Duration(configViper.GetInt("auth.access_ttl_minutes")) * time.Minute,
		RefreshTTL:    time.Duration(configViper.GetInt("auth.refresh_ttl_minutes")) * time.Minute,
		CORSOrigins:   splitOrigins(configViper.GetString("cors.origins")),
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
	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("cors.origins is required")
	}
	return nil
}

func splitOrigins(value string) []string {
	parts := strings.Split(value, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
