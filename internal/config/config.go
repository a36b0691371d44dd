package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/convoy/backend/internal/database"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "CONVOY"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultReadTimeoutSeconds = 15
	defaultWriteTimeoutSecond = 30
	defaultDatabaseDriver     = database.DriverSQLite
	defaultDatabasePath       = "convoy.db"
	defaultLogLevel           = "info"
	defaultLogMaxSizeMB       = 10
	defaultLogMaxBackups      = 7
	defaultLogMaxAgeDays      = 7
	defaultTokenIssuer        = "convoy-auth"
	defaultTokenAudience      = "convoy-api"
	defaultTokenTTLMinutes    = 60
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	DatabaseDriver   string
	DatabasePath     string
	DatabaseDSN      string
	Log              LogConfig
	SigningSecret    string
	TokenIssuer      string
	TokenAudience    string
	TokenTTL         time.Duration
	AllowedOrigins   []string
}

// LogConfig describes the zap level and the optional rotating file sink.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
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
	configViper.SetDefault("http.read_timeout_seconds", defaultReadTimeoutSeconds)
	configViper.SetDefault("http.write_timeout_seconds", defaultWriteTimeoutSecond)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("log.max_size_mb", defaultLogMaxSizeMB)
	configViper.SetDefault("log.max_backups", defaultLogMaxBackups)
	configViper.SetDefault("log.max_age_days", defaultLogMaxAgeDays)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		HTTPReadTimeout:  time.Duration(configViper.GetInt("http.read_timeout_seconds")) * time.Second,
		HTTPWriteTimeout: time.Duration(configViper.GetInt("http.write_timeout_seconds")) * time.Second,
		DatabaseDriver:   strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:     configViper.GetString("database.path"),
		DatabaseDSN:      configViper.GetString("database.dsn"),
		Log: LogConfig{
			Level:      configViper.GetString("log.level"),
			File:       configViper.GetString("log.file"),
			MaxSizeMB:  configViper.GetInt("log.max_size_mb"),
			MaxBackups: configViper.GetInt("log.max_backups"),
			MaxAgeDays: configViper.GetInt("log.max_age_days"),
		},
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenIssuer:    configViper.GetString("auth.issuer"),
		TokenAudience:  configViper.GetString("auth.audience"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		AllowedOrigins: normalizeOrigins(configViper.GetStringSlice("cors.allowed_origins")),
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
	if strings.TrimSpace(c.TokenIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.TokenAudience) == "" {
		return fmt.Errorf("auth.audience is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	switch c.DatabaseDriver {
	case database.DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case database.DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.HTTPReadTimeout <= 0 || c.HTTPWriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	return nil
}

func normalizeOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
