package config

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/convoy/backend/internal/database"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.DatabaseDriver != database.DriverSQLite {
		t.Fatalf("unexpected driver %q", cfg.DatabaseDriver)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %#v", cfg.AllowedOrigins)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	testCases := []struct {
		name      string
		overrides map[string]any
	}{
		{
			name:      "missing-secret",
			overrides: map[string]any{},
		},
		{
			name: "unknown-driver",
			overrides: map[string]any{
				"auth.signing_secret": "secret",
				"database.driver":     "oracle",
			},
		},
		{
			name: "postgres-without-dsn",
			overrides: map[string]any{
				"auth.signing_secret": "secret",
				"database.driver":     database.DriverPostgres,
			},
		},
		{
			name: "non-positive-ttl",
			overrides: map[string]any{
				"auth.signing_secret": "secret",
				"token.ttl_minutes":   0,
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.overrides {
				configViper.Set(key, value)
			}
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadSplitsCommaSeparatedOrigins(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("cors.allowed_origins", []string{"https://ops.example.com, https://map.example.com", " "})

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://map.example.com" {
		t.Fatalf("unexpected origins %#v", cfg.AllowedOrigins)
	}
}
