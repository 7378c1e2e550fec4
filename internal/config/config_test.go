package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                      "development",
		DBSSLMode:                "disable",
		JWTSecret:                "secure-secret-at-least-32-chars-long",
		DBPassword:               "secure-password",
		Port:                     "8080",
		DBConnMaxLifetimeMinutes: 1,
		RedisURL:                 "redis://localhost:6379",
		RankCron:                 "0 0 0 * * *",
		RankTimezone:             "Asia/Seoul",
		TracingSampleRatio:       1,
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with empty SSL mode", "prod", "", true},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateRankSchedule(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"default daily spec", func(c *Config) {}, false},
		{"descriptor", func(c *Config) { c.RankCron = "@daily" }, false},
		{"garbage spec", func(c *Config) { c.RankCron = "every night" }, true},
		{"unknown timezone", func(c *Config) { c.RankTimezone = "Mars/Olympus" }, true},
		{"empty timezone falls back to UTC", func(c *Config) { c.RankTimezone = "" }, false},
		{"bad schema mode", func(c *Config) { c.DBSchemaMode = "magic" }, true},
		{"bad sample ratio", func(c *Config) { c.TracingSampleRatio = 2 }, true},
		{"partial rollout flag", func(c *Config) { c.FeatureFlags = "live_locations=30%" }, false},
		{"malformed flag", func(c *Config) { c.FeatureFlags = "live_locations" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ProductionSecrets(t *testing.T) {
	c := validConfig()
	c.Env = "production"
	c.DBSSLMode = "require"
	c.JWTSecret = defaultJWTSecret
	assert.Error(t, c.Validate())

	c.JWTSecret = "short"
	assert.Error(t, c.Validate())

	c.JWTSecret = "secure-secret-at-least-32-chars-long"
	c.DBPassword = "password"
	assert.Error(t, c.Validate())
}

func TestLoadConfig_Defaults(t *testing.T) {
	defer os.Unsetenv("APP_ENV")
	defer os.Unsetenv("DB_SSLMODE")
	defer viper.Reset()

	os.Setenv("APP_ENV", "development")
	os.Setenv("DB_SSLMODE", "  DISABLE  ")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, "0 0 0 * * *", c.RankCron)
	assert.Equal(t, "Asia/Seoul", c.RankTimezone)
	assert.True(t, c.RankSchedulerEnabled)
	assert.Equal(t, "live_locations=on", c.FeatureFlags)

	loc, err := c.RankLocation()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", loc.String())
}
