// Package config loads process configuration from an optional file and the
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/liamcoop/tripflow/internal/validate"
)

// Config holds the settings shared by cmd/server and cmd/migrate.
type Config struct {
	DatabaseURL string `json:"database_url"`
	Port        int    `json:"port" validate:"gte=1,lte=65535"`
	// RedisURL enables the Redis condition cache when set.
	RedisURL string        `json:"redis_url" validate:"omitempty,url"`
	CacheTTL time.Duration `json:"cache_ttl" validate:"gte=0"`
	// FormulaCacheSize bounds the parsed-expression cache of the API.
	FormulaCacheSize int    `json:"formula_cache_size" validate:"gte=1"`
	MigrationsPath   string `json:"migrations_path" validate:"required"`

	LogLevel        string `json:"log_level"`
	ErrorSampleRate int    `json:"error_sample_rate" validate:"gte=1"`
	OTELEnabled     bool   `json:"otel_enabled"`
	ServiceName     string `json:"service_name" validate:"required"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("cache_ttl", "0s")
	v.SetDefault("formula_cache_size", 1024)
	v.SetDefault("migrations_path", "migrations")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("error_sample_rate", 1)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("service_name", "tripflow")
}

// Load reads path (YAML, TOML or JSON, chosen by extension) when it is not
// empty, then lets environment variables such as DATABASE_URL and PORT
// override it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:      v.GetString("database_url"),
		Port:             v.GetInt("port"),
		RedisURL:         v.GetString("redis_url"),
		CacheTTL:         v.GetDuration("cache_ttl"),
		FormulaCacheSize: v.GetInt("formula_cache_size"),
		MigrationsPath:   v.GetString("migrations_path"),
		LogLevel:         v.GetString("log_level"),
		ErrorSampleRate:  v.GetInt("error_sample_rate"),
		OTELEnabled:      v.GetBool("otel_enabled"),
		ServiceName:      v.GetString("service_name"),
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Addr is the listen address for Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
