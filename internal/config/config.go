// Package config loads server settings from the environment and an optional
// YAML or JSON file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/liamcoop/formrules/internal/logger"
)

// Server holds the settings of cmd/server
type Server struct {
	DatabaseURL     string        `mapstructure:"database_url"`
	Port            string        `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	RedisURL        string        `mapstructure:"redis_url"`
	RulesCacheTTL   time.Duration `mapstructure:"rules_cache_ttl"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	SlowRequest     time.Duration `mapstructure:"slow_request"`
}

// InMemory reports whether the server runs without Postgres
func (s *Server) InMemory() bool {
	return s.DatabaseURL == ""
}

// Load reads settings. Environment variables (DATABASE_URL, PORT, ...)
// override values from file; file may be empty.
func Load(file string) (*Server, error) {
	v := viper.New()
	v.SetDefault("database_url", "")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("redis_url", "")
	v.SetDefault("rules_cache_ttl", "0s")
	v.SetDefault("shutdown_timeout", "30s")
	v.SetDefault("slow_request", "500ms")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late
func (s *Server) Validate() error {
	if strings.TrimSpace(s.Port) == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if _, err := logger.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if s.RulesCacheTTL < 0 {
		return fmt.Errorf("rules_cache_ttl cannot be negative")
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}
