package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Dissect DissectConfig `mapstructure:"dissect"`
	Loader  LoaderConfig  `mapstructure:"loader"`
	Session SessionConfig `mapstructure:"session"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
	// MetricsPort serves Prometheus metrics on /metrics; 0 disables the listener
	MetricsPort int `mapstructure:"metrics_port"`
}

// DissectConfig holds the engine defaults applied to every session
type DissectConfig struct {
	ReplaceConstWithVar bool   `mapstructure:"replace_const_with_var"`
	ClearCache          bool   `mapstructure:"clear_cache"`
	Lowering            string `mapstructure:"lowering"`
}

// LoaderConfig holds module host configuration
type LoaderConfig struct {
	Extensions       []string `mapstructure:"extensions"`
	MaxCallStackSize int      `mapstructure:"max_call_stack_size"`
}

// SessionConfig holds dissection session limits
type SessionConfig struct {
	MaxSessions  int    `mapstructure:"max_sessions"`
	MaxWorkdirMB int    `mapstructure:"max_workdir_mb"`
	WorkdirRoot  string `mapstructure:"workdir_root"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// EnvPrefix prefixes environment overrides, e.g. DISSECT_SERVER_TRANSPORT
const EnvPrefix = "DISSECT"

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	return Load(viper.GetViper())
}

// Load applies defaults and environment overrides to v, reads its config file
// if one is configured and present, and returns the validated configuration.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 0)

	v.SetDefault("dissect.replace_const_with_var", false)
	v.SetDefault("dissect.clear_cache", false)
	v.SetDefault("dissect.lowering", "lexical")

	v.SetDefault("loader.extensions", []string{".js", ".json"})
	v.SetDefault("loader.max_call_stack_size", 0)

	v.SetDefault("session.max_sessions", 16)
	v.SetDefault("session.max_workdir_mb", 20)
	v.SetDefault("session.workdir_root", "/workdir")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.MetricsPort < 0 {
		return fmt.Errorf("server.metrics_port must not be negative, got: %d", c.Server.MetricsPort)
	}

	if c.Dissect.Lowering != "lexical" && c.Dissect.Lowering != "textual" {
		return fmt.Errorf("invalid dissect.lowering: %s, must be 'lexical' or 'textual'", c.Dissect.Lowering)
	}

	for _, ext := range c.Loader.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("invalid loader.extensions entry: %q, must start with '.'", ext)
		}
	}

	if c.Loader.MaxCallStackSize < 0 {
		return fmt.Errorf("loader.max_call_stack_size must not be negative, got: %d", c.Loader.MaxCallStackSize)
	}

	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session.max_sessions must be positive, got: %d", c.Session.MaxSessions)
	}

	if c.Session.MaxWorkdirMB <= 0 {
		return fmt.Errorf("session.max_workdir_mb must be positive, got: %d", c.Session.MaxWorkdirMB)
	}

	if !strings.HasPrefix(c.Session.WorkdirRoot, "/") {
		return fmt.Errorf("session.workdir_root must be absolute, got: %s", c.Session.WorkdirRoot)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
		"dpanic": true, "panic": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// MaxWorkdirBytes returns the workdir size limit in bytes
func (c *Config) MaxWorkdirBytes() int64 {
	return int64(c.Session.MaxWorkdirMB) * 1024 * 1024
}
