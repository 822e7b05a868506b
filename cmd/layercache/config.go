package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type redisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

type cacheConfig struct {
	Name                string        `yaml:"name"`
	ChannelPrefix       string        `yaml:"channel_prefix,omitempty"`
	Duration            time.Duration `yaml:"duration"`
	FailSafeMaxDuration time.Duration `yaml:"fail_safe_max_duration,omitempty"`
}

type config struct {
	Redis    redisConfig `yaml:"redis"`
	Cache    cacheConfig `yaml:"cache"`
	LogLevel string      `yaml:"log_level"`
}

func defaultConfig() config {
	return config{
		Redis:    redisConfig{Addr: "localhost:6379"},
		Cache:    cacheConfig{Name: "default", Duration: 5 * time.Minute},
		LogLevel: "warn",
	}
}

// loadConfig reads the YAML file named by --config, if any, then applies
// flags and LAYERCACHE_* environment variables, in that order of precedence.
func loadConfig(cmd *cobra.Command) (config, error) {
	cfg := defaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Redis.Addr = flagOrEnv(cmd, "redis", "LAYERCACHE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Cache.Name = flagOrEnv(cmd, "cache", "LAYERCACHE_CACHE_NAME", cfg.Cache.Name)
	cfg.LogLevel = flagOrEnv(cmd, "log-level", "LAYERCACHE_LOG_LEVEL", cfg.LogLevel)

	if cfg.Redis.Addr == "" {
		return cfg, fmt.Errorf("redis address is required")
	}
	if cfg.Cache.Name == "" {
		return cfg, fmt.Errorf("cache name is required")
	}
	return cfg, nil
}

// flagOrEnv returns the flag if it was set, then the environment variable,
// then def.
func flagOrEnv(cmd *cobra.Command, flag, env, def string) string {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		return f.Value.String()
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	return def
}
