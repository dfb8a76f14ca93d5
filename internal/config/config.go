// Package config loads the demo server configuration from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Limiter struct {
	TTL       time.Duration `yaml:"ttl"`
	Max       int64         `yaml:"max"`
	ExpiredAt string        `yaml:"expired_at"`
	Prefix    string        `yaml:"prefix"`
	// Headers identify a client; the remote address is used when empty.
	Headers []string `yaml:"headers"`
}

type Config struct {
	Listen  string  `yaml:"listen"`
	Redis   Redis   `yaml:"redis"`
	Limiter Limiter `yaml:"limiter"`
}

func Default() *Config {
	return &Config{
		Listen: "localhost:8080",
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Limiter: Limiter{
			TTL:    time.Minute,
			Max:    10,
			Prefix: "super-limiter-",
		},
	}
}

// Load reads path over the defaults, then applies REDIS_ADDR and LISTEN_ADDR.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Listen = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Redis.Addr == "":
		return errors.New("redis address must be set")
	case c.Limiter.TTL <= 0:
		return errors.New("limiter ttl must be positive")
	case c.Limiter.Max < 0:
		return errors.New("limiter max must not be negative")
	}
	return nil
}
