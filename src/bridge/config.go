package bridge

import (
	"net"
	"os"
	"strconv"
)

// RedisConfig holds connection settings for the upstream event bus.
type RedisConfig struct {
	Host     string // Redis host, default "localhost"
	Port     int    // Redis port, default 6379
	Password string // Redis password, default ""
	DB       int    // Redis database number, default 0
	Channel  string // pub/sub channel carrying finding events, default "findings"
}

// Addr returns the host:port dial address.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:    "localhost",
		Port:    6379,
		Channel: "findings",
	}
}

// RedisConfigFromEnv loads bus configuration from environment variables.
// Falls back to defaults for any missing values.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if portStr := os.Getenv("REDIS_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if channel := os.Getenv("WS_CHANNEL"); channel != "" {
		cfg.Channel = channel
	}
	return cfg
}
