package config

import (
	"os"
	"strconv"
)

// Config holds relay server settings. Everything is environment-supplied;
// bus settings live in bridge.RedisConfig.
type Config struct {
	Port            int    // WS_PORT, listen port
	PublicKeyPath   string // JWT_PUBLIC_KEY, PEM file for token verification
	ReadBufferSize  int    // WS_READ_BUFFER
	WriteBufferSize int    // WS_WRITE_BUFFER
}

// Default returns the default relay configuration.
func Default() *Config {
	return &Config{
		Port:            8081,
		PublicKeyPath:   "/app/jwt/public.pem",
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// FromEnv loads configuration from environment variables, falling back
// to defaults for any missing values.
func FromEnv() *Config {
	cfg := Default()

	if portStr := os.Getenv("WS_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}
	if path := os.Getenv("JWT_PUBLIC_KEY"); path != "" {
		cfg.PublicKeyPath = path
	}
	if sizeStr := os.Getenv("WS_READ_BUFFER"); sizeStr != "" {
		if size, err := strconv.Atoi(sizeStr); err == nil {
			cfg.ReadBufferSize = size
		}
	}
	if sizeStr := os.Getenv("WS_WRITE_BUFFER"); sizeStr != "" {
		if size, err := strconv.Atoi(sizeStr); err == nil {
			cfg.WriteBufferSize = size
		}
	}
	return cfg
}
