// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultBanner = "Welcome to Ubuntu 22.04.1 LTS (GNU/Linux 5.15.0-58-generic x86_64)\r\n\r\n" +
	"Last login: Sat Nov  9 10:30:15 2025 from 192.168.1.1\r\n"

// Config holds all application configuration.
type Config struct {
	// SSH listener.
	ListenAddr  string
	HostKeyPath string
	MaxConns    int // global concurrent connection cap

	// Admin HTTP API.
	AdminAddr string

	// Admission control.
	MaxConnsPerIP int
	RateWindow    time.Duration

	// Session behavior.
	AuthDelay time.Duration
	Hostname  string
	Banner    string

	// Capture.
	DBPath          string
	FileStoreDir    string
	MaxCaptureBytes int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getEnv("HONEYSHELL_LISTEN", "0.0.0.0:2222"),
		HostKeyPath:     getEnv("HONEYSHELL_HOST_KEY", "./data/host_key"),
		MaxConns:        getEnvInt("HONEYSHELL_MAX_CONNS", 512),
		AdminAddr:       getEnv("HONEYSHELL_ADMIN_ADDR", "127.0.0.1:8080"),
		MaxConnsPerIP:   getEnvInt("HONEYSHELL_MAX_CONNS_PER_IP", 10),
		RateWindow:      getEnvDuration("HONEYSHELL_RATE_WINDOW", time.Minute),
		AuthDelay:       getEnvDuration("HONEYSHELL_AUTH_DELAY", 1500*time.Millisecond),
		Hostname:        getEnv("HONEYSHELL_HOSTNAME", "honeypot"),
		Banner:          getEnv("HONEYSHELL_BANNER", defaultBanner),
		DBPath:          getEnv("HONEYSHELL_DB_PATH", "./data/honeyshell.db"),
		FileStoreDir:    getEnv("HONEYSHELL_FILESTORE_DIR", "./data/captured_files"),
		MaxCaptureBytes: int64(getEnvInt("HONEYSHELL_MAX_CAPTURE_BYTES", 10*1024*1024)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are sane.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("HONEYSHELL_LISTEN cannot be empty")
	}
	if c.HostKeyPath == "" {
		return fmt.Errorf("HONEYSHELL_HOST_KEY cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("HONEYSHELL_DB_PATH cannot be empty")
	}
	if c.FileStoreDir == "" {
		return fmt.Errorf("HONEYSHELL_FILESTORE_DIR cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("HONEYSHELL_MAX_CONNS must be > 0")
	}
	if c.MaxConnsPerIP <= 0 {
		return fmt.Errorf("HONEYSHELL_MAX_CONNS_PER_IP must be > 0")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("HONEYSHELL_RATE_WINDOW must be > 0")
	}
	if c.AuthDelay < 0 {
		return fmt.Errorf("HONEYSHELL_AUTH_DELAY cannot be negative")
	}
	if c.MaxCaptureBytes <= 0 {
		return fmt.Errorf("HONEYSHELL_MAX_CAPTURE_BYTES must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
