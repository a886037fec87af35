package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// EnvValidator reads and checks the environment variables the downloader uses
type EnvValidator struct{}

// NewEnvValidator creates a new environment validator instance
func NewEnvValidator() *EnvValidator {
	return &EnvValidator{}
}

// GetString returns the trimmed value of key, or fallback when it is unset or blank
func (e *EnvValidator) GetString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// GetInt parses key as an integer, returning fallback when it is unset
func (e *EnvValidator) GetInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer, got: %s", key, raw)
	}
	return value, nil
}

// GetAddress returns key as a host:port pair, or fallback when it is unset
func (e *EnvValidator) GetAddress(key, fallback string) (string, error) {
	addr := e.GetString(key, fallback)
	if err := ValidateAddress(addr); err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return addr, nil
}

// ValidateAddress checks that addr is a dialable host:port pair
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("invalid address %q: missing host", addr)
	}

	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("invalid address %q: port must be between 1 and 65535", addr)
	}
	return nil
}
