package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

const (
	DefaultLogLevel    = "INFO"
	DefaultDeviceAddr  = "127.0.0.1:20020"
	DefaultDecryptAddr = "127.0.0.1:10020"
	DefaultDownloadDir = "downloads"
	DefaultAlacMax     = 192000
)

// Config holds the runtime settings that are not passed on the command line
type Config struct {
	LogLevel    string // Logging level (DEBUG, INFO, WARN, ERROR, FATAL)
	DeviceAddr  string // wrapper endpoint returning enhanced HLS URLs
	DecryptAddr string // wrapper endpoint decrypting samples
	DownloadDir string // where finished .m4a files are written
	Language    string // catalog language tag; empty uses the account default
	AlacMax     int    // highest ALAC sample rate to accept
}

// LoadConfig loads the configuration from an optional .env file and the environment.
// The returned config has already passed Validate.
func LoadConfig() (*Config, error) {
	// A missing .env is normal; anything else is worth reporting.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	validator := NewEnvValidator()

	deviceAddr, err := validator.GetAddress("M3U8_URL", DefaultDeviceAddr)
	if err != nil {
		return nil, fmt.Errorf("environment validation failed: %w", err)
	}

	decryptAddr, err := validator.GetAddress("DEC_URL", DefaultDecryptAddr)
	if err != nil {
		return nil, fmt.Errorf("environment validation failed: %w", err)
	}

	alacMax, err := validator.GetInt("ALAC_MAX", DefaultAlacMax)
	if err != nil {
		return nil, fmt.Errorf("environment validation failed: %w", err)
	}

	cfg := &Config{
		LogLevel:    validator.GetString("LOG_LEVEL", DefaultLogLevel),
		DeviceAddr:  deviceAddr,
		DecryptAddr: decryptAddr,
		DownloadDir: validator.GetString("DOWNLOAD_DIR", DefaultDownloadDir),
		Language:    validator.GetString("APPLE_MUSIC_LANGUAGE", ""),
		AlacMax:     alacMax,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate performs additional validation on the loaded configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"DEBUG": true,
		"INFO":  true,
		"WARN":  true,
		"ERROR": true,
		"FATAL": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s. Valid levels are: DEBUG, INFO, WARN, ERROR, FATAL", c.LogLevel)
	}

	if err := ValidateAddress(c.DeviceAddr); err != nil {
		return fmt.Errorf("device address: %w", err)
	}

	if err := ValidateAddress(c.DecryptAddr); err != nil {
		return fmt.Errorf("decryption address: %w", err)
	}

	if c.DownloadDir == "" {
		return fmt.Errorf("download directory cannot be empty")
	}

	if c.AlacMax <= 0 {
		return fmt.Errorf("ALAC max sample rate must be a positive integer, got: %d", c.AlacMax)
	}

	return nil
}
