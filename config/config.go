package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// API contains the configuration for connecting to the wallet daemon.
	API struct {
		URL      string `yaml:"url,omitempty" env:"ZENON_WALLET_API_URL"`
		Username string `yaml:"username,omitempty" env:"ZENON_WALLET_API_USERNAME_ADMIN"`
		Password string `yaml:"password,omitempty" env:"ZENON_WALLET_API_PASSWORD_ADMIN"`
		// Address is the client's own address, the default sender.
		Address string `yaml:"address,omitempty" env:"ZENON_WALLET_API_ADDRESS"`
	}

	// Wallet contains the secrets used to manage the daemon's wallet.
	Wallet struct {
		Secret   string `yaml:"secret,omitempty" env:"ZENON_WALLET_API_SECRET"`
		Mnemonic string `yaml:"mnemonic,omitempty" env:"ZENON_WALLET_API_MNEMONIC"`
	}

	// Plasma configures how long transfers wait for plasma and how often
	// they are retried.
	Plasma struct {
		Timeout  time.Duration `yaml:"timeout,omitempty" env:"ZNNWALLET_PLASMA_TIMEOUT"`
		Interval time.Duration `yaml:"interval,omitempty" env:"ZNNWALLET_PLASMA_INTERVAL"`
		Attempts uint          `yaml:"attempts,omitempty" env:"ZNNWALLET_PLASMA_ATTEMPTS"`
		Backoff  time.Duration `yaml:"backoff,omitempty" env:"ZNNWALLET_PLASMA_BACKOFF"`
	}

	// LogFile configures the file output of the logger.
	LogFile struct {
		Enabled bool   `yaml:"enabled,omitempty"`
		Level   string `yaml:"level,omitempty"` // override the file log level
		Format  string `yaml:"format,omitempty"`
		// Path is the path of the log file.
		Path string `yaml:"path,omitempty" env:"ZNNWALLET_LOG_FILE"`
	}

	// StdOut configures the standard output of the logger.
	StdOut struct {
		Level      string `yaml:"level,omitempty"` // override the stdout log level
		Enabled    bool   `yaml:"enabled,omitempty"`
		Format     string `yaml:"format,omitempty"`
		EnableANSI bool   `yaml:"enableANSI,omitempty"` //nolint:tagliatelle
	}

	// Log contains the configuration for the logger.
	Log struct {
		Level  string  `yaml:"level,omitempty" env:"ZNNWALLET_LOG_LEVEL"` // global log level
		StdOut StdOut  `yaml:"stdout,omitempty"`
		File   LogFile `yaml:"file,omitempty"`
	}

	// Config contains the configuration for the wallet client.
	Config struct {
		API    API    `yaml:"api,omitempty"`
		Wallet Wallet `yaml:"wallet,omitempty"`
		Plasma Plasma `yaml:"plasma,omitempty"`
		Log    Log    `yaml:"log,omitempty"`
	}
)

// Validate checks that the configuration can be used to reach the daemon.
func (c Config) Validate() error {
	switch {
	case c.API.URL == "":
		return errors.New("api url is required")
	case c.Plasma.Timeout <= 0 || c.Plasma.Interval <= 0:
		return errors.New("plasma timeout and interval must be positive")
	case c.Plasma.Attempts == 0:
		return errors.New("plasma attempts must be at least 1")
	case c.Plasma.Backoff < 0:
		return errors.New("plasma backoff must not be negative")
	}
	return nil
}

// LoadFile decodes the YAML file at path into cfg. Unknown fields are
// rejected. A missing file is not an error.
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	return nil
}

// LoadEnv loads the dotenv file at path into the process environment, if it
// exists, then overrides cfg with any set environment variables. Variables
// already present in the environment take precedence over the dotenv file.
func LoadEnv(path string, cfg *Config) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %q: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}
