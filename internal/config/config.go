// Package config loads the server configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Token grants a bearer token access as a specific account.
type Token struct {
	Token      string `yaml:"token"`
	AccountID  string `yaml:"account_id"`
	Name       string `yaml:"name"`
	Privileged bool   `yaml:"privileged"`
}

// Config holds everything the server binary needs.
type Config struct {
	ListenAddr  string  `yaml:"listen_addr"`
	DatabaseURL string  `yaml:"database_url"`
	AuditPath   string  `yaml:"audit_path"`
	AuditMax    int     `yaml:"audit_max"`
	RatePerSec  float64 `yaml:"rate_per_second"`
	RateBurst   int     `yaml:"rate_burst"`
	Tokens      []Token `yaml:"tokens"`
}

// Default returns the configuration used when no file is present: in-memory
// storage, local listener, no rate limiting.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		AuditMax:   200,
	}
}

// Load reads the YAML file at path, falling back to defaults when the file
// does not exist, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.AuditMax <= 0 {
		cfg.AuditMax = 200
	}
	if cfg.RateBurst <= 0 && cfg.RatePerSec > 0 {
		cfg.RateBurst = int(cfg.RatePerSec)
		if cfg.RateBurst < 1 {
			cfg.RateBurst = 1
		}
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LEDGER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LEDGER_AUDIT_PATH"); v != "" {
		cfg.AuditPath = v
	}
	if v := os.Getenv("LEDGER_RATE_PER_SECOND"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RatePerSec = parsed
		}
	}
	if v := os.Getenv("LEDGER_RATE_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RateBurst = parsed
		}
	}
}
