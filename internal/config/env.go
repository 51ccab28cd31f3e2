package config

import (
	"context"
	"fmt"
	"os"

	"github.com/sethvargo/go-envconfig"
)

// EnvOverrides are the environment variables that override file values.
// Unset variables leave the file value in place.
type EnvOverrides struct {
	RemoteHost string `env:"RITA_REMOTE_HOST"`
	RemoteUser string `env:"RITA_REMOTE_USER"`
	RemotePort int    `env:"RITA_REMOTE_PORT"`
	HistoryDSN string `env:"RITA_HISTORY_DSN"`
	LogLevel   string `env:"RITA_LOG_LEVEL"`
}

// ApplyEnv reads overrides through lookuper and applies them to cfg.
// A nil lookuper reads the process environment.
func ApplyEnv(ctx context.Context, cfg *Config, lookuper envconfig.Lookuper) error {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	var env EnvOverrides
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &env, Lookuper: lookuper}); err != nil {
		return fmt.Errorf("reading environment overrides: %w", err)
	}

	if env.RemoteHost != "" {
		cfg.Remote.Host = env.RemoteHost
	}
	if env.RemoteUser != "" {
		cfg.Remote.User = env.RemoteUser
	}
	if env.RemotePort != 0 {
		cfg.Remote.Port = env.RemotePort
	}
	if env.HistoryDSN != "" {
		cfg.History.DSN = env.HistoryDSN
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	return nil
}

// Secret reads the private key from the variable named by remote.secret_env.
// The returned slice belongs to the caller, who should zero it after use.
func (c *Config) Secret() ([]byte, error) {
	v, ok := os.LookupEnv(c.Remote.SecretEnv)
	if !ok || v == "" {
		return nil, fmt.Errorf("environment variable %s is not set", c.Remote.SecretEnv)
	}
	return []byte(v), nil
}

// Passphrase reads the key passphrase, or nil when none is configured.
func (c *Config) Passphrase() []byte {
	if c.Remote.PassphraseEnv == "" {
		return nil
	}
	v := os.Getenv(c.Remote.PassphraseEnv)
	if v == "" {
		return nil
	}
	return []byte(v)
}
