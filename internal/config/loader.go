package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/rita/internal/build"
)

// Defaults applied when the file leaves a field empty.
const (
	DefaultOutputRoot = ".rita/out"
	DefaultTerminal   = "verify-service"
	DefaultRuntime    = "linux-x64"
	DefaultRemoteDir  = "/root/aggregator"
	DefaultSecretEnv  = "ENERGY_SECRET"
	DefaultTimeout    = "30s"
	DefaultHistoryDSN = ".rita/history.db"
)

// DefaultTolerantStages are the stages whose failure does not abort a run
// unless the file says otherwise.
var DefaultTolerantStages = []string{"clean", "restore"}

// SearchPaths is where LoadDefault looks, in order.
var SearchPaths = []string{"rita.yaml", filepath.Join(".rita", "rita.yaml")}

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it applies defaults and records the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.BaseDir = filepath.Dir(abs)
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches SearchPaths relative to the working directory and
// loads the first file found.
func LoadDefault() (*Config, error) {
	path, err := Find()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Find returns the first existing file in SearchPaths.
func Find() (string, error) {
	for _, path := range SearchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no rita config found (searched: %v)", SearchPaths)
}

// LoadDotEnv loads a .env file from dir into the process environment when
// one exists. Variables already set are not overwritten.
func LoadDotEnv(dir string) (bool, error) {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("loading %s: %w", path, err)
	}
	return true, nil
}

// applyDefaults fills every field the file left empty.
func applyDefaults(cfg *Config) {
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	if cfg.Output.Root == "" {
		cfg.Output.Root = DefaultOutputRoot
	}
	if cfg.Output.PruneFiles == nil {
		cfg.Output.PruneFiles = build.DefaultPruneFiles
	}
	if cfg.Pipeline.TolerantStages == nil {
		cfg.Pipeline.TolerantStages = DefaultTolerantStages
	}
	if cfg.Pipeline.Terminal == "" {
		cfg.Pipeline.Terminal = DefaultTerminal
	}
	if cfg.Runtime.Release == "" {
		cfg.Runtime.Release = DefaultRuntime
	}
	if cfg.Toolchain.DotNet == "" {
		cfg.Toolchain.DotNet = "dotnet"
	}

	r := &cfg.Remote
	if r.Port == 0 {
		r.Port = 22
	}
	if r.User == "" {
		r.User = "root"
	}
	if r.RemoteDir == "" {
		r.RemoteDir = DefaultRemoteDir
	}
	if r.Sudo == nil {
		sudo := true
		r.Sudo = &sudo
	}
	if r.Timeout == "" {
		r.Timeout = DefaultTimeout
	}
	if r.SecretEnv == "" {
		r.SecretEnv = DefaultSecretEnv
	}

	if cfg.History.Driver == "" {
		cfg.History.Driver = "sqlite3"
	}
	if cfg.History.DSN == "" && cfg.History.Driver == "sqlite3" {
		cfg.History.DSN = DefaultHistoryDSN
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// Path resolves p against BaseDir unless it is already absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// UseSudo reports whether service commands are prefixed with sudo.
func (c *Config) UseSudo() bool {
	return c.Remote.Sudo == nil || *c.Remote.Sudo
}
