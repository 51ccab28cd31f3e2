package config

// Config is the top-level structure parsed from rita.yaml.
type Config struct {
	// Workspace is the source tree toolchain commands run in.
	Workspace string         `yaml:"workspace"`
	Solution  string         `yaml:"solution" validate:"required"`
	Projects  ProjectsConfig `yaml:"projects"`
	Output    OutputConfig   `yaml:"output"`
	Pipeline  PipelineConfig `yaml:"pipeline"`
	Runtime   RuntimeConfig  `yaml:"runtime"`
	Toolchain Toolchain      `yaml:"toolchain"`
	Remote    RemoteConfig   `yaml:"remote" validate:"-"`
	Service   ServiceConfig  `yaml:"service" validate:"-"`
	History   HistoryConfig  `yaml:"history"`
	Logging   LoggingConfig  `yaml:"logging"`

	// BaseDir is the directory of the loaded file; relative paths resolve against it.
	BaseDir string `yaml:"-"`
}

// ProjectsConfig points at the project documents.
type ProjectsConfig struct {
	// Parameters lists ProjectsToTest and ProjectsToBuildForDroplet.
	Parameters string `yaml:"parameters" validate:"required"`
	// Paths maps project ids to project files.
	Paths string `yaml:"paths" validate:"required"`
}

// OutputConfig controls where build output goes and what is pruned from it.
type OutputConfig struct {
	Root       string   `yaml:"root"`
	PruneFiles []string `yaml:"prune_files"`
}

// PipelineConfig controls stage scheduling.
type PipelineConfig struct {
	TolerantStages []string `yaml:"tolerant_stages"`
	// Terminal is the default stage for "rita run".
	Terminal string `yaml:"terminal"`
}

// RuntimeConfig selects the target runtime for local and release runs.
type RuntimeConfig struct {
	// Release is the runtime identifier for release runs, e.g. linux-x64.
	Release string `yaml:"release"`
	// Local overrides the host runtime for local runs.
	Local string `yaml:"local"`
}

// Toolchain locates external tools.
type Toolchain struct {
	DotNet string `yaml:"dotnet"`
}

// RemoteConfig describes the deployment target.
type RemoteConfig struct {
	Host       string `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port       int    `yaml:"port" validate:"min=1,max=65535"`
	User       string `yaml:"user" validate:"required"`
	RemoteDir  string `yaml:"remote_dir" validate:"required,startswith=/"`
	KnownHosts string `yaml:"known_hosts"`
	HostKey    string `yaml:"host_key"`
	Sudo       *bool  `yaml:"sudo"`
	Timeout    string `yaml:"timeout"`
	// SecretEnv names the variable holding the private key.
	SecretEnv string `yaml:"secret_env" validate:"required"`
	// PassphraseEnv names the variable holding the key passphrase, if any.
	PassphraseEnv string `yaml:"passphrase_env"`
}

// ServiceConfig describes the systemd unit.
type ServiceConfig struct {
	Name        string            `yaml:"name" validate:"required,endswith=.service"`
	Description string            `yaml:"description"`
	ExecStart   string            `yaml:"exec_start" validate:"required"`
	WorkingDir  string            `yaml:"working_dir"`
	User        string            `yaml:"user"`
	Environment map[string]string `yaml:"environment"`
	// UnitTemplate overrides the built-in unit layout.
	UnitTemplate string `yaml:"unit_template"`
}

// HistoryConfig enables the run history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver" validate:"omitempty,oneof=sqlite3 pgx"`
	DSN     string `yaml:"dsn"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format  string `yaml:"format" validate:"omitempty,oneof=console json"`
	NoColor bool   `yaml:"no_color"`
}
