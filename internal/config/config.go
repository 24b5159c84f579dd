// Package config provides configuration types, defaults and validation for
// formulary.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all configuration options.
type Config struct {
	CodeStore CodeStoreConfig `mapstructure:"code_store" yaml:"code_store"`
	Compile   CompileConfig   `mapstructure:"compile" yaml:"compile"`
	Registry  RegistryConfig  `mapstructure:"registry" yaml:"registry"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Tabular   TabularConfig   `mapstructure:"tabular" yaml:"tabular"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// CodeStoreConfig locates candidate source files.
type CodeStoreConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
	// CacheTTL bounds how long reads are served from memory. 0 disables the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	// Watch invalidates cached reads when files change on disk.
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// CompileConfig drives the compile-test pipeline and activated executors.
type CompileConfig struct {
	// WorkspaceRoot holds throwaway build workspaces. Default: the OS temp dir.
	WorkspaceRoot string `mapstructure:"workspace_root" yaml:"workspace_root"`
	Tool          string `mapstructure:"tool" yaml:"tool"`
	// Args are passed to Tool. "{output}" is replaced with the artifact path.
	Args          []string      `mapstructure:"args" yaml:"args"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	// ArtifactDir holds activated binaries. Default: <code_store.dir>/.bin
	ArtifactDir string        `mapstructure:"artifact_dir" yaml:"artifact_dir"`
	ExecTimeout time.Duration `mapstructure:"exec_timeout" yaml:"exec_timeout"`
}

// RegistryConfig adds user descriptors on top of the built-ins.
type RegistryConfig struct {
	DescriptorDir string `mapstructure:"descriptor_dir" yaml:"descriptor_dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// TabularConfig locates the SQLite database used by formula:exec --table.
type TabularConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Exporter is one of "none", "file", "stdout", "otlp".
	Exporter     string  `mapstructure:"exporter" yaml:"exporter"`
	FilePath     string  `mapstructure:"file_path" yaml:"file_path"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultDataDir returns ~/.formulary, or .formulary when the home directory
// is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".formulary"
	}
	return filepath.Join(home, ".formulary")
}

// DefaultConfigPath returns ~/.config/formulary/config.yaml or empty string
// if the home directory is unavailable.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "formulary", "config.yaml")
}

// Defaults returns the configuration used when no file sets a value.
func Defaults() Config {
	data := DefaultDataDir()
	return Config{
		CodeStore: CodeStoreConfig{
			Dir:      filepath.Join(data, "formulas"),
			CacheTTL: 5 * time.Minute,
			Watch:    true,
		},
		Compile: CompileConfig{
			Tool:          "go",
			Args:          []string{"build", "-o", "{output}", "."},
			Timeout:       2 * time.Minute,
			MaxConcurrent: 2,
			ExecTimeout:   30 * time.Second,
		},
		Registry: RegistryConfig{
			DescriptorDir: filepath.Join(data, "descriptors"),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:5002",
		},
		Tabular: TabularConfig{
			Path: filepath.Join(data, "data.db"),
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     filepath.Join(data, "traces", "traces.jsonl"),
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks every section.
func Validate(cfg Config) error {
	if err := ValidateCodeStore(cfg.CodeStore); err != nil {
		return err
	}
	if err := ValidateCompile(cfg.Compile); err != nil {
		return err
	}
	if err := ValidateServer(cfg.Server); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateCodeStore checks code store configuration for errors.
func ValidateCodeStore(cs CodeStoreConfig) error {
	if strings.TrimSpace(cs.Dir) == "" {
		return fmt.Errorf("code_store.dir is required")
	}
	if cs.CacheTTL < 0 {
		return fmt.Errorf("code_store.cache_ttl must not be negative, got %s", cs.CacheTTL)
	}
	return nil
}

// ValidateCompile checks compile configuration. Empty values fall back to
// pipeline defaults.
func ValidateCompile(c CompileConfig) error {
	if c.Timeout < 0 {
		return fmt.Errorf("compile.timeout must not be negative, got %s", c.Timeout)
	}
	if c.ExecTimeout < 0 {
		return fmt.Errorf("compile.exec_timeout must not be negative, got %s", c.ExecTimeout)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("compile.max_concurrent must not be negative, got %d", c.MaxConcurrent)
	}
	if len(c.Args) > 0 {
		found := false
		for _, a := range c.Args {
			if strings.Contains(a, "{output}") {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("compile.args must contain the {output} placeholder")
		}
	}
	return nil
}

// ValidateServer checks server configuration.
func ValidateServer(s ServerConfig) error {
	if s.Addr == "" {
		return nil
	}
	if !strings.Contains(s.Addr, ":") {
		return fmt.Errorf("server.addr must be host:port, got %q", s.Addr)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// ArtifactDir resolves the activated-binary directory.
func (c Config) ArtifactDir() string {
	if c.Compile.ArtifactDir != "" {
		return c.Compile.ArtifactDir
	}
	return filepath.Join(c.CodeStore.Dir, ".bin")
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Formulary Configuration

# Candidate source files, one <name>.go per formula
code_store:
  # dir: ~/.formulary/formulas
  cache_ttl: 5m        # 0 disables the read cache
  watch: true          # drop cached reads when files change on disk

# Compile-test pipeline
compile:
  # workspace_root: /tmp          # throwaway build workspaces (default: OS temp dir)
  tool: go
  args: ["build", "-o", "{output}", "."]
  timeout: 2m
  max_concurrent: 2
  # artifact_dir: ~/.formulary/formulas/.bin
  exec_timeout: 30s    # per call to an activated formula

# Extra formula descriptors (*.yaml, *.yml, *.toml)
registry:
  # descriptor_dir: ~/.formulary/descriptors

# HTTP API
server:
  addr: 127.0.0.1:5002

# SQLite database for formula:exec --table
tabular:
  # path: ~/.formulary/data.db

# OpenTelemetry tracing
tracing:
  enabled: false
  exporter: file       # none, file, stdout, otlp
  # file_path: ~/.formulary/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0

# Prometheus /metrics on the API server
metrics:
  enabled: true
`
}
