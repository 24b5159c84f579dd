// Package cmd holds the formulary command tree.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/formulary/internal/config"
	"github.com/zjrosen/formulary/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "formulary",
	Short: "Formula registry and compile-test pipeline",
	Long: `Formulary runs named data formulas over tabular rows and manages
candidate formula source: save it, compile-test it, and activate it as a
new formula.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./.formulary.yaml or ~/.config/formulary/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (also FORMULARY_DEBUG)")
}

// setDefaults registers every default so env overrides and Unmarshal see
// the full key set.
func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	v.SetDefault("code_store.dir", d.CodeStore.Dir)
	v.SetDefault("code_store.cache_ttl", d.CodeStore.CacheTTL)
	v.SetDefault("code_store.watch", d.CodeStore.Watch)
	v.SetDefault("compile.workspace_root", d.Compile.WorkspaceRoot)
	v.SetDefault("compile.tool", d.Compile.Tool)
	v.SetDefault("compile.args", d.Compile.Args)
	v.SetDefault("compile.timeout", d.Compile.Timeout)
	v.SetDefault("compile.max_concurrent", d.Compile.MaxConcurrent)
	v.SetDefault("compile.artifact_dir", d.Compile.ArtifactDir)
	v.SetDefault("compile.exec_timeout", d.Compile.ExecTimeout)
	v.SetDefault("registry.descriptor_dir", d.Registry.DescriptorDir)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("tabular.path", d.Tabular.Path)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

func initConfig() {
	setDefaults(viper.GetViper())
	viper.SetEnvPrefix("FORMULARY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. ./.formulary.yaml
		// 2. ~/.config/formulary/config.yaml
		if _, err := os.Stat(".formulary.yaml"); err == nil {
			viper.SetConfigFile(".formulary.yaml")
		} else if p := config.DefaultConfigPath(); p != "" {
			viper.AddConfigPath(filepath.Dir(p))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// First run: write the commented template so users can find it.
			if p := config.DefaultConfigPath(); p != "" {
				if writeErr := config.WriteDefaultConfig(p); writeErr == nil {
					viper.SetConfigFile(p)
					_ = viper.ReadInConfig()
				}
			}
		} else {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	if !debugFlag && os.Getenv("FORMULARY_DEBUG") == "" {
		return nil
	}
	logPath := os.Getenv("FORMULARY_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	cleanup, err := log.Init(logPath)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	cobra.OnFinalize(cleanup)
	log.Info(log.CatConfig, "Formulary starting", "command", cmd.Name(), "config", viper.ConfigFileUsed())
	return nil
}

// configPath is the file config:set writes to.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return config.DefaultConfigPath()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
