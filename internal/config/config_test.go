package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))
	require.Equal(t, "127.0.0.1:5002", cfg.Server.Addr)
	require.Equal(t, "go", cfg.Compile.Tool)
	require.Contains(t, cfg.Compile.Args, "{output}")
}

func TestValidateCodeStore(t *testing.T) {
	require.Error(t, ValidateCodeStore(CodeStoreConfig{}))
	require.Error(t, ValidateCodeStore(CodeStoreConfig{Dir: "x", CacheTTL: -time.Second}))
	require.NoError(t, ValidateCodeStore(CodeStoreConfig{Dir: "x"}))
}

func TestValidateCompile(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CompileConfig
		wantErr string
	}{
		{name: "zero value", cfg: CompileConfig{}},
		{name: "negative timeout", cfg: CompileConfig{Timeout: -1}, wantErr: "compile.timeout"},
		{name: "negative exec timeout", cfg: CompileConfig{ExecTimeout: -1}, wantErr: "compile.exec_timeout"},
		{name: "negative concurrency", cfg: CompileConfig{MaxConcurrent: -1}, wantErr: "compile.max_concurrent"},
		{name: "args without output", cfg: CompileConfig{Args: []string{"build"}}, wantErr: "{output}"},
		{name: "args with output", cfg: CompileConfig{Args: []string{"build", "-o={output}"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCompile(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateServer(t *testing.T) {
	require.NoError(t, ValidateServer(ServerConfig{}))
	require.NoError(t, ValidateServer(ServerConfig{Addr: ":0"}))
	require.Error(t, ValidateServer(ServerConfig{Addr: "localhost"}))
}

func TestValidateTracing(t *testing.T) {
	require.NoError(t, ValidateTracing(TracingConfig{SampleRate: 0.5}))
	require.Error(t, ValidateTracing(TracingConfig{SampleRate: 1.5}))
	require.Error(t, ValidateTracing(TracingConfig{Exporter: "jaeger"}))
	require.Error(t, ValidateTracing(TracingConfig{Enabled: true, Exporter: "file"}))
	require.Error(t, ValidateTracing(TracingConfig{Enabled: true, Exporter: "otlp"}))
	require.NoError(t, ValidateTracing(TracingConfig{Exporter: "file"}))
}

func TestValidate_ReportsFirstBadSection(t *testing.T) {
	cfg := Defaults()
	cfg.Tracing.Exporter = "bogus"
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "tracing.exporter")
}

func TestArtifactDir(t *testing.T) {
	cfg := Config{CodeStore: CodeStoreConfig{Dir: "/data/formulas"}}
	require.Equal(t, "/data/formulas/.bin", cfg.ArtifactDir())

	cfg.Compile.ArtifactDir = "/bin/out"
	require.Equal(t, "/bin/out", cfg.ArtifactDir())
}
