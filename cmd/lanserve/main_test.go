package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/lanserve/internal/config"
	"example.com/lanserve/internal/server"
)

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

// stubStart replaces the blocking server start with a run that stops as
// soon as it is listening.
func stubStart(t *testing.T) *[]*server.Server {
	t.Helper()
	var started []*server.Server
	orig := startServer
	startServer = func(s *server.Server) error {
		started = append(started, s)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return s.Run(ctx)
	}
	t.Cleanup(func() { startServer = orig })
	return &started
}

func TestRun_Version(t *testing.T) {
	for _, flag := range []string{"-v", "--version"} {
		code, stdout, _ := runCLI(t, flag)
		assert.Equal(t, 0, code)
		assert.Equal(t, "Version 1.0.2\n", stdout)
	}
}

func TestRun_Help(t *testing.T) {
	code, stdout, _ := runCLI(t, "--help")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "Usage:\n    lanserve directory [port] <flags>"), stdout)
	assert.Contains(t, stdout, "Available flags:")
	assert.Contains(t, stdout, "allow-parent-directories")
}

func TestRun_UnknownFlag(t *testing.T) {
	code, _, stderr := runCLI(t, "--bogus")
	assert.Equal(t, server.ExitUsage, code)
	assert.Contains(t, stderr, "bogus")
	assert.Contains(t, stderr, "Usage:")
}

func TestRun_MissingDirectory(t *testing.T) {
	code, _, stderr := runCLI(t, "--private")
	assert.Equal(t, server.ExitDirectory, code)
	assert.Contains(t, stderr, "directory to share is required")
	assert.Contains(t, stderr, "Usage:")
}

func TestRun_DirectoryErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	code, _, stderr := runCLI(t, filepath.Join(dir, "nope"))
	assert.Equal(t, server.ExitDirectory, code)
	assert.Contains(t, stderr, "Directory does not exist")

	code, _, stderr = runCLI(t, file)
	assert.Equal(t, server.ExitDirectory, code)
	assert.Contains(t, stderr, "Directory path does not point to a directory")
}

func TestRun_RefusesParentOfExecutable(t *testing.T) {
	exeDir, err := config.ExecutableDir()
	require.NoError(t, err)
	parent := filepath.Dir(exeDir)

	code, _, stderr := runCLI(t, parent)
	assert.Equal(t, server.ExitDirectory, code)
	assert.Contains(t, stderr, "allow-parent-directories")
}

func TestRun_TooManyArguments(t *testing.T) {
	code, _, stderr := runCLI(t, t.TempDir(), "8080", "extra")
	assert.Equal(t, server.ExitUsage, code)
	assert.Contains(t, stderr, "unexpected arguments")
}

func TestRun_BadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lanserve.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": 70000}}`), 0o644))

	code, _, stderr := runCLI(t, "--config", path, t.TempDir())
	assert.Equal(t, server.ExitUsage, code)
	assert.Contains(t, stderr, "server.port")
}

func TestRun_StartsAndStops(t *testing.T) {
	started := stubStart(t)
	dir := t.TempDir()
	logFile := filepath.Join(t.TempDir(), "lanserve.log")

	code, _, stderr := runCLI(t, dir, "0", "--private", "-l", logFile)
	assert.Equal(t, 0, code, stderr)
	require.Len(t, *started, 1)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Start-up")
	assert.Contains(t, string(data), "Shut-down")
	assert.Contains(t, string(data), `"local_only":true`)
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name  string
		opts  options
		set   map[string]bool
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid port",
			opts: options{port: "8080"},
			set:  map[string]bool{"port": true},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 8080, *cfg.Server.Port)
			},
		},
		{
			name: "out of range port ignored",
			opts: options{port: "70000"},
			set:  map[string]bool{"p": true},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 80, *cfg.Server.Port)
			},
		},
		{
			name: "non-numeric port ignored",
			opts: options{port: "http"},
			set:  map[string]bool{"port": true},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 80, *cfg.Server.Port)
			},
		},
		{
			name: "pretty print selects console format",
			opts: options{prettyPrint: true},
			set:  map[string]bool{"pretty-print": true},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, config.LogFormatConsole, cfg.Logging.Format)
			},
		},
		{
			name: "unset flags keep config values",
			opts: options{private: false, metrics: ""},
			set:  map[string]bool{},
			check: func(t *testing.T, cfg *config.Config) {
				assert.True(t, *cfg.Server.Private)
				assert.Nil(t, cfg.Metrics.Address)
			},
		},
		{
			name: "metrics address",
			opts: options{metrics: "127.0.0.1:9100"},
			set:  map[string]bool{"metrics": true},
			check: func(t *testing.T, cfg *config.Config) {
				require.NotNil(t, cfg.Metrics.Address)
				assert.Equal(t, "127.0.0.1:9100", *cfg.Metrics.Address)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			private := true
			cfg.Server.Private = &private
			opts := tt.opts
			applyFlags(cfg, &opts, tt.set)
			tt.check(t, cfg)
		})
	}
}

func TestParseArgs_FlagsAroundPositionals(t *testing.T) {
	var opts options
	var stderr bytes.Buffer
	fs := newFlagSet(&opts, &stderr)

	positional, err := parseArgs(fs, []string{"--private", "/srv", "-p", "9000", "8080", "--pretty-print"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv", "8080"}, positional)
	assert.True(t, opts.private)
	assert.True(t, opts.prettyPrint)
	assert.Equal(t, "9000", opts.port)
}
