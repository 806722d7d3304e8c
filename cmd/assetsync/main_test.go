package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/assetsync/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// resetFlags restores every flag to its default so tests don't leak state
// through the package-level commands.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	reset(rootCmd.PersistentFlags())
	for _, c := range rootCmd.Commands() {
		reset(c.Flags())
	}
	t.Cleanup(func() {
		reset(rootCmd.PersistentFlags())
		for _, c := range rootCmd.Commands() {
			reset(c.Flags())
		}
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeManifest(t *testing.T, dir string, entries map[string]string) string {
	t.Helper()
	var b strings.Builder
	for name, url := range entries {
		b.WriteString(name + ":\n  name: " + name + "\n")
		if url != "" {
			b.WriteString("  url: " + url + "\n")
		}
	}
	path := filepath.Join(dir, "authors.yml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestSetupLogger(t *testing.T) {
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
		debug     bool
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text", debug: true},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			var buf bytes.Buffer
			logger := setupLogger(&buf)
			require.NotNil(t, logger)

			logger.Debug("probe")
			assert.Equal(t, tc.debug, buf.Len() > 0)
		})
	}
}

func TestSetupLogger_JSON(t *testing.T) {
	resetFlags(t)
	logFormat = "json"

	var buf bytes.Buffer
	setupLogger(&buf).Info("hello", "name", "alice")
	assert.Contains(t, buf.String(), `"name":"alice"`)
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	resetFlags(t)

	tmpDir := t.TempDir()
	configContent := []byte(`manifest: "` + filepath.Join(tmpDir, "authors.yml") + `"
dest:
  dir: "` + filepath.Join(tmpDir, "authors") + `"
batch:
  size: 2
`)
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, configContent, 0o600))
	cfgFile = cfgPath

	cfg, err := loadConfig(syncCmd, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Batch.Size)
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	resetFlags(t)
	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")

	_, err := loadConfig(syncCmd, quietLogger())
	require.Error(t, err)
}

func TestLoadConfig_DefaultPathOptional(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())

	// Defaults alone carry no manifest
	_, err := loadConfig(syncCmd, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest is required")

	require.NoError(t, rootCmd.PersistentFlags().Set("manifest", "/tmp/authors.yml"))
	require.NoError(t, rootCmd.PersistentFlags().Set("dest", "/tmp/authors"))

	cfg, err := loadConfig(syncCmd, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/authors.yml", cfg.Manifest)
	assert.Equal(t, "/tmp/authors", cfg.Dest.Dir)
}

func TestApplyFlags(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())

	pf := rootCmd.PersistentFlags()
	require.NoError(t, pf.Set("manifest", "https://example.com/authors.yml"))
	require.NoError(t, pf.Set("dest", "mem://"))
	require.NoError(t, pf.Set("batch-size", "3"))
	require.NoError(t, pf.Set("max-attempts", "7"))
	require.NoError(t, pf.Set("base-delay", "250ms"))
	require.NoError(t, pf.Set("metrics-file", "/tmp/assetsync.prom"))

	cfg, err := loadConfig(syncCmd, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/authors.yml", cfg.Manifest)
	assert.Equal(t, "mem://", cfg.Dest.Bucket)
	assert.Empty(t, cfg.Dest.Dir)
	assert.Equal(t, 3, cfg.Batch.Size)
	assert.Equal(t, 7, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.BaseDelay)
	assert.Equal(t, "/tmp/assetsync.prom", cfg.Metrics.Textfile)
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	require.NotNil(t, ctx)

	cancel()

	<-ctx.Done()
	require.Error(t, ctx.Err())
}

func TestVersionCmd(t *testing.T) {
	resetFlags(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "assetsync dev")
}

func TestSyncCmd_FetchesAndIsIdempotent(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())

	srv := testutil.NewAssetServer(map[string]*testutil.Asset{
		"/alice.png": {Body: []byte("alice")},
		"/bob.png":   {Body: []byte("bob")},
	})
	defer srv.Close()

	tmp := t.TempDir()
	manifestPath := writeManifest(t, tmp, map[string]string{
		"alice": srv.URLFor("alice.png"),
		"bob":   srv.URLFor("bob.png"),
		"ghost": "",
	})
	destDir := filepath.Join(tmp, "img", "authors")
	promFile := filepath.Join(tmp, "assetsync.prom")

	args := []string{"sync", "--manifest", manifestPath, "--dest", destDir, "--metrics-file", promFile, "--log-level", "error"}

	_, err := execute(t, args...)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(destDir, "alice.png"))
	require.NoError(t, err)
	assert.Equal(t, "alice", string(data))
	assert.FileExists(t, filepath.Join(destDir, "bob.png"))
	assert.NoFileExists(t, filepath.Join(destDir, "ghost.png"))

	prom, err := os.ReadFile(promFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `assetsync_items_total{result="fetched"} 2`)

	_, err = execute(t, args...)
	require.NoError(t, err)
	assert.Equal(t, 2, srv.TotalRequests())
}

func TestSyncCmd_FailureExitsNonZero(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())

	srv := testutil.NewAssetServer(map[string]*testutil.Asset{
		"/alice.png": {Body: []byte("alice")},
	})
	defer srv.Close()

	tmp := t.TempDir()
	manifestPath := writeManifest(t, tmp, map[string]string{
		"alice":   srv.URLFor("alice.png"),
		"missing": srv.URLFor("missing.png"),
	})
	destDir := filepath.Join(tmp, "authors")

	out, err := execute(t, "sync",
		"--manifest", manifestPath,
		"--dest", destDir,
		"--max-attempts", "2",
		"--base-delay", "0s",
		"--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, out, "failed to fetch 1 of 2 asset(s): missing")
	assert.Equal(t, 2, srv.Requests("missing.png"))
	assert.FileExists(t, filepath.Join(destDir, "alice.png"))
}

func TestSyncCmd_DryRun(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())

	srv := testutil.NewAssetServer(map[string]*testutil.Asset{"/alice": {Body: []byte("alice")}})
	defer srv.Close()

	tmp := t.TempDir()
	manifestPath := writeManifest(t, tmp, map[string]string{"alice": srv.URLFor("alice")})

	_, err := execute(t, "sync", "--dry-run", "--manifest", manifestPath, "--dest", filepath.Join(tmp, "authors"), "--log-level", "error")
	require.NoError(t, err)
	assert.Zero(t, srv.TotalRequests())
}

func TestServeCmd_RequiresSecret(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())

	_, err := execute(t, "serve", "--manifest", "/tmp/authors.yml", "--dest", "/tmp/authors", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github_webhook_secret_file")
}
