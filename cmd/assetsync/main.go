package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schaermu/assetsync/internal/activation"
	"github.com/schaermu/assetsync/internal/config"
	"github.com/schaermu/assetsync/internal/fetch"
	"github.com/schaermu/assetsync/internal/git"
	"github.com/schaermu/assetsync/internal/metrics"
	"github.com/schaermu/assetsync/internal/store"
	"github.com/schaermu/assetsync/internal/sync"
	"github.com/schaermu/assetsync/internal/webhook"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile     string
	logLevel    string
	logFormat   string
	manifest    string
	dest        string
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	metricsFile string

	// Sync flags
	dryRun bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "assetsync",
	Short: "Mirror remote assets listed in a YAML manifest",
	Long: `assetsync reads a YAML manifest mapping names to source URLs and downloads
every asset that is not yet present in the destination directory or bucket.

Downloads run in groups of at most five, each retried with exponential backoff.
Assets already present are never fetched again, so repeated runs are cheap.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch every missing asset once",
	Long: `Sync loads the manifest, skips entries without a url and entries already
stored, and fetches the rest.

The command exits non-zero when any asset could not be fetched after all
attempts; every asset that did succeed is stored regardless.`,
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve performs an initial sync and then listens for GitHub push events on the
repository holding the manifest, re-running the sync on every accepted push.

It also exposes /healthz and Prometheus metrics on /metrics. A systemd
socket-activated listener is used when present.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "assetsync %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/assetsync/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	pf.StringVar(&manifest, "manifest", "", "manifest path or http(s) URL")
	pf.StringVar(&dest, "dest", "", "destination directory or bucket URL")
	pf.IntVar(&batchSize, "batch-size", 5, "number of assets fetched concurrently per group")
	pf.IntVar(&maxAttempts, "max-attempts", 3, "attempts per asset before giving up")
	pf.DurationVar(&baseDelay, "base-delay", time.Second, "backoff after the first failed attempt, doubled each retry")
	pf.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after each run")

	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be fetched without fetching")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	engine := sync.NewEngine(cfg, st, newGetter(cfg), logger, dryRun, sync.WithMetrics(m))

	report, runErr := engine.Run(ctx)
	writeMetrics(logger, m, cfg.Metrics.Textfile)

	if runErr != nil {
		if report != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "failed to fetch %d of %d asset(s): %s\n",
				len(report.Failed), report.Total, strings.Join(report.FailedNames(), ", "))
		}
		return runErr
	}

	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Serve.Enabled = true
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid serve configuration: %w", err)
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	engine := sync.NewEngine(cfg, st, newGetter(cfg), logger, false, sync.WithMetrics(m))
	var runner webhook.Runner = webhook.RunnerFunc(func(ctx context.Context) (*sync.Report, error) {
		report, err := engine.Run(ctx)
		writeMetrics(logger, m, cfg.Metrics.Textfile)
		return report, err
	})
	if repo := cfg.Serve.Repo; repo.URL != "" {
		gitClient := git.NewShellClient(repo.SSHKeyFile, repo.HTTPSTokenFile)
		runner = webhook.NewCheckoutRunner(repo, gitClient, runner, logger)
	}

	server, err := webhook.NewServer(cfg, runner, m, logger)
	if err != nil {
		return err
	}

	ln, activated, err := activation.Listen(cfg.Serve.ListenAddr)
	if err != nil {
		return err
	}
	if activated {
		logger.Info("using systemd socket activation", "addr", ln.Addr().String())
	}

	return server.Start(ctx, ln)
}

func setupLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// loadConfig reads the config file, applies flag overrides and validates the
// result. Without --config a missing default file yields the defaults.
func loadConfig(cmd *cobra.Command, logger *slog.Logger) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if cfgFile != "" {
		logger.Info("loading configuration", "path", cfgFile)
		cfg, err = config.Load(cfgFile)
	} else {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", herr)
		}
		path := filepath.Join(home, ".config", "assetsync", "config.yaml")
		logger.Debug("loading optional configuration", "path", path)
		cfg, err = config.LoadOptional(path)
	}
	if err != nil {
		return nil, err
	}

	applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"manifest", cfg.Manifest,
		"dest", cfg.Destination(),
		"batch_size", cfg.Batch.Size,
		"max_attempts", cfg.Fetch.MaxAttempts,
		"base_delay", cfg.Fetch.BaseDelay)

	return cfg, nil
}

// applyFlags copies explicitly set flags over the file values.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if flagChanged(cmd, "manifest") {
		cfg.Manifest = manifest
	}
	if flagChanged(cmd, "dest") {
		if strings.Contains(dest, "://") {
			cfg.Dest.Bucket, cfg.Dest.Dir = dest, ""
		} else {
			cfg.Dest.Dir, cfg.Dest.Bucket = dest, ""
		}
	}
	if flagChanged(cmd, "batch-size") {
		cfg.Batch.Size = batchSize
	}
	if flagChanged(cmd, "max-attempts") {
		cfg.Fetch.MaxAttempts = maxAttempts
	}
	if flagChanged(cmd, "base-delay") {
		cfg.Fetch.BaseDelay = baseDelay
	}
	if flagChanged(cmd, "metrics-file") {
		cfg.Metrics.Textfile = metricsFile
	}
}

func flagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flag(name)
	return f != nil && f.Changed
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	st, err := store.Open(ctx, cfg.Destination(), cfg.Dest.Ext)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open destination: %w", err)
	}
	closeFn := func() {}
	if c, ok := st.(io.Closer); ok {
		closeFn = func() { _ = c.Close() }
	}
	return st, closeFn, nil
}

func newGetter(cfg *config.Config) *fetch.HTTPGetter {
	return fetch.NewHTTPGetter(fetch.HTTPOptions{
		Timeout:   cfg.Source.Timeout,
		UserAgent: cfg.Source.UserAgent,
		MaxBytes:  cfg.Source.MaxBytes,
	})
}

func writeMetrics(logger *slog.Logger, m *metrics.Metrics, path string) {
	if path == "" {
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		logger.Warn("failed to write metrics textfile", "path", path, "error", err)
	}
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
