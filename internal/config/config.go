package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete assetsync configuration
type Config struct {
	Manifest string        `yaml:"manifest"`
	Dest     DestConfig    `yaml:"dest"`
	Source   SourceConfig  `yaml:"source"`
	Fetch    FetchConfig   `yaml:"fetch"`
	Batch    BatchConfig   `yaml:"batch"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Serve    ServeConfig   `yaml:"serve"`
}

// DestConfig configures where fetched assets are stored
type DestConfig struct {
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Ext    string `yaml:"ext"`
}

// SourceConfig configures how locators are built and requested
type SourceConfig struct {
	URLSuffix string        `yaml:"url_suffix"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
}

// FetchConfig configures the retry policy
type FetchConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// BatchConfig configures the group size
type BatchConfig struct {
	Size int `yaml:"size"`
}

// MetricsConfig configures metrics export
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool       `yaml:"enabled"`
	ListenAddr              string     `yaml:"listen_addr"`
	GitHubWebhookSecretFile string     `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string   `yaml:"allowed_event_types"`
	AllowedRefs             []string   `yaml:"allowed_refs"`
	ManifestPath            string     `yaml:"manifest_path"`
	Repo                    RepoConfig `yaml:"repo"`
}

// RepoConfig names the git repository holding the manifest. When URL is set,
// serve keeps a checkout in Dir and reads the manifest from ManifestPath
// inside it.
type RepoConfig struct {
	URL            string `yaml:"url"`
	Ref            string `yaml:"ref"`
	Dir            string `yaml:"dir"`
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// Default returns a configuration with every default applied and no
// manifest or destination set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// LoadOptional behaves like Load but returns the defaults when path does
// not exist.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Manifest = os.ExpandEnv(c.Manifest)
	c.Dest.Dir = os.ExpandEnv(c.Dest.Dir)
	c.Dest.Bucket = os.ExpandEnv(c.Dest.Bucket)
	c.Source.URLSuffix = os.ExpandEnv(c.Source.URLSuffix)
	c.Metrics.Textfile = os.ExpandEnv(c.Metrics.Textfile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
	c.Serve.Repo.Dir = os.ExpandEnv(c.Serve.Repo.Dir)
	c.Serve.Repo.SSHKeyFile = os.ExpandEnv(c.Serve.Repo.SSHKeyFile)
	c.Serve.Repo.HTTPSTokenFile = os.ExpandEnv(c.Serve.Repo.HTTPSTokenFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Dest.Ext == "" {
		c.Dest.Ext = "png"
	}
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = "assetsync"
	}
	if c.Source.Timeout == 0 {
		c.Source.Timeout = 30 * time.Second
	}
	if c.Source.MaxBytes == 0 {
		c.Source.MaxBytes = 10 << 20
	}
	if c.Fetch.MaxAttempts == 0 {
		c.Fetch.MaxAttempts = 3
	}
	if c.Fetch.BaseDelay == 0 {
		c.Fetch.BaseDelay = time.Second
	}
	if c.Batch.Size == 0 {
		c.Batch.Size = 5
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = "127.0.0.1:8787"
	}
	if c.Serve.Repo.URL != "" {
		if c.Serve.Repo.Ref == "" {
			c.Serve.Repo.Ref = "main"
		}
		if c.Manifest == "" && c.Serve.Repo.Dir != "" && c.Serve.ManifestPath != "" {
			c.Manifest = filepath.Join(c.Serve.Repo.Dir, filepath.FromSlash(c.Serve.ManifestPath))
		}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Manifest == "" {
		return fmt.Errorf("manifest is required")
	}

	// Validate destination: exactly one of dir or bucket
	if c.Dest.Dir == "" && c.Dest.Bucket == "" {
		return fmt.Errorf("one of dest.dir or dest.bucket is required")
	}
	if c.Dest.Dir != "" && c.Dest.Bucket != "" {
		return fmt.Errorf("dest: only one of dir or bucket may be set")
	}
	if c.Dest.Bucket != "" && !strings.Contains(c.Dest.Bucket, "://") {
		return fmt.Errorf("dest.bucket must be a URL (e.g. file:///srv/assets, s3://bucket): %s", c.Dest.Bucket)
	}
	if strings.ContainsAny(strings.TrimPrefix(c.Dest.Ext, "."), "/\\\x00") {
		return fmt.Errorf("dest.ext must not contain path separators: %s", c.Dest.Ext)
	}

	if c.Source.Timeout < 0 {
		return fmt.Errorf("source.timeout must not be negative")
	}
	if c.Source.MaxBytes < 0 {
		return fmt.Errorf("source.max_bytes must not be negative")
	}

	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch.max_attempts must be at least 1, got %d", c.Fetch.MaxAttempts)
	}
	if c.Fetch.BaseDelay < 0 {
		return fmt.Errorf("fetch.base_delay must not be negative")
	}
	if c.Batch.Size < 1 {
		return fmt.Errorf("batch.size must be at least 1, got %d", c.Batch.Size)
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
		if c.Serve.Repo.URL != "" {
			if c.Serve.Repo.Dir == "" {
				return fmt.Errorf("serve.repo.dir is required when serve.repo.url is set")
			}
			if c.Serve.ManifestPath == "" {
				return fmt.Errorf("serve.manifest_path is required when serve.repo.url is set")
			}
		}
	}

	return nil
}

// Destination returns the store location: the bucket URL if set, otherwise
// the directory.
func (c *Config) Destination() string {
	if c.Dest.Bucket != "" {
		return c.Dest.Bucket
	}
	return c.Dest.Dir
}
