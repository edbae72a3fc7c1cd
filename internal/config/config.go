// Package config builds the single configuration object the server is
// started with: built-in defaults, an optional YAML file, then the
// environment for the webhook secret.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"docshook/internal/deploylog"
	"docshook/internal/deployment"
	"docshook/pkg/cmdutil"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 4321
	DefaultWebhookPath   = "/github-webhook"
	DefaultSiteDir       = "dist/client"
	DefaultDeployLog     = "./" + deploylog.DefaultPath
	DefaultServerLog     = "./docshook.log"
	DefaultDBPath        = "./deployments.db"
	DefaultDeployTimeout = 15 * time.Minute
	DefaultRateLimit     = 10

	// SecretEnv holds the shared webhook secret. FallbackSecretEnv is read
	// when SecretEnv is unset.
	SecretEnv         = "DOCSHOOK_WEBHOOK_SECRET"
	FallbackSecretEnv = "GITHUB_WEBHOOK_SECRET"
)

// DefaultCommands rebuilds the docs site and restarts it under pm2.
var DefaultCommands = []string{
	"git pull",
	"npm install",
	"npm run build",
	"-pm2 delete OpenAgentsBuilderDocs",
	`pm2 start "node ./src/run-server.js" --name OpenAgentsBuilderDocs`,
	"pm2 reload all",
}

// Config is the runtime configuration of the webhook server.
type Config struct {
	Host        string
	Port        int
	WebhookPath string

	// SiteDir is the static build output served for non-webhook paths.
	SiteDir string

	// WorkDir is the checkout the deployment commands run in.
	WorkDir string

	Commands      []string
	DeployTimeout time.Duration

	// CommandTimeout bounds each command. Zero means only DeployTimeout applies.
	CommandTimeout time.Duration

	DeployLog string
	ServerLog string

	// DBPath is the SQLite history index. Empty disables history.
	DBPath string

	// RateLimitPerMinute bounds webhook requests per client IP.
	RateLimitPerMinute int

	// Secret is never logged or serialized.
	Secret []byte
}

// fileConfig is the YAML shape of Config.
type fileConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	WebhookPath        string        `yaml:"webhook_path"`
	SiteDir            string        `yaml:"site_dir"`
	WorkDir            string        `yaml:"work_dir"`
	Commands           []interface{} `yaml:"commands"` // string or list of strings
	DeployTimeout      string        `yaml:"deploy_timeout"`
	CommandTimeout     string        `yaml:"command_timeout"`
	DeployLog          string        `yaml:"deploy_log"`
	ServerLog          string        `yaml:"server_log"`
	DBPath             string        `yaml:"db_path"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Host:               DefaultHost,
		Port:               DefaultPort,
		WebhookPath:        DefaultWebhookPath,
		SiteDir:            DefaultSiteDir,
		WorkDir:            ".",
		Commands:           append([]string(nil), DefaultCommands...),
		DeployTimeout:      DefaultDeployTimeout,
		DeployLog:          DefaultDeployLog,
		ServerLog:          DefaultServerLog,
		DBPath:             DefaultDBPath,
		RateLimitPerMinute: DefaultRateLimit,
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default value. Unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	fc := fileConfig{
		Host:               cfg.Host,
		Port:               cfg.Port,
		WebhookPath:        cfg.WebhookPath,
		SiteDir:            cfg.SiteDir,
		WorkDir:            cfg.WorkDir,
		DeployTimeout:      cfg.DeployTimeout.String(),
		CommandTimeout:     cfg.CommandTimeout.String(),
		DeployLog:          cfg.DeployLog,
		ServerLog:          cfg.ServerLog,
		DBPath:             cfg.DBPath,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}
	for _, c := range cfg.Commands {
		fc.Commands = append(fc.Commands, c)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	timeout, err := time.ParseDuration(fc.DeployTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid deploy_timeout %q: %w", fc.DeployTimeout, err)
	}

	commandTimeout, err := time.ParseDuration(fc.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid command_timeout %q: %w", fc.CommandTimeout, err)
	}

	commands, err := normalizeCommands(fc.Commands)
	if err != nil {
		return nil, err
	}

	cfg.Host = fc.Host
	cfg.Port = fc.Port
	cfg.WebhookPath = fc.WebhookPath
	cfg.SiteDir = fc.SiteDir
	cfg.WorkDir = fc.WorkDir
	cfg.Commands = commands
	cfg.DeployTimeout = timeout
	cfg.CommandTimeout = commandTimeout
	cfg.DeployLog = fc.DeployLog
	cfg.ServerLog = fc.ServerLog
	cfg.DBPath = fc.DBPath
	cfg.RateLimitPerMinute = fc.RateLimitPerMinute

	return cfg, nil
}

// normalizeCommands turns YAML commands into shell-quoted strings. A list
// entry is joined with quoting; a string entry is kept as written so that
// the "-" ignore-failure prefix survives.
func normalizeCommands(raw []interface{}) ([]string, error) {
	commands := make([]string, 0, len(raw))
	for i, entry := range raw {
		if s, ok := entry.(string); ok {
			commands = append(commands, strings.TrimSpace(s))
			continue
		}
		parts, err := cmdutil.ParseCommandList(entry)
		if err != nil {
			return nil, fmt.Errorf("commands[%d]: %w", i, err)
		}
		commands = append(commands, cmdutil.JoinCommand(parts))
	}
	return commands, nil
}

// LoadSecretFromEnv sets Secret from the environment and reports whether
// one was found.
func (c *Config) LoadSecretFromEnv() bool {
	for _, key := range []string{SecretEnv, FallbackSecretEnv} {
		if value := os.Getenv(key); value != "" {
			c.Secret = []byte(value)
			return true
		}
	}
	return false
}

// Address returns the host:port the server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate returns every problem found, one line each. A missing secret is
// not a problem here: the webhook answers "Missing secret" at request time.
func (c *Config) Validate() []string {
	var problems []string

	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("  - port must be between 1 and 65535, got %d", c.Port))
	}

	if !strings.HasPrefix(c.WebhookPath, "/") {
		problems = append(problems, fmt.Sprintf("  - webhook_path must start with '/', got '%s'", c.WebhookPath))
	}
	if c.WebhookPath == "/" || c.WebhookPath == "/health" || c.WebhookPath == "/status" {
		problems = append(problems, fmt.Sprintf("  - webhook_path '%s' collides with a built-in route", c.WebhookPath))
	}

	if c.SiteDir == "" {
		problems = append(problems, "  - site_dir must not be empty")
	}

	if c.WorkDir == "" {
		problems = append(problems, "  - work_dir must not be empty")
	} else if info, err := os.Stat(c.WorkDir); err != nil {
		problems = append(problems, fmt.Sprintf("  - work_dir cannot be used: %v", err))
	} else if !info.IsDir() {
		problems = append(problems, fmt.Sprintf("  - work_dir is not a directory: '%s'", c.WorkDir))
	}

	if len(c.Commands) == 0 {
		problems = append(problems, "  - commands must list at least one command")
	}
	for i, command := range c.Commands {
		command = strings.TrimPrefix(strings.TrimSpace(command), deployment.IgnoreErrorPrefix)
		if _, err := cmdutil.ParseCommandString(command); err != nil {
			problems = append(problems, fmt.Sprintf("  - commands[%d]: %v", i, err))
		}
	}

	if c.DeployTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("  - deploy_timeout must be positive, got %s", c.DeployTimeout))
	}

	if c.CommandTimeout < 0 {
		problems = append(problems, fmt.Sprintf("  - command_timeout must not be negative, got %s", c.CommandTimeout))
	}

	if c.DeployLog == "" {
		problems = append(problems, "  - deploy_log must not be empty")
	}

	if c.RateLimitPerMinute < 0 {
		problems = append(problems, fmt.Sprintf("  - rate_limit_per_minute must not be negative, got %d", c.RateLimitPerMinute))
	}

	return problems
}
