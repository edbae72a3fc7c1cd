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

	"docshook/internal/config"
	"docshook/internal/history"
	"docshook/internal/security"
	"docshook/internal/server"
	"docshook/pkg/fileutil"

	"github.com/spf13/cobra"
)

var (
	configFile    string
	host          string
	port          int
	siteDir       string
	workDir       string
	deployLog     string
	logFile       string
	dbPath        string
	deployTimeout time.Duration
	cmdTimeout    time.Duration
	testMode      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server that serves the static site and receives GitHub webhooks.

Settings come from the built-in defaults, then the YAML config file, then
flags and DOCSHOOK_* environment variables. The webhook secret is read from
DOCSHOOK_WEBHOOK_SECRET (or GITHUB_WEBHOOK_SECRET) only.`,
	RunE: runServe,
}

func init() {
	defaults := config.Default()

	serveCmd.Flags().StringVarP(&configFile, "config", "c", getEnvOrDefault("DOCSHOOK_CONFIG_FILE", ""), "Path to docshook.yaml configuration file")
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("DOCSHOOK_HOST", defaults.Host), "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("DOCSHOOK_PORT", defaults.Port), "Port to listen on")
	serveCmd.Flags().StringVar(&siteDir, "site-dir", getEnvOrDefault("DOCSHOOK_SITE_DIR", defaults.SiteDir), "Static site build directory")
	serveCmd.Flags().StringVar(&workDir, "work-dir", getEnvOrDefault("DOCSHOOK_WORK_DIR", defaults.WorkDir), "Directory the deployment commands run in")
	serveCmd.Flags().StringVar(&deployLog, "deploy-log", getEnvOrDefault("DOCSHOOK_DEPLOY_LOG", defaults.DeployLog), "Path to the deployment log")
	serveCmd.Flags().StringVar(&logFile, "log", getEnvOrDefault("DOCSHOOK_LOG_FILE", defaults.ServerLog), "Path to the server log file")
	serveCmd.Flags().StringVar(&dbPath, "db", getEnvOrDefault("DOCSHOOK_DB_PATH", defaults.DBPath), "Path to SQLite history database (empty disables history)")
	serveCmd.Flags().DurationVar(&deployTimeout, "deploy-timeout", getEnvOrDefaultDuration("DOCSHOOK_DEPLOY_TIMEOUT", defaults.DeployTimeout), "Maximum duration of one deployment")
	serveCmd.Flags().DurationVar(&cmdTimeout, "command-timeout", getEnvOrDefaultDuration("DOCSHOOK_COMMAND_TIMEOUT", defaults.CommandTimeout), "Maximum duration of each command (0 for none)")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("DOCSHOOK_TEST_MODE") == "1", "Enable test mode (no rate limiting, no history)")
}

// serveEnv maps serve flags to the environment variables that set them.
var serveEnv = map[string]string{
	"host":            "DOCSHOOK_HOST",
	"port":            "DOCSHOOK_PORT",
	"site-dir":        "DOCSHOOK_SITE_DIR",
	"work-dir":        "DOCSHOOK_WORK_DIR",
	"deploy-log":      "DOCSHOOK_DEPLOY_LOG",
	"log":             "DOCSHOOK_LOG_FILE",
	"db":              "DOCSHOOK_DB_PATH",
	"deploy-timeout":  "DOCSHOOK_DEPLOY_TIMEOUT",
	"command-timeout": "DOCSHOOK_COMMAND_TIMEOUT",
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, source, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	hasSecret := cfg.LoadSecretFromEnv()

	// Set up logging
	logger, logFileHandle, err := setupLogging(cfg.ServerLog)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting docshook", "version", version, "config", source)

	if problems := cfg.Validate(); len(problems) > 0 {
		logger.Error("Invalid configuration", "problems", problems)
		return fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
	}

	if !hasSecret {
		logger.Warn("No webhook secret configured, push deliveries will be answered with 'Missing secret'",
			"env", config.SecretEnv)
	} else {
		for _, warning := range security.SecretWarnings(cfg.Secret) {
			logger.Warn("Weak webhook secret", "problem", warning)
		}
	}

	if !fileutil.DirExists(cfg.SiteDir) {
		logger.Warn("Site directory does not exist yet, static requests will 404 until the first build", "site_dir", cfg.SiteDir)
	}

	logger.Info("Configuration loaded",
		"webhook_path", cfg.WebhookPath,
		"site_dir", cfg.SiteDir,
		"work_dir", cfg.WorkDir,
		"commands", len(cfg.Commands),
		"deploy_timeout", cfg.DeployTimeout.String(),
		"deploy_log", cfg.DeployLog)

	// Initialize history database
	var hist *history.History
	if !testMode && cfg.DBPath != "" {
		logger.Info("Initializing history database", "db", cfg.DBPath)
		hist, err = history.NewHistory(cfg.DBPath)
		if err != nil {
			logger.Error("Failed to initialize history database", "error", err)
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
		defer hist.Close()
	}

	srv := server.NewServer(cfg, hist, logger, testMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// A queued delivery may legitimately take the whole write budget
	gracePeriod := srv.WriteTimeout()
	logger.Info("Shutting down", "grace_period", gracePeriod.String(), "deploying", srv.Gate.Busy())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// loadConfig reads path, or the first config file found in the default
// locations, over the defaults. It also returns where the settings came from.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		path = fileutil.FindConfigOptional(fileutil.ConfigFileName)
	}
	if path == "" {
		return config.Default(), "defaults", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	return cfg, path, nil
}

// applyServeFlags copies flag values into cfg when the flag was given on the
// command line or through its environment variable.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string) bool {
		return cmd.Flags().Changed(name) || os.Getenv(serveEnv[name]) != ""
	}

	if set("host") {
		cfg.Host = host
	}
	if set("port") {
		cfg.Port = port
	}
	if set("site-dir") {
		cfg.SiteDir = siteDir
	}
	if set("work-dir") {
		cfg.WorkDir = workDir
	}
	if set("deploy-log") {
		cfg.DeployLog = deployLog
	}
	if set("log") {
		cfg.ServerLog = logFile
	}
	if set("db") {
		cfg.DBPath = dbPath
	}
	if set("deploy-timeout") {
		cfg.DeployTimeout = deployTimeout
	}
	if set("command-timeout") {
		cfg.CommandTimeout = cmdTimeout
	}
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	// Create log directory if needed
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, security.PermDirectory); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open log file with secure permissions
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Create multi-writer to log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	// Create JSON handler for structured logging
	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return slog.New(handler), file, nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
