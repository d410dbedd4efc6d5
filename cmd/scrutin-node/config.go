package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/scrutin-io/scrutin-node/internal"
	"github.com/scrutin-io/scrutin-node/log"
)

const (
	defaultAPIHost         = "0.0.0.0"
	defaultAPIPort         = 9090
	defaultLogLevel        = "info"
	defaultLogOutput       = "stdout"
	defaultDatadir         = ".scrutin" // Will be prefixed with user's home directory
	defaultMonitorInterval = 10 * time.Second
	defaultPendingTTL      = 48 * time.Hour
	defaultCleanupInterval = 10 * time.Minute
)

// Version is the build version, set at build time with -ldflags
var Version = internal.Version

// Config holds the application configuration
type Config struct {
	API     APIConfig
	Vote    VoteConfig
	Log     LogConfig
	Datadir string
}

// APIConfig holds the API-specific configuration
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// VoteConfig holds the commit-reveal flow configuration
type VoteConfig struct {
	PendingTTL      time.Duration `mapstructure:"pendingttl"`
	CleanupInterval time.Duration `mapstructure:"cleanupinterval"`
	MonitorInterval time.Duration `mapstructure:"monitorinterval"`
	// PendingKey is a 32-byte hex key enabling the encrypted durable
	// pending store. Empty keeps pending material in memory only.
	PendingKey string `mapstructure:"pendingkey"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// loadConfig loads configuration from flags, environment variables, and
// defaults.
func loadConfig() (*Config, error) {
	v := viper.New()

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("api.host", defaultAPIHost)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("vote.pendingttl", defaultPendingTTL)
	v.SetDefault("vote.cleanupinterval", defaultCleanupInterval)
	v.SetDefault("vote.monitorinterval", defaultMonitorInterval)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("datadir", defaultDatadirPath)

	flag.StringP("api.host", "a", defaultAPIHost, "API host")
	flag.IntP("api.port", "p", defaultAPIPort, "API port")
	flag.Duration("vote.pendingttl", defaultPendingTTL, "how long pending reveal material is kept (i.e. 48h)")
	flag.Duration("vote.cleanupinterval", defaultCleanupInterval, "how often expired pending material is swept")
	flag.Duration("vote.monitorinterval", defaultMonitorInterval, "how often session deadlines are checked")
	flag.String("vote.pendingkey", "", "32-byte hex key for the encrypted durable pending store (empty: memory only)")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for database and storage files")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "scrutin-node v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: scrutin-node [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dashes (-) and dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, SCRUTIN_API_HOST or SCRUTIN_VOTE_PENDINGTTL\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("SCRUTIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("invalid API port %d", cfg.API.Port)
	}
	switch cfg.Log.Level {
	case log.LogLevelDebug, log.LogLevelInfo, log.LogLevelWarn, log.LogLevelError, "fatal":
	default:
		return fmt.Errorf("invalid log level %q", cfg.Log.Level)
	}
	if cfg.Vote.PendingKey != "" && len(strings.TrimPrefix(cfg.Vote.PendingKey, "0x")) != 64 {
		return fmt.Errorf("pending key must be 32 bytes of hex")
	}
	return nil
}
