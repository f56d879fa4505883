package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/greenlight-sh/greenlight/pkg/types"
)

// Config is the complete greenlight server configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Platform PlatformConfig `mapstructure:"platform"`
	Rollout  RolloutConfig  `mapstructure:"rollout"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the API server and persistence
type ServerConfig struct {
	// ListenAddr is the address the REST API binds to
	ListenAddr string `mapstructure:"listen_addr"`
	// DataDir is where the bbolt database lives
	DataDir string `mapstructure:"data_dir"`
}

// PlatformConfig controls how greenlight talks to the cluster
type PlatformConfig struct {
	// Kubectl is the binary used to drive the platform
	Kubectl string `mapstructure:"kubectl"`
	// Kubeconfig is passed as --kubeconfig when set
	Kubeconfig string `mapstructure:"kubeconfig"`
	// Namespace is the default namespace for services that omit one
	Namespace string `mapstructure:"namespace"`
	// CommandTimeout bounds each kubectl invocation
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// RolloutConfig holds the default rollout timings, overridable per
// service in its manifest
type RolloutConfig struct {
	ReadinessTimeout  time.Duration `mapstructure:"readiness_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	DrainGrace        time.Duration `mapstructure:"drain_grace"`
	ObservationWindow time.Duration `mapstructure:"observation_window"`
	CheckInterval     time.Duration `mapstructure:"check_interval"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	ApprovalTimeout   time.Duration `mapstructure:"approval_timeout"`
	HistoryRetention  int           `mapstructure:"history_retention"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error
	Level string `mapstructure:"level"`
	// Pretty enables human-readable console output instead of JSON
	Pretty bool `mapstructure:"pretty"`
}

// Default returns the built-in configuration
func Default() *Config {
	rollout := types.DefaultRolloutConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			DataDir:    defaultDataDir(),
		},
		Platform: PlatformConfig{
			Kubectl:        "kubectl",
			Namespace:      "default",
			CommandTimeout: 30 * time.Second,
		},
		Rollout: RolloutConfig{
			ReadinessTimeout:  rollout.ReadinessTimeout,
			PollInterval:      rollout.PollInterval,
			DrainGrace:        rollout.DrainGrace,
			ObservationWindow: rollout.ObservationWindow,
			CheckInterval:     rollout.CheckInterval,
			FailureThreshold:  rollout.FailureThreshold,
			ApprovalTimeout:   rollout.ApprovalTimeout,
			HistoryRetention:  rollout.HistoryRetention,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given file (or the default search
// paths when empty), layered under GREENLIGHT_* environment variables
// and the built-in defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GREENLIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// An absent config file on the search path is fine; an
		// explicitly named or broken one is not
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return &cfg, nil
}

// Validate returns a list of problems with the configuration
func (c *Config) Validate() []string {
	var errs []string
	if c.Server.ListenAddr == "" {
		errs = append(errs, "server.listen_addr must not be empty")
	}
	if c.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if c.Rollout.PollInterval <= 0 {
		errs = append(errs, "rollout.poll_interval must be positive")
	}
	if c.Rollout.ReadinessTimeout < c.Rollout.PollInterval {
		errs = append(errs, "rollout.readiness_timeout must be at least the poll interval")
	}
	if c.Rollout.FailureThreshold < 1 {
		errs = append(errs, "rollout.failure_threshold must be at least 1")
	}
	if c.Rollout.HistoryRetention < 0 {
		errs = append(errs, "rollout.history_retention must not be negative")
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not valid", c.Logging.Level))
	}
	return errs
}

// RolloutDefaults converts the configured timings into the form the
// orchestrator consumes
func (c *Config) RolloutDefaults() *types.RolloutConfig {
	return &types.RolloutConfig{
		ReadinessTimeout:  c.Rollout.ReadinessTimeout,
		PollInterval:      c.Rollout.PollInterval,
		DrainGrace:        c.Rollout.DrainGrace,
		ObservationWindow: c.Rollout.ObservationWindow,
		CheckInterval:     c.Rollout.CheckInterval,
		FailureThreshold:  c.Rollout.FailureThreshold,
		ApprovalTimeout:   c.Rollout.ApprovalTimeout,
		HistoryRetention:  c.Rollout.HistoryRetention,
	}
}

func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("server.listen_addr", defaults.Server.ListenAddr)
	v.SetDefault("server.data_dir", defaults.Server.DataDir)

	v.SetDefault("platform.kubectl", defaults.Platform.Kubectl)
	v.SetDefault("platform.kubeconfig", defaults.Platform.Kubeconfig)
	v.SetDefault("platform.namespace", defaults.Platform.Namespace)
	v.SetDefault("platform.command_timeout", defaults.Platform.CommandTimeout)

	v.SetDefault("rollout.readiness_timeout", defaults.Rollout.ReadinessTimeout)
	v.SetDefault("rollout.poll_interval", defaults.Rollout.PollInterval)
	v.SetDefault("rollout.drain_grace", defaults.Rollout.DrainGrace)
	v.SetDefault("rollout.observation_window", defaults.Rollout.ObservationWindow)
	v.SetDefault("rollout.check_interval", defaults.Rollout.CheckInterval)
	v.SetDefault("rollout.failure_threshold", defaults.Rollout.FailureThreshold)
	v.SetDefault("rollout.approval_timeout", defaults.Rollout.ApprovalTimeout)
	v.SetDefault("rollout.history_retention", defaults.Rollout.HistoryRetention)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.pretty", defaults.Logging.Pretty)
}

// ConfigDir returns the directory searched for config.yaml
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "greenlight")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "greenlight")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".greenlight")
}
