// Package config loads sessiond's startup configuration from flags,
// environment variables (prefix SESSIOND_), and an optional YAML file,
// read once and never reloaded, per the service's fail-fast startup
// contract.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully-resolved, validated startup configuration.
type Config struct {
	Token          string
	Port           int
	Workdir        string
	ExecTimeoutSec int
	LogLevel       string
	LogFile        string
}

// Defaults mirror spec.md §6: port 8000, workdir = startup cwd, 30s
// timeout (0 disables).
const (
	DefaultPort        = 8000
	DefaultTimeoutSecs = 30
)

// BindFlags registers the flags cobra commands use to override config
// values, so a caller can wire them into a command's PersistentFlags
// before calling Load.
func BindFlags(fs *pflag.FlagSet) {
	fs.Int("port", DefaultPort, "listen port")
	fs.String("workdir", "", "default session workdir (defaults to the process startup directory)")
	fs.Int("exec-timeout", DefaultTimeoutSecs, "default execution timeout in seconds (0 disables)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-file", "", "optional path to a rotating log file")
	fs.String("token", "", "bearer token clients must present (required)")
}

// Load resolves configuration from v (which should already have had
// AutomaticEnv/SetEnvPrefix/BindPFlag wired by the caller, following the
// same viper setup every cobra command in this repo uses) and validates
// it against the fail-fast rules in spec.md §6/§7.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Token:          v.GetString("token"),
		Port:           v.GetInt("port"),
		Workdir:        v.GetString("workdir"),
		ExecTimeoutSec: v.GetInt("exec-timeout"),
		LogLevel:       v.GetString("log-level"),
		LogFile:        v.GetString("log-file"),
	}

	if cfg.Workdir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: resolve startup cwd: %w", err)
		}
		cfg.Workdir = cwd
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Token == "" {
		return fmt.Errorf("config: SESSIOND_TOKEN (or --token) is required and must be non-empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.ExecTimeoutSec < 0 {
		return fmt.Errorf("config: invalid exec-timeout %d (must be >= 0, 0 disables)", c.ExecTimeoutSec)
	}
	info, err := os.Stat(c.Workdir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("config: workdir %q does not exist or is not a directory", c.Workdir)
	}
	return nil
}
