package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".drover"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("DROVER_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults. A missing or unreadable config
// file is not an error; drover starts on defaults and self-heals.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Override with environment variables for each group.
	envconfig.Process("DROVER_PATHS", &cfg.Paths)
	envconfig.Process("DROVER_AGENT", &cfg.Agent)
	envconfig.Process("DROVER_ROUTER", &cfg.Router)
	envconfig.Process("DROVER_CHANNELS_SLACK", &cfg.Channels.Slack)
	envconfig.Process("DROVER_SCHEDULER", &cfg.Scheduler)
	envconfig.Process("DROVER_DASHBOARD", &cfg.Dashboard)
	envconfig.Process("DROVER_AUDIT", &cfg.Audit)

	// Fallback for Slack tokens from their conventional env names.
	if cfg.Channels.Slack.BotToken == "" {
		cfg.Channels.Slack.BotToken = strings.TrimSpace(os.Getenv("SLACK_BOT_TOKEN"))
	}
	if cfg.Channels.Slack.AppToken == "" {
		cfg.Channels.Slack.AppToken = strings.TrimSpace(os.Getenv("SLACK_APP_TOKEN"))
	}

	// Expand ~ in paths.
	expandHome := func(p *string) {
		if strings.HasPrefix(*p, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				*p = filepath.Join(home, (*p)[1:])
			}
		}
	}
	expandHome(&cfg.Paths.StateDir)
	expandHome(&cfg.Paths.ProjectsRoot)
	expandHome(&cfg.Paths.Workspace)

	if cfg.Agent.SessionTokenLimit <= 0 {
		cfg.Agent.SessionTokenLimit = DefaultConfig().Agent.SessionTokenLimit
	}
	if cfg.Router.MaxReplyRoutes <= 0 {
		cfg.Router.MaxReplyRoutes = DefaultConfig().Router.MaxReplyRoutes
	}
	if cfg.Router.DefaultGroup == "" {
		cfg.Router.DefaultGroup = DefaultConfig().Router.DefaultGroup
	}
	if cfg.Router.SecretaryGroup == "" {
		cfg.Router.SecretaryGroup = DefaultConfig().Router.SecretaryGroup
	}

	return cfg, nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
