// Package config provides configuration types and loading for drover.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration struct.
// Top-level groups: Paths, Agent, Router, Channels, Scheduler, Dashboard, Audit.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Agent     AgentConfig     `json:"agent"`
	Router    RouterConfig    `json:"router"`
	Channels  ChannelsConfig  `json:"channels"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dashboard DashboardConfig `json:"dashboard"`
	Audit     AuditConfig     `json:"audit"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	// StateDir holds the session registry, reply routes, and invocation log.
	StateDir string `json:"stateDir" envconfig:"STATE_DIR"`
	// ProjectsRoot is where the agent CLI writes per-project transcripts.
	ProjectsRoot string `json:"projectsRoot" envconfig:"PROJECTS_ROOT"`
	// Workspace is the working directory agent invocations run in.
	Workspace string `json:"workspace" envconfig:"WORKSPACE"`
}

// ---------------------------------------------------------------------------
// Agent – external CLI agent behaviour
// ---------------------------------------------------------------------------

// AgentConfig groups settings for the external agent CLI.
type AgentConfig struct {
	Command           string        `json:"command" envconfig:"COMMAND"`
	Model             string        `json:"model" envconfig:"MODEL"`
	FallbackModel     string        `json:"fallbackModel" envconfig:"FALLBACK_MODEL"`
	FallbackAPIKeyEnv string        `json:"fallbackApiKeyEnv" envconfig:"FALLBACK_API_KEY_ENV"`
	Effort            string        `json:"effort" envconfig:"EFFORT"`
	MaxTurns          int           `json:"maxTurns" envconfig:"MAX_TURNS"`
	AllowedTools      []string      `json:"allowedTools"`
	Timeout           time.Duration `json:"timeout" envconfig:"TIMEOUT"`
	// SessionTokenLimit is the rotation threshold for a group's conversation.
	SessionTokenLimit int `json:"sessionTokenLimit" envconfig:"SESSION_TOKEN_LIMIT"`
}

// ---------------------------------------------------------------------------
// Router – chat message routing
// ---------------------------------------------------------------------------

// RouterConfig groups message-routing settings.
type RouterConfig struct {
	DefaultGroup    string `json:"defaultGroup" envconfig:"DEFAULT_GROUP"`
	SecretaryGroup  string `json:"secretaryGroup" envconfig:"SECRETARY_GROUP"`
	ClassifierModel string `json:"classifierModel" envconfig:"CLASSIFIER_MODEL"`
	MaxReplyRoutes  int    `json:"maxReplyRoutes" envconfig:"MAX_REPLY_ROUTES"`
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Slack SlackConfig `json:"slack"`
}

// SlackConfig configures the Slack channel (Socket Mode).
type SlackConfig struct {
	Enabled   bool     `json:"enabled" envconfig:"ENABLED"`
	BotToken  string   `json:"botToken" envconfig:"BOT_TOKEN"`
	AppToken  string   `json:"appToken" envconfig:"APP_TOKEN"`
	AllowFrom []string `json:"allowFrom"`
}

// ---------------------------------------------------------------------------
// Scheduler – cron-based job scheduling
// ---------------------------------------------------------------------------

// SchedulerConfig contains settings for the cron scheduler.
type SchedulerConfig struct {
	Enabled        bool          `json:"enabled" envconfig:"ENABLED"`
	TickInterval   time.Duration `json:"tickInterval" envconfig:"TICK_INTERVAL"`
	MaxConcAgent   int           `json:"maxConcAgent" envconfig:"MAX_CONC_AGENT"`
	MaxConcDefault int           `json:"maxConcDefault" envconfig:"MAX_CONC_DEFAULT"`
	LockPath       string        `json:"lockPath" envconfig:"LOCK_PATH"`
	Jobs           []JobConfig   `json:"jobs"`
}

// JobConfig describes one scheduled invocation. Prompt is the already
// resolved prompt text; drover does not parse job files.
type JobConfig struct {
	Name     string `json:"name"`
	Cron     string `json:"cron"`
	Prompt   string `json:"prompt"`
	Group    string `json:"group,omitempty"`
	Model    string `json:"model,omitempty"`
	Effort   string `json:"effort,omitempty"`
	MaxTurns int    `json:"maxTurns,omitempty"`
	// Stateless jobs never touch the session registry.
	Stateless bool `json:"stateless,omitempty"`
}

// ---------------------------------------------------------------------------
// Dashboard – inspection HTTP surface
// ---------------------------------------------------------------------------

// DashboardConfig contains dashboard server settings.
type DashboardConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Host    string `json:"host" envconfig:"HOST"`
	Port    int    `json:"port" envconfig:"PORT"`
}

// ---------------------------------------------------------------------------
// Audit – Kafka invocation audit stream
// ---------------------------------------------------------------------------

// AuditConfig configures the optional Kafka audit publisher.
type AuditConfig struct {
	KafkaBrokers string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	Topic        string `json:"topic" envconfig:"TOPIC"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Paths: PathsConfig{
			StateDir:     filepath.Join(home, ".drover"),
			ProjectsRoot: filepath.Join(home, ".claude", "projects"),
			Workspace:    home,
		},
		Agent: AgentConfig{
			Command:           "claude",
			Model:             "claude-sonnet-4-5",
			Effort:            "medium",
			MaxTurns:          30,
			Timeout:           10 * time.Minute,
			SessionTokenLimit: 120000,
		},
		Router: RouterConfig{
			DefaultGroup:    "main",
			SecretaryGroup:  "secretary",
			ClassifierModel: "claude-haiku-4-5",
			MaxReplyRoutes:  500,
		},
		Scheduler: SchedulerConfig{
			Enabled:        false,
			TickInterval:   60 * time.Second,
			MaxConcAgent:   3,
			MaxConcDefault: 5,
			LockPath:       filepath.Join(home, ".drover", "scheduler.lock"),
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    18920,
		},
		Audit: AuditConfig{
			Topic: "drover.invocations",
		},
	}
}
