package config

import "time"

// Config is the root configuration for the relay daemon.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Server    ServerConfig    `mapstructure:"server"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Triggers  TriggersConfig  `mapstructure:"triggers"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	ExecLog   ExecLogConfig   `mapstructure:"execlog"`
}

// LoggingConfig controls log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ServerConfig controls the HTTP trigger/admin surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// WorkflowsConfig controls workflow persistence.
type WorkflowsConfig struct {
	Dir         string `mapstructure:"dir"`          // local workflow_*.json directory
	PostgresDSN string `mapstructure:"postgres_dsn"` // optional remote store, empty disables
}

// LLMConfig controls the inference engine.
type LLMConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	TextModel       string `mapstructure:"text_model"`
	MultimodalModel string `mapstructure:"multimodal_model"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// GmailConfig holds the mail credentials. An empty token disables the Gmail
// source and destination.
type GmailConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"` // override for tests
}

// TelegramConfig holds the bot credentials for the Telegram destination.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	BaseURL  string `mapstructure:"base_url"` // override for tests, default api.telegram.org
}

// TriggersConfig controls the three trigger sources.
type TriggersConfig struct {
	DebounceMs      int               `mapstructure:"debounce_ms"`
	PackageSources  map[string]string `mapstructure:"package_sources"` // notification package -> source
	PhotoDir        string            `mapstructure:"photo_dir"`       // watched photo directory, empty disables
	DecisionTimeout time.Duration     `mapstructure:"decision_timeout"`
}

// SchedulerConfig controls optional periodic recovery jobs.
type SchedulerConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	GeofenceCron  string  `mapstructure:"geofence_cron"` // periodic evaluate-now
	PhotoCron     string  `mapstructure:"photo_cron"`    // periodic photo sweep
	FixedLatitude float64 `mapstructure:"fixed_latitude"`
	FixedLongitud float64 `mapstructure:"fixed_longitude"`
}

// ExecLogConfig controls the best-effort audit trail.
type ExecLogConfig struct {
	Path        string `mapstructure:"path"`         // JSONL file, empty disables
	PostgresDSN string `mapstructure:"postgres_dsn"` // optional, empty disables
}

// DebounceWindow returns the notification debounce window.
func (c TriggersConfig) DebounceWindow() time.Duration {
	if c.DebounceMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Timeout returns the configured LLM call timeout.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
