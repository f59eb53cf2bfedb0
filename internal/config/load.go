package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional file plus RELAY_* environment
// overrides. When no path is given, a missing config file is not an error;
// defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/relay")
		// Best effort: run on defaults when no file is present.
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("server.addr", ":8085")
	v.SetDefault("workflows.dir", "./workflows")
	v.SetDefault("llm.base_url", "http://localhost:11434/api")
	v.SetDefault("llm.text_model", "gemma3:1b")
	v.SetDefault("llm.multimodal_model", "gemma3:4b")
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("triggers.debounce_ms", 3000)
	v.SetDefault("triggers.decision_timeout", "7s")
	v.SetDefault("triggers.package_sources", map[string]string{
		"com.google.android.gm":  "Gmail",
		"org.telegram.messenger": "Telegram",
	})
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("execlog.path", "./relay-execlog.jsonl")
}
