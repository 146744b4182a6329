package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig is shared by the anchor daemon and the remote CLI. It is read
// from a YAML file and can be overridden with CORA_* environment variables,
// e.g. CORA_RELAY_URL or CORA_ANCHOR_ID.
type ClientConfig struct {
	Relay  RelayConfig  `mapstructure:"relay"`
	Anchor AnchorConfig `mapstructure:"anchor"`
	Chat   ChatConfig   `mapstructure:"chat"`
	Web    WebConfig    `mapstructure:"web"`
	Log    LogConfig    `mapstructure:"log"`
	Safety SafetyConfig `mapstructure:"safety"`
}

type RelayConfig struct {
	URL          string        `mapstructure:"url"`
	Key          string        `mapstructure:"key"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type AnchorConfig struct {
	ID                  string        `mapstructure:"id"`
	Name                string        `mapstructure:"name"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	ExecutorConcurrency int           `mapstructure:"executor_concurrency"`
	PollLimit           int           `mapstructure:"poll_limit"`
	JournalPath         string        `mapstructure:"journal_path"`
}

type ChatConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BotName      string        `mapstructure:"bot_name"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type WebConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type SafetyConfig struct {
	BlockedCommands []string `mapstructure:"blocked_commands"`
}

// PairURL returns the link a remote opens to claim code.
func (c *ClientConfig) PairURL(code string) string {
	return strings.TrimRight(c.Web.URL, "/") + "/web/pair.html?code=" + code
}

func (c *ClientConfig) Validate() error {
	if c.Relay.PollInterval <= 0 {
		return fmt.Errorf("relay.poll_interval must be positive")
	}
	if c.Anchor.HeartbeatInterval <= 0 {
		return fmt.Errorf("anchor.heartbeat_interval must be positive")
	}
	if c.Anchor.ExecutorConcurrency <= 0 {
		return fmt.Errorf("anchor.executor_concurrency must be positive")
	}
	if c.Anchor.PollLimit <= 0 || c.Anchor.PollLimit > MaxPollLimit {
		return fmt.Errorf("anchor.poll_limit must be between 1 and %d", MaxPollLimit)
	}
	return nil
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("relay.url", "")
	v.SetDefault("relay.key", "")
	v.SetDefault("relay.poll_interval", DefaultAnchorPollInterval)
	v.SetDefault("relay.timeout", DefaultRelayTimeout)

	v.SetDefault("anchor.id", "")
	v.SetDefault("anchor.name", "")
	v.SetDefault("anchor.heartbeat_interval", DefaultHeartbeatInterval)
	v.SetDefault("anchor.executor_concurrency", DefaultExecutorConcurrency)
	v.SetDefault("anchor.poll_limit", DefaultPollLimit)
	v.SetDefault("anchor.journal_path", "data/journal.db")

	v.SetDefault("chat.enabled", true)
	v.SetDefault("chat.bot_name", "Cora")
	v.SetDefault("chat.poll_interval", 3*time.Second)

	v.SetDefault("web.url", "http://localhost:7780")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("safety.blocked_commands", []string{})
}

// LoadClient reads path, or cora.yaml from the working directory or ~/.cora
// when path is empty. A missing default file is not an error.
func LoadClient(path string) (*ClientConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setClientDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("cora")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cora")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Anchor.ID == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "localhost"
		}
		cfg.Anchor.ID = "anchor-" + strings.ToLower(hostname)
	}
	if cfg.Anchor.Name == "" {
		cfg.Anchor.Name = cfg.Anchor.ID
	}

	return &cfg, nil
}
