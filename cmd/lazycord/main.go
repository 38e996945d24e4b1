package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	lazycord "github.com/lazycord/lazycord/sdk/golang"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.lazycord/config.toml.
type Config struct {
	Default  ConfigDefault  `toml:"default"`
	Auth     ConfigAuth     `toml:"auth"`
	Realtime ConfigRealtime `toml:"realtime"`
}

// ConfigDefault holds general client settings.
type ConfigDefault struct {
	BaseURL     string `toml:"base_url"`
	CommunityID string `toml:"community_id"`
	LogLevel    string `toml:"log_level"`
}

// ConfigAuth holds the bearer credential handed to the realtime core.
type ConfigAuth struct {
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
}

// ConfigRealtime overrides broker settings. Durations use Go syntax ("5s").
// Empty [realtime.topics] entries fall back to the backend's defaults.
type ConfigRealtime struct {
	URL            string          `toml:"url"`
	ReconnectDelay string          `toml:"reconnect_delay"`
	Heartbeat      string          `toml:"heartbeat"`
	SendRate       float64         `toml:"send_rate"`
	SendBurst      int             `toml:"send_burst"`
	Topics         lazycord.Topics `toml:"topics"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.lazycord (or $LAZYCORD_HOME), creating it if needed.
func configDir() (string, error) {
	dir := os.Getenv("LAZYCORD_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".lazycord")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	return cfg, nil
}

// effectiveConfig is loadConfig with LAZYCORD_* environment overrides
// applied. It is never written back.
func effectiveConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LAZYCORD_BASE_URL"); v != "" {
		cfg.Default.BaseURL = v
	}
	if v := os.Getenv("LAZYCORD_COMMUNITY_ID"); v != "" {
		cfg.Default.CommunityID = v
	}
	if v := os.Getenv("LAZYCORD_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("LAZYCORD_USER_ID"); v != "" {
		cfg.Auth.UserID = v
	}
	if v := os.Getenv("LAZYCORD_WS_URL"); v != "" {
		cfg.Realtime.URL = v
	}
	if v := os.Getenv("LAZYCORD_LOG_LEVEL"); v != "" {
		cfg.Default.LogLevel = v
	}
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "community_id":
			cfg.Default.CommunityID = value
		case "log_level":
			cfg.Default.LogLevel = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		case "username":
			cfg.Auth.Username = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "realtime":
		if name, ok := strings.CutPrefix(field, "topics."); ok {
			return setTopic(&cfg.Realtime.Topics, name, value)
		}
		switch field {
		case "url":
			cfg.Realtime.URL = value
		case "reconnect_delay":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			cfg.Realtime.ReconnectDelay = value
		case "heartbeat":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			cfg.Realtime.Heartbeat = value
		case "send_rate":
			var rate float64
			if _, err := fmt.Sscanf(value, "%g", &rate); err != nil {
				return fmt.Errorf("invalid rate %q: %w", value, err)
			}
			cfg.Realtime.SendRate = rate
		case "send_burst":
			var burst int
			if _, err := fmt.Sscanf(value, "%d", &burst); err != nil {
				return fmt.Errorf("invalid burst %q: %w", value, err)
			}
			cfg.Realtime.SendBurst = burst
		default:
			return fmt.Errorf("unknown field %q in section [realtime]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth, realtime)", section)
	}
	return nil
}

func setTopic(t *lazycord.Topics, name, value string) error {
	if !strings.HasPrefix(value, "/") {
		return fmt.Errorf("destination %q must start with /", value)
	}
	switch name {
	case "channel":
		if !strings.Contains(value, "{channelId}") {
			return fmt.Errorf("channel topic %q must contain {channelId}", value)
		}
		t.Channel = value
	case "notifications":
		t.Notifications = value
	case "unread_count":
		t.UnreadCount = value
	case "send":
		t.Send = value
	case "join":
		t.Join = value
	case "leave":
		t.Leave = value
	default:
		return fmt.Errorf("unknown field %q in section [realtime.topics]", name)
	}
	return nil
}

// ============================================================================
// Logging
// ============================================================================

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lv = slog.LevelDebug
	case "info":
		lv = slog.LevelInfo
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "lazycord",
	Short: "lazycord chat CLI",
	Long:  "Command-line client for lazycord.\nManage configuration, browse channels and notifications, and chat in real time.",
}

func main() {
	_ = godotenv.Load(".env")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
