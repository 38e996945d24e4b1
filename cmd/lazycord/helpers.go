package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	lazycord "github.com/lazycord/lazycord/sdk/golang"
)

// mustConfig loads the effective config and exits when no credential is stored.
func mustConfig() *Config {
	cfg, err := effectiveConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'lazycord login <token>' first.")
		os.Exit(1)
	}
	return cfg
}

// getClient creates a REST client authenticated with the stored token.
func getClient() (*lazycord.Client, *lazycord.StaticSession, *Config) {
	cfg := mustConfig()
	session := lazycord.NewStaticSession(cfg.Auth.Token, cfg.Auth.UserID)

	var opts []lazycord.ClientOption
	if cfg.Default.CommunityID != "" {
		opts = append(opts, lazycord.WithCommunity(cfg.Default.CommunityID))
	}
	return lazycord.NewClient(cfg.Default.BaseURL, session, opts...), session, cfg
}

// realtimeConfig turns the [realtime] section into a RealtimeConfig.
func realtimeConfig(cfg *Config) (lazycord.RealtimeConfig, error) {
	rc := lazycord.RealtimeConfig{
		URL:       cfg.Realtime.URL,
		SendRate:  cfg.Realtime.SendRate,
		SendBurst: cfg.Realtime.SendBurst,
		Topics:    cfg.Realtime.Topics,
	}
	if rc.URL == "" && cfg.Default.BaseURL != "" {
		rc.URL = lazycord.WebSocketURL(cfg.Default.BaseURL)
	}
	if cfg.Realtime.ReconnectDelay != "" {
		d, err := time.ParseDuration(cfg.Realtime.ReconnectDelay)
		if err != nil {
			return rc, fmt.Errorf("realtime.reconnect_delay: %w", err)
		}
		rc.ReconnectDelay = d
	}
	if cfg.Realtime.Heartbeat != "" {
		d, err := time.ParseDuration(cfg.Realtime.Heartbeat)
		if err != nil {
			return rc, fmt.Errorf("realtime.heartbeat: %w", err)
		}
		rc.HeartbeatInterval = d
	}
	return rc, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// ago renders a timestamp relative to now, or "-" when unset.
func ago(ts lazycord.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return humanize.Time(ts.Time)
}

func formatMessage(m lazycord.ChatMessage) string {
	sender := m.SenderUsername
	if sender == "" {
		sender = m.SenderID
	}
	line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04:05"), sender, m.Content)
	if m.Edited {
		line += " (edited)"
	}
	for _, a := range m.Attachments {
		line += fmt.Sprintf("\n    attachment: %s (%s)", a.OriginalName, humanize.Bytes(uint64(a.Size)))
	}
	if m.AttachmentURL != "" && len(m.Attachments) == 0 {
		line += "\n    attachment: " + m.AttachmentURL
	}
	return line
}

func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:6] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
