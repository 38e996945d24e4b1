package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestSetConfigValue(t *testing.T) {
	t.Run("realtime durations validated", func(t *testing.T) {
		cfg := &Config{}
		if err := setConfigValue(cfg, "realtime.reconnect_delay", "2s"); err != nil {
			t.Fatalf("reconnect_delay: %v", err)
		}
		if err := setConfigValue(cfg, "realtime.heartbeat", "soon"); err == nil {
			t.Fatal("expected an invalid duration error")
		}
		if cfg.Realtime.ReconnectDelay != "2s" || cfg.Realtime.Heartbeat != "" {
			t.Fatalf("realtime = %+v", cfg.Realtime)
		}
	})

	t.Run("topics", func(t *testing.T) {
		cfg := &Config{}
		if err := setConfigValue(cfg, "realtime.topics.channel", "/topic/room/{channelId}"); err != nil {
			t.Fatalf("topics.channel: %v", err)
		}
		if err := setConfigValue(cfg, "realtime.topics.send", "/app/room.send"); err != nil {
			t.Fatalf("topics.send: %v", err)
		}
		if cfg.Realtime.Topics.Channel != "/topic/room/{channelId}" || cfg.Realtime.Topics.Send != "/app/room.send" {
			t.Fatalf("topics = %+v", cfg.Realtime.Topics)
		}

		for _, bad := range [][2]string{
			{"realtime.topics.channel", "/topic/room"},
			{"realtime.topics.join", "app/join"},
			{"realtime.topics.typing", "/app/typing"},
		} {
			if err := setConfigValue(cfg, bad[0], bad[1]); err == nil {
				t.Errorf("%s = %s accepted", bad[0], bad[1])
			}
		}
	})

	t.Run("unknown keys", func(t *testing.T) {
		cfg := &Config{}
		for _, key := range []string{"base_url", "default.api_key", "proxy.url"} {
			if err := setConfigValue(cfg, key, "x"); err == nil {
				t.Errorf("%s accepted", key)
			}
		}
	})
}

func TestConfigFileTopics(t *testing.T) {
	t.Setenv("LAZYCORD_HOME", t.TempDir())

	cfg := &Config{}
	cfg.Default.BaseURL = "https://chat.example.com"
	setConfigValue(cfg, "realtime.topics.channel", "/topic/room/{channelId}")
	if err := saveConfig(cfg); err != nil {
		t.Fatalf("saveConfig: %v", err)
	}

	loaded, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	rc, err := realtimeConfig(loaded)
	if err != nil {
		t.Fatalf("realtimeConfig: %v", err)
	}
	if rc.Topics.Channel != "/topic/room/{channelId}" || rc.Topics.ChannelTopic("c1") != "/topic/room/c1" {
		t.Fatalf("topics = %+v", rc.Topics)
	}
	if rc.Topics.Send != "" {
		t.Fatalf("unset topic persisted as %q", rc.Topics.Send)
	}
	if rc.URL != "wss://chat.example.com/ws/chat" {
		t.Fatalf("url = %q", rc.URL)
	}
}

func TestRealtimeConfig(t *testing.T) {
	cfg := &Config{}
	cfg.Realtime.ReconnectDelay = "250ms"
	cfg.Realtime.Heartbeat = "1s"
	cfg.Realtime.SendRate = 2
	rc, err := realtimeConfig(cfg)
	if err != nil {
		t.Fatalf("realtimeConfig: %v", err)
	}
	if rc.ReconnectDelay != 250*time.Millisecond || rc.HeartbeatInterval != time.Second || rc.SendRate != 2 {
		t.Fatalf("rc = %+v", rc)
	}

	cfg.Realtime.Heartbeat = "often"
	if _, err := realtimeConfig(cfg); err == nil {
		t.Fatal("expected an invalid heartbeat error")
	}
}

func TestRenderConfig(t *testing.T) {
	t.Setenv("LAZYCORD_HOME", t.TempDir())

	file := &Config{}
	file.Default.BaseURL = "http://localhost:8080"
	file.Auth.Token = "file-token-0123456789"
	if err := saveConfig(file); err != nil {
		t.Fatalf("saveConfig: %v", err)
	}
	t.Setenv("LAZYCORD_BASE_URL", "https://staging.example.com")
	t.Setenv("LAZYCORD_TOKEN", "env-token-0123456789")

	loaded, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	eff, err := effectiveConfig()
	if err != nil {
		t.Fatalf("effectiveConfig: %v", err)
	}

	var out bytes.Buffer
	if err := renderConfig(&out, loaded, eff, false); err != nil {
		t.Fatalf("renderConfig: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "https://staging.example.com") {
		t.Fatalf("environment override not shown:\n%s", text)
	}
	if strings.Contains(text, "env-token-0123456789") || !strings.Contains(text, maskToken("env-token-0123456789")) {
		t.Fatalf("token not masked:\n%s", text)
	}
	if !strings.Contains(text, "# from environment: default.base_url, auth.token") {
		t.Fatalf("overrides not listed:\n%s", text)
	}

	out.Reset()
	renderConfig(&out, loaded, eff, true)
	if !strings.Contains(out.String(), "env-token-0123456789") {
		t.Fatal("--reveal still masked the token")
	}
}
