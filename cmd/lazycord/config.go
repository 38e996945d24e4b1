package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var configReveal bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configShowCmd.Flags().BoolVar(&configReveal, "reveal", false, "Print the token unmasked")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage lazycord configuration",
	Long:  "View or modify the lazycord CLI configuration stored in ~/.lazycord/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration in effect",
	Long: "Print the config file with LAZYCORD_* environment overrides applied.\n" +
		"Overridden keys are listed at the end. The token is masked unless --reveal is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		file, err := loadConfig()
		if err != nil {
			return err
		}
		eff, err := effectiveConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Fprintf(out, "# no config file at %s; run 'lazycord init <base-url>' to create one\n", path)
		}
		return renderConfig(out, file, eff, configReveal)
	},
}

// renderConfig writes eff as TOML and lists the keys whose value differs
// from the file because of the environment.
func renderConfig(w io.Writer, file, eff *Config, reveal bool) error {
	shown := *eff
	if !reveal && shown.Auth.Token != "" {
		shown.Auth.Token = maskToken(shown.Auth.Token)
	}
	data, err := toml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	fmt.Fprint(w, string(data))

	if keys := envOverrides(file, eff); len(keys) > 0 {
		fmt.Fprintf(w, "\n# from environment: %s\n", strings.Join(keys, ", "))
	}
	return nil
}

func envOverrides(file, eff *Config) []string {
	var keys []string
	diff := func(key, fromFile, effective string) {
		if fromFile != effective {
			keys = append(keys, key)
		}
	}
	diff("default.base_url", file.Default.BaseURL, eff.Default.BaseURL)
	diff("default.community_id", file.Default.CommunityID, eff.Default.CommunityID)
	diff("default.log_level", file.Default.LogLevel, eff.Default.LogLevel)
	diff("auth.token", file.Auth.Token, eff.Auth.Token)
	diff("auth.user_id", file.Auth.UserID, eff.Auth.UserID)
	diff("realtime.url", file.Realtime.URL, eff.Realtime.URL)
	return keys
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value using dot notation.\n" +
		"Examples:\n" +
		"  lazycord config set realtime.reconnect_delay 5s\n" +
		"  lazycord config set realtime.topics.channel /topic/room/{channelId}",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		// The file alone, so environment overrides are never persisted.
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if key == "auth.token" {
			value = maskToken(value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}
