package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	lazycord "github.com/lazycord/lazycord/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration and check the stored token against the server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := effectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		rc, err := realtimeConfig(cfg)
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Server:      %s\n", valueOrDefault(cfg.Default.BaseURL, lazycord.DefaultBaseURL+" (default)"))
		fmt.Printf("  Broker:      %s\n", valueOrDefault(rc.URL, lazycord.DefaultRealtimeURL+" (default)"))
		if cfg.Default.CommunityID != "" {
			fmt.Printf("  Community:   %s\n", cfg.Default.CommunityID)
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Token == "" {
			fmt.Println("  Token:       (not set)")
			return nil
		}
		fmt.Printf("  Token:       %s\n", maskToken(cfg.Auth.Token))
		fmt.Printf("  User:        %s\n", valueOrDefault(cfg.Auth.Username, valueOrDefault(cfg.Auth.UserID, "(unknown)")))

		client, _, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")
		count, err := client.UnreadNotificationCount(ctx)
		switch {
		case errors.Is(err, lazycord.ErrUnauthorized):
			fmt.Println("  Token rejected by server. Run 'lazycord login <token>'.")
		case err != nil:
			fmt.Printf("  Error contacting server: %v\n", err)
		default:
			fmt.Printf("  Unread notifications: %d\n", count)
		}
		return nil
	},
}
