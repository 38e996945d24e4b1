package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	notificationsPage int
	notificationsSize int
	notificationsJSON bool
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsCountCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsCmd.AddCommand(notificationsReadAllCmd)

	notificationsListCmd.Flags().IntVar(&notificationsPage, "page", 0, "Page number")
	notificationsListCmd.Flags().IntVar(&notificationsSize, "size", 20, "Page size")
	notificationsListCmd.Flags().BoolVar(&notificationsJSON, "json", false, "Output raw JSON")
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Notification feed commands",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		items, err := client.Notifications(ctx, notificationsPage, notificationsSize)
		if err != nil {
			return fmt.Errorf("failed to list notifications: %w", err)
		}
		if notificationsJSON {
			return printJSON(items)
		}
		if len(items) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		for _, n := range items {
			mark := "*"
			if n.Read {
				mark = " "
			}
			fmt.Printf("%s %-36s  %-16s  %s: %s  (%s)\n", mark, n.ID, n.Type, n.Title, n.Message, ago(n.CreatedAt))
		}
		return nil
	},
}

var notificationsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show the unread count",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		count, err := client.UnreadNotificationCount(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch count: %w", err)
		}
		fmt.Println(count)
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark one notification read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.MarkNotificationRead(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to mark read: %w", err)
		}
		fmt.Println("Marked read.")
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification read",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.MarkAllNotificationsRead(ctx); err != nil {
			return fmt.Errorf("failed to mark all read: %w", err)
		}
		fmt.Println("All notifications marked read.")
		return nil
	},
}
