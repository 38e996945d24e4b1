package main

import (
	"context"
	"fmt"
	"time"

	lazycord "github.com/lazycord/lazycord/sdk/golang"
	"github.com/spf13/cobra"
)

var (
	channelsPublic bool
	channelsJSON   bool
	historyJSON    bool
)

func init() {
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(historyCmd)

	channelsCmd.Flags().BoolVar(&channelsPublic, "public", false, "List all public channels instead of joined ones")
	channelsCmd.Flags().BoolVar(&channelsJSON, "json", false, "Output raw JSON")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var (
			channels []lazycord.Channel
			err      error
		)
		if channelsPublic {
			channels, err = client.PublicChannels(ctx)
		} else {
			channels, err = client.Channels(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to list channels: %w", err)
		}

		if channelsJSON {
			return printJSON(channels)
		}
		if len(channels) == 0 {
			fmt.Println("No channels.")
			return nil
		}
		for _, ch := range channels {
			fmt.Printf("%-36s  %-8s  %-24s  %3d members  created %s\n",
				ch.ID, ch.Type, ch.Name, ch.MemberCount, ago(ch.CreatedAt))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <channel-id>",
	Short: "Print a channel's recent messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msgs, err := client.ChannelMessages(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}

		if historyJSON {
			return printJSON(msgs)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range msgs {
			fmt.Println(formatMessage(m))
		}
		return nil
	},
}
