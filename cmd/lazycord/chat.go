package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	lazycord "github.com/lazycord/lazycord/sdk/golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	chatMetricsAddr string
	chatJoin        bool
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9102)")
	chatCmd.Flags().BoolVar(&chatJoin, "join", false, "Announce joining the channel before chatting")
}

var chatCmd = &cobra.Command{
	Use:   "chat <channel-id>",
	Short: "Chat in a channel in real time",
	Long: "Connect to the broker, follow a channel and your notifications, and send each line read from stdin.\n" +
		"Lines starting with / are commands: /read <id>, /readall, /notifications, /quit.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channelID := args[0]
		client, session, cfg := getClient()
		log := newLogger(cfg.Default.LogLevel)

		rc, err := realtimeConfig(cfg)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		metrics := lazycord.NewMetrics(reg)
		if chatMetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: chatMetricsAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server failed", "error", err)
				}
			}()
			defer srv.Close()
		}

		session.OnAuthFailure(func(err error) {
			fmt.Fprintf(os.Stderr, "Token rejected: %v\nRun 'lazycord login <token>'.\n", err)
		})

		chat := lazycord.NewChat(client, session,
			lazycord.WithLogger(log),
			lazycord.WithRealtimeConfig(rc),
			lazycord.WithMetrics(metrics),
		)

		printed := 0
		chat.Messages().OnChange(func(st lazycord.MessageState) {
			if st.ChannelID != channelID {
				return
			}
			if len(st.Messages) < printed {
				printed = 0
			}
			for _, m := range st.Messages[printed:] {
				fmt.Println(formatMessage(m))
			}
			printed = len(st.Messages)
		})
		seen := make(map[string]bool)
		chat.Notifications().OnChange(func(st lazycord.NotificationState) {
			for _, n := range st.Items {
				if seen[n.ID] {
					continue
				}
				seen[n.ID] = true
				if !n.Read {
					fmt.Printf("** %s: %s (%d unread)\n", n.Title, n.Message, st.Unread)
				}
			}
		})
		chat.Connection().OnStatusChange(func(connected bool) {
			if connected {
				fmt.Fprintln(os.Stderr, "-- online")
			} else {
				fmt.Fprintln(os.Stderr, "-- offline")
			}
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := chat.Start(ctx); err != nil {
			chat.Close()
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer chat.Close()

		if err := chat.RefreshNotifications(ctx); err != nil {
			log.Warn("notification refresh failed", "error", err)
		}
		if err := waitConnected(ctx, chat.Connection()); err != nil {
			return err
		}
		if chatJoin {
			if err := chat.JoinChannel(channelID); err != nil {
				log.Warn("join failed", "error", err)
			}
		}
		if err := chat.SelectChannel(ctx, channelID); err != nil {
			return fmt.Errorf("failed to open channel: %w", err)
		}

		lines := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()

		for {
			select {
			case <-ctx.Done():
				fmt.Fprintln(os.Stderr, "-- disconnecting")
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleLine(ctx, chat, line); quit {
					return nil
				}
			}
		}
	},
}

func handleLine(ctx context.Context, chat *lazycord.Chat, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		switch err := chat.Send(line); {
		case errors.Is(err, lazycord.ErrNotConnected):
			fmt.Fprintln(os.Stderr, "-- offline, message not sent")
		case errors.Is(err, lazycord.ErrRateLimited):
			fmt.Fprintln(os.Stderr, "-- slow down, message not sent")
		case err != nil:
			fmt.Fprintf(os.Stderr, "-- send failed: %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/read":
		if len(fields) != 2 {
			fmt.Fprintln(os.Stderr, "usage: /read <notification-id>")
			return false
		}
		chat.MarkNotificationRead(ctx, fields[1])
	case "/readall":
		chat.MarkAllNotificationsRead(ctx)
	case "/notifications":
		for _, n := range chat.Notifications().Notifications() {
			mark := "*"
			if n.Read {
				mark = " "
			}
			fmt.Printf("%s %s  %s: %s  (%s)\n", mark, n.ID, n.Title, n.Message, ago(n.CreatedAt))
		}
		fmt.Printf("%d unread\n", chat.Notifications().UnreadCount())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", fields[0])
	}
	return false
}

// waitConnected blocks until the first successful connect.
func waitConnected(ctx context.Context, conn *lazycord.ConnectionManager) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !conn.Connected() {
		if conn.State() == lazycord.StateDisconnected {
			return errors.New("not connected")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
