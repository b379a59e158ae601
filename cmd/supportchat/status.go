package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dacn-admin/supportchat"
	"github.com/spf13/cobra"
)

var statusTimeout time.Duration

func init() {
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "How long to wait for the realtime channel")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connectivity",
	Long:  "Display the current configuration, then check the REST API and the realtime channel.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Println("Configuration:")
		writeSettings(os.Stdout, cfg, os.Getenv)

		if cfg.Auth.Token == "" {
			return nil
		}

		client := getClient()
		fmt.Println()
		fmt.Println("Live status:")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		threads, err := client.ListThreads(ctx, &supportchat.ListThreadsOptions{})
		switch {
		case errors.Is(err, supportchat.ErrUnauthorized):
			fmt.Println("  REST:        token rejected")
		case err != nil:
			fmt.Printf("  REST:        %v\n", err)
		default:
			unread := 0
			for _, t := range threads {
				if t.UnreadByAdmin != nil && *t.UnreadByAdmin > 0 {
					unread++
				}
			}
			fmt.Printf("  REST:        ok (%d threads, %d unread)\n", len(threads), unread)
		}

		fmt.Printf("  Realtime:    %s\n", probeRealtime(client.ChannelConfig(), statusTimeout).Label())
		return nil
	},
}

// probeRealtime opens a channel and reports whether it connects in time.
func probeRealtime(cfg supportchat.ChannelConfig, timeout time.Duration) supportchat.Status {
	cfg.AutoReconnect = false
	connected := make(chan struct{}, 1)
	handlers := supportchat.ChannelHandlers{
		OnStatus: func(s supportchat.Status) {
			if s == supportchat.StatusConnected {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		},
	}

	result := supportchat.StatusDisconnected
	_ = supportchat.WithChannel(context.Background(), cfg, handlers, func(ch *supportchat.Channel) error {
		select {
		case <-connected:
			result = supportchat.StatusConnected
		case <-time.After(timeout):
			result = ch.Status()
		}
		return nil
	})
	return result
}

// maskKey shows the first 6 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:6] + "..." + key[len(key)-4:]
}
