package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dacn-admin/supportchat"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	threadWatch bool
	threadJSON  bool
	sendJSON    bool
)

func init() {
	threadCmd.Flags().BoolVarP(&threadWatch, "watch", "w", false, "Keep the thread open and print new messages")
	threadCmd.Flags().BoolVar(&threadJSON, "json", false, "Output raw JSON")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")

	rootCmd.AddCommand(threadCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(readCmd)
}

// ============================================================================
// thread
// ============================================================================

var threadCmd = &cobra.Command{
	Use:   "thread <user-id>",
	Short: "Show a user's conversation",
	Long:  "Show a user's conversation and mark it read.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		userID := args[0]

		if !threadWatch {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			w, err := client.GetThread(ctx, userID)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			if threadJSON {
				b, _ := json.MarshalIndent(w, "", "  ")
				fmt.Println(string(b))
			} else {
				thread := supportchat.NormalizeThread(*w)
				fmt.Println(renderThreadHeader(&thread, userID, supportchat.StatusDisconnected))
				fmt.Println()
				fmt.Println(renderMessages(thread.Messages, &thread))
			}
			if err := client.MarkRead(ctx, userID); err != nil {
				logger.Warn("mark_read_failed", zap.String("user_id", userID), zap.Error(err))
			}
			return nil
		}

		ctx, cancel := signalContext()
		defer cancel()

		printed := map[string]bool{}
		var headerShown bool
		thread := supportchat.OpenThread(ctx, client, userID, supportchat.ThreadOptions{
			OnChange: func(s supportchat.ThreadState) {
				if s.Err != nil && !headerShown {
					fmt.Println(renderError(s.Err))
					return
				}
				if s.Summary == nil {
					return
				}
				if !headerShown {
					fmt.Println(renderThreadHeader(s.Summary, userID, s.Status))
					fmt.Println()
					headerShown = true
				}
				var fresh []supportchat.Message
				for _, m := range s.Messages {
					if !printed[m.ID] {
						printed[m.ID] = true
						fresh = append(fresh, m)
					}
				}
				if len(fresh) > 0 {
					fmt.Println(renderMessages(fresh, s.Summary))
				}
			},
		})
		<-ctx.Done()
		return thread.Close()
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <user-id> <message...>",
	Short: "Reply to a user as admin",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		userID := args[0]
		content := strings.TrimSpace(strings.Join(args[1:], " "))
		if content == "" {
			return supportchat.ErrEmptyMessage
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.SendMessage(ctx, userID, content)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if err := client.MarkRead(ctx, userID); err != nil {
			logger.Warn("mark_read_failed", zap.String("user_id", userID), zap.Error(err))
		}

		if sendJSON {
			b, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		if result.Message != nil {
			fmt.Printf("Message sent (id: %s)\n", result.Message.ID)
		} else {
			fmt.Println("Message sent.")
		}
		return nil
	},
}

// ============================================================================
// read
// ============================================================================

var readCmd = &cobra.Command{
	Use:   "read <user-id>",
	Short: "Mark a user's conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.MarkRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Marked as read.")
		return nil
	},
}
