package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dacn-admin/supportchat"
	"github.com/spf13/cobra"
)

var (
	inboxSearch string
	inboxLimit  int
	inboxOffset int
	inboxWatch  bool
	inboxJSON   bool
)

func init() {
	inboxCmd.Flags().StringVarP(&inboxSearch, "search", "s", "", "Filter threads by user name or email")
	inboxCmd.Flags().IntVarP(&inboxLimit, "limit", "n", 0, "Maximum number of threads to return")
	inboxCmd.Flags().IntVar(&inboxOffset, "offset", 0, "Number of threads to skip")
	inboxCmd.Flags().BoolVarP(&inboxWatch, "watch", "w", false, "Keep the list open and update it live")
	inboxCmd.Flags().BoolVar(&inboxJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(inboxCmd)
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List support threads, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		if !inboxWatch {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			list, err := client.ListThreads(ctx, &supportchat.ListThreadsOptions{
				Search: inboxSearch,
				Limit:  inboxLimit,
				Offset: inboxOffset,
			})
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			if inboxJSON {
				b, _ := json.MarshalIndent(list, "", "  ")
				fmt.Println(string(b))
				return nil
			}
			threads := make([]supportchat.ThreadSummary, 0, len(list))
			for _, w := range list {
				threads = append(threads, supportchat.NormalizeThread(w))
			}
			fmt.Println(renderThreads(supportchat.SortThreads(threads), time.Now()))
			return nil
		}

		ctx, cancel := signalContext()
		defer cancel()

		inbox := supportchat.OpenInbox(ctx, client, supportchat.InboxOptions{
			Search: inboxSearch,
			Limit:  inboxLimit,
			Offset: inboxOffset,
			OnChange: func(s supportchat.InboxState) {
				if s.Loading {
					return
				}
				fmt.Print("\033[H\033[2J")
				fmt.Println(statusBadge(s.Status))
				fmt.Println()
				if s.Err != nil {
					fmt.Println(renderError(s.Err))
					return
				}
				fmt.Println(renderThreads(s.Threads, time.Now()))
			},
		})
		<-ctx.Done()
		return inbox.Close()
	},
}
