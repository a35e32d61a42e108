package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nolanmak/ThesisApp-sub002/internal/app"
)

var (
	showLimit  int
	showTicker string
	showUnread bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Fetch and display the deduplicated earnings messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:      showLimit,
			Ticker:     showTicker,
			UnreadOnly: showUnread,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of messages to display")
	showCmd.Flags().StringVar(&showTicker, "ticker", "", "Only show messages for this ticker")
	showCmd.Flags().BoolVar(&showUnread, "unread", false, "Only show unread messages")
}
