package cli

import (
	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <message-id>",
	Short: "Mark an earnings message as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().MarkRead(cmd.Context(), args[0])
	},
}
