package cli

import (
	"github.com/spf13/cobra"

	"github.com/nolanmak/ThesisApp-sub002/internal/app"
)

var (
	configsTicker string
	configsActive bool
)

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "List company configs or toggle a ticker's active flag",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ConfigsOptions{Ticker: configsTicker}
		if cmd.Flags().Changed("active") {
			opts.SetActive = &configsActive
		}
		return getApp().Configs(cmd.Context(), opts)
	},
}

func init() {
	configsCmd.Flags().StringVar(&configsTicker, "ticker", "", "Ticker to operate on")
	configsCmd.Flags().BoolVar(&configsActive, "active", false, "Set the ticker's active flag")
}
