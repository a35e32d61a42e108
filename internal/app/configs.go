package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/nolanmak/ThesisApp-sub002/internal/store"
)

// ConfigsOptions configure the configs command.
type ConfigsOptions struct {
	Ticker    string
	SetActive *bool
}

// Configs lists company configs, or toggles one ticker's active flag when
// SetActive is provided.
func (a *App) Configs(ctx context.Context, opts ConfigsOptions) error {
	cache := store.NewConfigCache(a.newClient(), store.ConfigCacheOptions{
		TTL: a.Config.Cache.ConfigTTL,
	}, a.Logger)

	if opts.SetActive != nil {
		ticker := strings.ToUpper(opts.Ticker)
		if ticker == "" {
			return fmt.Errorf("--ticker is required when setting active")
		}
		if err := cache.UpdateActive(ctx, ticker, *opts.SetActive); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s active=%v\n", ticker, *opts.SetActive)
		return nil
	}

	configs, err := cache.All(ctx)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		fmt.Fprintln(os.Stdout, "no configs found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Ticker\tActive")
	for _, cfg := range configs {
		fmt.Fprintf(writer, "%s\t%v\n", cfg.Ticker, cfg.Active)
	}
	writer.Flush()
	return nil
}
