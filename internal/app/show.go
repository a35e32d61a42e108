package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nolanmak/ThesisApp-sub002/internal/codec"
	"github.com/nolanmak/ThesisApp-sub002/internal/store"
)

// Show performs a one-shot fetch and prints the deduplicated message view.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	client := a.newClient()
	messages := store.NewMessageStore(client, store.MessageStoreOptions{
		TTL: a.Config.Cache.MessagesTTL,
	}, a.Logger)

	if opts.Ticker != "" || opts.UnreadOnly {
		ticker := strings.ToUpper(opts.Ticker)
		messages.SetFilter(func(m codec.EarningsMessage) bool {
			if ticker != "" && m.Ticker != ticker {
				return false
			}
			if opts.UnreadOnly && m.Read {
				return false
			}
			return true
		})
	}

	if err := messages.Refresh(ctx, true); err != nil {
		return err
	}

	view := messages.View()
	if opts.Limit > 0 && len(view) > opts.Limit {
		view = view[:opts.Limit]
	}
	if len(view) == 0 {
		fmt.Fprintln(os.Stdout, "no messages found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tTicker\tQuarter\tEPS est\tEPS actual\tRead\tLink")

	for _, msg := range view {
		link := msg.Link
		if link == "" {
			link = "-"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\tQ%d %d\t%s\t%s\t%v\t%s\n",
			msg.Timestamp.UTC().Format(time.RFC3339),
			msg.Ticker,
			msg.Quarter,
			msg.Year,
			msg.EPSEstimate.StringFixed(2),
			msg.EPSActual.StringFixed(2),
			msg.Read,
			sanitizeInline(link),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
