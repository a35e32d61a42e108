package app

import (
	"context"
	"fmt"
	"os"

	"github.com/nolanmak/ThesisApp-sub002/internal/store"
)

// MarkRead flags one message as read, write-through to the backend.
func (a *App) MarkRead(ctx context.Context, id string) error {
	client := a.newClient()
	messages := store.NewMessageStore(client, store.MessageStoreOptions{
		TTL: a.Config.Cache.MessagesTTL,
	}, a.Logger)

	if err := messages.Refresh(ctx, true); err != nil {
		return err
	}
	if err := messages.MarkRead(ctx, id); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "message %s marked read\n", id)
	return nil
}
