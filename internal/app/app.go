package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nolanmak/ThesisApp-sub002/internal/alerting"
	"github.com/nolanmak/ThesisApp-sub002/internal/api"
	"github.com/nolanmak/ThesisApp-sub002/internal/codec"
	"github.com/nolanmak/ThesisApp-sub002/internal/config"
	"github.com/nolanmak/ThesisApp-sub002/internal/feed"
	"github.com/nolanmak/ThesisApp-sub002/internal/scheduler"
	"github.com/nolanmak/ThesisApp-sub002/internal/service"
	"github.com/nolanmak/ThesisApp-sub002/internal/store"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() *api.Client {
	return api.NewClient(api.Options{
		BaseURL:   a.Config.API.BaseURL,
		Timeout:   a.Config.API.RequestTimeout,
		UserAgent: a.Config.API.UserAgent,
	}, a.Logger)
}

func (a *App) newChannel(url string) *feed.Manager {
	return feed.NewWebSocketManager(feed.Options{
		URL:                   url,
		MaxReconnectAttempts:  a.Config.Feed.MaxReconnectAttempts,
		BaseDelay:             a.Config.Feed.BaseDelay,
		MaxDelay:              a.Config.Feed.MaxDelay,
		MinConnectionInterval: a.Config.Feed.MinConnectionInterval,
		HandshakeTimeout:      a.Config.Feed.HandshakeTimeout,
		PingInterval:          a.Config.Feed.PingInterval,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// Run executes the long-running realtime feed service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := a.newClient()
	messages := store.NewMessageStore(client, store.MessageStoreOptions{
		TTL: a.Config.Cache.MessagesTTL,
	}, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval: a.Config.Cache.RefreshInterval,
	}, a.Logger)

	deps := service.Deps{
		Messages:  a.newChannel(a.Config.Feed.MessagesURL),
		Store:     messages,
		Decoder:   codec.NewDecoder(a.Logger),
		Scheduler: sched,
		Notifier:  a.newNotifier(),
	}
	if a.Config.Feed.AudioURL != "" {
		deps.Audio = a.newChannel(a.Config.Feed.AudioURL)
	}

	svc := service.New(deps, a.Logger)

	a.Logger.Info().Str("messages_url", a.Config.Feed.MessagesURL).Msg("starting realtime feed service")
	err := svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("realtime feed service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit      int
	Ticker     string
	UnreadOnly bool
}
