package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nolanmak/ThesisApp-sub002/internal/alerting"
	"github.com/nolanmak/ThesisApp-sub002/internal/codec"
	"github.com/nolanmak/ThesisApp-sub002/internal/feed"
	"github.com/nolanmak/ThesisApp-sub002/internal/registry"
	"github.com/nolanmak/ThesisApp-sub002/internal/scheduler"
	"github.com/nolanmak/ThesisApp-sub002/internal/store"
)

// Channel is the push-channel surface the service drives. *feed.Manager
// satisfies it; tests substitute fakes.
type Channel interface {
	Enable()
	Disable()
	SubscribeFrames(handler func([]byte)) func()
	SubscribeStatus(handler func(feed.Status)) func()
}

// Deps aggregate the collaborators composed by the application layer.
type Deps struct {
	Messages  Channel
	Audio     Channel
	Store     *store.MessageStore
	Decoder   *codec.Decoder
	Scheduler *scheduler.Scheduler
	Notifier  alerting.Notifier
}

// Service wires the realtime pipeline: channel frames through the codec,
// fan-out to record subscribers, merge into the local store, and a full
// resynchronizing refresh whenever a channel (re)opens.
type Service struct {
	deps    Deps
	logger  zerolog.Logger
	records *registry.Registry[codec.Record]
}

// New constructs the realtime service.
func New(deps Deps, logger zerolog.Logger) *Service {
	log := logger.With().Str("component", "service").Logger()
	return &Service{
		deps:    deps,
		logger:  log,
		records: registry.New[codec.Record](log),
	}
}

// SubscribeRecords registers a consumer of normalized records from both
// notification domains.
func (s *Service) SubscribeRecords(handler func(codec.Record)) func() {
	return s.records.Subscribe(handler)
}

// Run enables the channels and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Messages == nil {
		return errors.New("messages channel not configured")
	}

	unsubFrames := s.deps.Messages.SubscribeFrames(func(raw []byte) { s.handleFrame(ctx, raw) })
	defer unsubFrames()
	unsubStatus := s.deps.Messages.SubscribeStatus(func(st feed.Status) { s.handleStatus(ctx, "messages", st) })
	defer unsubStatus()

	if s.deps.Audio != nil {
		unsub := s.deps.Audio.SubscribeFrames(func(raw []byte) { s.handleFrame(ctx, raw) })
		defer unsub()
		unsubSt := s.deps.Audio.SubscribeStatus(func(st feed.Status) { s.handleStatus(ctx, "audio", st) })
		defer unsubSt()
	}

	s.deps.Messages.Enable()
	defer s.deps.Messages.Disable()
	if s.deps.Audio != nil {
		s.deps.Audio.Enable()
		defer s.deps.Audio.Disable()
	}

	if s.deps.Scheduler != nil {
		return s.deps.Scheduler.Run(ctx, s.periodicRefresh)
	}

	<-ctx.Done()
	return ctx.Err()
}

// handleFrame normalizes one raw frame and dispatches it. Bad frames are
// dropped with a diagnostic; they never disturb the connection or the
// remaining pipeline.
func (s *Service) handleFrame(ctx context.Context, raw []byte) {
	rec, err := s.deps.Decoder.Decode(raw)
	if err != nil {
		if errors.Is(err, codec.ErrUnrecognized) {
			s.logger.Debug().Int("bytes", len(raw)).Msg("unrecognized frame dropped")
		} else {
			s.logger.Warn().Err(err).Msg("malformed frame dropped")
		}
		return
	}

	s.records.Notify(rec)

	if rec.Kind == codec.KindEarningsMessage && s.deps.Store != nil {
		if s.deps.Store.Merge(*rec.Message) {
			s.maybeAlertMessage(ctx, *rec.Message)
		}
	}
}

func (s *Service) handleStatus(ctx context.Context, channel string, st feed.Status) {
	switch {
	case st.Terminal:
		s.logger.Error().Str("channel", channel).Msg("push channel gave up reconnecting")
		s.alert(ctx, alerting.Notification{Kind: alerting.KindFeedDown, Channel: channel, At: time.Now().UTC()})
	case st.Connected && channel == "messages":
		// No ordering holds across a reconnect boundary, so resynchronize
		// with a cache-bypassing bulk fetch.
		go func() {
			if err := s.deps.Store.Refresh(ctx, true); err != nil {
				s.logger.Warn().Err(err).Msg("post-connect resync failed")
			}
		}()
	}
}

func (s *Service) periodicRefresh(ctx context.Context, _ time.Time) error {
	// bypass=false: the TTL gate decides whether network I/O happens.
	return s.deps.Store.Refresh(ctx, false)
}

func (s *Service) maybeAlertMessage(ctx context.Context, msg codec.EarningsMessage) {
	if !msg.HasLink() {
		return
	}
	s.alert(ctx, alerting.Notification{
		Kind:        alerting.KindNewMessage,
		Ticker:      msg.Ticker,
		Quarter:     msg.Quarter,
		Year:        msg.Year,
		Link:        msg.Link,
		EPSEstimate: msg.EPSEstimate,
		EPSActual:   msg.EPSActual,
		At:          msg.Timestamp,
	})
}

// alert dispatches a notification without letting a failing alert sink
// affect the pipeline.
func (s *Service) alert(ctx context.Context, note alerting.Notification) {
	if s.deps.Notifier == nil {
		return
	}
	go func() {
		if err := s.deps.Notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("kind", string(note.Kind)).Msg("failed to dispatch alert")
		}
	}()
}
