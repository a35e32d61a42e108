package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nolanmak/ThesisApp-sub002/internal/codec"
	"github.com/nolanmak/ThesisApp-sub002/internal/registry"
)

// ErrUnknownMessage is returned by write-through operations targeting a
// message absent from the baseline.
var ErrUnknownMessage = errors.New("store: unknown message id")

// MessageBackend is the authoritative REST surface the store reconciles
// against. The store never retries these calls; retry policy belongs to the
// caller.
type MessageBackend interface {
	ListMessages(ctx context.Context) ([]codec.EarningsMessage, error)
	MarkMessageRead(ctx context.Context, id string) error
}

// Filter is the active view predicate.
type Filter func(codec.EarningsMessage) bool

// MessageStoreOptions tune the store.
type MessageStoreOptions struct {
	// TTL gates Refresh(bypass=false): a second refresh inside the window
	// serves the cached baseline without network I/O.
	TTL time.Duration
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// MessageStore holds the deduplicated baseline of earnings messages plus a
// derived filtered view.
//
// The baseline is exclusively owned here: consumers get copies and route all
// mutations through store methods. The view is always recomputed from the
// baseline and the current filter, never mutated independently, so clearing
// a filter restores the exact pre-filter ordering.
type MessageStore struct {
	backend MessageBackend
	logger  zerolog.Logger
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	baseline  []codec.EarningsMessage
	view      []codec.EarningsMessage
	filter    Filter
	fetched   bool
	fetchedAt time.Time
	seen      map[string]struct{}

	updates *registry.Registry[[]codec.EarningsMessage]
}

// NewMessageStore constructs an empty store; the baseline materializes on
// the first successful Refresh.
func NewMessageStore(backend MessageBackend, opts MessageStoreOptions, logger zerolog.Logger) *MessageStore {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := logger.With().Str("component", "message_store").Logger()
	return &MessageStore{
		backend: backend,
		logger:  log,
		ttl:     opts.TTL,
		now:     opts.Now,
		seen:    make(map[string]struct{}),
		updates: registry.New[[]codec.EarningsMessage](log),
	}
}

// SubscribeUpdates registers a handler that receives a snapshot of the view
// after every change.
func (s *MessageStore) SubscribeUpdates(handler func([]codec.EarningsMessage)) func() {
	return s.updates.Subscribe(handler)
}

// Refresh loads the baseline from the backend. With bypass false, a prior
// fetch inside the TTL window satisfies the call with zero network I/O. A
// failed fetch leaves the previous baseline and fetch time untouched
// (stale-but-available) and reports the error.
func (s *MessageStore) Refresh(ctx context.Context, bypass bool) error {
	s.mu.Lock()
	if !bypass && s.fetched && s.now().Sub(s.fetchedAt) < s.ttl {
		s.mu.Unlock()
		s.logger.Debug().Msg("refresh served from cache")
		return nil
	}
	s.mu.Unlock()

	msgs, err := s.backend.ListMessages(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("bulk fetch failed; keeping stale baseline")
		return fmt.Errorf("refresh messages: %w", err)
	}

	sortMessages(msgs)
	deduped := dedupMessages(msgs)

	s.mu.Lock()
	s.baseline = deduped
	s.seen = make(map[string]struct{}, len(deduped))
	for _, m := range deduped {
		s.seen[m.MessageID] = struct{}{}
	}
	s.fetched = true
	s.fetchedAt = s.now()
	s.recomputeViewLocked()
	view := s.viewCopyLocked()
	s.mu.Unlock()

	s.logger.Info().Int("messages", len(deduped)).Bool("bypass", bypass).Msg("baseline refreshed")
	s.updates.Notify(view)
	return nil
}

// Merge upserts one pushed message into the baseline and re-derives the
// view. It never triggers a bulk fetch. Returns true when the baseline
// changed.
func (s *MessageStore) Merge(msg codec.EarningsMessage) bool {
	s.mu.Lock()
	if _, dup := s.seen[msg.MessageID]; dup {
		s.mu.Unlock()
		return false
	}

	// Same slot and link-presence: newest timestamp wins. Differing
	// link-presence keeps both.
	cls := classOf(msg)
	for i, existing := range s.baseline {
		if classOf(existing) != cls {
			continue
		}
		if !msg.Timestamp.After(existing.Timestamp) {
			s.seen[msg.MessageID] = struct{}{}
			s.mu.Unlock()
			return false
		}
		delete(s.seen, existing.MessageID)
		s.baseline = append(s.baseline[:i], s.baseline[i+1:]...)
		break
	}

	s.baseline = append(s.baseline, msg)
	s.seen[msg.MessageID] = struct{}{}
	sortMessages(s.baseline)
	s.fetchedAt = s.now()
	s.recomputeViewLocked()
	view := s.viewCopyLocked()
	s.mu.Unlock()

	s.logger.Debug().Str("message_id", msg.MessageID).Str("ticker", msg.Ticker).Msg("merged pushed message")
	s.updates.Notify(view)
	return true
}

// SetFilter recomputes the view from the untouched baseline.
func (s *MessageStore) SetFilter(filter Filter) {
	s.mu.Lock()
	s.filter = filter
	s.recomputeViewLocked()
	view := s.viewCopyLocked()
	s.mu.Unlock()
	s.updates.Notify(view)
}

// ClearFilter restores View == Baseline.
func (s *MessageStore) ClearFilter() {
	s.SetFilter(nil)
}

// View returns a copy of the filtered projection.
func (s *MessageStore) View() []codec.EarningsMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewCopyLocked()
}

// Baseline returns a copy of the full deduplicated collection.
func (s *MessageStore) Baseline() []codec.EarningsMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]codec.EarningsMessage, len(s.baseline))
	copy(out, s.baseline)
	return out
}

// MarkRead applies an optimistic local update, submits the write to the
// backend, and rolls the baseline back if the backend rejects it. The error
// is the caller's to handle; the store does not retry.
func (s *MessageStore) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("mark read %q: %w", id, ErrUnknownMessage)
	}
	prev := s.baseline[idx].Read
	s.baseline[idx].Read = true
	s.recomputeViewLocked()
	view := s.viewCopyLocked()
	s.mu.Unlock()
	s.updates.Notify(view)

	if err := s.backend.MarkMessageRead(ctx, id); err != nil {
		s.mu.Lock()
		if idx := s.indexOfLocked(id); idx >= 0 {
			s.baseline[idx].Read = prev
		}
		s.recomputeViewLocked()
		view := s.viewCopyLocked()
		s.mu.Unlock()
		s.updates.Notify(view)
		s.logger.Warn().Err(err).Str("message_id", id).Msg("mark read rejected; rolled back")
		return fmt.Errorf("mark read %q: %w", id, err)
	}
	return nil
}

func (s *MessageStore) indexOfLocked(id string) int {
	for i, m := range s.baseline {
		if m.MessageID == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) recomputeViewLocked() {
	if s.filter == nil {
		s.view = s.baseline
		return
	}
	view := make([]codec.EarningsMessage, 0, len(s.baseline))
	for _, m := range s.baseline {
		if s.filter(m) {
			view = append(view, m)
		}
	}
	s.view = view
}

func (s *MessageStore) viewCopyLocked() []codec.EarningsMessage {
	out := make([]codec.EarningsMessage, len(s.view))
	copy(out, s.view)
	return out
}
