package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrUnrecognized marks a well-formed frame that matches neither domain
// schema. Callers log and drop; the connection is unaffected.
var ErrUnrecognized = errors.New("codec: unrecognized frame")

const defaultAudioContentType = "audio/mpeg"

// Decoder normalizes raw push frames into canonical Records.
//
// Frames without a server-assigned id get a synthesized one built from the
// domain, a per-process session id, and a monotonic counter. The session id
// keeps ids synthesized after a restart from colliding with ids synthesized
// before it.
type Decoder struct {
	logger  zerolog.Logger
	session string
	seq     atomic.Uint64
}

// NewDecoder constructs a decoder with a fresh session id.
func NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{
		logger:  logger.With().Str("component", "codec").Logger(),
		session: uuid.NewString(),
	}
}

// frame is the superset of fields probed during recognition. Asset locators
// may sit top-level or nested under "data" depending on the producer.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`

	ID          string            `json:"id"`
	Key         string            `json:"key"`
	URL         string            `json:"url"`
	Bucket      string            `json:"bucket"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Metadata    map[string]string `json:"metadata"`

	MessageID       string          `json:"message_id"`
	Ticker          string          `json:"ticker"`
	Quarter         int             `json:"quarter"`
	Year            int             `json:"year"`
	Timestamp       string          `json:"timestamp"`
	Link            *string         `json:"link"`
	Content         *string         `json:"content"`
	Source          *string         `json:"source"`
	Read            bool            `json:"read"`
	EPSEstimate     decimal.Decimal `json:"eps_estimate"`
	EPSActual       decimal.Decimal `json:"eps_actual"`
	RevenueEstimate decimal.Decimal `json:"revenue_estimate"`
}

func (f *frame) hasAssetLocator() bool {
	return f.Key != "" || f.URL != ""
}

// Decode normalizes one raw inbound frame. A malformed frame returns a JSON
// error; a well-formed frame matching neither schema returns ErrUnrecognized.
func (d *Decoder) Decode(raw []byte) (Record, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Record{}, fmt.Errorf("decode frame: %w", err)
	}

	// Asset recognition wins over any explicit type tag: producers have
	// shipped audio notifications both bare and wrapped in {type, data}.
	if f.hasAssetLocator() {
		return d.audioRecord(f), nil
	}
	if len(f.Data) > 0 {
		var nested frame
		if err := json.Unmarshal(f.Data, &nested); err == nil && nested.hasAssetLocator() {
			return d.audioRecord(nested), nil
		}
	}

	if msg, ok := d.messageFrom(f); ok {
		id := msg.MessageID
		if id == "" {
			id = d.synthesize("message")
			msg.MessageID = id
		}
		return Record{
			Kind:       KindEarningsMessage,
			ID:         id,
			ReceivedAt: time.Now().UTC(),
			Message:    &msg,
		}, nil
	}

	return Record{}, ErrUnrecognized
}

func (d *Decoder) audioRecord(f frame) Record {
	audio := AudioNotification{
		Key:         f.Key,
		URL:         f.URL,
		Bucket:      f.Bucket,
		ContentType: f.ContentType,
		Size:        f.Size,
		Ticker:      f.Ticker,
		Metadata:    f.Metadata,
	}
	// Best-effort normalize: absent optional fields get deterministic
	// defaults instead of failing the frame.
	if audio.ContentType == "" {
		audio.ContentType = defaultAudioContentType
	}
	if audio.Metadata == nil {
		audio.Metadata = map[string]string{}
	}
	if audio.Ticker == "" && audio.Key != "" {
		audio.Ticker = tickerFromKey(audio.Key)
	}

	id := f.ID
	if id == "" {
		id = d.synthesize("audio")
	}

	return Record{
		Kind:       KindAudioNotification,
		ID:         id,
		ReceivedAt: time.Now().UTC(),
		Audio:      &audio,
	}
}

func (d *Decoder) messageFrom(f frame) (EarningsMessage, bool) {
	if f.Ticker == "" || f.Year == 0 {
		return EarningsMessage{}, false
	}

	msg := EarningsMessage{
		MessageID:       f.MessageID,
		Ticker:          f.Ticker,
		Quarter:         f.Quarter,
		Year:            f.Year,
		Read:            f.Read,
		EPSEstimate:     f.EPSEstimate,
		EPSActual:       f.EPSActual,
		RevenueEstimate: f.RevenueEstimate,
	}
	if f.Link != nil {
		msg.Link = *f.Link
	}
	if f.Content != nil {
		msg.Content = *f.Content
	}
	if f.Source != nil {
		msg.Source = *f.Source
	}
	msg.Timestamp = parseTimestamp(f.Timestamp, d.logger)

	return msg, true
}

func (d *Decoder) synthesize(domain string) string {
	n := d.seq.Add(1)
	return fmt.Sprintf("%s-%s-%d", domain, d.session, n)
}

// parseTimestamp accepts the ISO-8601 variants seen on the wire. An absent
// or unparseable timestamp falls back to arrival time so recency ordering
// still works.
func parseTimestamp(v string, logger zerolog.Logger) time.Time {
	if v == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts
		}
	}
	logger.Warn().Str("timestamp", v).Msg("unparseable message timestamp; using arrival time")
	return time.Now().UTC()
}

// tickerFromKey extracts a ticker hint from keys shaped like
// "AAPL/2025-q1/call.mp3" or "aapl_2025_q1.mp3".
func tickerFromKey(key string) string {
	base := key
	if i := strings.IndexAny(base, "/_"); i > 0 {
		base = base[:i]
	}
	base = strings.ToUpper(base)
	if len(base) == 0 || len(base) > 6 {
		return ""
	}
	return base
}
