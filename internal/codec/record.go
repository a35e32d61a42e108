package codec

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates the two notification domains carried by the feed.
type Kind string

const (
	KindEarningsMessage   Kind = "earnings_message"
	KindAudioNotification Kind = "audio_notification"
)

// Record is the canonical post-codec shape handed to subscribers. Exactly
// one of Message/Audio is non-nil, matching Kind.
type Record struct {
	Kind       Kind
	ID         string
	ReceivedAt time.Time
	Message    *EarningsMessage
	Audio      *AudioNotification
}

// Slot identifies the recurring earnings event a message describes. Two
// messages in the same slot may still be distinct facts (see store dedup).
type Slot struct {
	Ticker  string
	Quarter int
	Year    int
}

// EarningsMessage is a normalized domain message.
type EarningsMessage struct {
	MessageID       string          `json:"message_id"`
	Ticker          string          `json:"ticker"`
	Quarter         int             `json:"quarter"`
	Year            int             `json:"year"`
	Timestamp       time.Time       `json:"timestamp"`
	Link            string          `json:"link,omitempty"`
	Content         string          `json:"content,omitempty"`
	Source          string          `json:"source,omitempty"`
	Read            bool            `json:"read"`
	EPSEstimate     decimal.Decimal `json:"eps_estimate"`
	EPSActual       decimal.Decimal `json:"eps_actual"`
	RevenueEstimate decimal.Decimal `json:"revenue_estimate"`
}

// HasLink reports whether the message carries an external link. Link-bearing
// and link-free messages for the same slot are different logical facts.
func (m EarningsMessage) HasLink() bool {
	return m.Link != ""
}

// Slot returns the logical slot identity of the message.
func (m EarningsMessage) Slot() Slot {
	return Slot{Ticker: m.Ticker, Quarter: m.Quarter, Year: m.Year}
}

// AudioNotification describes a pushed audio asset (e.g. an earnings call
// recording landing in object storage).
type AudioNotification struct {
	Key         string            `json:"key"`
	URL         string            `json:"url,omitempty"`
	Bucket      string            `json:"bucket"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Ticker      string            `json:"ticker,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}
