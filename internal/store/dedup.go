package store

import (
	"sort"

	"github.com/nolanmak/ThesisApp-sub002/internal/codec"
)

// slotClass is the dedup key: a link-bearing message and a link-free message
// for the same slot are different logical facts (a wire announcement vs a
// generated analysis) and both survive. Within one class, newest wins.
type slotClass struct {
	slot    codec.Slot
	hasLink bool
}

func classOf(m codec.EarningsMessage) slotClass {
	return slotClass{slot: m.Slot(), hasLink: m.HasLink()}
}

// sortMessages orders by timestamp descending, message id as a stable
// tie-break.
func sortMessages(msgs []codec.EarningsMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.After(msgs[j].Timestamp)
		}
		return msgs[i].MessageID < msgs[j].MessageID
	})
}

// dedupMessages keeps at most one message per (slot, link-presence) class
// and drops repeated message ids. Input must already be sorted newest-first
// so the first entry seen per class is the winner.
func dedupMessages(msgs []codec.EarningsMessage) []codec.EarningsMessage {
	out := msgs[:0:0]
	seenIDs := make(map[string]struct{}, len(msgs))
	seenClasses := make(map[slotClass]struct{}, len(msgs))

	for _, m := range msgs {
		if _, dup := seenIDs[m.MessageID]; dup {
			continue
		}
		if _, dup := seenClasses[classOf(m)]; dup {
			continue
		}
		seenIDs[m.MessageID] = struct{}{}
		seenClasses[classOf(m)] = struct{}{}
		out = append(out, m)
	}
	return out
}
