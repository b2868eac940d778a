// Package events carries slot and playback notifications to observers.
package events

import (
	"sync"
	"time"

	"github.com/cjeanneret/BoothGo/internal/logic/status"
)

// Kind classifies events.
type Kind string

const (
	KindCaptureStarted   Kind = "capture_started"
	KindStatusChanged    Kind = "status_changed"
	KindConfirmed        Kind = "confirmed"
	KindSlotReset        Kind = "slot_reset"
	KindPlaybackStarted  Kind = "playback_started"
	KindPlaybackFinished Kind = "playback_finished"
)

// Reasons carried by KindSlotReset.
const (
	ReasonTimeout          = "timeout"
	ReasonCaptureFailed    = "capture_failed"
	ReasonProcessingFailed = "processing_failed"
	ReasonArtifactMissing  = "artifact_missing"
	ReasonPromoteFailed    = "promote_failed"
	ReasonForced           = "forced"
)

// Event is a sequenced notification. Slot is -1 for playback events.
type Event struct {
	Seq            int64                 `json:"seq"`
	Timestamp      time.Time             `json:"timestamp"`
	Kind           Kind                  `json:"kind"`
	Slot           int                   `json:"slot"`
	Classification status.Classification `json:"classification"`
	CycleID        string                `json:"cycleId,omitempty"`
	Path           string                `json:"path,omitempty"`
	Side           string                `json:"side,omitempty"`
	Reason         string                `json:"reason,omitempty"`
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(Event) Event
}

type subscriber struct {
	ch    chan Event
	kinds map[Kind]bool // nil = all kinds
}

// Bus stores recent events for incremental reads and fans them out to
// subscribers. The zero value is not usable; call NewBus.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      map[*subscriber]struct{}
}

// NewBus creates a bus keeping the last maxEvents events.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[*subscriber]struct{}),
	}
}

// Publish assigns sequence and timestamp, records the event and delivers it
// to matching subscribers. Slow subscribers miss events rather than block.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for s := range b.subs {
		if s.kinds != nil && !s.kinds[event.Kind] {
			continue
		}
		select {
		case s.ch <- event:
		default:
		}
	}
	return event
}

// Subscribe registers an observer for the given kinds (all kinds when none
// are given). The returned function unregisters it and closes the channel;
// nothing is delivered after it returns. It is safe to call more than once.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, 64)}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			close(s.ch)
			b.mu.Unlock()
		})
	}
	return s.ch, unsub
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}
	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(e Event) Event { return e }
