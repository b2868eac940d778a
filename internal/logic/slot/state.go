// Package slot implements the per-device capture lifecycle:
// Ready -> Processing -> SelectingStatus -> (confirm) -> Ready.
//
// Every slot runs on its own goroutine. Signals are queued in arrival
// order and applied one at a time, so no lock guards the slot fields.
// Background mask processing and the selection watchdog never touch the
// fields directly: they post a message carrying the cycle or watchdog
// generation they belong to, and stale messages are dropped.
package slot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cjeanneret/BoothGo/internal/logic/status"
	"github.com/cjeanneret/BoothGo/internal/playback"
)

// State is the lifecycle phase of a slot.
type State int

const (
	Ready State = iota
	// Processing covers both the capture in flight and a confirm that waits
	// for background processing.
	Processing
	SelectingStatus
)

func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Processing:
		return "Processing"
	case SelectingStatus:
		return "SelectingStatus"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrProcessing wraps failures of the background mask step.
var ErrProcessing = errors.New("processing failed")

// Processor masks a capture and writes it to the staged path.
type Processor interface {
	Process(ctx context.Context, img image.Image, stagedPath string) error
}

// Player receives confirmed captures.
type Player interface {
	Play(path string, classification status.Classification, side playback.Side)
}

// Timer is the handle of a scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It matches time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc schedules on the runtime timer.
func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Ticket identifies one capture cycle. It is handed out by CaptureStarted
// and must accompany the completion of that cycle.
type Ticket struct {
	slot  int
	cycle uint64
}

// Slot returns the slot index the ticket belongs to.
func (t Ticket) Slot() int { return t.slot }

// Snapshot is a consistent copy of a slot's fields.
type Snapshot struct {
	Index               int                   `json:"index"`
	State               State                 `json:"state"`
	Classification      status.Classification `json:"classification"`
	BaseFileName        string                `json:"baseFileName,omitempty"`
	CycleID             string                `json:"cycleId,omitempty"`
	ConfirmationPending bool                  `json:"confirmationPending"`
	ProcessingPending   bool                  `json:"processingPending"`
	Side                playback.Side         `json:"side"`
}
