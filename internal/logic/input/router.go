// Package input turns button presses into orchestrator signals.
package input

import (
	"context"
	"errors"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/hw/button"
	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/cjeanneret/BoothGo/internal/logic/slot"
	"github.com/cjeanneret/BoothGo/internal/logic/status"
)

// Booth is the part of the orchestrator the router drives.
type Booth interface {
	Len() int
	Snapshot(index int) (slot.Snapshot, error)
	TriggerCapture(index int) error
	AdvanceClassification(index int, d status.Direction) error
	RequestConfirm(index int) error
}

// Router maps presses to signals:
//   - next/prev on a Ready slot start a capture, otherwise they step the
//     classification forward/backward;
//   - confirm-left confirms every even slot, confirm-right every odd slot.
type Router struct {
	booth Booth
}

// NewRouter creates a router for booth.
func NewRouter(booth Booth) *Router {
	return &Router{booth: booth}
}

// Handle applies one press. Signals that do not apply are dropped.
func (r *Router) Handle(p button.Press) {
	switch p.Action {
	case button.Next, button.Prev:
		r.step(p.Slot, p.Action)
	case button.ConfirmLeft:
		r.confirmParity(0)
	case button.ConfirmRight:
		r.confirmParity(1)
	default:
		debug.Warn("Input: unhandled action %s on pin %d", p.Action, p.Pin)
	}
}

func (r *Router) step(index int, a button.Action) {
	snap, err := r.booth.Snapshot(index)
	if err != nil {
		debug.Warn("Input: %v", err)
		return
	}
	if snap.State == slot.Ready {
		r.report(r.booth.TriggerCapture(index))
		return
	}
	d := status.Forward
	if a == button.Prev {
		d = status.Backward
	}
	r.report(r.booth.AdvanceClassification(index, d))
}

func (r *Router) confirmParity(parity int) {
	for i := parity; i < r.booth.Len(); i += 2 {
		snap, err := r.booth.Snapshot(i)
		if err != nil || snap.State == slot.Ready {
			continue
		}
		r.report(r.booth.RequestConfirm(i))
	}
}

func (r *Router) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, capture.ErrIgnored), errors.Is(err, capture.ErrNotReady):
		debug.Trace("Input: %v", err)
	default:
		debug.Error("input", err)
	}
}

// Run handles presses from in until ctx ends or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan button.Press) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-in:
			if !ok {
				return
			}
			r.Handle(p)
		}
	}
}
