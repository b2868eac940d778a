// Package capture coordinates the fixed set of device slots: it dispatches
// capture requests to the frame source and routes user signals to the slot
// they target.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/events"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/imaging"
	"github.com/cjeanneret/BoothGo/internal/logic/slot"
	"github.com/cjeanneret/BoothGo/internal/logic/status"
)

// MaxSlots is the number of device lanes the booth supports.
const MaxSlots = 5

var (
	// ErrUnknownSlot is returned for an index outside 0..Len()-1.
	ErrUnknownSlot = errors.New("unknown slot")
	// ErrNotReady is returned by TriggerCapture when the slot is busy.
	ErrNotReady = errors.New("slot not ready")
	// ErrIgnored is returned when a signal does not apply to the slot's
	// current state.
	ErrIgnored = errors.New("signal ignored in current state")
)

// Config describes the slots to create.
type Config struct {
	Slots            int
	Order            status.Order
	Default          status.Classification
	SelectionTimeout time.Duration
	Layout           imaging.Layout
	ArchiveRaw       bool // keep an unmodified copy of every capture
}

// Deps holds the collaborators shared by all slots. Frames and Player are
// required.
type Deps struct {
	Frames    camera.FrameSource
	Processor slot.Processor
	Player    slot.Player
	Events    events.Publisher
	AfterFunc slot.AfterFunc
	Now       func() time.Time
}

// Orchestrator owns the slots. Signals for different slots never wait on
// each other; signals for one slot are applied in arrival order.
type Orchestrator struct {
	cfg    Config
	frames camera.FrameSource
	now    func() time.Time
	slots  []*slot.Machine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New creates the slots and starts them. They run until Close is called or
// ctx is cancelled.
func New(ctx context.Context, cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.Slots < 1 || cfg.Slots > MaxSlots {
		return nil, fmt.Errorf("slots must be 1..%d, got %d", MaxSlots, cfg.Slots)
	}
	if deps.Frames == nil {
		return nil, errors.New("frame source is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	runCtx, cancel := context.WithCancel(ctx)
	o := &Orchestrator{
		cfg:    cfg,
		frames: deps.Frames,
		now:    deps.Now,
		ctx:    runCtx,
		cancel: cancel,
	}

	for i := 0; i < cfg.Slots; i++ {
		m, err := slot.New(slot.Config{
			Index:            i,
			Order:            cfg.Order,
			Default:          cfg.Default,
			SelectionTimeout: cfg.SelectionTimeout,
			Layout:           cfg.Layout,
		}, slot.Deps{
			Processor: deps.Processor,
			Player:    deps.Player,
			Events:    deps.Events,
			AfterFunc: deps.AfterFunc,
		})
		if err != nil {
			cancel()
			o.wg.Wait()
			return nil, err
		}
		o.slots = append(o.slots, m)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			_ = m.Run(runCtx)
		}()
	}

	debug.Info("Orchestrator: %d slots running", cfg.Slots)
	return o, nil
}

// Len returns the number of slots.
func (o *Orchestrator) Len() int {
	return len(o.slots)
}

func (o *Orchestrator) slot(index int) (*slot.Machine, error) {
	if index < 0 || index >= len(o.slots) {
		return nil, fmt.Errorf("slot %d: %w", index, ErrUnknownSlot)
	}
	return o.slots[index], nil
}

// IsReady reports whether slot index is Ready. Unknown slots are never
// ready.
func (o *Orchestrator) IsReady(index int) bool {
	m, err := o.slot(index)
	if err != nil {
		return false
	}
	return m.IsReady()
}

// TriggerCapture starts a capture cycle on a Ready slot and returns at once;
// the frame is acquired in the background.
func (o *Orchestrator) TriggerCapture(index int) error {
	m, err := o.slot(index)
	if err != nil {
		return err
	}
	ticket, ok := m.CaptureStarted(o.cfg.Default)
	if !ok {
		debug.Verbose("Orchestrator: capture on slot %d ignored, not ready", index)
		return fmt.Errorf("slot %d: %w", index, ErrNotReady)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("slot %d: %w", index, ErrNotReady)
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.acquire(m, ticket)
	}()
	return nil
}

func (o *Orchestrator) acquire(m *slot.Machine, ticket slot.Ticket) {
	index := ticket.Slot()
	img, err := o.frames.AcquireFrame(o.ctx, index)
	if err != nil {
		m.CaptureFinishedExternally(ticket, err)
		return
	}

	ts := o.now().Format(imaging.TimestampLayout)
	if o.cfg.ArchiveRaw {
		raw := o.cfg.Layout.RawPath(imaging.BaseName(index, ts))
		saved := imaging.SaveRaw(img, raw)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := <-saved; err != nil {
				debug.Error(fmt.Sprintf("slot %d raw archive", index), err)
			}
		}()
	}

	if !m.CaptureCompleted(ticket, img, ts) {
		debug.Verbose("Orchestrator: frame for slot %d arrived after reset, dropped", index)
	}
}

// AdvanceClassification steps the classification of a SelectingStatus slot.
func (o *Orchestrator) AdvanceClassification(index int, d status.Direction) error {
	m, err := o.slot(index)
	if err != nil {
		return err
	}
	if !m.AdvanceClassification(d) {
		return fmt.Errorf("slot %d advance: %w", index, ErrIgnored)
	}
	return nil
}

// RequestConfirm confirms the slot's capture, waiting for background
// processing inside the slot when needed.
func (o *Orchestrator) RequestConfirm(index int) error {
	m, err := o.slot(index)
	if err != nil {
		return err
	}
	if !m.RequestConfirm() {
		return fmt.Errorf("slot %d confirm: %w", index, ErrIgnored)
	}
	return nil
}

// ForceReset returns slot index to Ready regardless of its state.
func (o *Orchestrator) ForceReset(index int) error {
	m, err := o.slot(index)
	if err != nil {
		return err
	}
	debug.Info("Orchestrator: force reset slot %d", index)
	m.ForceReset()
	return nil
}

// ForceResetAll resets every slot.
func (o *Orchestrator) ForceResetAll() {
	debug.Info("Orchestrator: force reset all slots")
	for _, m := range o.slots {
		m.ForceReset()
	}
}

// Snapshot returns the fields of one slot.
func (o *Orchestrator) Snapshot(index int) (slot.Snapshot, error) {
	m, err := o.slot(index)
	if err != nil {
		return slot.Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// Snapshots returns the fields of every slot in index order.
func (o *Orchestrator) Snapshots() []slot.Snapshot {
	out := make([]slot.Snapshot, len(o.slots))
	for i, m := range o.slots {
		out[i] = m.Snapshot()
	}
	return out
}

// Close stops the slots, cancels acquisitions and waits for them.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
	debug.Verbose("Orchestrator: closed")
}
