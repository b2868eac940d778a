package slot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/events"
	"github.com/cjeanneret/BoothGo/internal/imaging"
	"github.com/cjeanneret/BoothGo/internal/logic/status"
	"github.com/cjeanneret/BoothGo/internal/playback"
)

// DefaultSelectionTimeout bounds a SelectingStatus session.
const DefaultSelectionTimeout = 10 * time.Second

// Config holds the per-slot settings.
type Config struct {
	Index            int
	Order            status.Order          // zero value = declaration order
	Default          status.Classification // classification after every reset
	SelectionTimeout time.Duration         // 0 = DefaultSelectionTimeout
	Layout           imaging.Layout
}

// Deps holds the collaborators of a slot. Only Player is required.
type Deps struct {
	Processor  Processor
	Player     Player
	Events     events.Publisher
	AfterFunc  AfterFunc
	NewCycleID func() string
}

type processingHandle struct {
	done bool
	err  error
}

// Machine is the state machine of one device slot.
type Machine struct {
	cfg  Config
	deps Deps

	inbox   chan func()
	stopped chan struct{}
	last    atomic.Pointer[Snapshot]
	work    sync.WaitGroup

	// Fields below are owned by the Run goroutine.
	ctx            context.Context
	state          State
	classification status.Classification
	baseFileName   string
	cycle          uint64
	cycleID        string
	pending        bool
	processing     *processingHandle
	watchdog       Timer
	watchdogGen    uint64
}

// New creates a slot in Ready. Call Run to start it.
func New(cfg Config, deps Deps) (*Machine, error) {
	if deps.Player == nil {
		return nil, fmt.Errorf("slot %d: player is required", cfg.Index)
	}
	if cfg.Order.Len() == 0 {
		cfg.Order = status.DefaultOrder()
	}
	if !cfg.Order.Contains(cfg.Default) {
		return nil, fmt.Errorf("slot %d: default classification %s is not in the order", cfg.Index, cfg.Default)
	}
	if cfg.SelectionTimeout <= 0 {
		cfg.SelectionTimeout = DefaultSelectionTimeout
	}
	if deps.Processor == nil {
		deps.Processor = imaging.NewProcessor()
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if deps.AfterFunc == nil {
		deps.AfterFunc = RealAfterFunc
	}
	if deps.NewCycleID == nil {
		deps.NewCycleID = uuid.NewString
	}

	m := &Machine{
		cfg:            cfg,
		deps:           deps,
		inbox:          make(chan func(), 64),
		stopped:        make(chan struct{}),
		ctx:            context.Background(),
		classification: cfg.Default,
	}
	m.publishSnapshot()
	return m, nil
}

// Index returns the slot index.
func (m *Machine) Index() int {
	return m.cfg.Index
}

// Run applies queued signals until ctx is cancelled. Background processing
// started by this slot receives ctx as well; Run returns once it has ended.
func (m *Machine) Run(ctx context.Context) error {
	defer func() {
		close(m.stopped)
		m.work.Wait()
	}()
	m.ctx = ctx
	debug.Verbose("Slot %d: running", m.cfg.Index)

	for {
		select {
		case <-ctx.Done():
			m.stopWatchdog()
			debug.Verbose("Slot %d: stopped", m.cfg.Index)
			return ctx.Err()
		case fn := <-m.inbox:
			fn()
			m.publishSnapshot()
		}
	}
}

// post queues fn without waiting for it to run. It returns false once the
// slot has stopped.
func (m *Machine) post(fn func()) bool {
	select {
	case m.inbox <- fn:
		return true
	case <-m.stopped:
		return false
	}
}

// call queues fn and waits until it has been applied.
func (m *Machine) call(fn func()) bool {
	done := make(chan struct{})
	if !m.post(func() { fn(); close(done) }) {
		return false
	}
	select {
	case <-done:
		return true
	case <-m.stopped:
		return false
	}
}

// Snapshot returns the current fields. After the slot stopped it returns the
// last state it reached.
func (m *Machine) Snapshot() Snapshot {
	var snap Snapshot
	if m.call(func() { snap = m.snapshot() }) {
		return snap
	}
	return *m.last.Load()
}

// IsReady reports whether the slot accepts a new capture.
func (m *Machine) IsReady() bool {
	return m.Snapshot().State == Ready
}

// CaptureStarted begins a cycle when the slot is Ready. The returned ticket
// must be passed to CaptureCompleted or CaptureFinishedExternally.
func (m *Machine) CaptureStarted(c status.Classification) (Ticket, bool) {
	var t Ticket
	var ok bool
	m.call(func() { t, ok = m.captureStarted(c) })
	return t, ok
}

// CaptureCompleted hands over the acquired frame. The slot moves to
// SelectingStatus at once and masks the frame in the background.
func (m *Machine) CaptureCompleted(t Ticket, img image.Image, timestamp string) bool {
	var ok bool
	m.call(func() { ok = m.captureCompleted(t, img, timestamp) })
	return ok
}

// CaptureFinishedExternally aborts the cycle of t.
func (m *Machine) CaptureFinishedExternally(t Ticket, err error) {
	m.call(func() { m.captureFinishedExternally(t, err) })
}

// AdvanceClassification steps the classification while SelectingStatus.
func (m *Machine) AdvanceClassification(d status.Direction) bool {
	var ok bool
	m.call(func() { ok = m.advance(d) })
	return ok
}

// RequestConfirm confirms the current classification, or marks the confirm
// as pending while background processing is outstanding.
func (m *Machine) RequestConfirm() bool {
	var ok bool
	m.call(func() { ok = m.requestConfirm() })
	return ok
}

// ForceReset returns the slot to Ready from any state.
func (m *Machine) ForceReset() {
	m.call(func() { m.reset(events.ReasonForced) })
}

// --- handlers, run on the slot goroutine ---

func (m *Machine) captureStarted(c status.Classification) (Ticket, bool) {
	if m.state != Ready {
		debug.Verbose("Slot %d: capture ignored in %s", m.cfg.Index, m.state)
		return Ticket{}, false
	}
	if !m.cfg.Order.Contains(c) {
		c = m.cfg.Default
	}
	m.stopWatchdog()
	m.cycle++
	m.cycleID = m.deps.NewCycleID()
	m.classification = c
	m.setState(Processing)
	m.emit(events.KindCaptureStarted, "")
	return Ticket{slot: m.cfg.Index, cycle: m.cycle}, true
}

func (m *Machine) captureCompleted(t Ticket, img image.Image, timestamp string) bool {
	if t.cycle != m.cycle || m.state != Processing || m.baseFileName != "" {
		debug.Trace("Slot %d: completion for cycle %d ignored (current %d, %s)", m.cfg.Index, t.cycle, m.cycle, m.state)
		return false
	}
	m.baseFileName = imaging.BaseName(m.cfg.Index, timestamp)
	m.setState(SelectingStatus)
	m.startWatchdog()
	m.startProcessing(img, m.cfg.Layout.StagedPath(m.baseFileName))
	m.emit(events.KindStatusChanged, "")
	return true
}

func (m *Machine) captureFinishedExternally(t Ticket, err error) {
	if t.cycle != m.cycle || (m.state != Processing && m.state != SelectingStatus) {
		return
	}
	debug.Error(fmt.Sprintf("slot %d capture", m.cfg.Index), err)
	m.reset(events.ReasonCaptureFailed)
}

func (m *Machine) advance(d status.Direction) bool {
	if m.state != SelectingStatus {
		debug.Trace("Slot %d: advance ignored in %s", m.cfg.Index, m.state)
		return false
	}
	m.classification = m.cfg.Order.Step(m.classification, d)
	m.startWatchdog()
	debug.Live("Slot %d: classification %s (%s)", m.cfg.Index, m.classification, d)
	m.emit(events.KindStatusChanged, "")
	return true
}

func (m *Machine) requestConfirm() bool {
	switch m.state {
	case SelectingStatus:
		m.confirm()
		return true
	case Processing:
		// Before the frame arrives there is nothing to confirm yet.
		if m.baseFileName == "" {
			debug.Trace("Slot %d: confirm ignored during acquisition", m.cfg.Index)
			return false
		}
		m.pending = true
		return true
	default:
		debug.Trace("Slot %d: confirm ignored in %s", m.cfg.Index, m.state)
		return false
	}
}

// confirm runs the confirm procedure. While processing is outstanding it
// parks the slot in Processing and resumes from processingFinished.
func (m *Machine) confirm() {
	m.stopWatchdog()

	if m.processing != nil && !m.processing.done {
		m.pending = true
		m.setState(Processing)
		debug.Live("Slot %d: confirm waits for processing", m.cfg.Index)
		return
	}
	if m.processing != nil && m.processing.err != nil {
		debug.Error(fmt.Sprintf("slot %d confirm", m.cfg.Index), m.processing.err)
		m.reset(events.ReasonProcessingFailed)
		return
	}

	staged := m.cfg.Layout.StagedPath(m.baseFileName)
	if !imaging.Exists(staged) {
		debug.Error(fmt.Sprintf("slot %d confirm", m.cfg.Index), fmt.Errorf("%s: %w", staged, imaging.ErrArtifactMissing))
		m.reset(events.ReasonArtifactMissing)
		return
	}
	confirmed := m.cfg.Layout.ConfirmedPath(m.baseFileName, m.classification)
	if err := imaging.PromoteToConfirmed(staged, confirmed); err != nil {
		debug.Error(fmt.Sprintf("slot %d promote", m.cfg.Index), err)
		if errors.Is(err, imaging.ErrArtifactMissing) {
			m.reset(events.ReasonArtifactMissing)
		} else {
			m.reset(events.ReasonPromoteFailed)
		}
		return
	}

	side := playback.SideForSlot(m.cfg.Index)
	m.deps.Player.Play(confirmed, m.classification, side)
	m.emit(events.KindConfirmed, confirmed)
	debug.Info("Slot %d: confirmed %s as %s", m.cfg.Index, confirmed, m.classification)
	m.reset("")
}

func (m *Machine) startProcessing(img image.Image, stagedPath string) {
	h := &processingHandle{}
	m.processing = h
	cycle := m.cycle
	ctx := m.ctx
	proc := m.deps.Processor
	slot := m.cfg.Index

	m.work.Add(1)
	go func() {
		defer m.work.Done()
		start := time.Now()
		err := runProcessor(ctx, proc, img, stagedPath)
		debug.Verbose("Slot %d: processing of cycle %d took %v", slot, cycle, time.Since(start))
		m.post(func() { m.processingFinished(cycle, err) })
	}()
}

func runProcessor(ctx context.Context, p Processor, img image.Image, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrProcessing, r)
		}
	}()
	if err := p.Process(ctx, img, path); err != nil {
		return fmt.Errorf("%w: %w", ErrProcessing, err)
	}
	return nil
}

func (m *Machine) processingFinished(cycle uint64, err error) {
	if cycle != m.cycle || m.processing == nil {
		debug.Trace("Slot %d: discarding processing result of cycle %d", m.cfg.Index, cycle)
		return
	}
	m.processing.done = true
	m.processing.err = err
	if err != nil {
		debug.Error(fmt.Sprintf("slot %d processing", m.cfg.Index), err)
		m.reset(events.ReasonProcessingFailed)
		return
	}
	if m.pending {
		m.confirm()
	}
}

func (m *Machine) startWatchdog() {
	m.stopWatchdog()
	gen := m.watchdogGen
	m.watchdog = m.deps.AfterFunc(m.cfg.SelectionTimeout, func() {
		m.post(func() { m.selectionTimeout(gen) })
	})
}

// stopWatchdog cancels the live watchdog and invalidates any callback that
// already fired.
func (m *Machine) stopWatchdog() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	m.watchdogGen++
}

func (m *Machine) selectionTimeout(gen uint64) {
	if gen != m.watchdogGen || m.state != SelectingStatus {
		debug.Trace("Slot %d: stale selection timeout ignored", m.cfg.Index)
		return
	}
	m.watchdog = nil
	debug.Live("Slot %d: selection timed out", m.cfg.Index)
	m.reset(events.ReasonTimeout)
}

// reset clears every per-cycle field. A non-empty reason is published as a
// slot_reset event. Outstanding processing is detached and its result will
// be discarded.
func (m *Machine) reset(reason string) {
	m.stopWatchdog()
	cycleID := m.cycleID
	m.cycle++
	m.cycleID = ""
	m.classification = m.cfg.Default
	m.baseFileName = ""
	m.pending = false
	m.processing = nil
	m.setState(Ready)
	if reason != "" {
		m.deps.Events.Publish(events.Event{
			Kind:           events.KindSlotReset,
			Slot:           m.cfg.Index,
			Classification: m.classification,
			CycleID:        cycleID,
			Reason:         reason,
		})
	}
}

func (m *Machine) setState(s State) {
	if m.state != s {
		debug.Transition(m.cfg.Index, m.state, s)
	}
	m.state = s
}

func (m *Machine) emit(kind events.Kind, path string) {
	m.deps.Events.Publish(events.Event{
		Kind:           kind,
		Slot:           m.cfg.Index,
		Classification: m.classification,
		CycleID:        m.cycleID,
		Path:           path,
	})
}

func (m *Machine) snapshot() Snapshot {
	return Snapshot{
		Index:               m.cfg.Index,
		State:               m.state,
		Classification:      m.classification,
		BaseFileName:        m.baseFileName,
		CycleID:             m.cycleID,
		ConfirmationPending: m.pending,
		ProcessingPending:   m.processing != nil && !m.processing.done,
		Side:                playback.SideForSlot(m.cfg.Index),
	}
}

func (m *Machine) publishSnapshot() {
	snap := m.snapshot()
	m.last.Store(&snap)
}
