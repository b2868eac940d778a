package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/BoothGo/internal/events"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/imaging"
	"github.com/cjeanneret/BoothGo/internal/logic/slot"
	"github.com/cjeanneret/BoothGo/internal/logic/status"
	"github.com/cjeanneret/BoothGo/internal/playback"
)

// fakeFrames serves a frame per slot; slots listed in hold block until
// released, slots listed in fail return ErrDeviceTimeout.
type fakeFrames struct {
	mu      sync.Mutex
	calls   []int
	hold    map[int]chan struct{}
	fail    map[int]bool
	started chan int
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{hold: map[int]chan struct{}{}, fail: map[int]bool{}, started: make(chan int, 16)}
}

func (f *fakeFrames) AcquireFrame(ctx context.Context, index int) (image.Image, error) {
	f.mu.Lock()
	f.calls = append(f.calls, index)
	gate := f.hold[index]
	fail := f.fail[index]
	f.mu.Unlock()
	f.started <- index

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, camera.ErrDeviceTimeout
	}
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	return img, nil
}

type recordingPlayer struct {
	mu    sync.Mutex
	paths []string
	sides []playback.Side
}

func (p *recordingPlayer) Play(path string, _ status.Classification, side playback.Side) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
	p.sides = append(p.sides, side)
}

func (p *recordingPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paths)
}

type fixture struct {
	orch   *Orchestrator
	frames *fakeFrames
	player *recordingPlayer
	bus    *events.Bus
	layout imaging.Layout
}

func newFixture(t *testing.T, slots int, archive bool) *fixture {
	t.Helper()
	root := t.TempDir()
	layout := imaging.Layout{
		CaptureDir:   filepath.Join(root, "ImageCapture"),
		StagedDir:    filepath.Join(root, "ImageStaged"),
		ConfirmedDir: filepath.Join(root, "ImageConfirmed"),
	}
	f := &fixture{frames: newFakeFrames(), player: &recordingPlayer{}, bus: events.NewBus(200), layout: layout}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)

	orch, err := New(context.Background(), Config{
		Slots:            slots,
		Default:          status.Crazy,
		SelectionTimeout: time.Minute,
		Layout:           layout,
		ArchiveRaw:       archive,
	}, Deps{
		Frames: f.frames,
		Player: f.player,
		Events: f.bus,
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(orch.Close)
	f.orch = orch
	return f
}

func (f *fixture) waitState(t *testing.T, index int, s slot.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := f.orch.Snapshot(index)
		return err == nil && snap.State == s
	}, 2*time.Second, 5*time.Millisecond, "slot %d never reached %s", index, s)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{Slots: 0}, Deps{Frames: newFakeFrames(), Player: &recordingPlayer{}})
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Slots: MaxSlots + 1}, Deps{Frames: newFakeFrames(), Player: &recordingPlayer{}})
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Slots: 1}, Deps{Player: &recordingPlayer{}})
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Slots: 1}, Deps{Frames: newFakeFrames()})
	assert.Error(t, err, "slot requires a player")
}

func TestTriggerCapture_FullCycle(t *testing.T) {
	f := newFixture(t, 2, true)

	require.NoError(t, f.orch.TriggerCapture(1))
	f.waitState(t, 1, slot.SelectingStatus)
	snap, err := f.orch.Snapshot(1)
	require.NoError(t, err)
	assert.Equal(t, "webcam_1_20240101120000", snap.BaseFileName)

	require.NoError(t, f.orch.AdvanceClassification(1, status.Forward))
	require.Eventually(t, func() bool {
		s, _ := f.orch.Snapshot(1)
		return !s.ProcessingPending
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.orch.RequestConfirm(1))

	f.waitState(t, 1, slot.Ready)
	require.Equal(t, 1, f.player.count())
	assert.Equal(t, f.layout.ConfirmedPath("webcam_1_20240101120000", status.Attacker), f.player.paths[0])
	assert.Equal(t, playback.Right, f.player.sides[0])
	assert.Eventually(t, func() bool {
		return imaging.Exists(f.layout.RawPath("webcam_1_20240101120000"))
	}, 2*time.Second, 5*time.Millisecond, "raw capture archived")
}

func TestTriggerCapture_NotReady(t *testing.T) {
	f := newFixture(t, 1, false)
	gate := make(chan struct{})
	f.frames.hold[0] = gate
	defer close(gate)

	require.NoError(t, f.orch.TriggerCapture(0))
	<-f.frames.started
	assert.False(t, f.orch.IsReady(0))

	err := f.orch.TriggerCapture(0)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Len(t, f.frames.calls, 1, "no second acquisition")
}

func TestTriggerCapture_UnknownSlot(t *testing.T) {
	f := newFixture(t, 2, false)
	for _, i := range []int{-1, 2} {
		assert.ErrorIs(t, f.orch.TriggerCapture(i), ErrUnknownSlot)
		assert.ErrorIs(t, f.orch.RequestConfirm(i), ErrUnknownSlot)
		assert.ErrorIs(t, f.orch.AdvanceClassification(i, status.Forward), ErrUnknownSlot)
		assert.ErrorIs(t, f.orch.ForceReset(i), ErrUnknownSlot)
		_, err := f.orch.Snapshot(i)
		assert.ErrorIs(t, err, ErrUnknownSlot)
		assert.False(t, f.orch.IsReady(i))
	}
}

func TestTriggerCapture_DeviceTimeoutResets(t *testing.T) {
	f := newFixture(t, 1, true)
	f.frames.fail[0] = true

	require.NoError(t, f.orch.TriggerCapture(0))
	<-f.frames.started
	f.waitState(t, 0, slot.Ready)

	files, err := imaging.ListPNG(f.layout.CaptureDir)
	require.NoError(t, err)
	assert.Empty(t, files, "no file written on device timeout")

	var reasons []string
	for _, e := range f.bus.Since(0) {
		if e.Kind == events.KindSlotReset {
			reasons = append(reasons, e.Reason)
		}
	}
	assert.Equal(t, []string{events.ReasonCaptureFailed}, reasons)
}

func TestSignals_IgnoredOutsideState(t *testing.T) {
	f := newFixture(t, 1, false)
	assert.ErrorIs(t, f.orch.AdvanceClassification(0, status.Forward), ErrIgnored)
	assert.ErrorIs(t, f.orch.RequestConfirm(0), ErrIgnored)
	assert.True(t, f.orch.IsReady(0))
}

func TestSlots_DoNotBlockEachOther(t *testing.T) {
	f := newFixture(t, 3, false)
	gate := make(chan struct{})
	f.frames.hold[0] = gate
	defer close(gate)

	require.NoError(t, f.orch.TriggerCapture(0))
	<-f.frames.started

	// Slot 0 is stuck acquiring; slot 2 still runs a full capture.
	require.NoError(t, f.orch.TriggerCapture(2))
	f.waitState(t, 2, slot.SelectingStatus)
	snap, err := f.orch.Snapshot(0)
	require.NoError(t, err)
	assert.Equal(t, slot.Processing, snap.State)
}

func TestForceReset_DropsLateFrame(t *testing.T) {
	f := newFixture(t, 1, false)
	gate := make(chan struct{})
	f.frames.hold[0] = gate

	require.NoError(t, f.orch.TriggerCapture(0))
	<-f.frames.started
	require.NoError(t, f.orch.ForceReset(0))
	assert.True(t, f.orch.IsReady(0))

	close(gate)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, f.orch.IsReady(0), "frame of the reset cycle must not reopen selection")
}

func TestForceResetAll(t *testing.T) {
	f := newFixture(t, 2, false)
	require.NoError(t, f.orch.TriggerCapture(0))
	require.NoError(t, f.orch.TriggerCapture(1))
	f.waitState(t, 0, slot.SelectingStatus)
	f.waitState(t, 1, slot.SelectingStatus)

	f.orch.ForceResetAll()
	for _, s := range f.orch.Snapshots() {
		assert.Equal(t, slot.Ready, s.State)
		assert.Equal(t, status.Crazy, s.Classification)
	}
	assert.Equal(t, 2, f.orch.Len())
}

func TestClose_CancelsAcquisition(t *testing.T) {
	f := newFixture(t, 1, false)
	f.frames.hold[0] = make(chan struct{})
	require.NoError(t, f.orch.TriggerCapture(0))
	<-f.frames.started

	done := make(chan struct{})
	go func() {
		f.orch.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, errors.Is(f.orch.TriggerCapture(0), ErrNotReady))
}
