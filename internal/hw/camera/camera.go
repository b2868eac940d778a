package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
)

// ErrDeviceTimeout is returned when a device never delivers enough stable
// frames within the stabilization budget.
var ErrDeviceTimeout = errors.New("device timeout")

// ErrNoDevice is returned when a slot has no device assigned.
var ErrNoDevice = errors.New("no device for slot")

// ErrWebcamUnavailable is returned by webcams in builds without the gocv tag.
var ErrWebcamUnavailable = errors.New("webcam support not built in (rebuild with -tags gocv)")

// FrameSource is the high-level interface used by the rest of the
// application. It hands out one bitmap per request for a given slot,
// regardless of how the device is driven (OpenCV, synthetic, etc.).
type FrameSource interface {
	// AcquireFrame returns a single stabilized frame for the slot.
	AcquireFrame(ctx context.Context, slot int) (image.Image, error)
}

// Device is a streaming capture device.
type Device interface {
	// Open starts streaming at the requested resolution.
	Open(width, height int) error
	// Grab returns the latest frame and whether it is new since the
	// previous call.
	Grab() (frame image.Image, updated bool, err error)
	// Close stops streaming and releases the device.
	Close() error
}

// Opener creates a device handle for a device id.
type Opener func(deviceID int) Device

// StabilizeConfig bounds the wait for a device to settle.
type StabilizeConfig struct {
	Width        int
	Height       int
	StableFrames int           // fresh frames required before capturing
	Timeout      time.Duration // overall budget; exceeded -> ErrDeviceTimeout
	PollInterval time.Duration // wait between grabs that returned no new frame
}

// DeviceSource is a FrameSource backed by a device list fixed at startup:
// slot i uses devices[i].
type DeviceSource struct {
	open    Opener
	devices []int
	cfg     StabilizeConfig
}

// NewDeviceSource creates a frame source. Zero config values fall back to
// 640x360, 30 stable frames, 3s timeout and a 5ms poll interval.
func NewDeviceSource(open Opener, devices []int, cfg StabilizeConfig) *DeviceSource {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 360
	}
	if cfg.StableFrames <= 0 {
		cfg.StableFrames = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}

	fixed := append([]int(nil), devices...)
	for i, id := range fixed {
		debug.Info("Fixed camera[%d]: device %d", i, id)
	}

	return &DeviceSource{
		open:    open,
		devices: fixed,
		cfg:     cfg,
	}
}

// Devices returns the fixed slot -> device id mapping.
func (s *DeviceSource) Devices() []int {
	return append([]int(nil), s.devices...)
}

// AcquireFrame opens the slot's device, waits for the configured number of
// fresh frames and returns the last one. The device is always closed again.
func (s *DeviceSource) AcquireFrame(ctx context.Context, slot int) (image.Image, error) {
	if slot < 0 || slot >= len(s.devices) {
		return nil, fmt.Errorf("slot %d (have %d devices): %w", slot, len(s.devices), ErrNoDevice)
	}
	id := s.devices[slot]
	debug.Verbose("Camera: starting device %d for slot %d", id, slot)

	dev := s.open(id)
	if err := dev.Open(s.cfg.Width, s.cfg.Height); err != nil {
		return nil, fmt.Errorf("open device %d: %w", id, err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			debug.Error(fmt.Sprintf("close device %d", id), err)
		}
	}()

	timeout := time.NewTimer(s.cfg.Timeout)
	defer timeout.Stop()

	var last image.Image
	stable := 0
	for stable < s.cfg.StableFrames {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			debug.Warn("Camera: device %d did not stabilize (%d/%d frames in %v)", id, stable, s.cfg.StableFrames, s.cfg.Timeout)
			return nil, fmt.Errorf("device %d: %w", id, ErrDeviceTimeout)
		default:
		}

		frame, updated, err := dev.Grab()
		if err != nil {
			return nil, fmt.Errorf("grab device %d: %w", id, err)
		}
		if updated && frame != nil {
			last = frame
			stable++
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, fmt.Errorf("device %d: %w", id, ErrDeviceTimeout)
		case <-time.After(s.cfg.PollInterval):
		}
	}

	debug.Verbose("Camera: device %d stable after %d frames", id, stable)
	return last, nil
}
