package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/cjeanneret/BoothGo/internal/logic/status"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// Camera types.
const (
	CameraPattern = "pattern"     // synthetic frames, no hardware
	CameraWebcam  = "webcam_gocv" // OpenCV capture, needs the gocv build tag
)

// Gallery modes.
const (
	GalleryHandoff = "handoff" // images enter the gallery when their playback ends
	GalleryWatch   = "watch"   // images enter the gallery when they appear on disk
)

// SlotsConfig describes the capture lanes.
type SlotsConfig struct {
	Count                 int      `yaml:"count"`                  // number of device slots (1-5)
	SelectionTimeoutMs    int      `yaml:"selection_timeout_ms"`   // status picker timeout (ms)
	DefaultClassification string   `yaml:"default_classification"` // classification after every reset
	ClassificationOrder   []string `yaml:"classification_order"`   // cyclic next/prev order
}

// StorageConfig locates the artifact directories. Relative directories are
// resolved against Root.
type StorageConfig struct {
	Root          string `yaml:"root"`
	CaptureDir    string `yaml:"capture_dir"`     // raw captures
	StagedDir     string `yaml:"staged_dir"`      // masked captures awaiting confirmation
	ConfirmedDir  string `yaml:"confirmed_dir"`   // confirmed captures
	ArchiveRaw    *bool  `yaml:"archive_raw"`     // keep raw captures (default true)
	CleanupOnExit bool   `yaml:"cleanup_on_exit"` // delete raw and staged PNGs on shutdown
}

// CameraConfig describes the frame source.
// Type selects a concrete implementation (e.g., "pattern").
type CameraConfig struct {
	Type               string `yaml:"type"`                 // "pattern" or "webcam_gocv"
	Devices            []int  `yaml:"devices"`              // device id per slot, fixed at startup
	Width              int    `yaml:"width"`                // capture width (px)
	Height             int    `yaml:"height"`               // capture height (px)
	StableFrames       int    `yaml:"stable_frames"`        // fresh frames before capturing
	StabilizeTimeoutMs int    `yaml:"stabilize_timeout_ms"` // give up after this long (ms)
	PatternIntervalMs  int    `yaml:"pattern_interval_ms"`  // synthetic frame period (ms)
}

// SlotButtons holds the two buttons of one slot.
type SlotButtons struct {
	NextPin int `yaml:"next_pin"`
	PrevPin int `yaml:"prev_pin"`
}

// ButtonsConfig describes the physical button panel (BCM pins).
type ButtonsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	PollIntervalMs  int           `yaml:"poll_interval_ms"`
	DebounceSamples int           `yaml:"debounce_samples"`
	Slots           []SlotButtons `yaml:"slots"`
	ConfirmLeftPin  int           `yaml:"confirm_left_pin"`  // confirms even slots. 0 = none.
	ConfirmRightPin int           `yaml:"confirm_right_pin"` // confirms odd slots. 0 = none.
}

// PlaybackConfig describes how confirmed captures are presented.
type PlaybackConfig struct {
	DurationMs int                 `yaml:"duration_ms"` // hold time when no command is set
	Command    []string            `yaml:"command"`     // argv; {image} {status} {side} {variant} are replaced
	Variants   map[string][]string `yaml:"variants"`    // classification name -> variant names
}

// GalleryConfig describes the secondary display.
type GalleryConfig struct {
	MaxImages int    `yaml:"max_images"`
	Mode      string `yaml:"mode"` // "handoff" or "watch"
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Slots    SlotsConfig    `yaml:"slots"`
	Storage  StorageConfig  `yaml:"storage"`
	Camera   CameraConfig   `yaml:"camera"`
	Buttons  ButtonsConfig  `yaml:"buttons"`
	Playback PlaybackConfig `yaml:"playback"`
	Gallery  GalleryConfig  `yaml:"gallery"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that climb with "..", do not end in
// ".yaml" or whose parent directory is not named "configs".
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' }) {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	// Basic validation
	if c.Camera.Type == "" {
		return fmt.Errorf("camera.type is required")
	}

	if c.Slots.Count == 0 {
		c.Slots.Count = 2
	}
	if c.Slots.SelectionTimeoutMs <= 0 {
		c.Slots.SelectionTimeoutMs = 10000 // 10s picker timeout
	}
	if c.Slots.DefaultClassification == "" {
		c.Slots.DefaultClassification = status.Crazy.String()
	}
	if len(c.Slots.ClassificationOrder) == 0 {
		for _, s := range status.All() {
			c.Slots.ClassificationOrder = append(c.Slots.ClassificationOrder, s.String())
		}
	}

	if c.Storage.Root == "" {
		c.Storage.Root = "StreamingAssets"
	}
	if c.Storage.CaptureDir == "" {
		c.Storage.CaptureDir = "ImageCapture"
	}
	if c.Storage.StagedDir == "" {
		c.Storage.StagedDir = "ImageStaged"
	}
	if c.Storage.ConfirmedDir == "" {
		c.Storage.ConfirmedDir = "ImageConfirmed"
	}
	if c.Storage.ArchiveRaw == nil {
		archive := true
		c.Storage.ArchiveRaw = &archive
	}

	if len(c.Camera.Devices) == 0 {
		for i := 0; i < c.Slots.Count; i++ {
			c.Camera.Devices = append(c.Camera.Devices, i)
		}
	}
	if c.Camera.Width <= 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height <= 0 {
		c.Camera.Height = 360
	}
	if c.Camera.StableFrames <= 0 {
		c.Camera.StableFrames = 30
	}
	if c.Camera.StabilizeTimeoutMs <= 0 {
		c.Camera.StabilizeTimeoutMs = 3000
	}
	if c.Camera.PatternIntervalMs <= 0 {
		c.Camera.PatternIntervalMs = 33 // ~30 fps
	}

	if c.Buttons.PollIntervalMs <= 0 {
		c.Buttons.PollIntervalMs = 5
	}
	if c.Buttons.DebounceSamples <= 0 {
		c.Buttons.DebounceSamples = 3
	}

	if c.Playback.DurationMs <= 0 {
		c.Playback.DurationMs = 8000
	}

	if c.Gallery.MaxImages <= 0 {
		c.Gallery.MaxImages = 50
	}
	if c.Gallery.Mode == "" {
		c.Gallery.Mode = GalleryHandoff
	}
	return nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Slots.Count < 1 || c.Slots.Count > capture.MaxSlots {
		return fmt.Errorf("slots.count must be between 1 and %d, got %d", capture.MaxSlots, c.Slots.Count)
	}
	order, err := status.ParseOrder(c.Slots.ClassificationOrder)
	if err != nil {
		return fmt.Errorf("slots.classification_order: %w", err)
	}
	def, err := status.Parse(c.Slots.DefaultClassification)
	if err != nil {
		return fmt.Errorf("slots.default_classification: %w", err)
	}
	if !order.Contains(def) {
		return fmt.Errorf("slots.default_classification %s is not in classification_order", def)
	}

	switch c.Camera.Type {
	case CameraPattern, CameraWebcam:
	default:
		return fmt.Errorf("camera.type must be %q or %q, got %q", CameraPattern, CameraWebcam, c.Camera.Type)
	}
	if len(c.Camera.Devices) < c.Slots.Count {
		return fmt.Errorf("camera.devices lists %d devices for %d slots", len(c.Camera.Devices), c.Slots.Count)
	}

	if c.Buttons.Enabled {
		if len(c.Buttons.Slots) > c.Slots.Count {
			return fmt.Errorf("buttons.slots lists %d slots, only %d configured", len(c.Buttons.Slots), c.Slots.Count)
		}
		seen := map[int]string{}
		for _, b := range c.ButtonBindings() {
			if b.Pin <= 0 {
				return fmt.Errorf("buttons: %s pin must be > 0", b.Name)
			}
			if other, dup := seen[b.Pin]; dup {
				return fmt.Errorf("buttons: pin %d used by %s and %s", b.Pin, other, b.Name)
			}
			seen[b.Pin] = b.Name
		}
	}

	for name := range c.Playback.Variants {
		if _, err := status.Parse(name); err != nil {
			return fmt.Errorf("playback.variants: %w", err)
		}
	}
	if len(c.Playback.Command) > 0 && strings.TrimSpace(c.Playback.Command[0]) == "" {
		return fmt.Errorf("playback.command: program is empty")
	}

	switch c.Gallery.Mode {
	case GalleryHandoff, GalleryWatch:
	default:
		return fmt.Errorf("gallery.mode must be %q or %q, got %q", GalleryHandoff, GalleryWatch, c.Gallery.Mode)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// SelectionTimeout returns how long the status picker stays open.
func (c *Config) SelectionTimeout() time.Duration {
	return time.Duration(c.Slots.SelectionTimeoutMs) * time.Millisecond
}

// ClassificationOrder returns the parsed cyclic order. Load has validated it.
func (c *Config) ClassificationOrder() status.Order {
	order, err := status.ParseOrder(c.Slots.ClassificationOrder)
	if err != nil {
		return status.DefaultOrder()
	}
	return order
}

// DefaultClassification returns the parsed default classification.
func (c *Config) DefaultClassification() status.Classification {
	def, err := status.Parse(c.Slots.DefaultClassification)
	if err != nil {
		return status.Crazy
	}
	return def
}

func (c *Config) storagePath(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.Storage.Root, dir)
}

// CaptureDir returns the resolved raw capture directory.
func (c *Config) CaptureDir() string { return c.storagePath(c.Storage.CaptureDir) }

// StagedDir returns the resolved staging directory.
func (c *Config) StagedDir() string { return c.storagePath(c.Storage.StagedDir) }

// ConfirmedDir returns the resolved confirmed directory.
func (c *Config) ConfirmedDir() string { return c.storagePath(c.Storage.ConfirmedDir) }

// ArchiveRaw reports whether raw captures are kept.
func (c *Config) ArchiveRaw() bool {
	return c.Storage.ArchiveRaw == nil || *c.Storage.ArchiveRaw
}

// StabilizeTimeout returns the frame source budget per acquisition.
func (c *Config) StabilizeTimeout() time.Duration {
	return time.Duration(c.Camera.StabilizeTimeoutMs) * time.Millisecond
}

// PatternInterval returns the synthetic frame period.
func (c *Config) PatternInterval() time.Duration {
	return time.Duration(c.Camera.PatternIntervalMs) * time.Millisecond
}

// PollInterval returns the button sampling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Buttons.PollIntervalMs) * time.Millisecond
}

// PlaybackDuration returns the hold time of a presentation.
func (c *Config) PlaybackDuration() time.Duration {
	return time.Duration(c.Playback.DurationMs) * time.Millisecond
}

// PlaybackVariants returns the variants keyed by classification. Unknown
// names are skipped; Load rejects them.
func (c *Config) PlaybackVariants() map[status.Classification][]string {
	out := make(map[status.Classification][]string, len(c.Playback.Variants))
	for name, list := range c.Playback.Variants {
		s, err := status.Parse(name)
		if err != nil {
			continue
		}
		out[s] = append([]string(nil), list...)
	}
	return out
}

// ButtonBinding is one configured button.
type ButtonBinding struct {
	Name   string // for messages, e.g. "slot 0 next"
	Pin    int
	Slot   int // -1 for confirm buttons
	Action string
}

// Button actions used in ButtonBinding.
const (
	ActionNext         = "next"
	ActionPrev         = "prev"
	ActionConfirmLeft  = "confirm-left"
	ActionConfirmRight = "confirm-right"
)

// ButtonBindings flattens the button section. Confirm pins set to 0 are
// omitted.
func (c *Config) ButtonBindings() []ButtonBinding {
	var out []ButtonBinding
	for i, s := range c.Buttons.Slots {
		out = append(out,
			ButtonBinding{Name: fmt.Sprintf("slot %d next", i), Pin: s.NextPin, Slot: i, Action: ActionNext},
			ButtonBinding{Name: fmt.Sprintf("slot %d prev", i), Pin: s.PrevPin, Slot: i, Action: ActionPrev},
		)
	}
	if c.Buttons.ConfirmLeftPin != 0 {
		out = append(out, ButtonBinding{Name: "confirm left", Pin: c.Buttons.ConfirmLeftPin, Slot: -1, Action: ActionConfirmLeft})
	}
	if c.Buttons.ConfirmRightPin != 0 {
		out = append(out, ButtonBinding{Name: "confirm right", Pin: c.Buttons.ConfirmRightPin, Slot: -1, Action: ActionConfirmRight})
	}
	return out
}
