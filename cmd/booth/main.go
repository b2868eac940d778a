package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/cjeanneret/BoothGo/internal/config"
	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/events"
	"github.com/cjeanneret/BoothGo/internal/gallery"
	"github.com/cjeanneret/BoothGo/internal/hw/button"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/hw/gpio"
	"github.com/cjeanneret/BoothGo/internal/imaging"
	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/cjeanneret/BoothGo/internal/logic/input"
	"github.com/cjeanneret/BoothGo/internal/playback"
	"github.com/cjeanneret/BoothGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	slots := flag.Int("slots", 0, fmt.Sprintf("override number of slots (1-%d)", capture.MaxSlots))
	selectionTimeoutMs := flag.Int("selection_timeout_ms", 0, "override status selection timeout in ms")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Zero means "use config default"
	if err := validateCLIOverrides(*slots, *selectionTimeoutMs); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, *slots, *selectionTimeoutMs)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		// Tee logs into the SSE stream before anything else logs.
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	b, err := newBooth(ctx, cfg)
	if err != nil {
		log.Fatalf("init booth failed: %v", err)
	}

	var wg sync.WaitGroup
	b.start(ctx, &wg)

	if port := webPort.port(); port > 0 {
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, b.orch, b.bus, b.gallery, b.presenter.State())
		if err != nil {
			log.Fatalf("web server: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				debug.Error("web server", err)
				cancel()
			}
		}()
	}

	debug.Summary(fmt.Sprintf("Booth ready: %d slots", b.orch.Len()))
	<-ctx.Done()
	debug.Section("Shutdown")
	wg.Wait()
	b.shutdown()
}

// booth holds the wired components of a running installation.
type booth struct {
	cfg       *config.Config
	bus       *events.Bus
	gallery   *gallery.Gallery
	watcher   *gallery.Watcher
	presenter *playback.Presenter
	orch      *capture.Orchestrator
	gpio      gpio.Driver
	panel     *button.Panel
	router    *input.Router
}

// newBooth builds every component from cfg. The slots run until ctx ends
// and shutdown is called.
func newBooth(ctx context.Context, cfg *config.Config) (*booth, error) {
	b := &booth{cfg: cfg}

	debug.Step(1, "Preparing storage")
	layout := imaging.Layout{
		CaptureDir:   cfg.CaptureDir(),
		StagedDir:    cfg.StagedDir(),
		ConfirmedDir: cfg.ConfirmedDir(),
	}
	if err := layout.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create storage dirs: %w", err)
	}
	debug.PrintStruct("Layout", layout)

	debug.Step(2, "Fixing device list")
	frames, err := newFrameSource(cfg)
	if err != nil {
		return nil, err
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.Value("Devices", frames.Devices())

	debug.Step(3, "Starting gallery and playback")
	b.bus = events.NewBus(0)
	b.gallery = gallery.New(cfg.Gallery.MaxImages)
	if n, err := b.gallery.LoadExisting(layout.ConfirmedDir); err != nil {
		debug.Error("gallery: load existing", err)
	} else {
		debug.Value("Gallery images", n)
	}
	var sink playback.Sink
	switch cfg.Gallery.Mode {
	case config.GalleryWatch:
		w, err := gallery.NewWatcher(b.gallery, layout.ConfirmedDir)
		if err != nil {
			return nil, fmt.Errorf("gallery watcher: %w", err)
		}
		b.watcher = w
	default:
		sink = b.gallery
	}
	b.presenter = playback.NewPresenter(ctx, playback.Config{
		Duration: cfg.PlaybackDuration(),
		Command:  cfg.Playback.Command,
		Variants: cfg.PlaybackVariants(),
	}, nil, sink, b.bus)

	debug.Step(4, "Starting slots")
	b.orch, err = capture.New(ctx, capture.Config{
		Slots:            cfg.Slots.Count,
		Order:            cfg.ClassificationOrder(),
		Default:          cfg.DefaultClassification(),
		SelectionTimeout: cfg.SelectionTimeout(),
		Layout:           layout,
		ArchiveRaw:       cfg.ArchiveRaw(),
	}, capture.Deps{
		Frames:    frames,
		Processor: imaging.NewProcessor(),
		Player:    b.presenter,
		Events:    b.bus,
	})
	if err != nil {
		b.closeWatcher()
		return nil, fmt.Errorf("start slots: %w", err)
	}

	if cfg.Buttons.Enabled {
		debug.Step(5, "Initializing button panel")
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		if err := b.initButtons(); err != nil {
			b.orch.Close()
			b.closeWatcher()
			return nil, err
		}
	}
	return b, nil
}

func (b *booth) initButtons() error {
	drv, err := gpio.NewDriver(b.cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO failed: %w", err)
	}
	bindings, err := buttonBindings(b.cfg)
	if err != nil {
		drv.Close()
		return err
	}
	panel, err := button.NewPanel(drv, bindings, button.Config{
		PollInterval:    b.cfg.PollInterval(),
		DebounceSamples: b.cfg.Buttons.DebounceSamples,
	})
	if err != nil {
		drv.Close()
		return fmt.Errorf("init button panel: %w", err)
	}
	b.gpio = drv
	b.panel = panel
	b.router = input.NewRouter(b.orch)
	return nil
}

// start launches the button loop and the gallery watcher.
func (b *booth) start(ctx context.Context, wg *sync.WaitGroup) {
	if b.panel != nil {
		presses := make(chan button.Press, 16)
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := b.panel.Run(ctx, presses); err != nil && !errors.Is(err, context.Canceled) {
				debug.Error("button panel", err)
			}
		}()
		go func() {
			defer wg.Done()
			b.router.Run(ctx, presses)
		}()
	}
	if b.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				debug.Error("gallery watcher", err)
			}
		}()
	}
}

func (b *booth) closeWatcher() {
	if b.watcher == nil {
		return
	}
	if err := b.watcher.Close(); err != nil {
		debug.Error("closing gallery watcher", err)
	}
}

// shutdown stops the slots, waits for running presentations and applies
// the cleanup policy. Confirmed images are kept.
func (b *booth) shutdown() {
	b.orch.Close()
	b.presenter.Wait()
	if b.gpio != nil {
		if err := b.gpio.Close(); err != nil {
			debug.Error("closing GPIO driver", err)
		}
	}
	if !b.cfg.Storage.CleanupOnExit {
		return
	}
	for _, dir := range []string{b.cfg.CaptureDir(), b.cfg.StagedDir()} {
		n, err := imaging.CleanDir(dir)
		if err != nil {
			debug.Error("cleanup "+dir, err)
		}
		debug.Info("Cleanup: removed %d files from %s", n, dir)
	}
}

// newFrameSource selects a device implementation based on configuration.
func newFrameSource(cfg *config.Config) (*camera.DeviceSource, error) {
	var open camera.Opener
	switch cfg.Camera.Type {
	case config.CameraPattern:
		open = camera.PatternOpener(cfg.PatternInterval())
	case config.CameraWebcam:
		if !camera.WebcamAvailable {
			return nil, camera.ErrWebcamUnavailable
		}
		open = camera.WebcamOpener()
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
	return camera.NewDeviceSource(open, cfg.Camera.Devices[:cfg.Slots.Count], camera.StabilizeConfig{
		Width:        cfg.Camera.Width,
		Height:       cfg.Camera.Height,
		StableFrames: cfg.Camera.StableFrames,
		Timeout:      cfg.StabilizeTimeout(),
	}), nil
}

// buttonBindings converts the configured pins into panel bindings.
func buttonBindings(cfg *config.Config) ([]button.Binding, error) {
	var out []button.Binding
	for _, b := range cfg.ButtonBindings() {
		var action button.Action
		switch b.Action {
		case config.ActionNext:
			action = button.Next
		case config.ActionPrev:
			action = button.Prev
		case config.ActionConfirmLeft:
			action = button.ConfirmLeft
		case config.ActionConfirmRight:
			action = button.ConfirmRight
		default:
			return nil, fmt.Errorf("%s: unknown action %q", b.Name, b.Action)
		}
		out = append(out, button.Binding{Pin: b.Pin, Slot: b.Slot, Action: action})
	}
	return out, nil
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(slots, selectionTimeoutMs int) error {
	if slots != 0 && (slots < 1 || slots > capture.MaxSlots) {
		return fmt.Errorf("slots must be between 1 and %d, got %d", capture.MaxSlots, slots)
	}
	if selectionTimeoutMs < 0 {
		return fmt.Errorf("selection_timeout_ms must be positive, got %d", selectionTimeoutMs)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values
// are applied. Extra slots get the next device ids.
func applyOverrides(cfg *config.Config, slots, selectionTimeoutMs int) {
	if slots > 0 {
		cfg.Slots.Count = slots
		for next := len(cfg.Camera.Devices); len(cfg.Camera.Devices) < slots; next++ {
			cfg.Camera.Devices = append(cfg.Camera.Devices, next)
		}
	}
	if selectionTimeoutMs > 0 {
		cfg.Slots.SelectionTimeoutMs = selectionTimeoutMs
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
