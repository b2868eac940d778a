package playback

import (
	"context"
	"math/rand"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/events"
	"github.com/cjeanneret/BoothGo/internal/logic/status"
)

// Sink receives an image once its presentation has finished.
type Sink interface {
	Add(path string) bool
}

// Config controls how a presentation is run.
type Config struct {
	// Duration is how long a presentation lasts when no Command is set.
	Duration time.Duration
	// Command is an optional argv run per presentation. Arguments may contain
	// {image}, {status}, {side} and {variant}.
	Command []string
	// Variants lists the presentation variants per classification; one is
	// picked at random for each play.
	Variants map[status.Classification][]string
}

// Presenter runs presentations on their own goroutines.
type Presenter struct {
	ctx   context.Context
	cfg   Config
	state *State
	sink  Sink
	bus   events.Publisher

	pick func(n int) int
	run  func(ctx context.Context, argv []string) error

	wg sync.WaitGroup
}

// NewPresenter creates a presenter. sink and bus may be nil. Presentations
// still running when ctx ends are cut short and skip the sink.
func NewPresenter(ctx context.Context, cfg Config, state *State, sink Sink, bus events.Publisher) *Presenter {
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Second
	}
	if state == nil {
		state = NewState()
	}
	if bus == nil {
		bus = events.Discard
	}
	return &Presenter{
		ctx:   ctx,
		cfg:   cfg,
		state: state,
		sink:  sink,
		bus:   bus,
		pick:  rand.Intn,
		run:   runCommand,
	}
}

// State returns the playback-active state this presenter drives.
func (p *Presenter) State() *State {
	return p.state
}

// Play starts a presentation of path and returns immediately.
func (p *Presenter) Play(path string, classification status.Classification, side Side) {
	variant := p.variant(classification)
	p.state.begin()
	p.bus.Publish(events.Event{
		Kind:           events.KindPlaybackStarted,
		Slot:           -1,
		Classification: classification,
		Path:           path,
		Side:           side.String(),
	})
	debug.Live("Playback: %s (%s, %s, variant %q)", path, classification, side, variant)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.state.end()
		p.present(path, classification, side, variant)
	}()
}

// Wait blocks until every started presentation has finished.
func (p *Presenter) Wait() {
	p.wg.Wait()
}

func (p *Presenter) variant(c status.Classification) string {
	list := p.cfg.Variants[c]
	if len(list) == 0 {
		debug.Warn("Playback: no variants configured for %s", c)
		return ""
	}
	return list[p.pick(len(list))]
}

func (p *Presenter) present(path string, c status.Classification, side Side, variant string) {
	completed := true
	if len(p.cfg.Command) > 0 {
		argv := expand(p.cfg.Command, path, c, side, variant)
		if err := p.run(p.ctx, argv); err != nil {
			debug.Error("playback command", err)
		}
		completed = p.ctx.Err() == nil
	} else {
		select {
		case <-time.After(p.cfg.Duration):
		case <-p.ctx.Done():
			completed = false
		}
	}

	if completed && p.sink != nil {
		p.sink.Add(path)
	}
	p.bus.Publish(events.Event{
		Kind:           events.KindPlaybackFinished,
		Slot:           -1,
		Classification: c,
		Path:           path,
		Side:           side.String(),
	})
	debug.Verbose("Playback: finished %s", path)
}

func expand(argv []string, path string, c status.Classification, side Side, variant string) []string {
	r := strings.NewReplacer(
		"{image}", path,
		"{status}", c.String(),
		"{side}", side.String(),
		"{variant}", variant,
	)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

func runCommand(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		debug.Verbose("Playback command output: %s", strings.TrimSpace(string(out)))
	}
	return err
}
