// Package button polls the booth's push buttons through the GPIO driver.
package button

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/hw/gpio"
)

// Action is what a button asks for.
type Action int

const (
	Next Action = iota
	Prev
	ConfirmLeft  // confirms every even slot
	ConfirmRight // confirms every odd slot
)

func (a Action) String() string {
	switch a {
	case Next:
		return "next"
	case Prev:
		return "prev"
	case ConfirmLeft:
		return "confirm-left"
	case ConfirmRight:
		return "confirm-right"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Binding ties a BCM pin to an action. Slot is ignored for confirm actions.
type Binding struct {
	Pin    int
	Slot   int
	Action Action
}

// Press is one debounced button press.
type Press struct {
	Pin    int
	Slot   int
	Action Action
	At     time.Time
}

// Config holds the sampling parameters of the panel.
type Config struct {
	PollInterval    time.Duration // delay between samples. 0 = 5ms.
	DebounceSamples int           // identical consecutive samples before a level counts. 0 = 3.
}

type pinState struct {
	binding   Binding
	stable    gpio.Level
	candidate gpio.Level
	count     int
}

// Panel reads active-low buttons wired to ground with the internal pull-up
// enabled. A press is reported once per debounced falling edge.
type Panel struct {
	gpio gpio.Driver
	cfg  Config
	pins []*pinState
}

// NewPanel configures every bound pin as a pulled-up input.
func NewPanel(g gpio.Driver, bindings []Binding, cfg Config) (*Panel, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.DebounceSamples <= 0 {
		cfg.DebounceSamples = 3
	}

	p := &Panel{gpio: g, cfg: cfg}
	seen := make(map[int]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.Pin] {
			return nil, fmt.Errorf("pin %d bound twice", b.Pin)
		}
		seen[b.Pin] = true
		if err := g.SetupPin(b.Pin, gpio.InputPullUp); err != nil {
			return nil, fmt.Errorf("setup pin %d: %w", b.Pin, err)
		}
		p.pins = append(p.pins, &pinState{
			binding:   b,
			stable:    gpio.High,
			candidate: gpio.High,
			count:     cfg.DebounceSamples,
		})
		debug.Verbose("Button: pin %d -> slot %d %s", b.Pin, b.Slot, b.Action)
	}
	return p, nil
}

// Poll samples every pin once and returns the presses completed by this
// sample.
func (p *Panel) Poll(now time.Time) ([]Press, error) {
	var presses []Press
	for _, st := range p.pins {
		level, err := p.gpio.ReadPin(st.binding.Pin)
		if err != nil {
			return presses, fmt.Errorf("read pin %d: %w", st.binding.Pin, err)
		}
		if level != st.candidate {
			st.candidate = level
			st.count = 1
		} else if st.count < p.cfg.DebounceSamples {
			st.count++
		}
		if st.count < p.cfg.DebounceSamples || st.candidate == st.stable {
			continue
		}
		st.stable = st.candidate
		if st.stable == gpio.Low {
			debug.Button(st.binding.Pin, st.binding.Action)
			presses = append(presses, Press{
				Pin:    st.binding.Pin,
				Slot:   st.binding.Slot,
				Action: st.binding.Action,
				At:     now,
			})
		}
	}
	return presses, nil
}

// Run polls until ctx is cancelled, sending presses to out. Read errors are
// logged and polling continues.
func (p *Panel) Run(ctx context.Context, out chan<- Press) error {
	debug.Info("Button panel: polling %d pins every %v", len(p.pins), p.cfg.PollInterval)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			presses, err := p.Poll(now)
			if err != nil {
				debug.Error("button poll", err)
			}
			for _, pr := range presses {
				select {
				case out <- pr:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
