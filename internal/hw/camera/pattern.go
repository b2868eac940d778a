package camera

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"
)

// PatternDevice is a synthetic camera for development without hardware.
// Frames show a light backdrop with a darker subject so the background
// remover has something to cut away.
type PatternDevice struct {
	id       int
	interval time.Duration

	mu     sync.Mutex
	open   bool
	width  int
	height int
	frames int
	last   time.Time
}

// NewPatternDevice creates a synthetic device. interval emulates the frame
// period; zero delivers a new frame on every grab.
func NewPatternDevice(id int, interval time.Duration) *PatternDevice {
	return &PatternDevice{id: id, interval: interval}
}

// PatternOpener returns an Opener producing PatternDevices.
func PatternOpener(interval time.Duration) Opener {
	return func(id int) Device { return NewPatternDevice(id, interval) }
}

func (p *PatternDevice) Open(width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", width, height)
	}
	p.open = true
	p.width = width
	p.height = height
	p.frames = 0
	p.last = time.Time{}
	return nil
}

func (p *PatternDevice) Grab() (image.Image, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil, false, fmt.Errorf("pattern device %d not open", p.id)
	}
	now := time.Now()
	if p.interval > 0 && !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return nil, false, nil
	}
	p.last = now
	p.frames++
	return p.render(), true, nil
}

func (p *PatternDevice) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

// render draws the backdrop and an ellipse tinted by device id.
func (p *PatternDevice) render() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.width, p.height))
	backdrop := color.NRGBA{R: 240, G: 240, B: 235, A: 255}
	subject := color.NRGBA{
		R: uint8(60 + 40*(p.id%4)),
		G: uint8(80 + 30*(p.id%3)),
		B: uint8(120 - 20*(p.id%5)),
		A: 255,
	}
	cx, cy := float64(p.width)/2, float64(p.height)/2
	rx, ry := float64(p.width)/4, float64(p.height)/2.5
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			dx := (float64(x) - cx) / rx
			dy := (float64(y) - cy) / ry
			if dx*dx+dy*dy <= 1 {
				img.SetNRGBA(x, y, subject)
			} else {
				img.SetNRGBA(x, y, backdrop)
			}
		}
	}
	return img
}
