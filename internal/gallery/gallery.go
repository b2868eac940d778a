// Package gallery keeps the bounded list of confirmed images shown on the
// secondary display.
package gallery

import (
	"sync"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/imaging"
)

// DefaultMaxImages is the gallery capacity when none is configured.
const DefaultMaxImages = 50

// Gallery is a bounded, ordered set of image paths. When full, adding an
// image evicts the oldest one. Safe for concurrent use.
type Gallery struct {
	mu    sync.RWMutex
	max   int
	items []string
}

// New creates an empty gallery holding at most max images.
func New(max int) *Gallery {
	if max <= 0 {
		max = DefaultMaxImages
	}
	return &Gallery{max: max}
}

// LoadExisting adds the *.png files already present in dir, in name order.
// A missing directory loads nothing.
func (g *Gallery) LoadExisting(dir string) (int, error) {
	files, err := imaging.ListPNG(dir)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, f := range files {
		if g.Add(f) {
			added++
		}
	}
	debug.Info("Gallery: loaded %d existing images from %s", added, dir)
	return added, nil
}

// Add appends path. It returns false when path is already shown.
func (g *Gallery) Add(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, p := range g.items {
		if p == path {
			return false
		}
	}
	g.items = append(g.items, path)
	if len(g.items) > g.max {
		evicted := g.items[0]
		g.items = append([]string(nil), g.items[len(g.items)-g.max:]...)
		debug.Verbose("Gallery: evicted %s", evicted)
	}
	debug.Verbose("Gallery: added %s (%d/%d)", path, len(g.items), g.max)
	return true
}

// Items returns the shown paths, oldest first.
func (g *Gallery) Items() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.items...)
}

// Len returns the number of shown images.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.items)
}

// Max returns the capacity.
func (g *Gallery) Max() int {
	return g.max
}
