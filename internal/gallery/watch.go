package gallery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/cjeanneret/BoothGo/internal/debug"
)

// Watcher feeds a gallery from new *.png files appearing in a directory.
type Watcher struct {
	gallery   *Gallery
	dir       string
	fsWatcher *fsnotify.Watcher
}

// NewWatcher starts watching dir. The directory must exist. Files created
// after NewWatcher returns are picked up once Run is called.
func NewWatcher(g *Gallery, dir string) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absDir)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(absDir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", absDir, err)
	}
	debug.Info("Gallery: watching %s", absDir)
	return &Watcher{gallery: g, dir: absDir, fsWatcher: fsWatcher}, nil
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}

// Run handles filesystem events until ctx is cancelled, then releases the
// watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsWatcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			// Promotion renames into the directory, which reports Create.
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".png") {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}
			w.gallery.Add(event.Name)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			debug.Error("gallery watch", err)
		}
	}
}
