package gallery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGallery_EvictsOldest(t *testing.T) {
	g := New(3)
	for i := 0; i < 5; i++ {
		assert.True(t, g.Add(fmt.Sprintf("img%d.png", i)))
	}
	assert.Equal(t, []string{"img2.png", "img3.png", "img4.png"}, g.Items())
	assert.Equal(t, 3, g.Len())
}

func TestGallery_DuplicateIgnored(t *testing.T) {
	g := New(0)
	assert.Equal(t, DefaultMaxImages, g.Max())
	assert.True(t, g.Add("a.png"))
	assert.False(t, g.Add("a.png"))
	assert.Equal(t, 1, g.Len())
}

func TestGallery_ItemsIsCopy(t *testing.T) {
	g := New(2)
	g.Add("a.png")
	items := g.Items()
	items[0] = "changed"
	assert.Equal(t, "a.png", g.Items()[0])
}

func TestGallery_LoadExisting(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.png", "c.png", "skip.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	g := New(2)
	n, err := g.LoadExisting(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{filepath.Join(dir, "b.png"), filepath.Join(dir, "c.png")}, g.Items())

	n, err = New(2).LoadExisting(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWatcher_AddsNewPNG(t *testing.T) {
	dir := t.TempDir()
	g := New(10)
	w, err := NewWatcher(g, dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	absDir, err := filepath.Abs(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "webcam_0_x_Crazy.png"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		items := g.Items()
		return len(items) == 1 && items[0] == filepath.Join(absDir, "webcam_0_x_Crazy.png")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_RenameIntoDirectory(t *testing.T) {
	root := t.TempDir()
	watched := filepath.Join(root, "confirmed")
	require.NoError(t, os.Mkdir(watched, 0o755))
	src := filepath.Join(root, "staged.png")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	g := New(10)
	w, err := NewWatcher(g, watched)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.Rename(src, filepath.Join(watched, "moved.png")))
	assert.Eventually(t, func() bool { return g.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNewWatcher_MissingDir(t *testing.T) {
	_, err := NewWatcher(New(1), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
