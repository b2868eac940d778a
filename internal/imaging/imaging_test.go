package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/BoothGo/internal/logic/status"
)

// grayRow builds a 1-pixel-high opaque image from gray levels.
func grayRow(levels ...uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, len(levels), 1))
	for x, g := range levels {
		img.SetNRGBA(x, 0, color.NRGBA{R: g, G: g, B: g, A: 255})
	}
	return img
}

func alphas(img *image.NRGBA) []uint8 {
	out := make([]uint8, 0, len(img.Pix)/4)
	for i := 3; i < len(img.Pix); i += 4 {
		out = append(out, img.Pix[i])
	}
	return out
}

func TestLuma_NTSCWeights(t *testing.T) {
	assert.InDelta(t, 0.299, Luma(color.NRGBA{R: 255}), 1e-9)
	assert.InDelta(t, 0.587, Luma(color.NRGBA{G: 255}), 1e-9)
	assert.InDelta(t, 0.114, Luma(color.NRGBA{B: 255}), 1e-9)
	assert.InDelta(t, 1.0, Luma(color.NRGBA{R: 255, G: 255, B: 255}), 1e-9)
	assert.Equal(t, 0.0, Luma(color.NRGBA{}))
}

func TestMask_TenPixelsMasksBrightestOnly(t *testing.T) {
	// luma 0.9, 0.8, ... 0.0
	img := grayRow(230, 204, 179, 153, 128, 102, 77, 51, 26, 0)
	out := Mask(img)

	got := alphas(out)
	assert.Equal(t, uint8(0), got[0], "brightest pixel must be transparent")
	for i := 1; i < len(got); i++ {
		assert.Equal(t, uint8(255), got[i], "pixel %d must stay opaque", i)
	}
}

func TestMask_RGBUntouched(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 1))
	for x := 0; x < 10; x++ {
		img.SetNRGBA(x, 0, color.NRGBA{R: uint8(20 * x), G: uint8(10 * x), B: 7, A: 255})
	}
	out := Mask(img)
	for i := 0; i < len(img.Pix); i += 4 {
		assert.Equal(t, img.Pix[i:i+3], out.Pix[i:i+3])
	}
	// Source is not modified.
	assert.Equal(t, uint8(255), img.Pix[len(img.Pix)-1])
}

func TestMask_HundredPixelsMasksTen(t *testing.T) {
	levels := make([]uint8, 100)
	for i := range levels {
		levels[i] = uint8(i * 2)
	}
	out := Mask(grayRow(levels...))

	transparent := 0
	for _, a := range alphas(out) {
		if a == 0 {
			transparent++
		}
	}
	assert.Equal(t, 10, transparent)
	// The ten brightest are the last ten columns.
	for x := 90; x < 100; x++ {
		assert.Equal(t, uint8(0), out.NRGBAAt(x, 0).A)
	}
}

func TestMask_TiesAtThresholdAreAllMasked(t *testing.T) {
	// 20 pixels, k=2; three share the top value so three are masked.
	levels := make([]uint8, 20)
	for i := range levels {
		levels[i] = uint8(i)
	}
	levels[17], levels[18], levels[19] = 250, 250, 250
	out := Mask(grayRow(levels...))

	transparent := 0
	for _, a := range alphas(out) {
		if a == 0 {
			transparent++
		}
	}
	assert.Equal(t, 3, transparent)
}

func TestMask_UniformImageFullyMasked(t *testing.T) {
	out := Mask(grayRow(100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100))
	for _, a := range alphas(out) {
		assert.Equal(t, uint8(0), a)
	}
}

func TestMask_FewerThanTenPixels(t *testing.T) {
	// k=0 clamps to rank 0: only the brightest goes.
	out := Mask(grayRow(10, 200, 30))
	assert.Equal(t, []uint8{255, 0, 255}, alphas(out))
}

func TestMask_Empty(t *testing.T) {
	out := Mask(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	assert.Empty(t, out.Pix)
	assert.Equal(t, 1.0, Threshold(nil))
}

func TestMask_OffsetBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 15, 6))
	for x := 5; x < 15; x++ {
		g := uint8((x - 5) * 20)
		src.SetRGBA(x, 5, color.RGBA{R: g, G: g, B: g, A: 255})
	}
	out := Mask(src)
	assert.Equal(t, image.Rect(0, 0, 10, 1), out.Bounds())
	assert.Equal(t, uint8(0), out.NRGBAAt(9, 0).A)
	assert.Equal(t, uint8(255), out.NRGBAAt(0, 0).A)
}

func TestPersist_WritesDecodablePNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.png")
	img := Mask(grayRow(230, 204, 179, 153, 128, 102, 77, 51, 26, 0))

	require.NoError(t, Persist(img, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)

	c := color.NRGBAModel.Convert(decoded.At(0, 0)).(color.NRGBA)
	assert.Equal(t, uint8(0), c.A)
	c = color.NRGBAModel.Convert(decoded.At(1, 0)).(color.NRGBA)
	assert.Equal(t, uint8(255), c.A)
}

func TestPersist_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := Persist(grayRow(1, 2, 3), filepath.Join(blocker, "out.png"))
	assert.Error(t, err)
}

func TestSaveRaw_UnmodifiedEncode(t *testing.T) {
	dir := t.TempDir()
	img := grayRow(230, 204, 179, 153, 128, 102, 77, 51, 26, 0)
	path := filepath.Join(dir, "raw.png")

	require.NoError(t, <-SaveRaw(img, path))

	want, err := Encode(img)
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(want, got))
}

func TestProcessor_WritesMaskedOutput(t *testing.T) {
	dir := t.TempDir()
	img := grayRow(230, 204, 179, 153, 128, 102, 77, 51, 26, 0)
	path := filepath.Join(dir, "staged", "webcam_0_x.png")

	require.NoError(t, NewProcessor().Process(context.Background(), img, path))

	want, err := Encode(Mask(img))
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestProcessor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "a.png")
	err := NewProcessor().Process(ctx, grayRow(1, 2), path)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, Exists(path))
}

func TestLayout_Paths(t *testing.T) {
	l := Layout{CaptureDir: "cap", StagedDir: "stg", ConfirmedDir: "cnf"}
	base := BaseName(0, "20240101120000")

	assert.Equal(t, "webcam_0_20240101120000", base)
	assert.Equal(t, filepath.Join("cap", "webcam_0_20240101120000.png"), l.RawPath(base))
	assert.Equal(t, filepath.Join("stg", "webcam_0_20240101120000.png"), l.StagedPath(base))
	assert.Equal(t, filepath.Join("cnf", "webcam_0_20240101120000_Crazy.png"), l.ConfirmedPath(base, status.Crazy))
}

func TestPromoteToConfirmed_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "staged", "a.png")
	confirmed := filepath.Join(dir, "confirmed", "sub", "a_Healer.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(staged), 0o755))
	require.NoError(t, os.WriteFile(staged, []byte("payload"), 0o644))

	require.NoError(t, PromoteToConfirmed(staged, confirmed))

	assert.True(t, Exists(confirmed))
	assert.False(t, Exists(staged))
	data, err := os.ReadFile(confirmed)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestPromoteToConfirmed_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := PromoteToConfirmed(filepath.Join(dir, "nope.png"), filepath.Join(dir, "out.png"))
	assert.ErrorIs(t, err, ErrArtifactMissing)
	assert.False(t, Exists(filepath.Join(dir, "out.png")))
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	l := Layout{
		CaptureDir:   filepath.Join(root, "ImageCapture"),
		StagedDir:    filepath.Join(root, "ImageStaged"),
		ConfirmedDir: filepath.Join(root, "ImageConfirmed"),
	}
	require.NoError(t, l.EnsureDirs())
	for _, d := range []string{l.CaptureDir, l.StagedDir, l.ConfirmedDir} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestListPNGAndCleanDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.PNG", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	files, err := ListPNG(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.PNG"), filepath.Join(dir, "b.png")}, files)

	removed, err := CleanDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.True(t, Exists(filepath.Join(dir, "notes.txt")))

	removed, err = CleanDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, removed)
}
