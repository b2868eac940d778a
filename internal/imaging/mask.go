// Package imaging removes the background from captured frames and manages
// the capture, staged and confirmed artifacts on disk.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"

	"github.com/cjeanneret/BoothGo/internal/debug"
)

// MaskFraction is the share of brightest pixels made transparent.
const MaskFraction = 0.10

// Luma returns the NTSC-weighted brightness of c normalized to [0,1].
func Luma(c color.NRGBA) float64 {
	return (0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)) / 255
}

// toNRGBA copies img into a non-premultiplied buffer so alpha can change
// without touching RGB.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetNRGBA(x-b.Min.X, y-b.Min.Y, c)
		}
	}
	return out
}

// Threshold returns the luma value at or above which pixels are masked.
// lumas is not modified. An empty set masks nothing.
func Threshold(lumas []float64) float64 {
	n := len(lumas)
	if n == 0 {
		return 1.0
	}
	sorted := append([]float64(nil), lumas...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	// k brightest pixels: the boundary is the k-th value, rank k-1.
	k := int(float64(n) * MaskFraction)
	rank := k - 1
	if rank < 0 {
		rank = 0
	}
	if rank > n-1 {
		rank = n - 1
	}
	return sorted[rank]
}

// Mask returns a copy of img where every pixel whose luma reaches the
// brightest-10% threshold is fully transparent. RGB is left untouched.
func Mask(img image.Image) *image.NRGBA {
	out := toNRGBA(img)
	pix := len(out.Pix) / 4
	lumas := make([]float64, pix)
	for i := 0; i < pix; i++ {
		p := out.Pix[i*4 : i*4+4 : i*4+4]
		lumas[i] = Luma(color.NRGBA{R: p[0], G: p[1], B: p[2], A: p[3]})
	}
	if pix == 0 {
		return out
	}

	threshold := Threshold(lumas)
	for i, l := range lumas {
		if l >= threshold {
			out.Pix[i*4+3] = 0
		}
	}
	return out
}

// Encode returns the lossless PNG encoding of img.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Persist encodes img as PNG and writes it to path, creating the parent
// directory when absent.
func Persist(img image.Image, path string) error {
	data, err := Encode(img)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	debug.Verbose("Imaging: wrote %s (%d bytes)", path, len(data))
	return nil
}

// SaveRaw archives an unmodified encode of img without blocking the caller.
// The channel receives exactly one value and is then closed.
func SaveRaw(img image.Image, path string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- Persist(img, path)
	}()
	return done
}

// Processor masks captures and writes them to their staged path.
type Processor struct{}

// NewProcessor returns the brightest-pixel background remover.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process masks img and writes the result to stagedPath. It is meant to
// run off the control goroutine; a cancelled ctx skips the write.
func (p *Processor) Process(ctx context.Context, img image.Image, stagedPath string) error {
	masked := Mask(img)
	if err := ctx.Err(); err != nil {
		return err
	}
	return Persist(masked, stagedPath)
}
