//go:build gocv

package camera

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// WebcamAvailable reports whether the binary was built with OpenCV support.
const WebcamAvailable = true

// Webcam is a Device backed by an OpenCV video capture.
type Webcam struct {
	id  int
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// NewWebcam creates an OpenCV device handle for a device id.
func NewWebcam(id int) Device {
	return &Webcam{id: id}
}

// WebcamOpener returns an Opener producing Webcams.
func WebcamOpener() Opener {
	return NewWebcam
}

func (w *Webcam) Open(width, height int) error {
	c, err := gocv.VideoCaptureDevice(w.id)
	if err != nil {
		return fmt.Errorf("open video capture %d: %w", w.id, err)
	}
	c.Set(gocv.VideoCaptureFrameWidth, float64(width))
	c.Set(gocv.VideoCaptureFrameHeight, float64(height))
	w.cap = c
	w.mat = gocv.NewMat()
	return nil
}

// Grab reads the next frame. An empty read counts as "not updated".
func (w *Webcam) Grab() (image.Image, bool, error) {
	if w.cap == nil {
		return nil, false, fmt.Errorf("webcam %d not open", w.id)
	}
	if ok := w.cap.Read(&w.mat); !ok || w.mat.Empty() {
		return nil, false, nil
	}
	img, err := w.mat.ToImage()
	if err != nil {
		return nil, false, fmt.Errorf("convert frame: %w", err)
	}
	return img, true, nil
}

func (w *Webcam) Close() error {
	if w.cap == nil {
		return nil
	}
	w.mat.Close()
	err := w.cap.Close()
	w.cap = nil
	return err
}
