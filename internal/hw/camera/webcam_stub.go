//go:build !gocv

package camera

import "image"

// WebcamAvailable reports whether the binary was built with OpenCV support.
const WebcamAvailable = false

type unavailableWebcam struct{}

// NewWebcam returns a device that always fails to open.
func NewWebcam(id int) Device {
	return unavailableWebcam{}
}

// WebcamOpener returns an Opener producing webcams.
func WebcamOpener() Opener {
	return NewWebcam
}

func (unavailableWebcam) Open(width, height int) error     { return ErrWebcamUnavailable }
func (unavailableWebcam) Grab() (image.Image, bool, error) { return nil, false, ErrWebcamUnavailable }
func (unavailableWebcam) Close() error                     { return nil }
