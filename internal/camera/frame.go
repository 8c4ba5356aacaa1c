// Package camera defines the frame model shared by the ingest and
// detection layers, and the wire codec for the chunked UDP frame stream.
package camera

import (
	"image"
	"time"
)

// Frame is one reassembled monochrome 8-bit camera frame together with the
// projection matrix published alongside it. Frames are immutable once they
// leave the frame builder.
type Frame struct {
	Seq        uint32
	Width      int
	Height     int
	Stride     int
	Pixels     []byte
	CapturedAt time.Time
	Projection [12]float64 // row-major 3x4 projection matrix
}

// Gray wraps the frame's pixel buffer as an image without copying.
func (f *Frame) Gray() *image.Gray {
	return &image.Gray{
		Pix:    f.Pixels,
		Stride: f.Stride,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}
