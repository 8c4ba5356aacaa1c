// Package overlay renders annotated debug frames for detection runs.
//
// When enabled, the writer subscribes to published frame results and saves
// a PNG per frame that carried at least one accepted detection: the mono
// frame converted to RGBA with tag outlines and centers drawn, plus a
// scaled crop of each tag. A frame cap keeps long runs from filling the
// disk; once reached the writer disables itself.
package overlay

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/tagpose/internal/apriltag"
)

const (
	defaultMaxFrames = 200
	defaultCropPad   = 12
	defaultCropScale = 2.0
)

var (
	edgeColor   = color.RGBA{R: 0, G: 220, B: 60, A: 255}
	centerColor = color.RGBA{R: 255, G: 60, B: 60, A: 255}
)

// Config configures an overlay Writer.
type Config struct {
	// OutputDir receives the annotated PNGs. Created if missing.
	OutputDir string

	// MaxFrames caps how many frames are written before the writer
	// disables itself. Zero or negative selects the default (200).
	MaxFrames int

	// CropPad expands each tag's corner bounding box by this many pixels
	// before cropping. Zero or negative selects the default (12).
	CropPad int

	// CropScale is the upscale factor applied to tag crops. Values at or
	// below zero select the default (2.0).
	CropScale float64
}

// Writer saves annotated frames and per-tag crops to an output directory.
type Writer struct {
	outputDir string
	maxFrames int
	cropPad   int
	cropScale float64

	mu       sync.Mutex
	written  int
	disabled bool
}

// NewWriter creates the output directory and returns a ready writer.
func NewWriter(config Config) (*Writer, error) {
	if config.OutputDir == "" {
		return nil, fmt.Errorf("overlay output directory is required")
	}
	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create overlay dir: %w", err)
	}

	w := &Writer{
		outputDir: config.OutputDir,
		maxFrames: config.MaxFrames,
		cropPad:   config.CropPad,
		cropScale: config.CropScale,
	}
	if w.maxFrames <= 0 {
		w.maxFrames = defaultMaxFrames
	}
	if w.cropPad <= 0 {
		w.cropPad = defaultCropPad
	}
	if w.cropScale <= 0 {
		w.cropScale = defaultCropScale
	}
	return w, nil
}

// Run consumes a publisher subscription until ctx is cancelled or the
// channel closes. Write failures are logged, not fatal.
func (w *Writer) Run(ctx context.Context, results <-chan *apriltag.FrameResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if err := w.WriteFrame(res); err != nil {
				log.Printf("[Overlay] write frame %d: %v", res.Seq, err)
			}
		}
	}
}

// WriteFrame writes the annotated frame and per-tag crops for one result.
// Frames without detections or pixel data are skipped. Returns nil once
// the frame cap has been reached.
func (w *Writer) WriteFrame(res *apriltag.FrameResult) error {
	if res == nil || res.Frame == nil || len(res.Detections) == 0 {
		return nil
	}

	w.mu.Lock()
	if w.disabled {
		w.mu.Unlock()
		return nil
	}
	if w.written >= w.maxFrames {
		w.disabled = true
		w.mu.Unlock()
		log.Printf("[Overlay] frame cap (%d) reached, disabling writes", w.maxFrames)
		return nil
	}
	w.written++
	w.mu.Unlock()

	gray := res.Frame.Gray()
	annotated := annotate(gray, res.Detections)

	name := fmt.Sprintf("frame_%06d.png", res.Seq)
	if err := imaging.Save(annotated, filepath.Join(w.outputDir, name)); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}

	for _, det := range res.Detections {
		if err := w.writeCrop(annotated, res.Seq, det); err != nil {
			return err
		}
	}
	return nil
}

// writeCrop extracts the padded bounding box around one tag and saves it
// upscaled for close inspection.
func (w *Writer) writeCrop(img image.Image, seq uint32, det apriltag.DetectionRecord) error {
	rect := cornerBounds(det.Corners, w.cropPad).Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}

	cropped := imaging.Crop(img, rect)
	width := int(float64(rect.Dx()) * w.cropScale)
	height := int(float64(rect.Dy()) * w.cropScale)
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	scaled := imaging.Resize(cropped, width, height, imaging.Lanczos)

	name := fmt.Sprintf("frame_%06d_tag_%03d.png", seq, det.ID)
	if err := imaging.Save(scaled, filepath.Join(w.outputDir, name)); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Written returns how many frames have been saved so far.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Disabled reports whether the frame cap has been reached.
func (w *Writer) Disabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disabled
}

// annotate converts the mono frame to RGBA and draws each detection's
// outline and center marker.
func annotate(gray *image.Gray, dets []apriltag.DetectionRecord) *image.RGBA {
	bounds := gray.Bounds()
	result := image.NewRGBA(bounds)
	draw.Draw(result, bounds, gray, bounds.Min, draw.Src)

	for _, det := range dets {
		for i := 0; i < 4; i++ {
			drawLine(result, det.Corners[i], det.Corners[(i+1)%4], edgeColor)
		}
		drawCross(result, det.Center, centerColor)
	}
	return result
}

// drawLine draws a 1px segment between two points, clipped to the image.
func drawLine(img *image.RGBA, a, b apriltag.Point2, c color.Color) {
	steps := int(math.Max(math.Abs(b.X-a.X), math.Abs(b.Y-a.Y)))
	if steps < 1 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(a.X + (b.X-a.X)*t))
		y := int(math.Round(a.Y + (b.Y-a.Y)*t))
		if (image.Point{X: x, Y: y}).In(img.Bounds()) {
			img.Set(x, y, c)
		}
	}
}

// drawCross draws a small crosshair centered on a point.
func drawCross(img *image.RGBA, p apriltag.Point2, c color.Color) {
	cx := int(math.Round(p.X))
	cy := int(math.Round(p.Y))
	for d := -4; d <= 4; d++ {
		if (image.Point{X: cx + d, Y: cy}).In(img.Bounds()) {
			img.Set(cx+d, cy, c)
		}
		if (image.Point{X: cx, Y: cy + d}).In(img.Bounds()) {
			img.Set(cx, cy+d, c)
		}
	}
}

// cornerBounds returns the integer bounding box of the four corners,
// expanded by pad on every side.
func cornerBounds(corners [4]apriltag.Point2, pad int) image.Rectangle {
	minX, minY := corners[0].X, corners[0].Y
	maxX, maxY := corners[0].X, corners[0].Y
	for _, p := range corners[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return image.Rect(
		int(math.Floor(minX))-pad,
		int(math.Floor(minY))-pad,
		int(math.Ceil(maxX))+pad,
		int(math.Ceil(maxY))+pad,
	)
}
