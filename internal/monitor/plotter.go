package monitor

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/tagpose/internal/apriltag"
	"github.com/banshee-data/tagpose/internal/security"
)

// TagPlotter records per-tag detection series over a run and renders
// per-tag PNG time-series plots after it. It samples each published frame
// result, accumulating data that can be plotted on demand or at shutdown.
type TagPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string

	// samples holds per-tag time series, keyed by tag id.
	samples  map[int][]TagSample
	frameIdx int
}

// TagSample represents one observation of a tag in one frame.
type TagSample struct {
	FrameIdx  int
	Timestamp time.Time
	// Margin is the detector's decision margin for this observation.
	Margin float64
	// RangeZ is the reconstructed camera-frame z distance.
	RangeZ float64
	// DetectMillis is the whole frame's detect time.
	DetectMillis float64
}

// NewTagPlotter creates a plotter with sampling disabled.
func NewTagPlotter() *TagPlotter {
	return &TagPlotter{
		samples: make(map[int][]TagSample),
	}
}

// Start initializes the plotter for a new run.
// outputDir should be a timestamped directory (e.g., "plots/20260107_173129")
func (tp *TagPlotter) Start(outputDir string) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	tp.outputDir = outputDir
	tp.enabled = true
	tp.frameIdx = 0
	tp.samples = make(map[int][]TagSample)
	return nil
}

// Stop disables sampling. Call GeneratePlots() to produce output files.
func (tp *TagPlotter) Stop() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (tp *TagPlotter) IsEnabled() bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.enabled
}

// Sample records one frame result. Call this once per published frame.
func (tp *TagPlotter) Sample(res *apriltag.FrameResult) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if !tp.enabled || res == nil {
		return
	}
	tp.frameIdx++

	detectMillis := float64(res.DetectDuration) / float64(time.Millisecond)
	for i, det := range res.Detections {
		sample := TagSample{
			FrameIdx:     tp.frameIdx,
			Timestamp:    res.CapturedAt,
			Margin:       det.DecisionMargin,
			DetectMillis: detectMillis,
		}
		if i < len(res.Transforms) {
			sample.RangeZ = res.Transforms[i].Translation.Z
		}
		tp.samples[det.ID] = append(tp.samples[det.ID], sample)
	}
}

// Run consumes a publisher subscription until ctx is cancelled or the
// channel closes.
func (tp *TagPlotter) Run(ctx context.Context, results <-chan *apriltag.FrameResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			tp.Sample(res)
		}
	}
}

// GeneratePlots creates PNG files for each observed tag: decision margin,
// z distance and detect time over frames. Returns the number of tags
// plotted and any error.
func (tp *TagPlotter) GeneratePlots() (int, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}

	if len(tp.samples) == 0 {
		return 0, nil
	}

	var ids []int
	for id := range tp.samples {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	plotCount := 0
	for _, id := range ids {
		if err := tp.generateTagPlots(id, tp.samples[id]); err != nil {
			return plotCount, fmt.Errorf("tag %d: %w", id, err)
		}
		plotCount++
	}

	return plotCount, nil
}

// generateTagPlots creates the three metric plots for one tag.
func (tp *TagPlotter) generateTagPlots(id int, samples []TagSample) error {
	if len(samples) == 0 {
		return nil
	}

	sort.Slice(samples, func(a, b int) bool {
		return samples[a].FrameIdx < samples[b].FrameIdx
	})

	marginPts := make(plotter.XYs, 0, len(samples))
	zPts := make(plotter.XYs, 0, len(samples))
	msPts := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		marginPts = append(marginPts, plotter.XY{X: float64(s.FrameIdx), Y: s.Margin})
		// Skip zero z values (no pose was reconstructed)
		if s.RangeZ != 0 {
			zPts = append(zPts, plotter.XY{X: float64(s.FrameIdx), Y: s.RangeZ})
		}
		msPts = append(msPts, plotter.XY{X: float64(s.FrameIdx), Y: s.DetectMillis})
	}

	metrics := []struct {
		title  string
		yLabel string
		file   string
		pts    plotter.XYs
		color  color.Color
	}{
		{fmt.Sprintf("Tag %d - Decision Margin", id), "Margin", fmt.Sprintf("tag_%03d_margin.png", id), marginPts, color.RGBA{R: 31, G: 119, B: 180, A: 255}},
		{fmt.Sprintf("Tag %d - Z Distance", id), "Distance (m)", fmt.Sprintf("tag_%03d_range_z.png", id), zPts, color.RGBA{R: 44, G: 160, B: 44, A: 255}},
		{fmt.Sprintf("Tag %d - Detect Time", id), "Detect (ms)", fmt.Sprintf("tag_%03d_detect_ms.png", id), msPts, color.RGBA{R: 255, G: 127, B: 14, A: 255}},
	}

	for _, m := range metrics {
		if len(m.pts) == 0 {
			continue
		}

		p := plot.New()
		p.Title.Text = m.title
		p.X.Label.Text = "Frame"
		p.Y.Label.Text = m.yLabel

		line, err := plotter.NewLine(m.pts)
		if err != nil {
			return err
		}
		line.Color = m.color
		line.Width = vg.Points(1)
		p.Add(line)

		file := filepath.Join(tp.outputDir, m.file)
		if err := p.Save(10*vg.Inch, 4*vg.Inch, file); err != nil {
			return fmt.Errorf("save %s: %w", m.file, err)
		}
	}

	return nil
}

// GetOutputDir returns the current output directory for plots.
func (tp *TagPlotter) GetOutputDir() string {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.outputDir
}

// SampleCount returns the total number of samples collected.
func (tp *TagPlotter) SampleCount() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	count := 0
	for _, samples := range tp.samples {
		count += len(samples)
	}
	return count
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir creates a timestamped output directory path for plots.
// For replay runs: <baseDir>/<capture_basename>/<timestamp>
// For live data: <baseDir>/live_<timestamp>
func MakePlotOutputDir(baseDir, captureFile string) string {
	ts := FormatTimestamp(time.Now())
	if captureFile != "" {
		base := filepath.Base(captureFile)
		ext := filepath.Ext(base)
		name := security.SanitizeFilename(base[:len(base)-len(ext)])
		return filepath.Join(baseDir, name, ts)
	}
	return filepath.Join(baseDir, "live_"+ts)
}
