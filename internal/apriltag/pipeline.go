// Package apriltag implements the planar marker detection and pose
// pipeline: inverting camera intrinsics, running a detector backend over
// monochrome frames, filtering detections by registry policy and
// reconstructing each surviving marker's pose from its homography.
package apriltag

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tagpose/internal/camera"
)

// PipelineConfig configures a detection pipeline.
type PipelineConfig struct {
	Registry *TagRegistry
	Detector Detector

	// Params is the initial detector tuning, applied to the detector at
	// construction. Zero value means DefaultDetectorParams.
	Params DetectorParams

	// ParentFrame is the coordinate frame id assigned to published poses
	// (default "camera").
	ParentFrame string
}

// Pipeline runs the per-frame detection cycle and is the single gateway
// for live configuration updates. One RWMutex guards the registry's
// mutable flags and the detector's tuning state: it is held exclusively
// across the detector invocation and across a whole update batch, and
// never across pose computation or output delivery.
type Pipeline struct {
	mu       sync.RWMutex
	registry *TagRegistry
	detector Detector
	params   DetectorParams
	parent   string

	closeOnce sync.Once
	closeErr  error

	framesIn       atomic.Uint64
	framesDisabled atomic.Uint64
	framesFailed   atomic.Uint64
	rawDetections  atomic.Uint64
	accepted       atomic.Uint64
	lastDetectNs   atomic.Int64
}

// NewPipeline wires a registry and detector into a pipeline and pushes the
// initial detector tuning onto the backend.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	params := cfg.Params
	if params == (DetectorParams{}) {
		params = DefaultDetectorParams()
	}
	parent := cfg.ParentFrame
	if parent == "" {
		parent = "camera"
	}

	p := &Pipeline{
		registry: cfg.Registry,
		detector: cfg.Detector,
		params:   params,
		parent:   parent,
	}
	p.detector.ApplyParams(params)
	return p
}

// Registry returns the pipeline's tag registry.
func (p *Pipeline) Registry() *TagRegistry { return p.registry }

// Flags snapshots the live-tunable switches in one locked read.
func (p *Pipeline) Flags() Flags {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.registry.flags()
}

// Params returns the full current parameter set.
func (p *Pipeline) Params() Params {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paramsLocked()
}

// ApplyUpdate applies one tuning batch and returns the resulting full
// parameter set. The batch is all-or-nothing with respect to frame
// processing: every frame started after ApplyUpdate returns observes the
// whole batch.
func (p *Pipeline) ApplyUpdate(u ParamUpdate) Params {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.registry
	if u.MaxHamming != nil {
		r.maxHamming = *u.MaxHamming
	}
	if u.Profile != nil {
		r.profile = *u.Profile
	}
	if u.ZUp != nil {
		r.zUp = *u.ZUp
	}
	if u.Enabled != nil {
		r.enabled = *u.Enabled
	}

	knobs := p.params
	changed := false
	if u.Threads != nil {
		knobs.Threads = *u.Threads
		changed = true
	}
	if u.Decimate != nil {
		knobs.Decimate = *u.Decimate
		changed = true
	}
	if u.Blur != nil {
		knobs.Blur = *u.Blur
		changed = true
	}
	if u.RefineEdges != nil {
		knobs.RefineEdges = *u.RefineEdges
		changed = true
	}
	if u.Sharpening != nil {
		knobs.Sharpening = *u.Sharpening
		changed = true
	}
	if u.Debug != nil {
		knobs.Debug = *u.Debug
		changed = true
	}
	if changed {
		p.params = knobs
		p.detector.ApplyParams(knobs)
	}

	applied := p.paramsLocked()
	debugf("[Pipeline] applied parameter update: %+v", applied)
	return applied
}

func (p *Pipeline) paramsLocked() Params {
	f := p.registry.flags()
	return Params{
		MaxHamming:  f.MaxHamming,
		Profile:     f.Profile,
		ZUp:         f.ZUp,
		Enabled:     f.Enabled,
		Threads:     p.params.Threads,
		Decimate:    p.params.Decimate,
		Blur:        p.params.Blur,
		RefineEdges: p.params.RefineEdges,
		Sharpening:  p.params.Sharpening,
		Debug:       p.params.Debug,
	}
}

// ProcessFrame runs one detection cycle. It returns (nil, nil) when the
// pipeline is disabled: a deliberate kill-switch, not an error state. Any
// error is confined to this frame; callers log it and continue with the
// next frame.
func (p *Pipeline) ProcessFrame(frame *camera.Frame) (*FrameResult, error) {
	p.framesIn.Add(1)

	flags := p.Flags()
	if !flags.Enabled {
		p.framesDisabled.Add(1)
		return nil, nil
	}

	pinv, err := InvertIntrinsics(frame.Projection)
	if err != nil {
		p.framesFailed.Add(1)
		return nil, fmt.Errorf("frame %d: %w", frame.Seq, err)
	}

	// The lock covers only the detector call: it keeps tuning updates out
	// of an in-flight detect, not the downstream filtering and pose work.
	p.mu.Lock()
	start := time.Now()
	raw, err := p.detector.Detect(frame)
	detectDur := time.Since(start)
	var timing []PhaseTiming
	if flags.Profile {
		timing = p.detector.TimingProfile()
	}
	p.mu.Unlock()

	if err != nil {
		p.framesFailed.Add(1)
		return nil, fmt.Errorf("detect frame %d: %w", frame.Seq, err)
	}
	p.lastDetectNs.Store(int64(detectDur))
	p.rawDetections.Add(uint64(len(raw)))

	result := &FrameResult{
		Seq:            frame.Seq,
		CapturedAt:     frame.CapturedAt,
		ParentFrame:    p.parent,
		Detections:     make([]DetectionRecord, 0, len(raw)),
		Transforms:     make([]PoseTransform, 0, len(raw)),
		DetectDuration: detectDur,
		Timing:         timing,
		Frame:          frame,
	}

	for _, det := range raw {
		// ignore untracked tags
		if !p.registry.ShouldTrack(det.ID) {
			continue
		}
		// reject detections with more corrected bits than allowed
		if det.Hamming > flags.MaxHamming {
			continue
		}

		result.Detections = append(result.Detections, DetectionRecord{
			Family:         det.Family,
			ID:             det.ID,
			Hamming:        det.Hamming,
			DecisionMargin: det.DecisionMargin,
			Center:         det.Center,
			Corners:        det.Corners,
			Homography:     det.Homography,
		})

		translation, rotation := PoseFromHomography(det.Homography, pinv, p.registry.LookupSize(det.ID), flags.ZUp)
		result.Transforms = append(result.Transforms, PoseTransform{
			ParentFrame: p.parent,
			ChildFrame:  p.registry.LookupFrameName(det.ID, det.Family),
			CapturedAt:  frame.CapturedAt,
			Translation: translation,
			Rotation:    rotation,
		})
	}

	p.accepted.Add(uint64(len(result.Detections)))
	debugf("[Pipeline] frame %d: %d raw, %d accepted, detect took %v",
		frame.Seq, len(raw), len(result.Detections), detectDur)
	return result, nil
}

// Close releases the detector handle. Safe to call more than once; only
// the first call closes the backend.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closeErr = p.detector.Close()
	})
	return p.closeErr
}

// PipelineStats is a snapshot of the pipeline counters.
type PipelineStats struct {
	FramesIn           uint64  `json:"frames_in"`
	FramesDisabled     uint64  `json:"frames_skipped_disabled"`
	FramesFailed       uint64  `json:"frames_skipped_error"`
	RawDetections      uint64  `json:"detections_raw"`
	AcceptedDetections uint64  `json:"detections_accepted"`
	LastDetectMillis   float64 `json:"last_detect_ms"`
}

// Stats returns the current counter values.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		FramesIn:           p.framesIn.Load(),
		FramesDisabled:     p.framesDisabled.Load(),
		FramesFailed:       p.framesFailed.Load(),
		RawDetections:      p.rawDetections.Load(),
		AcceptedDetections: p.accepted.Load(),
		LastDetectMillis:   float64(p.lastDetectNs.Load()) / 1e6,
	}
}
