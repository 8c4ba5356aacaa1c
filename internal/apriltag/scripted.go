package apriltag

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/tagpose/internal/camera"
)

// Script is a deterministic detection fixture: the raw detections a
// detector backend would report, keyed by frame sequence number.
type Script struct {
	Family string        `json:"family"`
	Frames []ScriptFrame `json:"frames"`
}

// ScriptFrame holds the scripted detections for one frame sequence.
type ScriptFrame struct {
	Seq        uint32         `json:"seq"`
	Detections []RawDetection `json:"detections"`
}

// ParseScript decodes a JSON detection script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse detection script: %w", err)
	}
	return &s, nil
}

// SyntheticTag is one marker in a synthetic scene, posed relative to the
// camera. A zero Rotation means the identity orientation.
type SyntheticTag struct {
	ID          int
	Size        float64
	Translation r3.Vector
	Rotation    quat.Number
}

// DefaultSyntheticScene returns a small scene for development runs without
// camera hardware: three tags at different depths in front of the camera.
func DefaultSyntheticScene() []SyntheticTag {
	return []SyntheticTag{
		{ID: 0, Size: 0.16, Translation: r3.Vector{X: -0.25, Y: 0.05, Z: 1.2}},
		{ID: 3, Size: 0.16, Translation: r3.Vector{X: 0.30, Y: -0.10, Z: 1.8}},
		{ID: 7, Size: 0.08, Translation: r3.Vector{X: 0.05, Y: 0.20, Z: 0.9}},
	}
}

// ScriptedDetectorConfig configures a scripted detector. When Script is
// set, detections are replayed by frame sequence; otherwise Scene tags are
// reprojected through each frame's own projection matrix. Both empty is
// valid and detects nothing.
type ScriptedDetectorConfig struct {
	Family string
	Script *Script
	Scene  []SyntheticTag
}

// ScriptedDetector is the in-tree Detector implementation: deterministic,
// fixture-driven, with the same output shape a native backend would
// produce. It stands in for a real detector binding in development mode
// and tests. Calls are serialised by the owning pipeline's lock.
type ScriptedDetector struct {
	family Family
	script map[uint32][]RawDetection
	scene  []SyntheticTag
	params DetectorParams
	timing []PhaseTiming
	closed bool
}

// NewScriptedDetector builds a scripted detector for the named family.
func NewScriptedDetector(cfg ScriptedDetectorConfig) (*ScriptedDetector, error) {
	family, err := LookupFamily(cfg.Family)
	if err != nil {
		return nil, err
	}

	d := &ScriptedDetector{
		family: family,
		scene:  cfg.Scene,
		params: DefaultDetectorParams(),
	}

	if cfg.Script != nil {
		d.script = make(map[uint32][]RawDetection, len(cfg.Script.Frames))
		for _, sf := range cfg.Script.Frames {
			d.script[sf.Seq] = sf.Detections
		}
	}

	return d, nil
}

// Detect reports the scripted or synthesised detections for frame.
func (d *ScriptedDetector) Detect(frame *camera.Frame) ([]RawDetection, error) {
	if d.closed {
		return nil, ErrDetectorClosed
	}
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("malformed image: empty geometry")
	}
	if frame.Stride < frame.Width || len(frame.Pixels) < frame.Stride*frame.Height {
		return nil, fmt.Errorf("malformed image: %dx%d stride %d with %d pixel bytes",
			frame.Width, frame.Height, frame.Stride, len(frame.Pixels))
	}

	var dets []RawDetection
	if d.script != nil {
		scripted := d.script[frame.Seq]
		dets = make([]RawDetection, len(scripted))
		copy(dets, scripted)
		for i := range dets {
			if dets[i].Family == "" {
				dets[i].Family = d.family.Name
			}
		}
	} else {
		dets = d.projectScene(frame)
	}

	d.timing = d.profile(frame, len(dets))
	return dets, nil
}

// projectScene reprojects the scene tags through the frame's projection
// matrix, reporting only tags whose centre lands inside the image.
func (d *ScriptedDetector) projectScene(frame *camera.Frame) []RawDetection {
	p := frame.Projection
	dets := make([]RawDetection, 0, len(d.scene))

	for _, tag := range d.scene {
		rot := tag.Rotation
		if rot == (quat.Number{}) {
			rot = quat.Number{Real: 1}
		}
		half := tag.Size / 2
		r0 := rotateVector(rot, r3.Vector{X: 1})
		r1 := rotateVector(rot, r3.Vector{Y: 1})

		// H = K·[s/2·r0  s/2·r1  t]: the canonical corner (u,v) sits at
		// u·s/2·r0 + v·s/2·r1 + t in the camera frame.
		var h [9]float64
		for row := 0; row < 3; row++ {
			kx, ky, kz := p[row*4+0], p[row*4+1], p[row*4+2]
			h[row*3+0] = half * (kx*r0.X + ky*r0.Y + kz*r0.Z)
			h[row*3+1] = half * (kx*r1.X + ky*r1.Y + kz*r1.Z)
			h[row*3+2] = kx*tag.Translation.X + ky*tag.Translation.Y + kz*tag.Translation.Z
		}

		center, ok := projectPoint(h, 0, 0)
		if !ok || center.X < 0 || center.Y < 0 ||
			center.X >= float64(frame.Width) || center.Y >= float64(frame.Height) {
			continue
		}

		det := RawDetection{
			Family:         d.family.Name,
			ID:             tag.ID,
			Hamming:        0,
			DecisionMargin: 40 + float64((tag.ID*13)%37),
			Center:         center,
			Homography:     h,
		}
		corners := [4][2]float64{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
		visible := true
		for i, c := range corners {
			pt, ok := projectPoint(h, c[0], c[1])
			if !ok {
				visible = false
				break
			}
			det.Corners[i] = pt
		}
		if !visible {
			continue
		}
		dets = append(dets, det)
	}
	return dets
}

// projectPoint maps a canonical tag coordinate through the homography into
// pixel space. It reports failure when the point is at or behind the
// projection plane.
func projectPoint(h [9]float64, u, v float64) (Point2, bool) {
	w := h[6]*u + h[7]*v + h[8]
	if w <= 1e-9 {
		return Point2{}, false
	}
	return Point2{
		X: (h[0]*u + h[1]*v + h[2]) / w,
		Y: (h[3]*u + h[4]*v + h[5]) / w,
	}, true
}

// rotateVector applies the rotation quaternion q to v.
func rotateVector(q quat.Number, v r3.Vector) r3.Vector {
	qv := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, qv), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// ApplyParams records the tuning knobs. The decimation factor feeds the
// synthetic timing profile the same way it shrinks the quad-detection
// working image in a native backend.
func (d *ScriptedDetector) ApplyParams(p DetectorParams) {
	d.params = p
}

// Params returns the currently applied tuning knobs.
func (d *ScriptedDetector) Params() DetectorParams {
	return d.params
}

// TimingProfile returns the timing breakdown of the most recent Detect.
func (d *ScriptedDetector) TimingProfile() []PhaseTiming {
	return d.timing
}

// profile synthesises a per-phase timing breakdown proportional to the
// work a native detector would do on this frame under the current knobs.
func (d *ScriptedDetector) profile(frame *camera.Frame, detections int) []PhaseTiming {
	pixels := float64(frame.Width * frame.Height)
	dec := d.params.Decimate
	if dec < 1 {
		dec = 1
	}
	decimated := pixels / (dec * dec)

	phases := []PhaseTiming{
		{Name: "decimate", Duration: time.Duration(pixels * 0.4)},
		{Name: "blur/sharp", Duration: 0},
		{Name: "threshold", Duration: time.Duration(decimated * 0.6)},
		{Name: "unionfind", Duration: time.Duration(decimated * 1.1)},
		{Name: "quads", Duration: time.Duration(decimated * 0.9)},
		{Name: "decode+refinement", Duration: time.Duration(float64(detections)*40e3 + decimated*0.2)},
		{Name: "reconcile", Duration: time.Duration(float64(detections) * 2e3)},
	}
	if d.params.Blur > 0 {
		phases[1].Duration = time.Duration(decimated * 0.8)
	}
	if d.params.RefineEdges {
		phases[5].Duration += time.Duration(float64(detections) * 15e3)
	}
	return phases
}

// Close releases the detector. It is safe to call Close multiple times;
// Detect after Close reports ErrDetectorClosed.
func (d *ScriptedDetector) Close() error {
	d.closed = true
	return nil
}
