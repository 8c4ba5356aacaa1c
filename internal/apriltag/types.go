package apriltag

import (
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/tagpose/internal/camera"
)

// Point2 is a point in image pixel coordinates.
type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RawDetection is one decoded marker as reported by a detector backend.
// Corners are in the backend's winding order; the homography maps the
// canonical tag frame (corners at ±1) to image pixels, row-major.
type RawDetection struct {
	Family         string     `json:"family"`
	ID             int        `json:"id"`
	Hamming        int        `json:"hamming"`
	DecisionMargin float64    `json:"decision_margin"`
	Center         Point2     `json:"center"`
	Corners        [4]Point2  `json:"corners"`
	Homography     [9]float64 `json:"homography"`
}

// DetectionRecord is the published mirror of a raw detection that survived
// the registry filters.
type DetectionRecord struct {
	Family         string     `json:"family"`
	ID             int        `json:"id"`
	Hamming        int        `json:"hamming"`
	DecisionMargin float64    `json:"decision_margin"`
	Center         Point2     `json:"centre"`
	Corners        [4]Point2  `json:"corners"`
	Homography     [9]float64 `json:"homography"`
}

// PoseTransform is the reconstructed 6-DoF pose of one marker relative to
// the camera frame that observed it.
type PoseTransform struct {
	ParentFrame string      `json:"parent_frame"`
	ChildFrame  string      `json:"child_frame"`
	CapturedAt  time.Time   `json:"captured_at"`
	Translation r3.Vector   `json:"translation"`
	Rotation    quat.Number `json:"rotation"`
}

// PhaseTiming is one stage of a detector's internal timing breakdown.
type PhaseTiming struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
}

// FrameResult is the per-frame output batch handed to the publisher.
// Detections holds every accepted detection (possibly empty) and
// Transforms[i] is the reconstructed pose for Detections[i]. Frame
// references the source frame for consumers that need pixel data; it is
// immutable after publish.
type FrameResult struct {
	Seq            uint32            `json:"seq"`
	CapturedAt     time.Time         `json:"captured_at"`
	ParentFrame    string            `json:"parent_frame"`
	Detections     []DetectionRecord `json:"detections"`
	Transforms     []PoseTransform   `json:"transforms"`
	DetectDuration time.Duration     `json:"detect_duration_ns"`
	Timing         []PhaseTiming     `json:"timing,omitempty"`
	Frame          *camera.Frame     `json:"-"`
}
