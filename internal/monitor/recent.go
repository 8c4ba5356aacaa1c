package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/tagpose/internal/apriltag"
)

// RecentBuffer keeps the most recent frame results for the status API and
// the debug charts. Add overwrites the oldest entry once the buffer is
// full; nothing here blocks the publisher beyond a channel receive.
type RecentBuffer struct {
	mu      sync.Mutex
	entries []*apriltag.FrameResult
	next    int
	count   int
}

// NewRecentBuffer creates a buffer holding up to capacity results.
func NewRecentBuffer(capacity int) *RecentBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &RecentBuffer{entries: make([]*apriltag.FrameResult, capacity)}
}

// Add records one frame result. Nil results are ignored.
func (rb *RecentBuffer) Add(res *apriltag.FrameResult) {
	if res == nil {
		return
	}
	rb.mu.Lock()
	rb.entries[rb.next] = res
	rb.next = (rb.next + 1) % len(rb.entries)
	if rb.count < len(rb.entries) {
		rb.count++
	}
	rb.mu.Unlock()
}

// Run consumes a publisher subscription until ctx is cancelled or the
// channel closes.
func (rb *RecentBuffer) Run(ctx context.Context, results <-chan *apriltag.FrameResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			rb.Add(res)
		}
	}
}

// Results returns the buffered results, oldest first.
func (rb *RecentBuffer) Results() []*apriltag.FrameResult {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]*apriltag.FrameResult, 0, rb.count)
	start := rb.next - rb.count
	if start < 0 {
		start += len(rb.entries)
	}
	for i := 0; i < rb.count; i++ {
		out = append(out, rb.entries[(start+i)%len(rb.entries)])
	}
	return out
}

// Len returns the number of buffered results.
func (rb *RecentBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// RecentDetection pairs one accepted detection with its frame context for
// the JSON API.
type RecentDetection struct {
	FrameSeq   uint32                   `json:"frame_seq"`
	CapturedAt time.Time                `json:"captured_at"`
	Detection  apriltag.DetectionRecord `json:"detection"`
	Transform  *apriltag.PoseTransform  `json:"transform,omitempty"`
}

// RecentDetections returns up to limit accepted detections, newest frame
// first. Detections within a frame keep their detector order.
func (rb *RecentBuffer) RecentDetections(limit int) []RecentDetection {
	results := rb.Results()

	out := make([]RecentDetection, 0, limit)
	for i := len(results) - 1; i >= 0 && len(out) < limit; i-- {
		res := results[i]
		for j, det := range res.Detections {
			if len(out) >= limit {
				break
			}
			rd := RecentDetection{FrameSeq: res.Seq, CapturedAt: res.CapturedAt, Detection: det}
			if j < len(res.Transforms) {
				tr := res.Transforms[j]
				rd.Transform = &tr
			}
			out = append(out, rd)
		}
	}
	return out
}
