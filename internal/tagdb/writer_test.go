package tagdb

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/tagpose/internal/apriltag"
)

func TestWriterRecordsResults(t *testing.T) {
	db := newTestDB(t)

	sessionID, err := db.BeginSession("tag36h11", "")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	results := make(chan *apriltag.FrameResult, 4)
	results <- testFrameResult(1, 5, 6)
	results <- &apriltag.FrameResult{Seq: 2} // no accepted detections
	results <- testFrameResult(3, 5)
	close(results)

	w := NewWriter(db, sessionID)
	w.Run(context.Background(), results)

	stats := w.Stats()
	if stats.FramesIn != 3 {
		t.Errorf("expected 3 frames in, got %d", stats.FramesIn)
	}
	if stats.RowsWritten != 3 {
		t.Errorf("expected 3 rows written, got %d", stats.RowsWritten)
	}
	if stats.WriteErrors != 0 {
		t.Errorf("expected no write errors, got %d", stats.WriteErrors)
	}

	counts, err := db.SessionTagCounts(sessionID)
	if err != nil {
		t.Fatalf("SessionTagCounts failed: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected counts for 2 tags, got %d", len(counts))
	}
	if counts[0].TagID != 5 || counts[0].Count != 2 {
		t.Errorf("unexpected count for tag 5: %+v", counts[0])
	}
	if counts[1].TagID != 6 || counts[1].Count != 1 {
		t.Errorf("unexpected count for tag 6: %+v", counts[1])
	}
}

func TestWriterStopsOnCancel(t *testing.T) {
	db := newTestDB(t)

	sessionID, err := db.BeginSession("tag36h11", "")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan *apriltag.FrameResult)

	done := make(chan struct{})
	go func() {
		NewWriter(db, sessionID).Run(ctx, results)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop on context cancellation")
	}
}

func TestWriterCountsErrorsAndContinues(t *testing.T) {
	dbPath := newTestDB(t).Path()

	// A second handle that is closed underneath the writer makes every
	// insert fail.
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	db.Close()

	results := make(chan *apriltag.FrameResult, 2)
	results <- testFrameResult(1, 5)
	results <- testFrameResult(2, 5)
	close(results)

	w := NewWriter(db, "nonexistent-session")
	w.Run(context.Background(), results)

	stats := w.Stats()
	if stats.FramesIn != 2 {
		t.Errorf("expected 2 frames in, got %d", stats.FramesIn)
	}
	if stats.WriteErrors != 2 {
		t.Errorf("expected 2 write errors, got %d", stats.WriteErrors)
	}
	if stats.RowsWritten != 0 {
		t.Errorf("expected no rows written, got %d", stats.RowsWritten)
	}
}
