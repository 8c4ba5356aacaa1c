package tagdb

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/banshee-data/tagpose/internal/apriltag"
)

// Writer consumes published frame results and records their accepted
// detections under one session.
type Writer struct {
	db        *DB
	sessionID string

	framesIn  atomic.Uint64
	rowsOut   atomic.Uint64
	writeErrs atomic.Uint64
}

// WriterStats contains event log writer statistics.
type WriterStats struct {
	FramesIn    uint64 `json:"frames_in"`
	RowsWritten uint64 `json:"rows_written"`
	WriteErrors uint64 `json:"write_errors"`
}

// NewWriter creates a Writer recording into the given session.
func NewWriter(db *DB, sessionID string) *Writer {
	return &Writer{db: db, sessionID: sessionID}
}

// Run consumes results until the channel closes or ctx is cancelled.
// Write errors are logged and counted; they never stop the writer.
func (w *Writer) Run(ctx context.Context, results <-chan *apriltag.FrameResult) {
	log.Printf("[TagDB] writer started for session %s", w.sessionID)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[TagDB] writer stopping: %v", ctx.Err())
			return
		case res, ok := <-results:
			if !ok {
				log.Printf("[TagDB] writer stopping: results channel closed")
				return
			}
			w.framesIn.Add(1)
			if err := w.db.InsertFrameResult(ctx, w.sessionID, res); err != nil {
				w.writeErrs.Add(1)
				log.Printf("[TagDB] failed to record frame %d: %v", res.Seq, err)
				continue
			}
			w.rowsOut.Add(uint64(len(res.Detections)))
		}
	}
}

// Stats returns the current writer counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		FramesIn:    w.framesIn.Load(),
		RowsWritten: w.rowsOut.Load(),
		WriteErrors: w.writeErrs.Load(),
	}
}
