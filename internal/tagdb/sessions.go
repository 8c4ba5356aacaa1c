package tagdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/tagpose/internal/apriltag"
)

// Session is one recording run of the detection pipeline.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Family    string    `json:"family"`
	Notes     string    `json:"notes"`
}

// DetectionRow is one accepted detection with its reconstructed pose.
type DetectionRow struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	FrameSeq   int64     `json:"frame_seq"`
	CapturedAt time.Time `json:"captured_at"`
	TagID      int       `json:"tag_id"`
	Family     string    `json:"family"`
	Hamming    int       `json:"hamming"`
	Margin     float64   `json:"decision_margin"`
	CenterX    float64   `json:"center_x"`
	CenterY    float64   `json:"center_y"`
	FrameName  string    `json:"frame_name"`
	TX         float64   `json:"t_x"`
	TY         float64   `json:"t_y"`
	TZ         float64   `json:"t_z"`
	QW         float64   `json:"q_w"`
	QX         float64   `json:"q_x"`
	QY         float64   `json:"q_y"`
	QZ         float64   `json:"q_z"`
}

// TagCount is a per-tag detection count within one session.
type TagCount struct {
	TagID int   `json:"tag_id"`
	Count int64 `json:"count"`
}

// BeginSession inserts a new session row and returns its id.
func (db *DB) BeginSession(family, notes string) (string, error) {
	id := uuid.NewString()

	_, err := db.Exec(
		`INSERT INTO sessions (id, family, notes) VALUES (?, ?, ?)`,
		id, family, notes,
	)
	if err != nil {
		return "", fmt.Errorf("failed to begin session: %w", err)
	}

	return id, nil
}

// InsertFrameResult records every accepted detection of one frame in a
// single transaction. A result with no detections is a no-op.
func (db *DB) InsertFrameResult(ctx context.Context, sessionID string, res *apriltag.FrameResult) error {
	if res == nil || len(res.Detections) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (
			session_id, frame_seq, captured_at_ns, tag_id, family, hamming,
			decision_margin, center_x, center_y, frame_name,
			t_x, t_y, t_z, q_w, q_x, q_y, q_z
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare detection insert: %w", err)
	}
	defer stmt.Close()

	for i, det := range res.Detections {
		// The pipeline appends a transform for every accepted detection
		// in the same order.
		var tr apriltag.PoseTransform
		if i < len(res.Transforms) {
			tr = res.Transforms[i]
		}

		_, err := stmt.ExecContext(ctx,
			sessionID,
			int64(res.Seq),
			res.CapturedAt.UnixNano(),
			det.ID,
			det.Family,
			det.Hamming,
			det.DecisionMargin,
			det.Center.X,
			det.Center.Y,
			tr.ChildFrame,
			tr.Translation.X,
			tr.Translation.Y,
			tr.Translation.Z,
			tr.Rotation.Real,
			tr.Rotation.Imag,
			tr.Rotation.Jmag,
			tr.Rotation.Kmag,
		)
		if err != nil {
			return fmt.Errorf("failed to insert detection for tag %d: %w", det.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit detections: %w", err)
	}

	return nil
}

// RecentDetections returns the most recent detections, newest first.
func (db *DB) RecentDetections(limit int) ([]DetectionRow, error) {
	query := `
		SELECT
			id, session_id, frame_seq, captured_at_ns, tag_id, family,
			hamming, decision_margin, center_x, center_y, frame_name,
			t_x, t_y, t_z, q_w, q_x, q_y, q_z
		FROM detections
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent detections: %w", err)
	}
	defer rows.Close()

	var detections []DetectionRow
	for rows.Next() {
		var d DetectionRow
		var capturedNs int64

		if err := rows.Scan(
			&d.ID,
			&d.SessionID,
			&d.FrameSeq,
			&capturedNs,
			&d.TagID,
			&d.Family,
			&d.Hamming,
			&d.Margin,
			&d.CenterX,
			&d.CenterY,
			&d.FrameName,
			&d.TX,
			&d.TY,
			&d.TZ,
			&d.QW,
			&d.QX,
			&d.QY,
			&d.QZ,
		); err != nil {
			return nil, fmt.Errorf("failed to scan detection row: %w", err)
		}

		d.CapturedAt = time.Unix(0, capturedNs)
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return detections, nil
}

// SessionTagCounts returns per-tag detection counts for one session.
func (db *DB) SessionTagCounts(sessionID string) ([]TagCount, error) {
	rows, err := db.Query(
		`SELECT tag_id, COUNT(*) FROM detections WHERE session_id = ? GROUP BY tag_id ORDER BY tag_id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tag counts: %w", err)
	}
	defer rows.Close()

	var counts []TagCount
	for rows.Next() {
		var c TagCount
		if err := rows.Scan(&c.TagID, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan tag count row: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

// Sessions returns all sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(
		`SELECT id, started_at_unix, family, notes FROM sessions ORDER BY started_at_unix DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var startedUnix float64

		if err := rows.Scan(&s.ID, &startedUnix, &s.Family, &s.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		s.StartedAt = time.Unix(0, int64(startedUnix*float64(time.Second)))
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}
