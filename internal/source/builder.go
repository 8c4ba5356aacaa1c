package source

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tagpose/internal/camera"
)

// FrameBuilderConfig contains configuration for the FrameBuilder.
type FrameBuilderConfig struct {
	FrameCallback func(*camera.Frame) // callback when a frame is complete
	MaxFrameBytes int                 // reject headers describing larger frames (default 8 MiB)
	QueueSize     int                 // completed-frame queue depth (default 8)
}

// pendingFrame accumulates chunks for a single sequence number.
type pendingFrame struct {
	header    *camera.FrameHeader
	buf       []byte
	got       []bool
	remaining int
	started   time.Time
}

// FrameBuilder reassembles chunked frame packets into complete frames.
//
// Chunks are offset-addressed, so they may arrive in any order within a
// frame; duplicates are idempotent. A header for a newer sequence flushes
// any incomplete older frame, and chunks without a known header are
// dropped as orphans. Completed frames are delivered to the callback on a
// single worker goroutine; if the worker falls behind, frames are dropped
// rather than blocking packet handling.
type FrameBuilder struct {
	maxFrameBytes int
	frameCallback func(*camera.Frame)

	mu         sync.Mutex
	pending    map[uint32]*pendingFrame
	newestSeq  uint32
	seenHeader bool
	closed     bool

	frameCh   chan *camera.Frame
	frameDone chan struct{}
	closeOnce sync.Once

	packets            atomic.Uint64
	packetErrors       atomic.Uint64
	headersRejected    atomic.Uint64
	chunksOrphaned     atomic.Uint64
	chunksDuplicate    atomic.Uint64
	framesCompleted    atomic.Uint64
	framesIncomplete   atomic.Uint64
	framesDroppedQueue atomic.Uint64
}

// BuilderStats is a snapshot of the builder's counters.
type BuilderStats struct {
	Packets            uint64 `json:"packets"`
	PacketErrors       uint64 `json:"packet_errors"`
	HeadersRejected    uint64 `json:"headers_rejected"`
	ChunksOrphaned     uint64 `json:"chunks_orphaned"`
	ChunksDuplicate    uint64 `json:"chunks_duplicate"`
	FramesCompleted    uint64 `json:"frames_completed"`
	FramesIncomplete   uint64 `json:"frames_incomplete"`
	FramesDroppedQueue uint64 `json:"frames_dropped_queue"`
	PendingFrames      int    `json:"pending_frames"`
}

// NewFrameBuilder creates a FrameBuilder with the specified configuration.
func NewFrameBuilder(config FrameBuilderConfig) *FrameBuilder {
	if config.MaxFrameBytes == 0 {
		config.MaxFrameBytes = 8 << 20
	}
	if config.QueueSize == 0 {
		config.QueueSize = 8
	}

	b := &FrameBuilder{
		maxFrameBytes: config.MaxFrameBytes,
		frameCallback: config.FrameCallback,
		pending:       make(map[uint32]*pendingFrame),
	}

	// The channel serialises callback invocations so downstream consumers
	// never see concurrent frames.
	if b.frameCallback != nil {
		b.frameCh = make(chan *camera.Frame, config.QueueSize)
		b.frameDone = make(chan struct{})
		go b.frameWorker()
	}

	return b
}

func (b *FrameBuilder) frameWorker() {
	defer close(b.frameDone)
	for frame := range b.frameCh {
		b.frameCallback(frame)
	}
}

// HandlePacket processes one datagram. Malformed packets are counted and
// dropped; they never fail the stream. The packet buffer may be reused by
// the caller after HandlePacket returns.
func (b *FrameBuilder) HandlePacket(pkt []byte) {
	b.packets.Add(1)

	typ, err := camera.PacketType(pkt)
	if err != nil {
		b.packetErrors.Add(1)
		debugf("[FrameBuilder] Discarding packet: %v", err)
		return
	}

	switch typ {
	case camera.PacketTypeHeader:
		hdr, err := camera.UnmarshalHeader(pkt)
		if err != nil {
			b.packetErrors.Add(1)
			debugf("[FrameBuilder] Discarding header: %v", err)
			return
		}
		b.handleHeader(hdr)
	case camera.PacketTypeChunk:
		chunk, err := camera.UnmarshalChunk(pkt)
		if err != nil {
			b.packetErrors.Add(1)
			debugf("[FrameBuilder] Discarding chunk: %v", err)
			return
		}
		b.handleChunk(chunk)
	default:
		b.packetErrors.Add(1)
		debugf("[FrameBuilder] Discarding packet with unknown type %d", typ)
	}
}

// seqNewer reports whether a is newer than b under wraparound arithmetic.
func seqNewer(a, b uint32) bool {
	return int32(a-b) > 0
}

func (b *FrameBuilder) handleHeader(h *camera.FrameHeader) {
	total, ok := b.validateHeader(h)
	if !ok {
		b.headersRejected.Add(1)
		debugf("[FrameBuilder] Rejected header seq=%d: %dx%d stride=%d chunks=%dx%d",
			h.Seq, h.Width, h.Height, h.Stride, h.ChunkCount, h.ChunkSize)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if _, exists := b.pending[h.Seq]; exists {
		// Duplicate header for a frame already in assembly.
		return
	}
	if b.seenHeader && !seqNewer(h.Seq, b.newestSeq) {
		b.headersRejected.Add(1)
		debugf("[FrameBuilder] Rejected stale header seq=%d (newest=%d)", h.Seq, b.newestSeq)
		return
	}

	// A newer frame has started; anything still incomplete is lost.
	for seq, pf := range b.pending {
		b.framesIncomplete.Add(1)
		debugf("[FrameBuilder] Dropping incomplete frame seq=%d: %d/%d chunks received",
			seq, int(pf.header.ChunkCount)-pf.remaining, pf.header.ChunkCount)
		delete(b.pending, seq)
	}

	b.newestSeq = h.Seq
	b.seenHeader = true
	b.pending[h.Seq] = &pendingFrame{
		header:    h,
		buf:       make([]byte, total),
		got:       make([]bool, h.ChunkCount),
		remaining: int(h.ChunkCount),
		started:   time.Now(),
	}
}

// validateHeader checks the advertised geometry and returns the pixel
// buffer size it implies.
func (b *FrameBuilder) validateHeader(h *camera.FrameHeader) (int, bool) {
	if h.Width == 0 || h.Height == 0 || int(h.Stride) < int(h.Width) {
		return 0, false
	}
	if h.ChunkCount == 0 || h.ChunkSize == 0 {
		return 0, false
	}
	total := int(h.Stride) * int(h.Height)
	if total > b.maxFrameBytes {
		return 0, false
	}
	cs := int(h.ChunkSize)
	if int(h.ChunkCount) != (total+cs-1)/cs {
		return 0, false
	}
	return total, true
}

func (b *FrameBuilder) handleChunk(c *camera.FrameChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	pf, ok := b.pending[c.Seq]
	if !ok {
		b.chunksOrphaned.Add(1)
		debugf("[FrameBuilder] Orphan chunk seq=%d index=%d", c.Seq, c.Index)
		return
	}

	h := pf.header
	if int(c.Index) >= int(h.ChunkCount) || int(c.Offset) != int(c.Index)*int(h.ChunkSize) {
		b.packetErrors.Add(1)
		debugf("[FrameBuilder] Inconsistent chunk seq=%d index=%d offset=%d", c.Seq, c.Index, c.Offset)
		return
	}
	want := len(pf.buf) - int(c.Offset)
	if want > int(h.ChunkSize) {
		want = int(h.ChunkSize)
	}
	if len(c.Payload) != want {
		b.packetErrors.Add(1)
		debugf("[FrameBuilder] Chunk seq=%d index=%d payload %d bytes, want %d", c.Seq, c.Index, len(c.Payload), want)
		return
	}

	if pf.got[c.Index] {
		b.chunksDuplicate.Add(1)
		return
	}
	pf.got[c.Index] = true
	copy(pf.buf[c.Offset:], c.Payload)
	pf.remaining--

	if pf.remaining > 0 {
		return
	}

	delete(b.pending, c.Seq)
	b.emitLocked(pf)
}

// emitLocked hands a completed frame to the worker queue. Caller holds mu.
func (b *FrameBuilder) emitLocked(pf *pendingFrame) {
	h := pf.header
	frame := &camera.Frame{
		Seq:        h.Seq,
		Width:      int(h.Width),
		Height:     int(h.Height),
		Stride:     int(h.Stride),
		Pixels:     pf.buf,
		CapturedAt: time.Unix(0, h.CaptureNanos),
	}
	for i, v := range h.Projection {
		frame.Projection[i] = float64(v)
	}

	b.framesCompleted.Add(1)
	if b.frameCh == nil {
		return
	}
	select {
	case b.frameCh <- frame:
	default:
		// Queue full. Drop the frame so assembly never blocks on a slow
		// consumer.
		b.framesDroppedQueue.Add(1)
		debugf("[FrameBuilder] Dropped frame seq=%d: delivery queue full", h.Seq)
	}
}

// Close stops packet handling, discards any partial frames and waits for
// the delivery worker to drain. It is safe to call Close multiple times.
func (b *FrameBuilder) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		for seq := range b.pending {
			b.framesIncomplete.Add(1)
			delete(b.pending, seq)
		}
		b.mu.Unlock()

		if b.frameCh != nil {
			close(b.frameCh)
			<-b.frameDone
		}
	})
}

// Stats returns a snapshot of the builder's counters.
func (b *FrameBuilder) Stats() BuilderStats {
	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()

	return BuilderStats{
		Packets:            b.packets.Load(),
		PacketErrors:       b.packetErrors.Load(),
		HeadersRejected:    b.headersRejected.Load(),
		ChunksOrphaned:     b.chunksOrphaned.Load(),
		ChunksDuplicate:    b.chunksDuplicate.Load(),
		FramesCompleted:    b.framesCompleted.Load(),
		FramesIncomplete:   b.framesIncomplete.Load(),
		FramesDroppedQueue: b.framesDroppedQueue.Load(),
		PendingFrames:      pending,
	}
}
