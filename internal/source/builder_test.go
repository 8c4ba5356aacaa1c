package source

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagpose/internal/camera"
)

const testCaptureNanos = 1700000000123456789

// testHeader builds a header whose chunk count matches the geometry.
func testHeader(seq uint32, width, height, stride, chunkSize int) *camera.FrameHeader {
	total := stride * height
	return &camera.FrameHeader{
		Seq:          seq,
		Width:        uint16(width),
		Height:       uint16(height),
		Stride:       uint16(stride),
		ChunkCount:   uint16((total + chunkSize - 1) / chunkSize),
		ChunkSize:    uint16(chunkSize),
		CaptureNanos: testCaptureNanos,
		Projection: [12]float32{
			500, 0, 320, 0,
			0, 500, 240, 0,
			0, 0, 1, 0,
		},
	}
}

// framePackets marshals a header and the chunk packets covering pixels.
func framePackets(h *camera.FrameHeader, pixels []byte) [][]byte {
	pkts := [][]byte{camera.MarshalHeader(h)}
	cs := int(h.ChunkSize)
	for i := 0; i < int(h.ChunkCount); i++ {
		off := i * cs
		end := off + cs
		if end > len(pixels) {
			end = len(pixels)
		}
		pkts = append(pkts, camera.MarshalChunk(&camera.FrameChunk{
			Seq:     h.Seq,
			Index:   uint16(i),
			Offset:  uint32(off),
			Payload: pixels[off:end],
		}))
	}
	return pkts
}

func testPixels(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	return p
}

// collectFrames feeds every packet, closes the builder and returns the
// delivered frames in order.
func collectFrames(t *testing.T, cfg FrameBuilderConfig, pkts [][]byte) ([]*camera.Frame, BuilderStats) {
	t.Helper()

	var mu sync.Mutex
	var frames []*camera.Frame
	cfg.FrameCallback = func(f *camera.Frame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	}

	b := NewFrameBuilder(cfg)
	for _, pkt := range pkts {
		b.HandlePacket(pkt)
	}
	b.Close()
	return frames, b.Stats()
}

func TestBuilderAssemblesFrame(t *testing.T) {
	t.Parallel()

	h := testHeader(1, 8, 4, 8, 10)
	pixels := testPixels(32)

	frames, stats := collectFrames(t, FrameBuilderConfig{}, framePackets(h, pixels))

	require.Len(t, frames, 1)
	f := frames[0]
	assert.Equal(t, uint32(1), f.Seq)
	assert.Equal(t, 8, f.Width)
	assert.Equal(t, 4, f.Height)
	assert.Equal(t, 8, f.Stride)
	assert.Equal(t, pixels, f.Pixels)
	assert.Equal(t, int64(testCaptureNanos), f.CapturedAt.UnixNano())
	assert.Equal(t, 500.0, f.Projection[0])
	assert.Equal(t, 240.0, f.Projection[6])
	assert.Equal(t, 1.0, f.Projection[10])

	assert.Equal(t, uint64(1), stats.FramesCompleted)
	assert.Equal(t, uint64(0), stats.FramesIncomplete)
	assert.Equal(t, 0, stats.PendingFrames)
}

func TestBuilderOutOfOrderChunks(t *testing.T) {
	t.Parallel()

	h := testHeader(7, 16, 4, 16, 10)
	pixels := testPixels(64)
	pkts := framePackets(h, pixels)

	// Header first, then chunks reversed.
	shuffled := [][]byte{pkts[0]}
	for i := len(pkts) - 1; i >= 1; i-- {
		shuffled = append(shuffled, pkts[i])
	}

	frames, stats := collectFrames(t, FrameBuilderConfig{}, shuffled)

	require.Len(t, frames, 1)
	assert.Equal(t, pixels, frames[0].Pixels)
	assert.Equal(t, uint64(1), stats.FramesCompleted)
	assert.Equal(t, uint64(0), stats.PacketErrors)
}

func TestBuilderStride(t *testing.T) {
	t.Parallel()

	// Stride wider than the image: the buffer spans stride*height bytes.
	h := testHeader(3, 6, 4, 8, 16)
	pixels := testPixels(32)

	frames, _ := collectFrames(t, FrameBuilderConfig{}, framePackets(h, pixels))

	require.Len(t, frames, 1)
	assert.Equal(t, 6, frames[0].Width)
	assert.Equal(t, 8, frames[0].Stride)
	assert.Len(t, frames[0].Pixels, 32)

	img := frames[0].Gray()
	assert.Equal(t, 6, img.Rect.Dx())
	assert.Equal(t, pixels[8], img.GrayAt(0, 1).Y)
}

func TestBuilderNewerHeaderDropsIncomplete(t *testing.T) {
	t.Parallel()

	h1 := testHeader(1, 8, 2, 8, 8)
	h2 := testHeader(2, 8, 2, 8, 8)
	pixels := testPixels(16)

	p1 := framePackets(h1, pixels)
	p2 := framePackets(h2, pixels)

	// Frame 1 loses its last chunk before frame 2's header arrives. The
	// straggler chunk shows up after the drop.
	var pkts [][]byte
	pkts = append(pkts, p1[0], p1[1]) // header 1 + first chunk only
	pkts = append(pkts, p2...)        // complete frame 2
	pkts = append(pkts, p1[2])        // late chunk for dropped frame 1

	frames, stats := collectFrames(t, FrameBuilderConfig{}, pkts)

	require.Len(t, frames, 1)
	assert.Equal(t, uint32(2), frames[0].Seq)
	assert.Equal(t, uint64(1), stats.FramesIncomplete)
	assert.Equal(t, uint64(1), stats.ChunksOrphaned)
	assert.Equal(t, uint64(1), stats.FramesCompleted)
}

func TestBuilderDuplicateChunksIdempotent(t *testing.T) {
	t.Parallel()

	h := testHeader(9, 8, 2, 8, 8)
	pixels := testPixels(16)
	pkts := framePackets(h, pixels)

	// Repeat the first chunk before the frame completes.
	withDup := [][]byte{pkts[0], pkts[1], pkts[1], pkts[2]}

	frames, stats := collectFrames(t, FrameBuilderConfig{}, withDup)

	require.Len(t, frames, 1)
	assert.Equal(t, pixels, frames[0].Pixels)
	assert.Equal(t, uint64(1), stats.ChunksDuplicate)
	assert.Equal(t, uint64(1), stats.FramesCompleted)
}

func TestBuilderDuplicateHeaderIdempotent(t *testing.T) {
	t.Parallel()

	h := testHeader(4, 8, 2, 8, 8)
	pixels := testPixels(16)
	pkts := framePackets(h, pixels)

	withDup := [][]byte{pkts[0], pkts[1], pkts[0], pkts[2]}

	frames, stats := collectFrames(t, FrameBuilderConfig{}, withDup)

	require.Len(t, frames, 1)
	assert.Equal(t, uint64(0), stats.FramesIncomplete)
	assert.Equal(t, uint64(0), stats.HeadersRejected)
}

func TestBuilderRejectsBadHeaders(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header *camera.FrameHeader
	}{
		{"zero width", &camera.FrameHeader{Seq: 1, Height: 2, Stride: 8, ChunkCount: 2, ChunkSize: 8}},
		{"stride below width", &camera.FrameHeader{Seq: 1, Width: 16, Height: 2, Stride: 8, ChunkCount: 2, ChunkSize: 8}},
		{"chunk count mismatch", &camera.FrameHeader{Seq: 1, Width: 8, Height: 2, Stride: 8, ChunkCount: 5, ChunkSize: 8}},
		{"zero chunk size", &camera.FrameHeader{Seq: 1, Width: 8, Height: 2, Stride: 8, ChunkCount: 2}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			frames, stats := collectFrames(t, FrameBuilderConfig{}, [][]byte{camera.MarshalHeader(tc.header)})
			assert.Empty(t, frames)
			assert.Equal(t, uint64(1), stats.HeadersRejected)
			assert.Equal(t, 0, stats.PendingFrames)
		})
	}
}

func TestBuilderRejectsOversizedFrame(t *testing.T) {
	t.Parallel()

	h := testHeader(1, 100, 100, 100, 100) // 10000 bytes
	frames, stats := collectFrames(t, FrameBuilderConfig{MaxFrameBytes: 4096}, [][]byte{camera.MarshalHeader(h)})

	assert.Empty(t, frames)
	assert.Equal(t, uint64(1), stats.HeadersRejected)
}

func TestBuilderRejectsStaleHeader(t *testing.T) {
	t.Parallel()

	h5 := testHeader(5, 8, 2, 8, 8)
	h3 := testHeader(3, 8, 2, 8, 8)
	pixels := testPixels(16)

	var pkts [][]byte
	pkts = append(pkts, framePackets(h5, pixels)...)
	pkts = append(pkts, framePackets(h3, pixels)...)

	frames, stats := collectFrames(t, FrameBuilderConfig{}, pkts)

	require.Len(t, frames, 1)
	assert.Equal(t, uint32(5), frames[0].Seq)
	assert.Equal(t, uint64(1), stats.HeadersRejected)
	// Frame 3's chunks have no pending header.
	assert.Equal(t, uint64(2), stats.ChunksOrphaned)
}

func TestBuilderMalformedPackets(t *testing.T) {
	t.Parallel()

	h := testHeader(2, 4, 2, 4, 5) // total 8, chunks of 5 then 3
	pixels := testPixels(8)
	good := framePackets(h, pixels)

	badOffset := camera.MarshalChunk(&camera.FrameChunk{Seq: 2, Index: 1, Offset: 4, Payload: pixels[4:8]})
	badLength := camera.MarshalChunk(&camera.FrameChunk{Seq: 2, Index: 1, Offset: 5, Payload: testPixels(5)})
	badIndex := camera.MarshalChunk(&camera.FrameChunk{Seq: 2, Index: 9, Offset: 45, Payload: pixels[:5]})

	var pkts [][]byte
	pkts = append(pkts, []byte{0x01, 0x02}) // short garbage
	pkts = append(pkts, good[0])
	pkts = append(pkts, badOffset) // offset disagrees with index
	pkts = append(pkts, badLength) // tail chunk with full-size payload
	pkts = append(pkts, badIndex)  // index beyond chunk count
	pkts = append(pkts, good[1], good[2])

	frames, stats := collectFrames(t, FrameBuilderConfig{}, pkts)

	require.Len(t, frames, 1)
	assert.Equal(t, pixels, frames[0].Pixels)
	assert.Equal(t, uint64(4), stats.PacketErrors)
}

func TestBuilderOrphanChunk(t *testing.T) {
	t.Parallel()

	chunk := camera.MarshalChunk(&camera.FrameChunk{Seq: 42, Index: 0, Offset: 0, Payload: testPixels(8)})
	frames, stats := collectFrames(t, FrameBuilderConfig{}, [][]byte{chunk})

	assert.Empty(t, frames)
	assert.Equal(t, uint64(1), stats.ChunksOrphaned)
}

func TestBuilderDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	var delivered []uint32

	b := NewFrameBuilder(FrameBuilderConfig{
		QueueSize: 1,
		FrameCallback: func(f *camera.Frame) {
			mu.Lock()
			delivered = append(delivered, f.Seq)
			mu.Unlock()
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
		},
	})

	pixels := testPixels(16)
	feed := func(seq uint32) {
		for _, pkt := range framePackets(testHeader(seq, 8, 2, 8, 8), pixels) {
			b.HandlePacket(pkt)
		}
	}

	feed(1)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first frame never reached the callback")
	}
	feed(2) // sits in the queue
	feed(3) // queue full, dropped

	stats := b.Stats()
	assert.Equal(t, uint64(3), stats.FramesCompleted)
	assert.Equal(t, uint64(1), stats.FramesDroppedQueue)

	close(release)
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint32{1, 2}, delivered)
}

func TestBuilderCloseDiscardsPartialFrames(t *testing.T) {
	t.Parallel()

	var frames []*camera.Frame
	b := NewFrameBuilder(FrameBuilderConfig{
		FrameCallback: func(f *camera.Frame) { frames = append(frames, f) },
	})

	pkts := framePackets(testHeader(1, 8, 2, 8, 8), testPixels(16))
	b.HandlePacket(pkts[0])
	b.HandlePacket(pkts[1])

	b.Close()
	b.Close() // idempotent

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.FramesIncomplete)
	assert.Equal(t, 0, stats.PendingFrames)
	assert.Empty(t, frames)

	// Packets after Close are ignored.
	b.HandlePacket(pkts[2])
	assert.Equal(t, uint64(0), b.Stats().FramesCompleted)
}

func TestSeqNewerWraparound(t *testing.T) {
	t.Parallel()

	assert.True(t, seqNewer(2, 1))
	assert.False(t, seqNewer(1, 2))
	assert.False(t, seqNewer(1, 1))
	assert.True(t, seqNewer(1, ^uint32(0)))
	assert.False(t, seqNewer(^uint32(0), 1))
}
