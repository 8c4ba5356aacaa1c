package source

import (
	"context"
	"log"
	"time"

	"github.com/banshee-data/tagpose/internal/camera"
	"github.com/banshee-data/tagpose/internal/timeutil"
)

// SimConfig configures the synthetic frame source.
type SimConfig struct {
	Interval  time.Duration // frame period (default 100ms)
	Width     int           // frame width in pixels (default 640)
	Height    int           // frame height in pixels (default 480)
	ChunkSize int           // payload bytes per chunk (default 1200)
	Count     int           // stop after this many frames; 0 runs until cancelled
	Clock     timeutil.Clock
	Builder   FrameBuilderConfig
}

// SimSource generates frames with a fixed pinhole projection at a steady
// rate. Frames are marshalled into header and chunk packets and fed
// through a FrameBuilder, so the synthetic path exercises the same codec
// and assembly code as live capture.
type SimSource struct {
	cfg SimConfig
}

// NewSimSource creates a synthetic frame source.
func NewSimSource(config SimConfig) *SimSource {
	if config.Interval == 0 {
		config.Interval = 100 * time.Millisecond
	}
	if config.Width == 0 {
		config.Width = 640
	}
	if config.Height == 0 {
		config.Height = 480
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 1200
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	return &SimSource{cfg: config}
}

// Run emits frames until ctx is cancelled or the configured count is
// reached.
func (s *SimSource) Run(ctx context.Context, h Handler) error {
	bcfg := s.cfg.Builder
	bcfg.FrameCallback = h
	builder := NewFrameBuilder(bcfg)
	defer builder.Close()

	log.Printf("[Source] Sim source started: %dx%d at %v intervals", s.cfg.Width, s.cfg.Height, s.cfg.Interval)

	var seq uint32
	emit := func() {
		seq++
		s.emitFrame(builder, seq)
	}

	emit()
	if s.cfg.Count > 0 && int(seq) >= s.cfg.Count {
		return nil
	}

	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			emit()
			if s.cfg.Count > 0 && int(seq) >= s.cfg.Count {
				return nil
			}
		}
	}
}

// emitFrame marshals one synthetic frame into packets and feeds them to
// the builder.
func (s *SimSource) emitFrame(sink PacketSink, seq uint32) {
	w, hgt := s.cfg.Width, s.cfg.Height
	total := w * hgt
	pixels := make([]byte, total)
	for y := 0; y < hgt; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			pixels[row+x] = byte((x + y + int(seq)*3) % 251)
		}
	}

	f := float32(500.0)
	cs := s.cfg.ChunkSize
	chunkCount := (total + cs - 1) / cs
	header := &camera.FrameHeader{
		Seq:          seq,
		Width:        uint16(w),
		Height:       uint16(hgt),
		Stride:       uint16(w),
		ChunkCount:   uint16(chunkCount),
		ChunkSize:    uint16(cs),
		CaptureNanos: s.cfg.Clock.Now().UnixNano(),
		Projection: [12]float32{
			f, 0, float32(w) / 2, 0,
			0, f, float32(hgt) / 2, 0,
			0, 0, 1, 0,
		},
	}
	sink.HandlePacket(camera.MarshalHeader(header))

	for i := 0; i < chunkCount; i++ {
		off := i * cs
		end := off + cs
		if end > total {
			end = total
		}
		sink.HandlePacket(camera.MarshalChunk(&camera.FrameChunk{
			Seq:     seq,
			Index:   uint16(i),
			Offset:  uint32(off),
			Payload: pixels[off:end],
		}))
	}
}
