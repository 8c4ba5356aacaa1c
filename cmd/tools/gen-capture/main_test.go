package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/tagpose/internal/camera"
	"github.com/banshee-data/tagpose/internal/source"
)

func testConfig() genConfig {
	return genConfig{
		Frames:    5,
		Width:     16,
		Height:    8,
		ChunkSize: 32,
		Port:      7720,
		Interval:  50 * time.Millisecond,
		Start:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestFramePayloadsRoundTrip(t *testing.T) {
	cfg := testConfig()
	payloads := framePayloads(cfg, 3)

	// 16x8 pixels in 32-byte chunks: one header plus four chunks.
	if len(payloads) != 5 {
		t.Fatalf("got %d payloads, want 5", len(payloads))
	}

	hdr, err := camera.UnmarshalHeader(payloads[0])
	if err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if hdr.Seq != 3 || hdr.Width != 16 || hdr.Height != 8 || hdr.ChunkCount != 4 {
		t.Errorf("unexpected header: %+v", hdr)
	}
	wantCapture := cfg.Start.Add(2 * cfg.Interval)
	if hdr.CaptureNanos != wantCapture.UnixNano() {
		t.Errorf("capture nanos = %d, want %d", hdr.CaptureNanos, wantCapture.UnixNano())
	}

	for i, pkt := range payloads[1:] {
		chunk, err := camera.UnmarshalChunk(pkt)
		if err != nil {
			t.Fatalf("unmarshal chunk %d: %v", i, err)
		}
		if int(chunk.Index) != i || int(chunk.Offset) != i*32 || len(chunk.Payload) != 32 {
			t.Errorf("chunk %d: index=%d offset=%d len=%d", i, chunk.Index, chunk.Offset, len(chunk.Payload))
		}
	}

	// Pixel (0,0) of frame 3 follows the gradient formula.
	first, err := camera.UnmarshalChunk(payloads[1])
	if err != nil {
		t.Fatalf("unmarshal first chunk: %v", err)
	}
	if want := byte(9); first.Payload[0] != want {
		t.Errorf("pixel (0,0) = %d, want %d", first.Payload[0], want)
	}
}

func TestEncodeDatagramParses(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	data, err := encodeDatagram(payload, 7720)
	if err != nil {
		t.Fatalf("encodeDatagram: %v", err)
	}

	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		t.Fatal("no UDP layer in encoded packet")
	}
	udp := udpLayer.(*layers.UDP)
	if udp.DstPort != 7720 {
		t.Errorf("dst port = %d, want 7720", udp.DstPort)
	}
	if !bytes.Equal(udp.Payload, payload) {
		t.Errorf("payload = %x, want %x", udp.Payload, payload)
	}
}

// The generated capture must assemble back into the frames it encodes.
func TestWriteCaptureAssemblesFrames(t *testing.T) {
	cfg := testConfig()

	var buf bytes.Buffer
	written, dropped, err := writeCapture(&buf, cfg)
	if err != nil {
		t.Fatalf("writeCapture: %v", err)
	}
	if written != 25 || dropped != 0 {
		t.Errorf("written=%d dropped=%d, want 25/0", written, dropped)
	}

	reader, err := pcapgo.NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read capture back: %v", err)
	}

	var frames []*camera.Frame
	builder := source.NewFrameBuilder(source.FrameBuilderConfig{
		QueueSize:     16,
		FrameCallback: func(f *camera.Frame) { frames = append(frames, f) },
	})

	var timestamps []time.Time
	packetSource := gopacket.NewPacketSource(reader, reader.LinkType())
	for packet := range packetSource.Packets() {
		timestamps = append(timestamps, packet.Metadata().Timestamp)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			t.Fatal("capture contains a non-UDP packet")
		}
		builder.HandlePacket(udpLayer.(*layers.UDP).Payload)
	}
	builder.Close()

	if len(frames) != cfg.Frames {
		t.Fatalf("assembled %d frames, want %d", len(frames), cfg.Frames)
	}
	for i, f := range frames {
		if f.Seq != uint32(i+1) {
			t.Errorf("frame %d seq = %d", i, f.Seq)
		}
		if f.Width != 16 || f.Height != 8 {
			t.Errorf("frame %d geometry %dx%d", i, f.Width, f.Height)
		}
	}
	if got := frames[0].CapturedAt.UnixNano(); got != cfg.Start.UnixNano() {
		t.Errorf("frame 1 captured at %d, want %d", got, cfg.Start.UnixNano())
	}
	if frames[0].Pixels[0] != 3 {
		t.Errorf("frame 1 pixel (0,0) = %d, want 3", frames[0].Pixels[0])
	}

	// Recorded timestamps: frame boundary advances by the interval.
	if !timestamps[0].Equal(cfg.Start) {
		t.Errorf("first packet at %v, want %v", timestamps[0], cfg.Start)
	}
	if !timestamps[5].Equal(cfg.Start.Add(cfg.Interval)) {
		t.Errorf("second frame header at %v, want %v", timestamps[5], cfg.Start.Add(cfg.Interval))
	}
}

func TestWriteCaptureDropEvery(t *testing.T) {
	cfg := testConfig()
	cfg.Frames = 4
	cfg.DropEvery = 3

	var buf bytes.Buffer
	written, dropped, err := writeCapture(&buf, cfg)
	if err != nil {
		t.Fatalf("writeCapture: %v", err)
	}
	// 16 chunks total, every third dropped.
	if dropped != 5 {
		t.Errorf("dropped = %d, want 5", dropped)
	}
	if written != 15 {
		t.Errorf("written = %d, want 15", written)
	}

	reader, err := pcapgo.NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read capture back: %v", err)
	}

	builder := source.NewFrameBuilder(source.FrameBuilderConfig{
		QueueSize:     16,
		FrameCallback: func(*camera.Frame) {},
	})
	packetSource := gopacket.NewPacketSource(reader, reader.LinkType())
	for packet := range packetSource.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			t.Fatal("capture contains a non-UDP packet")
		}
		builder.HandlePacket(udpLayer.(*layers.UDP).Payload)
	}
	builder.Close()

	// Every frame lost at least one chunk.
	stats := builder.Stats()
	if stats.FramesCompleted != 0 {
		t.Errorf("frames completed = %d, want 0", stats.FramesCompleted)
	}
	if stats.FramesIncomplete != 4 {
		t.Errorf("frames incomplete = %d, want 4", stats.FramesIncomplete)
	}
}
