// Command gen-capture writes a synthetic chunked-frame packet capture for
// replay testing.
//
// The capture carries the same header and chunk packets the daemon
// ingests live, wrapped in Ethernet/IPv4/UDP, so it feeds straight into
// tagpose -replay.
//
// Usage:
//
//	go run ./cmd/tools/gen-capture [flags]
//
// Flags:
//
//	-o           Output path (default: frames.pcap)
//	-n           Number of frames (default: 100)
//	-width       Frame width in pixels (default: 640)
//	-height      Frame height in pixels (default: 480)
//	-chunk       Payload bytes per chunk (default: 1200)
//	-interval    Frame interval (default: 100ms)
//	-port        Destination UDP port (default: 7720)
//	-drop-every  Drop every Nth chunk packet to simulate loss (default: 0)
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/tagpose/internal/camera"
)

// packetSpacing is the recorded gap between packets of one frame.
const packetSpacing = 40 * time.Microsecond

type genConfig struct {
	Frames    int
	Width     int
	Height    int
	ChunkSize int
	Port      int
	DropEvery int
	Interval  time.Duration
	Start     time.Time
}

func main() {
	output := flag.String("o", "frames.pcap", "output path")
	frames := flag.Int("n", 100, "number of frames")
	width := flag.Int("width", 640, "frame width in pixels")
	height := flag.Int("height", 480, "frame height in pixels")
	chunkSize := flag.Int("chunk", 1200, "payload bytes per chunk")
	interval := flag.Duration("interval", 100*time.Millisecond, "frame interval")
	port := flag.Int("port", 7720, "destination UDP port")
	dropEvery := flag.Int("drop-every", 0, "drop every Nth chunk packet (0 keeps all)")
	flag.Parse()

	if *frames <= 0 {
		log.Fatal("Error: -n must be positive")
	}
	if *chunkSize <= 0 || *chunkSize > 60000 {
		log.Fatal("Error: -chunk must be between 1 and 60000")
	}

	cfg := genConfig{
		Frames:    *frames,
		Width:     *width,
		Height:    *height,
		ChunkSize: *chunkSize,
		Port:      *port,
		DropEvery: *dropEvery,
		Interval:  *interval,
		Start:     time.Now(),
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("Failed to create output: %v", err)
	}
	defer f.Close()

	written, dropped, err := writeCapture(f, cfg)
	if err != nil {
		log.Fatalf("Failed to write capture: %v", err)
	}

	log.Printf("Wrote %d frames (%d packets, %d dropped) to %s", cfg.Frames, written, dropped, *output)
}

// writeCapture emits the configured frames as a classic pcap stream.
// It returns the number of packets written and dropped.
func writeCapture(w io.Writer, cfg genConfig) (written, dropped int, err error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return 0, 0, fmt.Errorf("write file header: %w", err)
	}

	chunkNum := 0
	ts := cfg.Start
	for i := 0; i < cfg.Frames; i++ {
		seq := uint32(i + 1)
		frameTS := ts
		for j, payload := range framePayloads(cfg, seq) {
			// The header packet (j == 0) always survives; a frame with a
			// lost header cannot be assembled at all.
			if j > 0 && cfg.DropEvery > 0 {
				chunkNum++
				if chunkNum%cfg.DropEvery == 0 {
					dropped++
					continue
				}
			}

			data, err := encodeDatagram(payload, cfg.Port)
			if err != nil {
				return written, dropped, fmt.Errorf("encode frame %d packet %d: %w", seq, j, err)
			}
			info := gopacket.CaptureInfo{
				Timestamp:     frameTS,
				CaptureLength: len(data),
				Length:        len(data),
			}
			if err := pw.WritePacket(info, data); err != nil {
				return written, dropped, fmt.Errorf("write frame %d packet %d: %w", seq, j, err)
			}
			written++
			frameTS = frameTS.Add(packetSpacing)
		}
		ts = ts.Add(cfg.Interval)
	}

	return written, dropped, nil
}

// framePayloads marshals one synthetic frame into its header and chunk
// packets. Pixels are a per-frame shifted gradient so replayed frames are
// distinguishable.
func framePayloads(cfg genConfig, seq uint32) [][]byte {
	total := cfg.Width * cfg.Height
	pixels := make([]byte, total)
	for y := 0; y < cfg.Height; y++ {
		row := y * cfg.Width
		for x := 0; x < cfg.Width; x++ {
			pixels[row+x] = byte((x + y + int(seq)*3) % 251)
		}
	}

	f := float32(500.0)
	chunkCount := (total + cfg.ChunkSize - 1) / cfg.ChunkSize
	captured := cfg.Start.Add(time.Duration(seq-1) * cfg.Interval)

	payloads := make([][]byte, 0, 1+chunkCount)
	payloads = append(payloads, camera.MarshalHeader(&camera.FrameHeader{
		Seq:          seq,
		Width:        uint16(cfg.Width),
		Height:       uint16(cfg.Height),
		Stride:       uint16(cfg.Width),
		ChunkCount:   uint16(chunkCount),
		ChunkSize:    uint16(cfg.ChunkSize),
		CaptureNanos: captured.UnixNano(),
		Projection: [12]float32{
			f, 0, float32(cfg.Width) / 2, 0,
			0, f, float32(cfg.Height) / 2, 0,
			0, 0, 1, 0,
		},
	}))

	for i := 0; i < chunkCount; i++ {
		off := i * cfg.ChunkSize
		end := off + cfg.ChunkSize
		if end > total {
			end = total
		}
		payloads = append(payloads, camera.MarshalChunk(&camera.FrameChunk{
			Seq:     seq,
			Index:   uint16(i),
			Offset:  uint32(off),
			Payload: pixels[off:end],
		}))
	}

	return payloads
}

// encodeDatagram wraps a frame payload in Ethernet/IPv4/UDP.
func encodeDatagram(payload []byte, dstPort int) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	udp := &layers.UDP{
		SrcPort: 40000,
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
