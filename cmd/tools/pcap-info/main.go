// Command pcap-info summarises a chunked-frame packet capture.
//
// It reports packet and port counts, codec breakdown and a dry-run frame
// assembly, which makes it the first stop when a capture replays with
// fewer frames than expected.
//
// Usage:
//
//	go run ./cmd/tools/pcap-info -pcap capture.pcap [flags]
//
// Flags:
//
//	-pcap   Capture file to analyse (required)
//	-port   Destination UDP port filter, 0 accepts all (default: 0)
//	-json   Emit the report as JSON
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/tagpose/internal/camera"
	"github.com/banshee-data/tagpose/internal/source"
)

const bytesPerKiB = 1024

// captureReport is the analysis summary of one capture file.
type captureReport struct {
	File          string              `json:"file"`
	Packets       int                 `json:"packets"`
	UDPPackets    int                 `json:"udp_packets"`
	PayloadBytes  int64               `json:"payload_bytes"`
	PortCounts    map[string]int      `json:"udp_ports"`
	HeaderPackets int                 `json:"header_packets"`
	ChunkPackets  int                 `json:"chunk_packets"`
	CodecErrors   int                 `json:"codec_errors"`
	DurationSecs  float64             `json:"duration_secs"`
	FirstSeq      uint32              `json:"first_seq"`
	LastSeq       uint32              `json:"last_seq"`
	Geometries    []string            `json:"geometries,omitempty"`
	FrameRateHz   float64             `json:"frame_rate_hz"`
	Builder       source.BuilderStats `json:"assembly"`
}

func main() {
	pcapFile := flag.String("pcap", "", "capture file to analyse (required)")
	port := flag.Int("port", 0, "destination UDP port filter, 0 accepts all")
	jsonOut := flag.Bool("json", false, "emit the report as JSON")
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("Error: -pcap flag is required")
	}

	f, err := os.Open(*pcapFile)
	if err != nil {
		log.Fatalf("Failed to open capture: %v", err)
	}
	defer f.Close()

	report, err := analyzeCapture(f, *pcapFile, *port)
	if err != nil {
		log.Fatalf("Failed to analyse capture: %v", err)
	}

	if *jsonOut {
		body, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode report: %v", err)
		}
		fmt.Println(string(body))
		return
	}
	printReport(os.Stdout, report)
}

// analyzeCapture reads a classic pcap stream and builds the summary. Port
// filtering applies to the codec and assembly counters; the per-port
// histogram always covers every UDP packet.
func analyzeCapture(r io.Reader, name string, port int) (*captureReport, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read capture file %s: %w", name, err)
	}

	report := &captureReport{
		File:       name,
		PortCounts: make(map[string]int),
	}

	var frameCount int
	var firstCapture, lastCapture time.Time
	builder := source.NewFrameBuilder(source.FrameBuilderConfig{
		QueueSize: 64,
		FrameCallback: func(f *camera.Frame) {
			if frameCount == 0 {
				firstCapture = f.CapturedAt
			}
			lastCapture = f.CapturedAt
			frameCount++
		},
	})

	geometries := make(map[string]bool)
	var firstTS, lastTS time.Time
	seenHeader := false

	packetSource := gopacket.NewPacketSource(reader, reader.LinkType())
	for packet := range packetSource.Packets() {
		report.Packets++

		ts := packet.Metadata().Timestamp
		if report.Packets == 1 {
			firstTS = ts
		}
		lastTS = ts

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}

		report.UDPPackets++
		report.PortCounts[strconv.Itoa(int(udp.DstPort))]++

		if port != 0 && int(udp.DstPort) != port {
			continue
		}
		if len(udp.Payload) == 0 {
			continue
		}
		report.PayloadBytes += int64(len(udp.Payload))

		typ, err := camera.PacketType(udp.Payload)
		if err != nil {
			report.CodecErrors++
			continue
		}
		switch typ {
		case camera.PacketTypeHeader:
			hdr, err := camera.UnmarshalHeader(udp.Payload)
			if err != nil {
				report.CodecErrors++
				break
			}
			report.HeaderPackets++
			if !seenHeader {
				report.FirstSeq = hdr.Seq
				seenHeader = true
			}
			report.LastSeq = hdr.Seq
			geometries[fmt.Sprintf("%dx%d", hdr.Width, hdr.Height)] = true
		case camera.PacketTypeChunk:
			report.ChunkPackets++
		default:
			report.CodecErrors++
		}

		builder.HandlePacket(udp.Payload)
	}

	builder.Close()
	report.Builder = builder.Stats()

	if report.Packets > 0 {
		report.DurationSecs = lastTS.Sub(firstTS).Seconds()
	}
	if frameCount > 1 {
		span := lastCapture.Sub(firstCapture).Seconds()
		if span > 0 {
			report.FrameRateHz = float64(frameCount-1) / span
		}
	}

	for g := range geometries {
		report.Geometries = append(report.Geometries, g)
	}
	sort.Strings(report.Geometries)

	return report, nil
}

func printReport(w io.Writer, r *captureReport) {
	fmt.Fprintf(w, "%s: %d packets, %d UDP, %s payload in %.2fs\n",
		r.File, r.Packets, r.UDPPackets, formatBytes(r.PayloadBytes), r.DurationSecs)

	ports := make([]string, 0, len(r.PortCounts))
	for p := range r.PortCounts {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	fmt.Fprintf(w, "  ports:    ")
	for i, p := range ports {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%s (%d)", p, r.PortCounts[p])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  codec:    %d headers, %d chunks, %d errors\n",
		r.HeaderPackets, r.ChunkPackets, r.CodecErrors)
	if r.HeaderPackets > 0 {
		fmt.Fprintf(w, "  frames:   seq %d..%d", r.FirstSeq, r.LastSeq)
		for _, g := range r.Geometries {
			fmt.Fprintf(w, ", %s", g)
		}
		fmt.Fprintln(w)
	}

	b := r.Builder
	fmt.Fprintf(w, "  assembly: %d complete, %d incomplete, %d orphan chunks, %d duplicates\n",
		b.FramesCompleted, b.FramesIncomplete, b.ChunksOrphaned, b.ChunksDuplicate)
	if r.FrameRateHz > 0 {
		fmt.Fprintf(w, "  rate:     %.1f frames/s\n", r.FrameRateHz)
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= bytesPerKiB*bytesPerKiB:
		return fmt.Sprintf("%.1f MiB", float64(n)/(bytesPerKiB*bytesPerKiB))
	case n >= bytesPerKiB:
		return fmt.Sprintf("%.1f KiB", float64(n)/bytesPerKiB)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
