package source

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/tagpose/internal/timeutil"
)

// ReplayConfig configures packet capture replay.
type ReplayConfig struct {
	// Path is the capture file to read (classic pcap format).
	Path string

	// Port filters datagrams by destination UDP port. Zero accepts every
	// UDP payload in the capture.
	Port int

	// Realtime replays packets on their recorded timestamps instead of as
	// fast as they can be read.
	Realtime bool

	// Speed scales realtime pacing (1.0 = recorded speed, 2.0 = twice as
	// fast). Ignored unless Realtime is set.
	Speed float64

	// Clock is used for pacing delays. Defaults to the real clock.
	Clock timeutil.Clock

	Builder FrameBuilderConfig
}

// ReplaySource reads a packet capture and feeds its UDP payloads through
// the same assembly path as the live listener. The source ends cleanly
// when the capture is exhausted.
type ReplaySource struct {
	cfg ReplayConfig
}

// NewReplaySource creates a replay source for the given capture file.
func NewReplaySource(config ReplayConfig) *ReplaySource {
	if config.Speed <= 0 {
		config.Speed = 1.0
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	return &ReplaySource{cfg: config}
}

// Run replays the capture until EOF or ctx cancellation.
func (s *ReplaySource) Run(ctx context.Context, h Handler) error {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read capture file %s: %w", s.cfg.Path, err)
	}

	bcfg := s.cfg.Builder
	bcfg.FrameCallback = h
	builder := NewFrameBuilder(bcfg)
	defer builder.Close()

	if s.cfg.Realtime {
		log.Printf("[Source] Replaying %s in realtime (speed: %.1fx)", s.cfg.Path, s.cfg.Speed)
	} else {
		log.Printf("[Source] Replaying %s", s.cfg.Path)
	}

	packetSource := gopacket.NewPacketSource(reader, reader.LinkType())
	packetCount := 0
	startTime := s.cfg.Clock.Now()
	var lastCapture time.Time

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Source] Replay stopping due to context cancellation (processed %d packets)", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				// End of capture.
				bs := builder.Stats()
				log.Printf("[Source] Replay complete: %d packets, %d frames in %v",
					packetCount, bs.FramesCompleted, s.cfg.Clock.Since(startTime))
				return nil
			}

			capture := packet.Metadata().Timestamp
			if s.cfg.Realtime {
				if !lastCapture.IsZero() {
					delay := time.Duration(float64(capture.Sub(lastCapture)) / s.cfg.Speed)
					if delay > 0 {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-s.cfg.Clock.After(delay):
						}
					}
				}
				lastCapture = capture
			}

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok {
				continue
			}
			if s.cfg.Port != 0 && int(udp.DstPort) != s.cfg.Port {
				continue
			}
			if len(udp.Payload) == 0 {
				continue
			}

			packetCount++
			builder.HandlePacket(udp.Payload)

			if packetCount%10000 == 0 {
				elapsed := s.cfg.Clock.Since(startTime)
				log.Printf("[Source] Replay progress: %d packets in %v (%.0f pkt/s)",
					packetCount, elapsed, float64(packetCount)/elapsed.Seconds())
			}
		}
	}
}
