package source

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagpose/internal/camera"
	"github.com/banshee-data/tagpose/internal/timeutil"
)

type capturePacket struct {
	port    int
	ts      time.Time
	payload []byte
}

// writeCapture writes a classic pcap file containing UDP datagrams.
func writeCapture(t *testing.T, path string, packets []capturePacket) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

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

	for _, pkt := range packets {
		udp := &layers.UDP{
			SrcPort: 40000,
			DstPort: layers.UDPPort(pkt.port),
		}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(pkt.payload)))

		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     pkt.ts,
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
}

func TestReplayDeliversFramesAndFiltersPort(t *testing.T) {
	t.Parallel()

	const port = 7720
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	pixels := testPixels(16)

	var packets []capturePacket
	addFrame := func(seq uint32, p int, ts time.Time) {
		for _, pkt := range framePackets(testHeader(seq, 8, 2, 8, 8), pixels) {
			packets = append(packets, capturePacket{port: p, ts: ts, payload: pkt})
			ts = ts.Add(time.Millisecond)
		}
	}
	addFrame(1, port, base)
	addFrame(99, port+1, base.Add(10*time.Millisecond)) // wrong port, must be ignored
	addFrame(2, port, base.Add(20*time.Millisecond))

	path := filepath.Join(t.TempDir(), "frames.pcap")
	writeCapture(t, path, packets)

	var frames []*camera.Frame
	src := NewReplaySource(ReplayConfig{Path: path, Port: port})
	err := src.Run(context.Background(), func(f *camera.Frame) { frames = append(frames, f) })
	require.NoError(t, err, "replay should end cleanly at EOF")

	require.Len(t, frames, 2)
	assert.Equal(t, uint32(1), frames[0].Seq)
	assert.Equal(t, uint32(2), frames[1].Seq)
	assert.Equal(t, pixels, frames[0].Pixels)
}

func TestReplayRealtimePacing(t *testing.T) {
	t.Parallel()

	const port = 7720
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	pixels := testPixels(16)

	var packets []capturePacket
	for _, pkt := range framePackets(testHeader(1, 8, 2, 8, 8), pixels) {
		packets = append(packets, capturePacket{port: port, ts: base, payload: pkt})
		base = base.Add(2 * time.Millisecond)
	}

	path := filepath.Join(t.TempDir(), "paced.pcap")
	writeCapture(t, path, packets)

	var frames []*camera.Frame
	src := NewReplaySource(ReplayConfig{Path: path, Port: port, Realtime: true, Speed: 2.0})
	start := time.Now()
	err := src.Run(context.Background(), func(f *camera.Frame) { frames = append(frames, f) })
	require.NoError(t, err)

	require.Len(t, frames, 1)
	// Three packets 2ms apart at double speed: at least 2ms of pacing.
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
}

func TestReplayCancellation(t *testing.T) {
	t.Parallel()

	const port = 7720
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	pixels := testPixels(16)

	// A long gap between packets keeps the replay parked in pacing when
	// the context is cancelled.
	var packets []capturePacket
	pkts := framePackets(testHeader(1, 8, 2, 8, 8), pixels)
	packets = append(packets, capturePacket{port: port, ts: base, payload: pkts[0]})
	packets = append(packets, capturePacket{port: port, ts: base.Add(time.Hour), payload: pkts[1]})
	packets = append(packets, capturePacket{port: port, ts: base.Add(time.Hour), payload: pkts[2]})

	path := filepath.Join(t.TempDir(), "slow.pcap")
	writeCapture(t, path, packets)

	ctx, cancel := context.WithCancel(context.Background())
	src := NewReplaySource(ReplayConfig{Path: path, Port: port, Realtime: true})

	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(*camera.Frame) {})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestReplayMissingFile(t *testing.T) {
	t.Parallel()

	src := NewReplaySource(ReplayConfig{Path: filepath.Join(t.TempDir(), "absent.pcap")})
	err := src.Run(context.Background(), func(*camera.Frame) {})
	assert.Error(t, err)
}

func TestReplayCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(path, []byte("not a capture"), 0o644))

	src := NewReplaySource(ReplayConfig{Path: path})
	err := src.Run(context.Background(), func(*camera.Frame) {})
	assert.Error(t, err)
}

func TestReplayConfigDefaults(t *testing.T) {
	t.Parallel()

	src := NewReplaySource(ReplayConfig{Path: "x.pcap", Speed: -3})
	assert.Equal(t, 1.0, src.cfg.Speed)
	assert.Equal(t, timeutil.RealClock{}, src.cfg.Clock)
}
