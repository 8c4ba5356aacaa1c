package source

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagpose/internal/camera"
)

func TestUDPSourceDeliversFrames(t *testing.T) {
	t.Parallel()

	frames := make(chan *camera.Frame, 4)
	src := NewUDPSource(UDPConfig{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(f *camera.Frame) { frames <- f })
	}()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = src.LocalAddr()
		return addr != nil
	}, 5*time.Second, 10*time.Millisecond, "socket never bound")

	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	pixels := testPixels(16)
	for _, pkt := range framePackets(testHeader(1, 8, 2, 8, 8), pixels) {
		_, err := conn.Write(pkt)
		require.NoError(t, err)
	}

	select {
	case f := <-frames:
		assert.Equal(t, uint32(1), f.Seq)
		assert.Equal(t, pixels, f.Pixels)
	case <-time.After(5 * time.Second):
		t.Fatal("no frame delivered")
	}

	stats := src.BuilderStats()
	assert.Equal(t, uint64(1), stats.FramesCompleted)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestUDPSourceCloseUnblocksRun(t *testing.T) {
	t.Parallel()

	src := NewUDPSource(UDPConfig{Addr: "127.0.0.1:0"})
	assert.Equal(t, BuilderStats{}, src.BuilderStats(), "stats before Run should be zero")

	done := make(chan error, 1)
	go func() {
		done <- src.Run(context.Background(), func(*camera.Frame) {})
	}()

	require.Eventually(t, func() bool {
		return src.LocalAddr() != nil
	}, 5*time.Second, 10*time.Millisecond, "socket never bound")

	require.NoError(t, src.Close())
	require.NoError(t, src.Close(), "second Close should be a no-op")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestUDPSourceBadAddress(t *testing.T) {
	t.Parallel()

	src := NewUDPSource(UDPConfig{Addr: "not-an-address:::"})
	err := src.Run(context.Background(), func(*camera.Frame) {})
	assert.Error(t, err)
}
