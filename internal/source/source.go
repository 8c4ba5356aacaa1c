// Package source delivers assembled camera frames from a UDP socket, a
// packet capture replay, or a synthetic generator.
//
// Every implementation feeds raw datagrams through a FrameBuilder, which
// reassembles chunked frames and hands each completed frame to the
// configured handler on a single delivery goroutine. Slow handlers cause
// frame drops, never backpressure on the packet path.
package source

import (
	"context"

	"github.com/banshee-data/tagpose/internal/camera"
)

// Handler receives each assembled frame in arrival order. The frame and
// its pixel buffer must be treated as read-only after delivery.
type Handler func(*camera.Frame)

// Source produces frames until ctx is cancelled or the underlying input
// is exhausted.
type Source interface {
	Run(ctx context.Context, h Handler) error
}

// PacketSink consumes raw datagrams. Callers reuse the packet buffer
// between calls, so implementations must copy any bytes they retain.
type PacketSink interface {
	HandlePacket(pkt []byte)
}
