package camera

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire format of the chunked frame stream. Every packet starts with a
// common prefix (magic, version, packet type); all fields are
// little-endian. One frame on the wire is one header packet followed by
// ChunkCount chunk packets addressed by byte offset into the pixel buffer.
const (
	Magic   = 0xA5C3
	Version = 1

	PacketTypeHeader = 1
	PacketTypeChunk  = 2

	prefixLen = 4 // magic (2) + version (1) + type (1)

	// HeaderLen is the exact size of a header packet on the wire.
	HeaderLen = prefixLen + 4 + 2 + 2 + 2 + 2 + 2 + 8 + 12*4

	// ChunkHeaderLen is the size of a chunk packet before its payload.
	ChunkHeaderLen = prefixLen + 4 + 2 + 2 + 4
)

// FrameHeader announces a frame: its sequence number, pixel geometry, how
// many chunks follow, the capture timestamp and the camera's projection
// matrix at capture time.
type FrameHeader struct {
	Seq          uint32
	Width        uint16
	Height       uint16
	Stride       uint16
	ChunkCount   uint16
	ChunkSize    uint16 // payload bytes per full chunk
	CaptureNanos int64
	Projection   [12]float32 // row-major 3x4
}

// FrameChunk carries one slice of a frame's pixel buffer. Offset addresses
// the slice into the buffer, so chunks may arrive in any order.
type FrameChunk struct {
	Seq     uint32
	Index   uint16
	Offset  uint32
	Payload []byte
}

// PacketType validates the common packet prefix and returns the packet
// type byte.
func PacketType(pkt []byte) (byte, error) {
	if len(pkt) < prefixLen {
		return 0, fmt.Errorf("packet too short: %d bytes", len(pkt))
	}
	if magic := binary.LittleEndian.Uint16(pkt[0:2]); magic != Magic {
		return 0, fmt.Errorf("bad magic 0x%04X", magic)
	}
	if pkt[2] != Version {
		return 0, fmt.Errorf("unsupported version %d", pkt[2])
	}
	return pkt[3], nil
}

// MarshalHeader encodes a frame header packet.
func MarshalHeader(h *FrameHeader) []byte {
	pkt := make([]byte, HeaderLen)
	putPrefix(pkt, PacketTypeHeader)
	binary.LittleEndian.PutUint32(pkt[4:8], h.Seq)
	binary.LittleEndian.PutUint16(pkt[8:10], h.Width)
	binary.LittleEndian.PutUint16(pkt[10:12], h.Height)
	binary.LittleEndian.PutUint16(pkt[12:14], h.Stride)
	binary.LittleEndian.PutUint16(pkt[14:16], h.ChunkCount)
	binary.LittleEndian.PutUint16(pkt[16:18], h.ChunkSize)
	binary.LittleEndian.PutUint64(pkt[18:26], uint64(h.CaptureNanos))
	for i, v := range h.Projection {
		binary.LittleEndian.PutUint32(pkt[26+i*4:30+i*4], math.Float32bits(v))
	}
	return pkt
}

// UnmarshalHeader decodes a frame header packet. The caller is expected to
// have dispatched on PacketType first.
func UnmarshalHeader(pkt []byte) (*FrameHeader, error) {
	if len(pkt) != HeaderLen {
		return nil, fmt.Errorf("header packet length %d, want %d", len(pkt), HeaderLen)
	}
	h := &FrameHeader{
		Seq:          binary.LittleEndian.Uint32(pkt[4:8]),
		Width:        binary.LittleEndian.Uint16(pkt[8:10]),
		Height:       binary.LittleEndian.Uint16(pkt[10:12]),
		Stride:       binary.LittleEndian.Uint16(pkt[12:14]),
		ChunkCount:   binary.LittleEndian.Uint16(pkt[14:16]),
		ChunkSize:    binary.LittleEndian.Uint16(pkt[16:18]),
		CaptureNanos: int64(binary.LittleEndian.Uint64(pkt[18:26])),
	}
	for i := range h.Projection {
		h.Projection[i] = math.Float32frombits(binary.LittleEndian.Uint32(pkt[26+i*4 : 30+i*4]))
	}
	return h, nil
}

// MarshalChunk encodes a chunk packet.
func MarshalChunk(c *FrameChunk) []byte {
	pkt := make([]byte, ChunkHeaderLen+len(c.Payload))
	putPrefix(pkt, PacketTypeChunk)
	binary.LittleEndian.PutUint32(pkt[4:8], c.Seq)
	binary.LittleEndian.PutUint16(pkt[8:10], c.Index)
	binary.LittleEndian.PutUint16(pkt[10:12], uint16(len(c.Payload)))
	binary.LittleEndian.PutUint32(pkt[12:16], c.Offset)
	copy(pkt[ChunkHeaderLen:], c.Payload)
	return pkt
}

// UnmarshalChunk decodes a chunk packet. The returned payload aliases pkt;
// callers that retain it past the packet buffer's reuse must copy.
func UnmarshalChunk(pkt []byte) (*FrameChunk, error) {
	if len(pkt) < ChunkHeaderLen {
		return nil, fmt.Errorf("chunk packet length %d, want at least %d", len(pkt), ChunkHeaderLen)
	}
	payloadLen := int(binary.LittleEndian.Uint16(pkt[10:12]))
	if len(pkt) != ChunkHeaderLen+payloadLen {
		return nil, fmt.Errorf("chunk payload length %d, packet carries %d", payloadLen, len(pkt)-ChunkHeaderLen)
	}
	return &FrameChunk{
		Seq:     binary.LittleEndian.Uint32(pkt[4:8]),
		Index:   binary.LittleEndian.Uint16(pkt[8:10]),
		Offset:  binary.LittleEndian.Uint32(pkt[12:16]),
		Payload: pkt[ChunkHeaderLen:],
	}, nil
}

func putPrefix(pkt []byte, typ byte) {
	binary.LittleEndian.PutUint16(pkt[0:2], Magic)
	pkt[2] = Version
	pkt[3] = typ
}
