package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// UDPConfig contains configuration options for the UDP frame source.
type UDPConfig struct {
	Addr        string        // listen address (default ":7720")
	RcvBuf      int           // socket receive buffer in bytes (default 4 MiB)
	LogInterval time.Duration // stats logging interval (default 1 minute)
	Builder     FrameBuilderConfig
}

// UDPSource receives chunked frame packets from a UDP socket and runs
// them through a FrameBuilder.
type UDPSource struct {
	addr        string
	rcvBuf      int
	logInterval time.Duration
	builderCfg  FrameBuilderConfig

	mu      sync.RWMutex // protects conn and builder
	conn    *net.UDPConn
	builder *FrameBuilder

	packetCount atomic.Uint64
	byteCount   atomic.Uint64
	readErrors  atomic.Uint64
}

// NewUDPSource creates a UDP frame source with the provided configuration.
func NewUDPSource(config UDPConfig) *UDPSource {
	if config.Addr == "" {
		config.Addr = ":7720"
	}
	if config.RcvBuf == 0 {
		config.RcvBuf = 4 << 20
	}
	if config.LogInterval == 0 {
		config.LogInterval = time.Minute
	}
	return &UDPSource{
		addr:        config.Addr,
		rcvBuf:      config.RcvBuf,
		logInterval: config.LogInterval,
		builderCfg:  config.Builder,
	}
}

// Run listens for packets until ctx is cancelled or the socket is closed.
// Assembled frames are delivered to h on the builder's worker goroutine.
func (s *UDPSource) Run(ctx context.Context, h Handler) error {
	addr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadBuffer(s.rcvBuf); err != nil {
		log.Printf("Warning: failed to set UDP receive buffer size to %d: %v", s.rcvBuf, err)
	}

	bcfg := s.builderCfg
	bcfg.FrameCallback = h
	builder := NewFrameBuilder(bcfg)
	defer builder.Close()

	s.mu.Lock()
	s.conn = conn
	s.builder = builder
	s.mu.Unlock()

	log.Printf("[Source] UDP listener started on %s with receive buffer %d bytes", conn.LocalAddr(), s.rcvBuf)

	go s.statsLoop(ctx, builder)

	// Chunk payloads are configurable up to the UDP payload limit, so size
	// the buffer for the worst case rather than a typical MTU.
	buffer := make([]byte, 65536)
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			log.Print("[Source] UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
			if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
				if !deadlineErrLogged {
					log.Printf("[Source] failed to set read deadline: %v", err)
					deadlineErrLogged = true
				}
			}

			n, _, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue // check ctx and try again
				}
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return nil
				}
				s.readErrors.Add(1)
				log.Printf("[Source] UDP read error: %v", err)
				continue
			}

			s.packetCount.Add(1)
			s.byteCount.Add(uint64(n))
			builder.HandlePacket(buffer[:n])
		}
	}
}

// statsLoop periodically logs receive and assembly statistics. An initial
// report goes out shortly after startup so a silent socket is visible.
func (s *UDPSource) statsLoop(ctx context.Context, builder *FrameBuilder) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		s.logStats(builder)
	}

	ticker := time.NewTicker(s.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStats(builder)
		}
	}
}

func (s *UDPSource) logStats(builder *FrameBuilder) {
	bs := builder.Stats()
	log.Printf("[Source] UDP stats: packets=%d bytes=%d read_errors=%d frames=%d incomplete=%d orphans=%d queue_drops=%d",
		s.packetCount.Load(), s.byteCount.Load(), s.readErrors.Load(),
		bs.FramesCompleted, bs.FramesIncomplete, bs.ChunksOrphaned, bs.FramesDroppedQueue)
}

// LocalAddr returns the bound socket address, or nil before Run has
// opened the socket.
func (s *UDPSource) LocalAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// BuilderStats returns the assembly counters for the current run. It
// reports zeros before Run has started.
func (s *UDPSource) BuilderStats() BuilderStats {
	s.mu.RLock()
	builder := s.builder
	s.mu.RUnlock()
	if builder == nil {
		return BuilderStats{}
	}
	return builder.Stats()
}

// Close closes the listening socket, unblocking Run. It is safe to call
// Close multiple times.
func (s *UDPSource) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
