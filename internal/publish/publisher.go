// Package publish fans detection results out to runtime subscribers.
//
// The pipeline publishes each FrameResult once; subscribers (the event
// log writer, the monitor's recent-detections buffer, debug artifact
// writers) receive on buffered channels. Slow subscribers lose frames
// rather than slowing the pipeline or each other.
package publish

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tagpose/internal/apriltag"
)

// Config holds configuration for the publisher.
type Config struct {
	// QueueSize is the intake queue depth between Publish and the
	// broadcast goroutine (default 64).
	QueueSize int

	// SubscriberDepth is the buffer depth of each subscriber channel
	// (default 16).
	SubscriberDepth int
}

type subscriber struct {
	name string
	ch   chan *apriltag.FrameResult
}

// Publisher broadcasts frame results to registered subscribers. Publish
// never blocks: when the intake queue or a subscriber channel is full the
// frame is dropped and counted.
type Publisher struct {
	subDepth int

	frameChan chan *apriltag.FrameResult

	subsMu sync.RWMutex
	subs   map[int]*subscriber
	nextID int

	published     atomic.Uint64
	droppedIntake atomic.Uint64
	droppedSlow   atomic.Uint64
	subCount      atomic.Int32

	lastStatsMu   sync.Mutex
	lastStatsTime time.Time
	lastPublished uint64

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Published     uint64 `json:"published"`
	DroppedIntake uint64 `json:"dropped_intake"`
	DroppedSlow   uint64 `json:"dropped_slow"`
	Subscribers   int32  `json:"subscribers"`
	Running       bool   `json:"running"`
}

// NewPublisher creates a Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 64
	}
	if cfg.SubscriberDepth == 0 {
		cfg.SubscriberDepth = 16
	}
	return &Publisher{
		subDepth:  cfg.SubscriberDepth,
		frameChan: make(chan *apriltag.FrameResult, cfg.QueueSize),
		subs:      make(map[int]*subscriber),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the broadcast goroutine.
func (p *Publisher) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.wg.Add(1)
	go p.broadcastLoop()
	return nil
}

// Stop drains queued results to subscribers, then closes every
// subscriber channel. It is safe to call Stop multiple times.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		wasRunning := p.running.Swap(false)
		close(p.stopCh)
		if wasRunning {
			p.wg.Wait()
		}

		// Deliver anything still queued before the channels close.
		for {
			select {
			case res := <-p.frameChan:
				p.deliver(res)
			default:
				p.closeSubscribers()
				return
			}
		}
	})
}

func (p *Publisher) closeSubscribers() {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	for id, sub := range p.subs {
		close(sub.ch)
		delete(p.subs, id)
	}
	p.subCount.Store(0)
}

// Subscribe registers a named subscriber and returns its channel together
// with an unsubscribe function. The channel is closed on unsubscribe and
// on Stop.
func (p *Publisher) Subscribe(name string) (<-chan *apriltag.FrameResult, func()) {
	sub := &subscriber{
		name: name,
		ch:   make(chan *apriltag.FrameResult, p.subDepth),
	}

	p.subsMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = sub
	p.subsMu.Unlock()

	count := p.subCount.Add(1)
	log.Printf("[Publish] Subscriber connected: %s (total: %d)", name, count)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			p.subsMu.Lock()
			if _, ok := p.subs[id]; ok {
				delete(p.subs, id)
				// Sends hold the read lock, so closing under the write
				// lock cannot race a send.
				close(sub.ch)
				p.subsMu.Unlock()
				remaining := p.subCount.Add(-1)
				log.Printf("[Publish] Subscriber disconnected: %s (remaining: %d)", name, remaining)
				return
			}
			p.subsMu.Unlock()
		})
	}
	return sub.ch, unsubscribe
}

// Publish enqueues a result for broadcast. It never blocks; when the
// intake queue is full the result is dropped and counted.
func (p *Publisher) Publish(res *apriltag.FrameResult) {
	if res == nil || !p.running.Load() {
		return
	}

	select {
	case p.frameChan <- res:
		count := p.published.Add(1)
		p.logPeriodicStats(count)
	default:
		dropped := p.droppedIntake.Add(1)
		log.Printf("[Publish] DROPPED frame %d at intake (total dropped: %d), queue full", res.Seq, dropped)
	}
}

// logPeriodicStats logs throughput every 5 seconds of publishing.
func (p *Publisher) logPeriodicStats(published uint64) {
	p.lastStatsMu.Lock()
	defer p.lastStatsMu.Unlock()

	now := time.Now()
	if p.lastStatsTime.IsZero() {
		p.lastStatsTime = now
		p.lastPublished = published
		return
	}

	elapsed := now.Sub(p.lastStatsTime)
	if elapsed >= 5*time.Second {
		interval := published - p.lastPublished
		fps := float64(interval) / elapsed.Seconds()
		log.Printf("[Publish] Stats: fps=%.1f published=%d dropped_intake=%d dropped_slow=%d subscribers=%d queue=%d/%d",
			fps, published, p.droppedIntake.Load(), p.droppedSlow.Load(),
			p.subCount.Load(), len(p.frameChan), cap(p.frameChan))
		p.lastStatsTime = now
		p.lastPublished = published
	}
}

// broadcastLoop distributes queued results to all subscribers.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case res := <-p.frameChan:
			p.deliver(res)
		}
	}
}

func (p *Publisher) deliver(res *apriltag.FrameResult) {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()
	for _, sub := range p.subs {
		select {
		case sub.ch <- res:
		default:
			// Subscriber is slow; drop the frame for it alone.
			p.droppedSlow.Add(1)
			debugf("[Publish] Dropped frame %d for slow subscriber %s", res.Seq, sub.name)
		}
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:     p.published.Load(),
		DroppedIntake: p.droppedIntake.Load(),
		DroppedSlow:   p.droppedSlow.Load(),
		Subscribers:   p.subCount.Load(),
		Running:       p.running.Load(),
	}
}
