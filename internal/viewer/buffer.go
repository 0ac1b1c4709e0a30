// Package viewer holds the consumer-side adaptive frame buffer. It
// absorbs bursty frame arrival, renders at a fixed cadence, and drops
// frames under two independent policies: capacity (buffer full) and
// staleness (frame sat too long before its render tick).
package viewer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"camrelay/internal/core"
)

const (
	defaultCapacity      = 3
	defaultTargetFPS     = 30
	defaultMaxFrameAge   = 200 * time.Millisecond
	defaultLatencyWindow = 30
)

// Sink consumes render-eligible frames. Render decodes and draws;
// a failed decode is logged and discarded, never fatal to the loop.
type Sink interface {
	Render(payload string, capturedAt time.Time) error
}

// BufferedFrame is one queued frame with arrival metadata.
type BufferedFrame struct {
	Payload    string
	CapturedAt time.Time
	ReceivedAt time.Time
}

// Stats is a point-in-time snapshot of delivery quality.
type Stats struct {
	BufferSize      int
	DroppedFrames   uint64
	ProcessedFrames uint64
	AverageLatency  time.Duration
	DropRate        float64
}

// Option configures a BufferManager.
type Option func(*BufferManager)

func WithCapacity(n int) Option {
	return func(m *BufferManager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

func WithTargetFPS(fps int) Option {
	return func(m *BufferManager) {
		if fps > 0 {
			m.tickInterval = time.Second / time.Duration(fps)
		}
	}
}

func WithMaxFrameAge(d time.Duration) Option {
	return func(m *BufferManager) {
		if d > 0 {
			m.maxFrameAge = d
		}
	}
}

// BufferManager decouples irregular network arrival from a fixed render
// cadence. AddFrame may run on the inbound-message goroutine; the render
// loop is single-threaded and never overlaps ticks. The in-flight decode
// guard is the only mutex-like mechanism beyond the buffer lock.
type BufferManager struct {
	clock core.Clock
	sink  Sink

	capacity     int
	tickInterval time.Duration
	maxFrameAge  time.Duration

	mu        sync.Mutex
	buffer    []BufferedFrame
	dropped   uint64
	processed uint64
	latencies []time.Duration // sliding window, newest last
	inFlight  bool

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	started     bool
	destroyed   bool
}

func NewBufferManager(clock core.Clock, sink Sink, opts ...Option) *BufferManager {
	m := &BufferManager{
		clock:        clock,
		sink:         sink,
		capacity:     defaultCapacity,
		tickInterval: time.Second / defaultTargetFPS,
		maxFrameAge:  defaultMaxFrameAge,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Start launches the render loop. Idempotent; only the first call
// spawns the loop.
func (m *BufferManager) Start(ctx context.Context) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.started || m.destroyed {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.started = true
	ticker := m.clock.NewTicker(m.tickInterval)
	go m.renderLoop(ctx, ticker)
}

// AddFrame queues a frame. When the buffer already holds capacity
// entries the oldest is evicted first and counted as dropped.
func (m *BufferManager) AddFrame(payload string, capturedAt time.Time) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buffer) >= m.capacity {
		m.buffer = m.buffer[1:]
		m.dropped++
		log.Debug().Str("module", "viewer.buffer").Uint64("dropped", m.dropped).Msg("frame dropped, buffer full")
	}
	m.buffer = append(m.buffer, BufferedFrame{
		Payload:    payload,
		CapturedAt: capturedAt,
		ReceivedAt: now,
	})
}

// Clear empties the buffer without touching cumulative counters. Used
// when switching devices to reset latency.
func (m *BufferManager) Clear() {
	m.mu.Lock()
	m.buffer = nil
	m.mu.Unlock()
	log.Info().Str("module", "viewer.buffer").Msg("frame buffer cleared")
}

// Stats returns a snapshot of delivery quality.
func (m *BufferManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg time.Duration
	if len(m.latencies) > 0 {
		var sum time.Duration
		for _, l := range m.latencies {
			sum += l
		}
		avg = sum / time.Duration(len(m.latencies))
	}
	var dropRate float64
	if total := m.dropped + m.processed; total > 0 {
		dropRate = float64(m.dropped) / float64(total)
	}
	return Stats{
		BufferSize:      len(m.buffer),
		DroppedFrames:   m.dropped,
		ProcessedFrames: m.processed,
		AverageLatency:  avg,
		DropRate:        dropRate,
	}
}

// Destroy cancels the render loop and clears the buffer. After return
// no further ticks fire. Idempotent; safe on every exit path.
func (m *BufferManager) Destroy() {
	m.lifecycleMu.Lock()
	if m.destroyed {
		m.lifecycleMu.Unlock()
		return
	}
	m.destroyed = true
	started := m.started
	cancel, done := m.cancel, m.done
	m.lifecycleMu.Unlock()

	if started {
		cancel()
		<-done
	}
	m.Clear()
	log.Info().Str("module", "viewer.buffer").Msg("buffer manager destroyed")
}

func (m *BufferManager) renderLoop(ctx context.Context, ticker core.Ticker) {
	defer close(m.done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.tick()
		}
	}
}

// tick renders at most one frame. A stale candidate is discarded
// without retrying the next entry in the same tick.
func (m *BufferManager) tick() {
	m.mu.Lock()
	if m.inFlight || len(m.buffer) == 0 {
		m.mu.Unlock()
		return
	}
	frame := m.buffer[0]
	m.buffer = m.buffer[1:]

	now := m.clock.Now()
	if age := now.Sub(frame.ReceivedAt); age > m.maxFrameAge {
		m.dropped++
		m.mu.Unlock()
		log.Debug().Str("module", "viewer.buffer").Dur("age", age).Msg("frame dropped, too old")
		return
	}

	m.inFlight = true
	m.mu.Unlock()

	// Decode off the loop goroutine; the guard above keeps decodes
	// strictly sequential so paints never reorder.
	go m.render(frame)
}

func (m *BufferManager) render(frame BufferedFrame) {
	err := m.sink.Render(frame.Payload, frame.CapturedAt)
	completed := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false
	if err != nil {
		log.Error().Err(err).Str("module", "viewer.buffer").Msg("frame decode failed")
		return
	}
	m.processed++
	m.latencies = append(m.latencies, completed.Sub(frame.CapturedAt))
	if len(m.latencies) > defaultLatencyWindow {
		m.latencies = m.latencies[1:]
	}
}
