// Package batch coalesces raw pty output into time/size-bounded batches.
package batch

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInterval   = 16 * time.Millisecond
	DefaultThreshold  = 4096
	DefaultMaxPending = 64 * 1024
)

type Config struct {
	// Interval is the max age of buffered bytes before a flush.
	Interval time.Duration

	// Threshold flushes immediately once this many bytes are buffered.
	Threshold int

	// MaxPending bounds the bytes queued for a slow sink; the oldest
	// queued batch is dropped past this point.
	MaxPending int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	return c
}

// Batcher accumulates one session's output and emits it as ordered batches.
// Write never blocks on the sink: flushed batches go through a bounded
// pending queue drained by a dedicated emitter goroutine, and overflow is
// shed oldest-first as a deliberate lossy degradation.
type Batcher struct {
	cfg  Config
	emit func([]byte)

	mu           sync.Mutex
	cond         *sync.Cond
	buf          []byte
	pending      [][]byte
	pendingBytes int
	closed       bool
	timer        *time.Timer

	dropped atomic.Int64
	done    chan struct{}
}

// New starts a batcher emitting to the given sink function. The sink is
// called from a single goroutine, one batch at a time, in order.
func New(cfg Config, emit func([]byte)) *Batcher {
	b := &Batcher{
		cfg:  cfg.withDefaults(),
		emit: emit,
		done: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.drain()
	return b
}

// Write buffers output bytes, flushing on threshold crossing. Safe to call
// from exactly one producer (the session's reader loop).
func (b *Batcher) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if len(b.buf) == 0 {
		// First byte of a fresh buffer arms the age timer.
		if b.timer == nil {
			b.timer = time.AfterFunc(b.cfg.Interval, b.timerFlush)
		} else {
			b.timer.Reset(b.cfg.Interval)
		}
	}
	b.buf = append(b.buf, p...)
	if len(b.buf) >= b.cfg.Threshold {
		b.flushLocked()
	}
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed && len(b.buf) > 0 {
		b.flushLocked()
	}
}

// Close performs the final flush and blocks until every queued batch has
// been handed to the sink. After Close returns, no further emits occur, so
// an exit event published next is ordered after the last output batch.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	if len(b.buf) > 0 {
		b.flushLocked()
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.cond.Signal()
	b.mu.Unlock()
	<-b.done
}

// Dropped reports how many batches were shed due to sink backpressure.
func (b *Batcher) Dropped() int64 { return b.dropped.Load() }

func (b *Batcher) flushLocked() {
	b.pending = append(b.pending, b.buf)
	b.pendingBytes += len(b.buf)
	b.buf = nil
	for b.pendingBytes > b.cfg.MaxPending && len(b.pending) > 1 {
		oldest := b.pending[0]
		b.pending = b.pending[1:]
		b.pendingBytes -= len(oldest)
		count := b.dropped.Add(1)
		slog.Warn("batch: dropped oldest pending batch, sink too slow",
			"bytes", len(oldest), "total_dropped", count)
	}
	b.cond.Signal()
}

func (b *Batcher) drain() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.pending) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.pending) == 0 && b.closed {
			b.mu.Unlock()
			return
		}
		next := b.pending[0]
		b.pending = b.pending[1:]
		b.pendingBytes -= len(next)
		b.mu.Unlock()
		b.emit(next)
	}
}
