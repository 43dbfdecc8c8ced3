// Package playback plays synthesized speech chunks in strict arrival
// order. A Queue owns a single drain worker that feeds items to a Sink
// one at a time; flushing cancels the in-flight item and discards the
// rest. Sinks are swappable: a paced writer for piping into an external
// player, an exec'd player process, or a recording mock.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxhollow/voicecall/internal/log"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("playback: queue closed")

// Item is one playable speech chunk.
type Item struct {
	// ChunkID is the backend-assigned ordinal for the chunk.
	ChunkID int

	// Text is the sentence the audio was synthesized from, when known.
	Text string

	// PCM holds signed 16-bit little-endian samples.
	PCM []byte

	SampleRate int
	Channels   int
}

// Duration returns the play time of the item's audio.
func (i Item) Duration() time.Duration {
	if i.SampleRate <= 0 || i.Channels <= 0 {
		return 0
	}
	bytesPerSecond := i.SampleRate * i.Channels * 2
	return time.Duration(len(i.PCM)) * time.Second / time.Duration(bytesPerSecond)
}

// Stats holds playback counters.
type Stats struct {
	Played  int64
	Dropped int64
}

// Queue plays items in FIFO order through a Sink. All methods are safe
// for concurrent use.
type Queue struct {
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	items   []Item
	playing bool
	closed  bool
	cancel  context.CancelFunc

	onItemStart func(Item)
	onItemEnd   func(Item)
	onEmpty     func()

	played  atomic.Int64
	dropped atomic.Int64
}

// NewQueue creates a queue draining into the given sink.
func NewQueue(sink Sink) *Queue {
	return &Queue{
		sink:   sink,
		logger: log.Component("playback"),
	}
}

// OnItemStart registers a callback fired just before an item starts
// playing.
func (q *Queue) OnItemStart(fn func(Item)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onItemStart = fn
}

// OnItemEnd registers a callback fired after an item finishes or is
// cancelled.
func (q *Queue) OnItemEnd(fn func(Item)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onItemEnd = fn
}

// OnEmpty registers a callback fired when the last queued item completes
// naturally. A flush via ClearAndStop does not fire it.
func (q *Queue) OnEmpty(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onEmpty = fn
}

// Enqueue appends an item. Playback starts immediately when the queue
// was idle.
func (q *Queue) Enqueue(item Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	start := !q.playing
	if start {
		q.playing = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return nil
}

// Busy reports whether an item is in flight or queued.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing || len(q.items) > 0
}

// Len returns the number of queued items, excluding any in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ClearAndStop cancels the in-flight item and discards everything
// queued. It is idempotent and safe to call on an empty queue.
func (q *Queue) ClearAndStop() {
	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if dropped > 0 {
		q.dropped.Add(int64(dropped))
		q.logger.Debug("queue flushed", "dropped", dropped)
	}
}

// Close flushes the queue and closes the sink. The queue rejects
// enqueues afterwards.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.ClearAndStop()
	if err := q.sink.Close(); err != nil {
		return fmt.Errorf("closing playback sink: %w", err)
	}
	return nil
}

// Stats returns playback counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Played:  q.played.Load(),
		Dropped: q.dropped.Load(),
	}
}

// drain plays queued items until none remain. Only one drain runs at a
// time; callbacks are invoked without holding the queue lock.
func (q *Queue) drain() {
	// A flush cancels the in-flight item; the emptying that follows is
	// not a natural completion, so the empty notification is suppressed
	// until another item is dequeued.
	flushed := false

	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.playing = false
			fireEmpty := !q.closed && !flushed
			onEmpty := q.onEmpty
			q.mu.Unlock()

			if fireEmpty && onEmpty != nil {
				onEmpty()
			}
			return
		}

		item := q.items[0]
		q.items = q.items[1:]
		flushed = false
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		onStart := q.onItemStart
		q.mu.Unlock()

		if onStart != nil {
			onStart(item)
		}

		err := q.sink.Play(ctx, item)
		cancel()

		q.mu.Lock()
		q.cancel = nil
		onEnd := q.onItemEnd
		q.mu.Unlock()

		if onEnd != nil {
			onEnd(item)
		}

		switch {
		case err == nil:
			q.played.Add(1)
		case errors.Is(err, context.Canceled):
			q.dropped.Add(1)
			flushed = true
		default:
			q.played.Add(1)
			q.logger.Warn("sink playback failed", "chunk_id", item.ChunkID, "error", err)
		}
	}
}
