package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlinehq/voxline/pkg/types"
)

// Writer decouples the turn loop from sink latency: Enqueue never blocks.
// A single consumer goroutine drains the bounded channel; when the channel
// is full the batch is dropped, the overflow counter advances, and OnDrop
// fires so the pipeline can journal the backpressure into the next turn.
type Writer struct {
	sink Sink
	ch   chan []types.Event
	log  *slog.Logger

	dropped      atomic.Int64
	pendingDrops atomic.Int64

	// OnDrop is called with the number of events dropped. Optional.
	OnDrop func(n int)

	closeOnce sync.Once
	done      chan struct{}
}

// NewWriter starts the writer's consumer goroutine. buffer is the channel
// capacity in batches; zero selects 256.
func NewWriter(sink Sink, buffer int, log *slog.Logger) *Writer {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	w := &Writer{
		sink: sink,
		ch:   make(chan []types.Event, buffer),
		log:  log,
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for batch := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.sink.Write(ctx, batch); err != nil {
			w.log.Error("journal: sink write failed", "error", err, "events", len(batch))
		}
		cancel()
	}
}

// Enqueue hands a turn's events to the consumer without blocking. Empty
// batches are ignored. The first batch accepted after a drop carries an
// extra backpressure marker event so the gap is visible in the journal.
func (w *Writer) Enqueue(events []types.Event) {
	if len(events) == 0 {
		return
	}
	if n := w.pendingDrops.Swap(0); n > 0 {
		last := events[len(events)-1]
		marker := types.NewEvent(last.TenantID, last.CallID, last.TurnIndex,
			types.EventJournalBackpressure, map[string]any{"droppedEvents": n})
		marker.Seq = last.Seq + 1
		events = append(events, marker)
	}
	select {
	case w.ch <- events:
	default:
		w.dropped.Add(int64(len(events)))
		w.pendingDrops.Add(int64(len(events)))
		w.log.Warn("journal: buffer full, dropping events", "dropped", len(events))
		if w.OnDrop != nil {
			w.OnDrop(len(events))
		}
	}
}

// Dropped returns the total number of events dropped so far.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Close stops intake, flushes buffered batches, and waits for the consumer
// up to ctx's deadline.
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() { close(w.ch) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
