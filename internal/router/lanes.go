package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"tripupdate-processor/internal/events"
)

// Handler processes one message to completion, including its ack.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// Lanes fans messages out to a fixed set of goroutines keyed by trip id, so
// messages for one trip are handled in arrival order while different trips
// proceed in parallel.
type Lanes struct {
	h     Handler
	log   *slog.Logger
	lanes []chan Message

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLanes(ctx context.Context, h Handler, workers, depth int, log *slog.Logger) *Lanes {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	if log == nil {
		log = slog.Default()
	}
	l := &Lanes{h: h, log: log, lanes: make([]chan Message, workers)}
	for i := range l.lanes {
		ch := make(chan Message, depth)
		l.lanes[i] = ch
		l.wg.Add(1)
		go func(lane int) {
			defer l.wg.Done()
			for msg := range ch {
				if err := h.Handle(ctx, msg); err != nil {
					l.log.Debug("lane message failed", slog.Int("lane", lane), slog.Any("error", err))
				}
			}
		}(i)
	}
	return l
}

// Submit queues msg on its lane, blocking while the lane is full. It reports
// false once Close has been called; the caller still owns the message then.
func (l *Lanes) Submit(msg Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.lanes[l.lane(msg.Envelope())] <- msg
	return true
}

// lane hashes the trip a message belongs to, so keyed and keyless
// envelopes for one trip share a lane.
func (l *Lanes) lane(env events.Envelope) int {
	if len(l.lanes) == 1 {
		return 0
	}
	return int(xxhash.Sum64String(events.RoutingKey(env)) % uint64(len(l.lanes)))
}

// Close stops accepting messages and waits for queued ones to finish.
func (l *Lanes) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for _, ch := range l.lanes {
		close(ch)
	}
	l.mu.Unlock()
	l.wg.Wait()
}
