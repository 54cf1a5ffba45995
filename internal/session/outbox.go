package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// outbox delivers events to the sink in order from its own goroutine, so
// nothing holding the coordinator mutex ever waits on the transport.
type outbox struct {
	sink   Sink
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    []Event
	queued   uint64
	sent     uint64
	progress chan struct{}

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newOutbox(sink Sink, logger *zap.Logger) *outbox {
	ctx, cancel := context.WithCancel(context.Background())
	o := &outbox{
		sink:     sink,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go o.run()
	return o
}

// push queues ev and never blocks.
func (o *outbox) push(ev Event) {
	o.mu.Lock()
	o.queue = append(o.queue, ev)
	o.queued++
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		if ev, ok := o.pop(); ok {
			if err := o.sink.SendEvent(o.ctx, ev); err != nil {
				o.logger.Debug("Failed to send event", zap.String("type", ev.Type), zap.Error(err))
			}
			o.mu.Lock()
			o.sent++
			close(o.progress)
			o.progress = make(chan struct{})
			o.mu.Unlock()
			continue
		}

		select {
		case <-o.wake:
		case <-o.stop:
			if o.pending() == 0 {
				return
			}
		}
	}
}

func (o *outbox) pop() (Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return Event{}, false
	}
	ev := o.queue[0]
	o.queue[0] = Event{}
	o.queue = o.queue[1:]
	return ev, true
}

func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// flush waits until every event queued before the call has been handed to
// the sink.
func (o *outbox) flush(ctx context.Context) error {
	o.mu.Lock()
	target := o.queued
	o.mu.Unlock()

	for {
		o.mu.Lock()
		if o.sent >= target {
			o.mu.Unlock()
			return nil
		}
		progress := o.progress
		o.mu.Unlock()

		select {
		case <-progress:
		case <-o.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// close delivers what is queued, waiting at most timeout, then abandons the
// rest.
func (o *outbox) close(timeout time.Duration) {
	o.once.Do(func() { close(o.stop) })

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-o.done:
	case <-timer.C:
		o.logger.Warn("Event delivery did not finish before close", zap.Int("pending", o.pending()))
	}
	o.cancel()
}
