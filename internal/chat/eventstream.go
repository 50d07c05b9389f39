package chat

import (
	"context"
	"io"
	"sync"
)

// Stream yields events until io.EOF. The consumer pulls one event at a
// time; there is no parallelism within a single turn's stream.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// eventStream adapts a worker function to the Stream interface through
// a channel. A worker error is surfaced as one EventError before EOF.
type eventStream struct {
	events chan Event
	cancel context.CancelFunc
	once   sync.Once
}

func newEventStream(ctx context.Context, worker func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event),
		cancel: cancel,
	}
	go func() {
		defer close(s.events)
		if err := worker(ctx, s.events); err != nil {
			select {
			case s.events <- Event{Type: EventError, Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	event, ok := <-s.events
	if !ok {
		return Event{}, io.EOF
	}
	return event, nil
}

func (s *eventStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}
