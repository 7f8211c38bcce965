package backend

import (
	"context"
	"io"
)

// Producer feeds a Stream. It calls emit for every delta in order and
// returns nil once the service signalled completion. Any other return value
// becomes the stream's terminal error.
type Producer func(ctx context.Context, emit func(text string) error) error

// Stream is a cancellable sequence of text deltas. Recv returns io.EOF only
// after the producer reported completion.
type Stream struct {
	deltas chan string
	err    error
	cancel context.CancelFunc
}

// NewStream runs produce in its own goroutine and returns the consuming side.
func NewStream(ctx context.Context, produce Producer) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		deltas: make(chan string),
		cancel: cancel,
	}

	go func() {
		defer close(s.deltas)
		s.err = produce(ctx, func(text string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case s.deltas <- text:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	return s
}

// Recv returns the next delta.
func (s *Stream) Recv() (string, error) {
	text, ok := <-s.deltas
	if ok {
		return text, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

// Close cancels the producer and waits for it to exit.
func (s *Stream) Close() error {
	s.cancel()
	for range s.deltas {
	}
	return nil
}
