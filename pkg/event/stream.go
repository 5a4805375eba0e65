package event

// Stream is a bounded, blocking-emit event pipe: Emit pushes back on the
// Executor when the consumer falls behind instead of dropping events,
// preserving the strict ordering invariants in spec.md §4.8.
type Stream struct {
	ch chan Event
}

// NewStream creates a Stream with the given buffer capacity. A capacity of
// 0 makes Emit rendezvous directly with the reader.
func NewStream(capacity int) *Stream {
	return &Stream{ch: make(chan Event, capacity)}
}

// Emit blocks until the event is buffered (or, at capacity 0, received).
func (s *Stream) Emit(e Event) {
	s.ch <- e
}

// Events returns the read side of the stream for the external consumer.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close signals that no further events will be emitted. Callers must not
// call Emit after Close.
func (s *Stream) Close() {
	close(s.ch)
}
