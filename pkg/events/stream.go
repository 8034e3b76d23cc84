package events

import "sync"

// Stream is a lazy, finite, non-restartable sequence of Events produced by
// one provider call. Cancellation is a caller-side side channel: Cancel runs
// the producer's cancel function (for a NewProducer stream it closes
// Producer.Cancelled). It does not itself stop the channel from being read,
// and an adapter stops reading its upstream only if it watches for it.
type Stream struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

// NewStream wraps a receive channel and a cancel function into a Stream.
func NewStream(c <-chan Event, cancel func()) *Stream {
	if cancel == nil {
		cancel = func() {}
	}
	return &Stream{C: c, cancel: cancel}
}

// Cancel requests the producer stop. Safe to call multiple times.
func (s *Stream) Cancel() {
	s.once.Do(s.cancel)
}

// Producer is the writer-side handle used by provider adapters to build a
// Stream: Emit pushes events, Done closes the channel, Cancelled reports
// whether the caller asked for cancellation.
type Producer struct {
	ch        chan Event
	cancelCh  chan struct{}
	closeOnce sync.Once
}

// NewProducer creates a buffered producer/stream pair.
func NewProducer(buffer int) (*Producer, *Stream) {
	if buffer <= 0 {
		buffer = 16
	}
	p := &Producer{ch: make(chan Event, buffer), cancelCh: make(chan struct{})}
	s := NewStream(p.ch, p.requestCancel)
	return p, s
}

func (p *Producer) requestCancel() {
	select {
	case <-p.cancelCh:
	default:
		close(p.cancelCh)
	}
}

// Cancelled returns a channel that is closed once the caller requests cancellation.
func (p *Producer) Cancelled() <-chan struct{} { return p.cancelCh }

// Emit sends an event to the stream, returning false if cancellation has
// been requested.
func (p *Producer) Emit(e Event) bool {
	select {
	case <-p.cancelCh:
		return false
	case p.ch <- e:
		return true
	}
}

// Close closes the underlying channel. Safe to call multiple times.
func (p *Producer) Close() {
	p.closeOnce.Do(func() { close(p.ch) })
}
