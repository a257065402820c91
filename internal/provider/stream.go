package provider

import "sync"

// Stream is a Subscription backed by a one-slot channel. Publishing replaces any
// snapshot the consumer has not received yet, so a slow consumer never blocks a writer
// and always reads the newest state.
type Stream struct {
	mu      sync.Mutex
	ch      chan Snapshot
	done    chan struct{}
	closed  bool
	err     error
	onClose func()
}

// NewStream returns an open stream. onClose, if set, runs once when the stream closes.
func NewStream(onClose func()) *Stream {
	return &Stream{
		ch:      make(chan Snapshot, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Publish offers snap to the consumer. It reports false once the stream is closed.
func (s *Stream) Publish(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- snap:
	default:
		select {
		case <-s.ch:
		default:
		}
		s.ch <- snap
	}
	return true
}

// Fail closes the stream and records err as the reason.
func (s *Stream) Fail(err error) {
	s.close(err)
}

func (s *Stream) Snapshots() <-chan Snapshot { return s.ch }

// Done is closed when the stream closes.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() error {
	s.close(nil)
	return nil
}

func (s *Stream) close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
	close(s.done)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}
